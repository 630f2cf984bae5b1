package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mcops/masterclaw/internal/constants"
	"github.com/mcops/masterclaw/internal/dispatch"
	"github.com/mcops/masterclaw/internal/ratelimit"
	"github.com/mcops/masterclaw/internal/store"
)

func newRateLimitCmd(app *App) *cobra.Command {
	show := &cobra.Command{
		Use:   "show",
		Short: "Show the current rate-limit window state per (user, category)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.dispatch(cmd, []string{"rate-limit", "show"}, nil, rateLimitShowHandler(app))
		},
	}

	root := &cobra.Command{
		Use:   "rate-limit",
		Short: "Inspect rate-limit admission state",
	}
	root.AddCommand(show)
	return root
}

func rateLimitShowHandler(app *App) dispatch.Handler {
	return func(ctx context.Context, cc *dispatch.CommandContext) (*dispatch.Result, error) {
		path, err := store.Path(constants.RateLimitsFileName)
		if err != nil {
			return nil, err
		}
		raw := store.LoadState(path, nil, map[string]any{})

		entries := make([]map[string]any, 0, len(raw))
		for key, v := range raw {
			arr, ok := v.([]any)
			if !ok {
				continue
			}
			userIdentity, category := splitRateLimitKey(key)
			policy := ratelimit.PolicyFor(category)
			entries = append(entries, map[string]any{
				"userIdentity": userIdentity,
				"category":     category,
				"count":        len(arr),
				"max":          policy.Max,
				"windowMs":     policy.WindowMs,
			})
		}
		return &dispatch.Result{
			Message: fmt.Sprintf("%d active window(s)", len(entries)),
			Data:    map[string]any{"windows": entries},
		}, nil
	}
}

func splitRateLimitKey(key string) (userIdentity, category string) {
	idx := strings.IndexByte(key, '|')
	if idx < 0 {
		return key, ""
	}
	return key[:idx], key[idx+1:]
}
