package main

import (
	"context"
	"sort"

	"github.com/spf13/cobra"

	"github.com/mcops/masterclaw/internal/audit"
	"github.com/mcops/masterclaw/internal/constants"
	"github.com/mcops/masterclaw/internal/dispatch"
	"github.com/mcops/masterclaw/internal/errkind"
	"github.com/mcops/masterclaw/internal/primitives"
	"github.com/mcops/masterclaw/internal/prompt"
	"github.com/mcops/masterclaw/internal/store"
)

// secretsKey is the top-level config.json key secrets are nested under,
// kept separate from RuntimeState's own fields (internal/config.SaveRuntimeState
// merges rather than overwrites so this tree survives a config set).
const secretsKey = "secrets"

func newSecretsCmd(app *App) *cobra.Command {
	set := &cobra.Command{
		Use:   "set <name> [value]",
		Short: "Store a secret value, prompting for it if omitted",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			value := ""
			if len(args) == 2 {
				value = args[1]
			} else {
				if !prompt.IsTerminal() {
					return errkind.New(errkind.Usage, "no value given and stdin is not a terminal; pass the value as a second argument").WithRule("SECRETS_VALUE_REQUIRED")
				}
				v, err := prompt.ReadSecret(name + ": ")
				if err != nil {
					return err
				}
				value = v
			}
			return app.dispatch(cmd, []string{"secrets", "set"}, map[string]any{"name": name}, secretsSetHandler(app, name, value))
		},
	}
	get := &cobra.Command{
		Use:   "get <name>",
		Short: "Print one secret's masked value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.dispatch(cmd, []string{"secrets", "get"}, map[string]any{"name": args[0]}, secretsGetHandler(app, args[0]))
		},
	}
	list := &cobra.Command{
		Use:   "list",
		Short: "List secret names (values masked)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.dispatch(cmd, []string{"secrets", "list"}, nil, secretsListHandler(app))
		},
	}
	del := &cobra.Command{
		Use:   "delete <name>",
		Short: "Remove a stored secret",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.dispatch(cmd, []string{"secrets", "delete"}, map[string]any{"name": args[0]}, secretsDeleteHandler(app, args[0]))
		},
	}

	root := &cobra.Command{
		Use:   "secrets",
		Short: "Manage operator secrets (API keys, tokens) stored in config.json",
	}
	root.AddCommand(set, get, list, del)
	return root
}

func secretsSetHandler(app *App, name, value string) dispatch.Handler {
	return func(ctx context.Context, cc *dispatch.CommandContext) (*dispatch.Result, error) {
		path, err := store.Path(constants.ConfigFileName)
		if err != nil {
			return nil, err
		}
		_, err = store.AtomicUpdate(path, nil, map[string]any{}, func(current map[string]any) (map[string]any, error) {
			secrets, _ := current[secretsKey].(map[string]any)
			if secrets == nil {
				secrets = map[string]any{}
			}
			secrets[name] = value
			current[secretsKey] = secrets
			return current, nil
		})
		if err != nil {
			return nil, err
		}
		if app.Audit != nil {
			_ = app.Audit.Append(cc.CorrelationID, cc.UserIdentity, audit.CategorySecretOp, name, map[string]any{"action": "set"})
		}
		return &dispatch.Result{Message: "stored " + name}, nil
	}
}

func secretsGetHandler(app *App, name string) dispatch.Handler {
	return func(ctx context.Context, cc *dispatch.CommandContext) (*dispatch.Result, error) {
		secrets, err := loadSecrets()
		if err != nil {
			return nil, err
		}
		raw, ok := secrets[name]
		if !ok {
			return nil, errkind.Newf(errkind.Absent, "secret %q not found", name).WithRule("SECRET_NOT_FOUND")
		}
		value, _ := raw.(string)
		if app.Audit != nil {
			_ = app.Audit.Append(cc.CorrelationID, cc.UserIdentity, audit.CategorySecretOp, name, map[string]any{"action": "get"})
		}
		return &dispatch.Result{
			Message: primitives.MaskValue(value),
			Data:    map[string]any{"name": name, "value": primitives.MaskValue(value)},
		}, nil
	}
}

func secretsListHandler(app *App) dispatch.Handler {
	return func(ctx context.Context, cc *dispatch.CommandContext) (*dispatch.Result, error) {
		secrets, err := loadSecrets()
		if err != nil {
			return nil, err
		}
		names := make([]string, 0, len(secrets))
		for name := range secrets {
			names = append(names, name)
		}
		sort.Strings(names)
		return &dispatch.Result{Data: map[string]any{"names": names}}, nil
	}
}

func secretsDeleteHandler(app *App, name string) dispatch.Handler {
	return func(ctx context.Context, cc *dispatch.CommandContext) (*dispatch.Result, error) {
		path, err := store.Path(constants.ConfigFileName)
		if err != nil {
			return nil, err
		}
		_, err = store.AtomicUpdate(path, nil, map[string]any{}, func(current map[string]any) (map[string]any, error) {
			secrets, _ := current[secretsKey].(map[string]any)
			delete(secrets, name)
			current[secretsKey] = secrets
			return current, nil
		})
		if err != nil {
			return nil, err
		}
		if app.Audit != nil {
			_ = app.Audit.Append(cc.CorrelationID, cc.UserIdentity, audit.CategorySecretOp, name, map[string]any{"action": "delete"})
		}
		return &dispatch.Result{Message: "deleted " + name}, nil
	}
}

func loadSecrets() (map[string]any, error) {
	path, err := store.Path(constants.ConfigFileName)
	if err != nil {
		return nil, err
	}
	raw := store.LoadState(path, nil, map[string]any{})
	secrets, _ := raw[secretsKey].(map[string]any)
	if secrets == nil {
		secrets = map[string]any{}
	}
	return secrets, nil
}
