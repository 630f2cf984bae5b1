// Package heal implements the scan/plan/apply orchestrator (spec.md
// section 4.11): a read-only scan that produces an ordered issue list,
// a pure dry-run plan over that list, and an apply phase that executes
// only the fixable subset in a fixed, idempotent order.
package heal

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mcops/masterclaw/internal/constants"
	"github.com/mcops/masterclaw/internal/errkind"
	"github.com/mcops/masterclaw/internal/httpclient"
	"github.com/mcops/masterclaw/internal/store"
	"github.com/mcops/masterclaw/internal/subprocess"
)

// IssueCategory classifies a scan finding.
type IssueCategory string

const (
	CategoryDockerDown      IssueCategory = "DOCKER_DOWN"
	CategoryServiceUnhealthy IssueCategory = "SERVICE_UNHEALTHY"
	CategoryDiskLow         IssueCategory = "DISK_LOW"
	CategoryMemoryLow       IssueCategory = "MEMORY_LOW"
	CategoryConfigPerms     IssueCategory = "CONFIG_PERMS"
	CategoryCircuitOpen     IssueCategory = "CIRCUIT_OPEN"
	CategoryDockerArtifact  IssueCategory = "DOCKER_ARTIFACT"
)

// Severity of a scan finding.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Issue is one scan finding.
type Issue struct {
	Category  IssueCategory
	Severity  Severity
	Subject   string
	Detail    string
	Fixable   bool
	Protected bool
}

// ServiceEndpoint names a well-known service and its health URL.
type ServiceEndpoint struct {
	Name       string
	HealthURL  string
}

// diskThresholds are the free-space cutoffs from spec.md section 4.11.
const (
	diskCriticalBytes   = 1 << 30 // 1 GiB
	diskWarningBytes    = 5 << 30 // 5 GiB
	memoryCriticalBytes = 512 << 20
	memoryWarningBytes  = 2 << 30
)

// ProtectedPrefixes is the docker-object name prefix set a prune may
// never touch (Open Question 3 in DESIGN.md: code default union'd with
// operator policy.yaml, never replaced by it).
var ProtectedPrefixes = []string{"mc-data-", "mc-backup-"}

// Scanner runs the read-only scan phase.
type Scanner struct {
	HTTPClient *httpclient.Client
	Services   []ServiceEndpoint
	ConfigDir  string
}

// NewScanner constructs a Scanner using the state directory's config
// path for permission checks.
func NewScanner(httpClient *httpclient.Client, services []ServiceEndpoint) (*Scanner, error) {
	dir, err := store.Dir()
	if err != nil {
		return nil, err
	}
	return &Scanner{HTTPClient: httpClient, Services: services, ConfigDir: dir}, nil
}

// Scan runs every category check and returns an ordered issue list. It
// never returns an error: an individual check's own failure becomes an
// Issue rather than aborting the whole scan.
func (s *Scanner) Scan(ctx context.Context) []Issue {
	var issues []Issue

	issues = append(issues, s.scanDocker(ctx)...)
	issues = append(issues, s.scanServices(ctx)...)
	issues = append(issues, s.scanDiskAndMemory()...)
	issues = append(issues, s.scanConfigPermissions()...)
	issues = append(issues, s.scanOpenCircuits()...)
	issues = append(issues, s.scanDockerArtifacts(ctx)...)

	return issues
}

func (s *Scanner) scanDocker(ctx context.Context) []Issue {
	_, err := subprocess.Run(ctx, subprocess.Descriptor{Program: "docker", Args: []string{"info"}, Timeout: 10 * time.Second})
	if err != nil {
		return []Issue{{
			Category: CategoryDockerDown,
			Severity: SeverityCritical,
			Subject:  "docker",
			Detail:   "docker daemon is not reachable",
			Fixable:  false,
		}}
	}
	return nil
}

func (s *Scanner) scanServices(ctx context.Context) []Issue {
	if s.HTTPClient == nil {
		return nil
	}
	var issues []Issue
	for _, svc := range s.Services {
		_, err := s.HTTPClient.Do(ctx, httpclient.Descriptor{
			Method:          "GET",
			URL:             svc.HealthURL,
			AllowPrivateIPs: true,
			TimeoutMillis:   5000,
		})
		if err != nil {
			issues = append(issues, Issue{
				Category: CategoryServiceUnhealthy,
				Severity: SeverityCritical,
				Subject:  svc.Name,
				Detail:   "health check failed: " + err.Error(),
				Fixable:  true,
			})
		}
	}
	return issues
}

func (s *Scanner) scanDiskAndMemory() []Issue {
	var issues []Issue
	if free, ok := diskFreeBytes(s.ConfigDir); ok {
		switch {
		case free <= diskCriticalBytes:
			issues = append(issues, Issue{Category: CategoryDiskLow, Severity: SeverityCritical, Subject: s.ConfigDir, Detail: "disk free space at or below 1 GiB", Fixable: false})
		case free <= diskWarningBytes:
			issues = append(issues, Issue{Category: CategoryDiskLow, Severity: SeverityWarning, Subject: s.ConfigDir, Detail: "disk free space at or below 5 GiB", Fixable: false})
		}
	}
	if free, ok := memoryFreeBytes(); ok {
		switch {
		case free <= memoryCriticalBytes:
			issues = append(issues, Issue{Category: CategoryMemoryLow, Severity: SeverityCritical, Subject: "system", Detail: "free memory at or below 512 MiB", Fixable: false})
		case free <= memoryWarningBytes:
			issues = append(issues, Issue{Category: CategoryMemoryLow, Severity: SeverityWarning, Subject: "system", Detail: "free memory at or below 2 GiB", Fixable: false})
		}
	}
	return issues
}

func (s *Scanner) scanConfigPermissions() []Issue {
	var issues []Issue
	candidates := []string{
		filepath.Join(s.ConfigDir, constants.ConfigFileName),
		filepath.Join(s.ConfigDir, ".env"),
	}
	for _, path := range candidates {
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		if info.Mode().Perm() != constants.FilePermissions {
			issues = append(issues, Issue{
				Category: CategoryConfigPerms,
				Severity: SeverityWarning,
				Subject:  path,
				Detail:   "expected mode 0600",
				Fixable:  true,
			})
		}
	}
	return issues
}

func (s *Scanner) scanOpenCircuits() []Issue {
	path, err := store.Path(constants.CircuitsFileName)
	if err != nil {
		return nil
	}
	raw := store.LoadState(path, nil, map[string]any{})
	targets, ok := raw["targets"].(map[string]any)
	if !ok {
		return nil
	}
	var issues []Issue
	for target, v := range targets {
		cs, ok := v.(map[string]any)
		if !ok {
			continue
		}
		if state, ok := cs["state"].(string); ok && state == "open" {
			issues = append(issues, Issue{
				Category: CategoryCircuitOpen,
				Severity: SeverityWarning,
				Subject:  target,
				Detail:   "circuit is open",
				Fixable:  true,
			})
		}
	}
	return issues
}

// dockerArtifact is the subset of `docker <resource> ls` output heal
// needs to annotate an artifact as protected or prunable.
type dockerArtifact struct {
	kind string // "image", "container", "volume", "network"
	name string
}

func (s *Scanner) scanDockerArtifacts(ctx context.Context) []Issue {
	var artifacts []dockerArtifact
	artifacts = append(artifacts, listArtifacts(ctx, "image", "--filter", "dangling=true", "-q")...)
	artifacts = append(artifacts, listArtifacts(ctx, "container", "--filter", "status=exited", "-q")...)
	artifacts = append(artifacts, listArtifacts(ctx, "volume", "--filter", "dangling=true", "-q")...)
	artifacts = append(artifacts, listArtifacts(ctx, "network", "--filter", "dangling=true", "-q")...)

	var issues []Issue
	for _, a := range artifacts {
		protected := IsProtected(a.name)
		issues = append(issues, Issue{
			Category:  CategoryDockerArtifact,
			Severity:  SeverityWarning,
			Subject:   a.kind + ":" + a.name,
			Detail:    "unused docker artifact",
			Fixable:   !protected,
			Protected: protected,
		})
	}
	return issues
}

func listArtifacts(ctx context.Context, resource string, args ...string) []dockerArtifact {
	argv := append([]string{resource, "ls"}, args...)
	res, err := subprocess.Run(ctx, subprocess.Descriptor{Program: "docker", Args: argv, Timeout: 10 * time.Second})
	if err != nil || res.ExitCode != 0 {
		return nil
	}
	var out []dockerArtifact
	for _, line := range strings.Split(strings.TrimSpace(res.Stdout), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		out = append(out, dockerArtifact{kind: resource, name: line})
	}
	return out
}

// IsProtected reports whether name matches a protected prefix.
func IsProtected(name string) bool {
	for _, prefix := range ProtectedPrefixes {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}

// Plan is the dry-run rendering of a scan: fixable issues separated from
// those requiring manual operator attention.
type Plan struct {
	Fixable []Issue
	Manual  []Issue
}

// BuildPlan partitions issues by Fixable without mutating anything
// (spec.md section 4.11: "Plan (dry-run): renders the scan to an action
// list ... returns without mutating").
func BuildPlan(issues []Issue) Plan {
	var plan Plan
	for _, issue := range issues {
		if issue.Fixable {
			plan.Fixable = append(plan.Fixable, issue)
		} else {
			plan.Manual = append(plan.Manual, issue)
		}
	}
	return plan
}

// ActionResult is the outcome of one apply action.
type ActionResult struct {
	Issue Issue
	Err   error
}

// Applier executes a Plan's fixable actions.
type Applier struct {
	HTTPClient *httpclient.Client
}

// Apply executes plan.Fixable in spec.md's fixed order: restart
// services, fix permissions, reset circuits, prune unprotected
// artifacts. A protected-prefix violation anywhere in the plan is
// treated as a program bug and aborts the whole apply before any action
// runs (spec.md section 4.11).
func (ap *Applier) Apply(ctx context.Context, plan Plan) ([]ActionResult, error) {
	for _, issue := range plan.Fixable {
		if issue.Category == CategoryDockerArtifact && issue.Protected {
			return nil, errkind.Newf(errkind.Generic, "plan contains a protected artifact %q marked fixable; refusing to apply", issue.Subject).WithRule("PROTECTED_PREFIX_VIOLATION")
		}
	}

	var results []ActionResult
	results = append(results, ap.restartServices(ctx, plan)...)
	results = append(results, ap.fixPermissions(plan)...)
	results = append(results, ap.resetCircuits(plan)...)
	results = append(results, ap.pruneArtifacts(ctx, plan)...)
	return results, nil
}

func (ap *Applier) restartServices(ctx context.Context, plan Plan) []ActionResult {
	var results []ActionResult
	for _, issue := range plan.Fixable {
		if issue.Category != CategoryServiceUnhealthy {
			continue
		}
		_, err := subprocess.Run(ctx, subprocess.Descriptor{Program: "docker", Args: []string{"restart", issue.Subject}, Timeout: 30 * time.Second})
		results = append(results, ActionResult{Issue: issue, Err: err})
	}
	return results
}

func (ap *Applier) fixPermissions(plan Plan) []ActionResult {
	var results []ActionResult
	for _, issue := range plan.Fixable {
		if issue.Category != CategoryConfigPerms {
			continue
		}
		err := os.Chmod(issue.Subject, constants.FilePermissions)
		results = append(results, ActionResult{Issue: issue, Err: err})
	}
	return results
}

func (ap *Applier) resetCircuits(plan Plan) []ActionResult {
	var results []ActionResult
	for _, issue := range plan.Fixable {
		if issue.Category != CategoryCircuitOpen {
			continue
		}
		path, err := store.Path(constants.CircuitsFileName)
		if err == nil {
			_, err = store.AtomicUpdate(path, nil, map[string]any{}, func(current map[string]any) (map[string]any, error) {
				targets, ok := current["targets"].(map[string]any)
				if !ok {
					return current, nil
				}
				delete(targets, issue.Subject)
				current["targets"] = targets
				return current, nil
			})
		}
		results = append(results, ActionResult{Issue: issue, Err: err})
	}
	return results
}

func (ap *Applier) pruneArtifacts(ctx context.Context, plan Plan) []ActionResult {
	var results []ActionResult
	for _, issue := range plan.Fixable {
		if issue.Category != CategoryDockerArtifact || issue.Protected {
			continue
		}
		kind, name, ok := splitArtifactSubject(issue.Subject)
		if !ok {
			continue
		}
		_, err := subprocess.Run(ctx, subprocess.Descriptor{Program: "docker", Args: []string{kind, "rm", name}, Timeout: 15 * time.Second})
		results = append(results, ActionResult{Issue: issue, Err: err})
	}
	return results
}

func splitArtifactSubject(subject string) (kind, name string, ok bool) {
	idx := strings.IndexByte(subject, ':')
	if idx < 0 {
		return "", "", false
	}
	return subject[:idx], subject[idx+1:], true
}
