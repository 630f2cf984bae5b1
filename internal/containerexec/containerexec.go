// Package containerexec implements execInContainer (spec.md section
// 4.10): a validated, resource-capped way to run a command inside one
// of a fixed set of well-known service containers.
package containerexec

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/mcops/masterclaw/internal/audit"
	"github.com/mcops/masterclaw/internal/errkind"
	"github.com/mcops/masterclaw/internal/logging"
	"github.com/mcops/masterclaw/internal/platform"
	"github.com/mcops/masterclaw/internal/subprocess"
)

// containerPrefix is the build-time whitelist rule: only containers
// whose name carries this prefix may be targeted (spec.md section 4.10).
const containerPrefix = "mc-"

// blockedCommands is the destructive-command denylist, checked
// case-insensitively against every token.
var blockedCommands = map[string]bool{
	"rm": true, "dd": true, "mkfs": true, "fdisk": true,
	"mount": true, "umount": true, "shutdown": true, "reboot": true,
}

// shells is the set of first-token programs that trigger shell-form
// validation when shell=true and "-c" is present.
var shells = map[string]bool{"sh": true, "bash": true, "zsh": true, "ksh": true, "dash": true}

const maxCommandBytes = 4096

// Descriptor is the input to Run.
type Descriptor struct {
	Container     string
	Command       []string
	Shell         bool
	TimeoutMillis int64
	CorrelationID string
	UserIdentity  string
}

// ResourceEnvelope is the default resource cap applied to every
// non-interactive invocation (spec.md section 4.10).
type ResourceEnvelope struct {
	NprocHard  int
	NprocSoft  int
	MemoryHard int64 // bytes
	MemorySoft int64 // bytes
	FsizeBytes int64
	Core       int64
}

// DefaultResourceEnvelope is spec.md's fixed default: nproc 256/128,
// memory 1 GiB/512 MiB, fsize 100 MiB, core 0.
var DefaultResourceEnvelope = ResourceEnvelope{
	NprocHard:  256,
	NprocSoft:  128,
	MemoryHard: 1 << 30,
	MemorySoft: 512 << 20,
	FsizeBytes: 100 << 20,
	Core:       0,
}

// ResourceViolation describes a resource-cap breach surfaced to the
// operator alongside the structured error.
type ResourceViolation struct {
	Kind        errkind.Kind
	Description string
	Hint        string
}

// Result is the outcome of a successful (possibly resource-violating)
// invocation.
type Result struct {
	Stdout            string
	Stderr            string
	ExitCode          int
	ResourceViolation *ResourceViolation
}

// Runner executes commands inside whitelisted containers, auditing
// resource-limit violations.
type Runner struct {
	Envelope ResourceEnvelope
	Audit    *audit.Logger
}

// New constructs a Runner with spec.md's default resource envelope.
func New(auditLogger *audit.Logger) *Runner {
	return &Runner{Envelope: DefaultResourceEnvelope, Audit: auditLogger}
}

// violatingKinds is the set of errkind.Kind values that constitute a
// resource-limit violation worth auditing (spec.md section 4.10).
var violatingKinds = map[errkind.Kind]bool{
	errkind.Resource: true,
	errkind.Security: true,
}

// Run validates d, execs through internal/subprocess with the resource
// envelope prefixed via prlimit, and decodes the result.
func (r *Runner) Run(ctx context.Context, d Descriptor) (*Result, error) {
	if err := validateContainer(d.Container); err != nil {
		return nil, err
	}
	if err := validateCommand(d.Command); err != nil {
		return nil, err
	}
	if d.Shell {
		if err := validateShellForm(d.Command); err != nil {
			return nil, err
		}
	}

	timeout := time.Duration(d.TimeoutMillis) * time.Millisecond
	if timeout <= 0 {
		timeout = subprocess.DefaultTimeout
	}

	argv := append([]string{"exec", d.Container}, d.Command...)
	var prlimitArgv []string
	if platform.IsLinux() {
		prlimitArgv = prlimitPrefix(r.Envelope)
	} else {
		logging.For("containerexec").WithField("container", d.Container).
			Warn("prlimit is Linux-only; running without a resource envelope on this platform")
	}
	fullArgv := append(prlimitArgv, append([]string{"docker"}, argv...)...)

	res, err := subprocess.Run(ctx, subprocess.Descriptor{
		Program: fullArgv[0],
		Args:    fullArgv[1:],
		Timeout: timeout,
	})
	if err != nil {
		return nil, err
	}

	if r.Audit != nil {
		_ = r.Audit.Append(d.CorrelationID, d.UserIdentity, audit.CategoryCommandExec, d.Container, map[string]any{
			"command":  strings.Join(d.Command, " "),
			"shell":    d.Shell,
			"exitCode": res.ExitCode,
		})
	}

	result := &Result{Stdout: res.Stdout, Stderr: res.Stderr, ExitCode: res.ExitCode}
	if res.ErrorKind != "" && violatingKinds[res.ErrorKind] {
		violation := &ResourceViolation{
			Kind:        res.ErrorKind,
			Description: subprocess.ExitCodeDescription(res.ExitCode),
			Hint:        "increase the resource envelope with an explicit operator override, or reduce the workload",
		}
		result.ResourceViolation = violation
		if r.Audit != nil {
			_ = r.Audit.Append(d.CorrelationID, d.UserIdentity, audit.CategorySecurityViolation, d.Container, map[string]any{
				"kind":        string(violation.Kind),
				"description": violation.Description,
				"command":     strings.Join(d.Command, " "),
			})
		}
	}
	return result, nil
}

func validateContainer(container string) error {
	if !strings.HasPrefix(container, containerPrefix) {
		return errkind.Newf(errkind.Validation, "container %q is not in the allowed prefix %q", container, containerPrefix).WithRule("CONTAINER_NOT_ALLOWED")
	}
	return nil
}

// shellDangerousSubstrings is the chaining/substitution/redirection/
// traversal set from spec.md section 4.10, checked against the joined
// command for every invocation (testable property #8 is universal: it
// does not depend on shell=true), not only shell-form ones.
var shellDangerousSubstrings = []string{";", "&&", "||", "|", "`", "$(", "${", ">", "<", "../", "~/"}

func validateCommand(command []string) error {
	if len(command) == 0 {
		return errkind.New(errkind.Validation, "command must be a non-empty vector").WithRule("COMMAND_EMPTY")
	}
	total := 0
	for _, tok := range command {
		total += len(tok)
		if blockedCommands[strings.ToLower(tok)] {
			return errkind.Newf(errkind.Validation, "command token %q is blocked", tok).WithRule("COMMAND_BLOCKED")
		}
	}
	if total > maxCommandBytes {
		return errkind.Newf(errkind.Validation, "command exceeds %d bytes", maxCommandBytes).WithRule("COMMAND_TOO_LARGE")
	}
	joined := strings.Join(command, " ")
	for _, bad := range shellDangerousSubstrings {
		if strings.Contains(joined, bad) {
			return errkind.Newf(errkind.Security, "command contains disallowed shell construct %q", bad).WithRule("SHELL_CHAINING")
		}
	}
	return nil
}

// validateShellForm is an additional layer applied only when shell=true
// and the first token is a shell invoked with -c: it catches a blocked
// subcommand embedded inside the -c argument string, which the
// per-token scan in validateCommand cannot see since that argument
// arrives as a single token rather than separate words.
func validateShellForm(command []string) error {
	if len(command) == 0 || !shells[strings.ToLower(command[0])] {
		return nil
	}
	hasDashC := false
	for _, tok := range command {
		if tok == "-c" {
			hasDashC = true
			break
		}
	}
	if !hasDashC {
		return nil
	}
	joined := strings.ToLower(strings.Join(command, " "))
	for tok := range blockedCommands {
		if strings.Contains(joined, tok) {
			return errkind.Newf(errkind.Security, "shell command references blocked subcommand %q", tok).WithRule("SHELL_BLOCKED_SUBCOMMAND")
		}
	}
	return nil
}

// prlimitPrefix builds the argv prefix that applies env's resource caps
// to the process prlimit execs (spec.md section 4.10: "pass resource
// caps ... default via prlimit").
func prlimitPrefix(env ResourceEnvelope) []string {
	return []string{
		"prlimit",
		"--nproc=" + strconv.Itoa(env.NprocSoft) + ":" + strconv.Itoa(env.NprocHard),
		"--as=" + strconv.FormatInt(env.MemorySoft, 10) + ":" + strconv.FormatInt(env.MemoryHard, 10),
		"--fsize=" + strconv.FormatInt(env.FsizeBytes, 10) + ":" + strconv.FormatInt(env.FsizeBytes, 10),
		"--core=" + strconv.FormatInt(env.Core, 10) + ":" + strconv.FormatInt(env.Core, 10),
		"--",
	}
}
