// Package prompt implements the operator-facing confirmation and secret
// entry used by dangerous commands (spec.md section 6: "dangerous
// operations require --force or an interactive confirmation").
package prompt

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"syscall"

	"golang.org/x/term"
)

// IsTerminal reports whether stdin is an interactive terminal.
func IsTerminal() bool {
	return term.IsTerminal(int(syscall.Stdin))
}

// Confirm prompts the operator with a yes/no question. A non-terminal
// stdin (scripted/piped invocation) returns false without reading
// anything, since a caller in that situation must pass --force instead
// of relying on an interactive prompt that could never be answered.
func Confirm(question string) bool {
	if !IsTerminal() {
		return false
	}
	fmt.Printf("%s [y/N]: ", question)
	reader := bufio.NewReader(os.Stdin)
	input, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	input = strings.ToLower(strings.TrimSpace(input))
	return input == "y" || input == "yes"
}

// ReadSecret prompts for a value without echoing input, for `mc secrets
// set` when the value is not passed as an argument (so it never appears
// in shell history or a process listing).
func ReadSecret(question string) (string, error) {
	if !IsTerminal() {
		return "", fmt.Errorf("cannot read a secret value: stdin is not a terminal (pass it as an argument instead)")
	}
	fmt.Print(question)
	value, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("failed to read secret: %w", err)
	}
	return string(value), nil
}
