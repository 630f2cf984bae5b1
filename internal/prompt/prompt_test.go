package prompt

import "testing"

func TestConfirmReturnsFalseWhenNotATerminal(t *testing.T) {
	// go test's stdin is never a terminal, so Confirm must degrade to
	// false rather than block waiting for input that can't arrive.
	if Confirm("proceed?") {
		t.Error("Confirm() = true with non-terminal stdin, want false")
	}
}

func TestReadSecretFailsWhenNotATerminal(t *testing.T) {
	if _, err := ReadSecret("value: "); err == nil {
		t.Error("ReadSecret() succeeded with non-terminal stdin, want an error")
	}
}
