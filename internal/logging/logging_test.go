package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestSecurityEventMasksSensitiveFields(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	Configure(true, false)

	SecurityEvent("store", "state file failed validation", map[string]any{
		"path":  "/home/user/.masterclaw/config.json",
		"token": "sk-abcdefghijklmno",
	})
	Flush()

	var got map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &got); err != nil {
		t.Fatalf("log output is not valid JSON: %v (%q)", err, buf.String())
	}
	if got["token"] == "sk-abcdefghijklmno" {
		t.Errorf("token field was not masked: %v", got["token"])
	}
	if got["path"] != "/home/user/.masterclaw/config.json" {
		t.Errorf("non-sensitive field was altered: %v", got["path"])
	}
	if got["event_type"] != "security" {
		t.Errorf("event_type = %v, want security", got["event_type"])
	}
}

func TestChildCorrelationID(t *testing.T) {
	parent := NewCorrelationID()
	child := ChildCorrelationID(parent, "retry-1")
	if !strings.HasPrefix(child, parent+":") {
		t.Errorf("ChildCorrelationID(%q, ...) = %q, want prefix %q", parent, child, parent+":")
	}
}
