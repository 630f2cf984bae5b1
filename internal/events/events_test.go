package events

import (
	"io"
	"os"
	"regexp"
	"testing"

	"github.com/mcops/masterclaw/internal/constants"
)

var idPattern = regexp.MustCompile(`^evt_\d+_[0-9a-f]{12}$`)

func withStateDir(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	old := os.Getenv(constants.EnvStateDir)
	os.Setenv(constants.EnvStateDir, dir)
	t.Cleanup(func() { os.Setenv(constants.EnvStateDir, old) })
}

func TestNewIDFormat(t *testing.T) {
	id, err := newID(1700000000000)
	if err != nil {
		t.Fatalf("newID: %v", err)
	}
	if !idPattern.MatchString(id) {
		t.Errorf("id %q does not match evt_<millis>_<12 hex> shape", id)
	}
}

func TestNewIDPropagatesRandError(t *testing.T) {
	old := randRead
	randRead = func(b []byte) (int, error) { return 0, io.ErrUnexpectedEOF }
	defer func() { randRead = old }()

	if _, err := newID(1700000000000); err == nil {
		t.Error("expected an error when rand.Read fails")
	}
}

func TestAppendAndListOrdersNewestFirst(t *testing.T) {
	withStateDir(t)

	first, err := Append("deploy", SeverityInfo, "deploy started", "", "mc", nil)
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	second, err := Append("deploy", SeverityWarning, "deploy slow", "", "mc", map[string]any{"retries": 2})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}

	records, err := List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("len(records) = %d, want 2", len(records))
	}
	if records[0].ID != second.ID || records[1].ID != first.ID {
		t.Errorf("records not newest-first: got %q then %q", records[0].ID, records[1].ID)
	}
	if records[0].Acknowledged {
		t.Error("new record should start unacknowledged")
	}
}

func TestAcknowledgeMarksRecordAndIsIdempotent(t *testing.T) {
	withStateDir(t)

	rec, err := Append("health", SeverityCritical, "gateway down", "", "mc", nil)
	if err != nil {
		t.Fatalf("Append: %v", err)
	}

	acked, err := Acknowledge(rec.ID)
	if err != nil {
		t.Fatalf("Acknowledge: %v", err)
	}
	if !acked.Acknowledged {
		t.Error("Acknowledge did not set Acknowledged")
	}

	again, err := Acknowledge(rec.ID)
	if err != nil {
		t.Fatalf("second Acknowledge: %v", err)
	}
	if !again.Acknowledged {
		t.Error("second Acknowledge cleared Acknowledged")
	}

	records, err := List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if !records[0].Acknowledged {
		t.Error("acknowledged state was not persisted")
	}
}

func TestAcknowledgeUnknownIDReturnsAbsent(t *testing.T) {
	withStateDir(t)

	if _, err := Acknowledge("evt_0_doesnotexist"); err == nil {
		t.Error("expected an error for an unknown event id")
	}
}
