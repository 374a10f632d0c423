package testutil

import (
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/x/ansi"
)

// maxReported caps how much of a rendered view ends up in a failure message.
const maxReported = 2000

// StripANSI returns the view text without colour or cursor sequences.
func StripANSI(s string) string {
	return ansi.Strip(s)
}

// AssertContains reports a failure when view lacks want.
func AssertContains(t *testing.T, view, want string) {
	t.Helper()
	if !strings.Contains(view, want) {
		t.Errorf("view is missing %q\n--- view ---\n%s", want, clip(view))
	}
}

// AssertNotContains reports a failure when view includes unwanted.
func AssertNotContains(t *testing.T, view, unwanted string) {
	t.Helper()
	if strings.Contains(view, unwanted) {
		t.Errorf("view unexpectedly has %q\n--- view ---\n%s", unwanted, clip(view))
	}
}

// Eventually waits for cond, failing the test once timeout elapses.
// Controller updates are delivered on other goroutines, so tests poll.
func Eventually(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	tick := time.NewTicker(5 * time.Millisecond)
	defer tick.Stop()
	deadline := time.After(timeout)
	for !cond() {
		select {
		case <-tick.C:
		case <-deadline:
			t.Fatalf("gave up after %s waiting for %s", timeout, msg)
		}
	}
}

func clip(s string) string {
	if len(s) <= maxReported {
		return s
	}
	return s[:maxReported] + "\n[... clipped]"
}
