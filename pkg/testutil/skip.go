// Package testutil holds helpers for the container-backed integration tests.
package testutil

import (
	"os"
	"testing"

	"github.com/testcontainers/testcontainers-go"
)

// RequireIntegration skips the test in -short mode, and when
// KEYSET_SKIP_INTEGRATION is set for hosts without a container runtime.
func RequireIntegration(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	if os.Getenv("KEYSET_SKIP_INTEGRATION") != "" {
		t.Skip("skipping integration test (KEYSET_SKIP_INTEGRATION is set)")
	}
}

// Terminate stops the container when the test ends.
func Terminate(t *testing.T, c testcontainers.Container) {
	t.Helper()
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(c); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})
}
