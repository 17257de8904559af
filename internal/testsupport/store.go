package testsupport

import (
	"testing"

	"reelsmith/internal/artifact"
	"reelsmith/internal/config"
	"reelsmith/internal/runs"
)

// MustOpenArtifacts opens the artifact cache rooted at cfg.Paths.CacheDir.
func MustOpenArtifacts(t testing.TB, cfg *config.Config, opts ...artifact.Option) *artifact.Store {
	t.Helper()

	store, err := artifact.Open(cfg.Paths.CacheDir, opts...)
	if err != nil {
		t.Fatalf("artifact.Open: %v", err)
	}
	return store
}

// MustOpenLedger opens the run ledger for tests and registers cleanup.
func MustOpenLedger(t testing.TB, cfg *config.Config) *runs.Store {
	t.Helper()

	ledger, err := runs.Open(cfg)
	if err != nil {
		t.Fatalf("runs.Open: %v", err)
	}
	t.Cleanup(func() {
		ledger.Close()
	})
	return ledger
}
