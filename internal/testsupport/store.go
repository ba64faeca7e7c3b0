package testsupport

import (
	"context"
	"testing"

	"gleaner/internal/config"
	"gleaner/internal/store"
)

// MustOpenStore opens a store.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *store.Store {
	t.Helper()

	st, err := store.Open(cfg)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() {
		st.Close()
	})
	return st
}

// NewInterview creates an interview in the configured account and project.
func NewInterview(t testing.TB, st *store.Store, cfg *config.Config, title, transcript string) *store.Interview {
	t.Helper()

	iv, err := st.CreateInterview(context.Background(), &store.Interview{
		AccountID:  cfg.Account.ID,
		ProjectID:  cfg.Account.ProjectID,
		Title:      title,
		Transcript: transcript,
	})
	if err != nil {
		t.Fatalf("store.CreateInterview: %v", err)
	}
	return iv
}
