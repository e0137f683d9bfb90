package metadatastore

import (
	"context"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestLoadMatchMetadataMissingRowNotError(t *testing.T) {
	s := openTestStore(t)
	m, err := s.LoadMatchMetadata(context.Background(), 99)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.Found {
		t.Fatal("expected Found=false for missing row")
	}
	if m.MatchID != 99 {
		t.Fatalf("expected match id preserved, got %d", m.MatchID)
	}
}

func TestUpsertThenLoadRoundTrips(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.UpsertMatchMetadata(ctx, 2, "foo"); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}
	m, err := s.LoadMatchMetadata(ctx, 2)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if !m.Found || m.Name != "foo" {
		t.Fatalf("unexpected metadata: %+v", m)
	}

	if err := s.UpsertMatchMetadata(ctx, 2, "bar"); err != nil {
		t.Fatalf("second upsert failed: %v", err)
	}
	m, err = s.LoadMatchMetadata(ctx, 2)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if m.Name != "bar" {
		t.Fatalf("expected name updated to bar, got %q", m.Name)
	}
}

func TestRecordSaveOutcome(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	if err := s.RecordSave(ctx, 2, SaveOK); err != nil {
		t.Fatalf("RecordSave failed: %v", err)
	}
	if err := s.RecordSave(ctx, 2, SaveVaultError); err != nil {
		t.Fatalf("RecordSave failed: %v", err)
	}

	var count int
	row := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM save_outcomes WHERE match_id = ?`, 2)
	if err := row.Scan(&count); err != nil {
		t.Fatalf("counting outcomes: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 recorded outcomes, got %d", count)
	}
}
