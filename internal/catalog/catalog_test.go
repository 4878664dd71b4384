package catalog

import (
	"path/filepath"
	"testing"
	"time"

	"starbash/internal/engine"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "catalog.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("open catalog: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleRecord(path string, observed time.Time) engine.ImageRecord {
	return engine.ImageRecord{
		Path:        path,
		RepoID:      "repo-1",
		Kind:        engine.KindLight,
		ObservedAt:  observed,
		ExposureSec: 300,
		Gain:        100,
		Binning:     1,
		Filter:      "ha",
		Target:      "m31",
		Instrument:  "scope-1",
		CameraID:    "cam-1",
		Width:       4144,
		Height:      2822,
		StackCount:  1,
	}
}

func TestUpsertImageRejectsMissingDimensions(t *testing.T) {
	s := openTestStore(t)
	rec := sampleRecord("/repo/m31_001.fits", time.Now())
	rec.Width = 0

	err := s.UpsertImage(rec)
	if err == nil {
		t.Fatal("expected error for missing dimensions")
	}
	if _, ok := err.(*engine.SchemaError); !ok {
		t.Fatalf("expected *engine.SchemaError, got %T", err)
	}
}

func TestUpsertImageRejectsMissingInstant(t *testing.T) {
	s := openTestStore(t)
	rec := sampleRecord("/repo/m31_001.fits", time.Time{})

	err := s.UpsertImage(rec)
	if err == nil {
		t.Fatal("expected error for missing observation instant")
	}
	if _, ok := err.(*engine.SchemaError); !ok {
		t.Fatalf("expected *engine.SchemaError, got %T", err)
	}
}

func TestUpsertImageIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	rec := sampleRecord("/repo/m31_001.fits", time.Now())

	if err := s.UpsertImage(rec); err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	if err := s.UpsertImage(rec); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	n, err := s.ImageCount()
	if err != nil {
		t.Fatalf("image count: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 row after re-upsert, got %d", n)
	}
}

func TestRebuildSessionsGroupsByKey(t *testing.T) {
	s := openTestStore(t)
	base := time.Date(2026, 3, 1, 22, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		rec := sampleRecord(filepath.Join("/repo", "m31_00"+string(rune('1'+i))+".fits"), base.Add(time.Duration(i)*time.Minute))
		if err := s.UpsertImage(rec); err != nil {
			t.Fatalf("upsert %d: %v", i, err)
		}
	}
	if err := s.RebuildSessions(); err != nil {
		t.Fatalf("rebuild sessions: %v", err)
	}

	n, err := s.SessionCount()
	if err != nil {
		t.Fatalf("session count: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 session for 3 matching frames, got %d", n)
	}

	sessions, err := s.SearchSessions(engine.Selection{}, engine.KindLight)
	if err != nil {
		t.Fatalf("search sessions: %v", err)
	}
	if len(sessions) != 1 {
		t.Fatalf("expected 1 session row, got %d", len(sessions))
	}
	if sessions[0].FrameCount != 3 {
		t.Fatalf("expected frame count 3, got %d", sessions[0].FrameCount)
	}
	if sessions[0].TotalExpSec != 900 {
		t.Fatalf("expected total exposure 900, got %f", sessions[0].TotalExpSec)
	}
}

func TestSearchSessionsExcludesMasterRepoForLightKind(t *testing.T) {
	s := openTestStore(t)
	if err := s.SetRepoKind("repo-master", engine.RepoKindMaster); err != nil {
		t.Fatalf("set repo kind: %v", err)
	}

	masterRec := sampleRecord("/masters/m31_light_master.fits", time.Now())
	masterRec.RepoID = "repo-master"
	masterRec.StackCount = 42
	if err := s.UpsertImage(masterRec); err != nil {
		t.Fatalf("upsert master record: %v", err)
	}
	if err := s.RebuildSessions(); err != nil {
		t.Fatalf("rebuild sessions: %v", err)
	}

	sessions, err := s.SearchSessions(engine.Selection{}, engine.KindLight)
	if err != nil {
		t.Fatalf("search sessions: %v", err)
	}
	if len(sessions) != 0 {
		t.Fatalf("expected master-derived session excluded from light query, got %d", len(sessions))
	}
}

func TestRemoveRepoDropsSessions(t *testing.T) {
	s := openTestStore(t)
	rec := sampleRecord("/repo/m31_001.fits", time.Now())
	if err := s.UpsertImage(rec); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	if err := s.RemoveRepo("repo-1"); err != nil {
		t.Fatalf("remove repo: %v", err)
	}

	n, err := s.ImageCount()
	if err != nil {
		t.Fatalf("image count: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected 0 images after repo removal, got %d", n)
	}
	sn, err := s.SessionCount()
	if err != nil {
		t.Fatalf("session count: %v", err)
	}
	if sn != 0 {
		t.Fatalf("expected 0 sessions after repo removal, got %d", sn)
	}
}
