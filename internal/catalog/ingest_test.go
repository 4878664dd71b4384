package catalog

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"starbash/internal/engine"
)

func TestIngestRepoDropsFramesWithoutInstant(t *testing.T) {
	root := t.TempDir()
	frameDir := filepath.Join(root, "CALI_FRAME", "bias", "cam_0")
	if err := os.MkdirAll(frameDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	framePath := filepath.Join(frameDir, "bias_gain_2_bin_1.fits")
	if err := os.WriteFile(framePath, []byte("not a real fits file"), 0o644); err != nil {
		t.Fatalf("write frame: %v", err)
	}

	store := openTestStore(t)
	repo := engine.Repository{ID: "repo-cal", Root: root, Kind: engine.RepoKindRawSource}

	sum, err := IngestRepo(context.Background(), store, repo, nil, nil)
	if err != nil {
		t.Fatalf("ingest repo: %v", err)
	}
	if sum.Scanned != 1 {
		t.Fatalf("expected 1 file scanned, got %d", sum.Scanned)
	}
	if sum.Indexed != 0 {
		t.Fatalf("expected 0 indexed without an observation instant, got %d", sum.Indexed)
	}
	if sum.Dropped != 1 {
		t.Fatalf("expected 1 dropped record, got %d", sum.Dropped)
	}
	if len(sum.Warnings) == 0 {
		t.Fatal("expected a warning explaining the drop")
	}
}

func TestIngestRepoScansOnlyRecognizedExtensions(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "readme.txt"), []byte("not a frame"), 0o644); err != nil {
		t.Fatalf("write readme: %v", err)
	}

	store := openTestStore(t)
	repo := engine.Repository{ID: "repo-empty", Root: root, Kind: engine.RepoKindRawSource}

	sum, err := IngestRepo(context.Background(), store, repo, nil, nil)
	if err != nil {
		t.Fatalf("ingest repo: %v", err)
	}
	if sum.Scanned != 0 {
		t.Fatalf("expected 0 frame files scanned, got %d", sum.Scanned)
	}
}
