package catalog

import (
	"context"
	"log/slog"
	"time"

	"starbash/internal/engine"
	"starbash/internal/fsutil"
)

// IngestSummary reports the outcome of one ingestion pass.
type IngestSummary struct {
	Scanned int
	Indexed int
	Dropped int
	Warnings []string
}

// IngestRepo scans repo.Root for frame files and upserts each as an
// ImageRecord, applying the metadata contract: header first,
// layout-specific fallback inference second, and drop-with-warning if
// kind or instant are still missing afterward. Ingestion is idempotent:
// re-running it over an unchanged tree leaves row counts unchanged,
// since UpsertImage is a keyed upsert.
func IngestRepo(ctx context.Context, store *Store, repo engine.Repository, aliases *AliasMap, log *slog.Logger) (IngestSummary, error) {
	start := time.Now()
	var sum IngestSummary

	if err := store.SetRepoKind(repo.ID, repo.Kind); err != nil {
		return sum, err
	}

	files, err := fsutil.ListImages(repo.Root)
	if err != nil {
		return sum, err
	}
	sum.Scanned = len(files)

	for _, path := range files {
		rec, ok := buildRecord(ctx, path, repo, aliases)
		if !ok {
			sum.Dropped++
			sum.Warnings = append(sum.Warnings, "dropped "+path+": missing kind or observation instant after fallback inference")
			continue
		}
		if err := store.UpsertImage(rec); err != nil {
			sum.Dropped++
			sum.Warnings = append(sum.Warnings, err.Error())
			continue
		}
		sum.Indexed++
	}

	if err := store.RebuildSessions(); err != nil {
		return sum, err
	}

	if log != nil {
		duration := time.Since(start)
		for _, w := range sum.Warnings {
			log.Warn("ingestion dropped record", "repo", repo.ID, "reason", w)
		}
		log.Info("repository ingested", "repo", repo.ID, "images", sum.Indexed, "dropped", sum.Dropped, "duration_ms", duration.Milliseconds())
	}
	return sum, nil
}

// buildRecord resolves one file's full ImageRecord by combining header
// fields with layout-based fallback inference.
func buildRecord(ctx context.Context, path string, repo engine.Repository, aliases *AliasMap) (engine.ImageRecord, bool) {
	hf, _ := readHeader(ctx, path)

	rec := engine.ImageRecord{
		Path:        path,
		RepoID:      repo.ID,
		Kind:        engine.ImageKind(hf.Kind),
		ObservedAt:  hf.ObservedAt,
		ExposureSec: hf.ExposureSec,
		Gain:        hf.Gain,
		Binning:     hf.Binning,
		Filter:      aliases.Resolve(hf.Filter),
		Target:      NormalizeLabel(hf.Target),
		Instrument:  NormalizeLabel(hf.Instrument),
		CameraID:    NormalizeLabel(hf.CameraID),
		Width:       hf.Width,
		Height:      hf.Height,
		BayerPattern: hf.Bayer,
		StackCount:  hf.StackCount,
		MetadataBag: hf.Raw,
	}
	if rec.StackCount == 0 {
		rec.StackCount = 1
	}
	if rec.Binning == 0 {
		rec.Binning = 1
	}

	needsFallback := rec.Kind == "" || rec.ObservedAt.IsZero() || rec.Width == 0 || rec.Height == 0
	if needsFallback {
		if inf, ok := detectCaptureLayout(path); ok {
			if rec.Kind == "" {
				rec.Kind = engine.ImageKind(inf.Kind)
			}
			if rec.Target == "" && inf.Target != "" {
				rec.Target = NormalizeLabel(inf.Target)
			}
			if rec.CameraID == "" && inf.CameraID != "" {
				rec.CameraID = NormalizeLabel(inf.CameraID)
			}
			if rec.ObservedAt.IsZero() && !inf.ObservedAt.IsZero() {
				rec.ObservedAt = inf.ObservedAt
			}
			if rec.Gain == 0 && inf.Gain != nil {
				rec.Gain = *inf.Gain
			}
			if inf.Binning != nil {
				rec.Binning = *inf.Binning
			}
			if rec.ExposureSec == 0 && inf.ExposureSec != nil {
				rec.ExposureSec = *inf.ExposureSec
			}
		}
	}

	if rec.Width == 0 || rec.Height == 0 {
		if w, h, err := probeDimensions(path); err == nil {
			rec.Width, rec.Height = w, h
		}
	}

	if rec.Kind == "" || rec.ObservedAt.IsZero() {
		return rec, false
	}
	return rec, true
}
