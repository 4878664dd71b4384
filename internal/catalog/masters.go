package catalog

import (
	"time"

	"starbash/internal/engine"
)

// UpsertMaster records a freshly produced master frame file as an
// ImageRecord, the Catalog-side half of execution-phase step 4: a
// master has no header of its own to read, so its dimensions come
// from probing the written pixels and its provenance fields come from
// the ProcessingContext the task ran with.
func (s *Store) UpsertMaster(path, repoID string, kind engine.ImageKind, ctx engine.ProcessingContext) error {
	width, height, err := ProbeDimensions(path)
	if err != nil {
		return err
	}
	rec := engine.ImageRecord{
		Path:       path,
		RepoID:     repoID,
		Kind:       kind,
		ObservedAt: time.Now().UTC(),
		Filter:     NormalizeLabel(ctx["filter"]),
		Target:     NormalizeLabel(ctx["target"]),
		Instrument: NormalizeLabel(ctx["instrument"]),
		CameraID:   NormalizeLabel(ctx["camera_id"]),
		Width:      width,
		Height:     height,
		StackCount: 2, // >1 marks it a master even outside a master-kind repository
	}
	return s.UpsertImage(rec)
}
