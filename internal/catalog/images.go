package catalog

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"starbash/internal/engine"
)

// UpsertImage inserts or replaces an ImageRecord, keyed by path. It
// fails with a *engine.SchemaError if dimensions or the observed
// instant are missing — callers are expected to have already run
// fallback inference before calling this.
func (s *Store) UpsertImage(rec engine.ImageRecord) error {
	if rec.Width <= 0 || rec.Height <= 0 {
		return &engine.SchemaError{Path: rec.Path, Reason: "missing or invalid dimensions"}
	}
	if rec.ObservedAt.IsZero() {
		return &engine.SchemaError{Path: rec.Path, Reason: "missing observation instant"}
	}
	if rec.StackCount == 0 {
		rec.StackCount = 1
	}

	metaJSON, err := json.Marshal(rec.MetadataBag)
	if err != nil {
		return fmt.Errorf("marshal metadata bag for %s: %w", rec.Path, err)
	}

	var lat, lon sql.NullFloat64
	if rec.Latitude != nil {
		lat = sql.NullFloat64{Float64: *rec.Latitude, Valid: true}
	}
	if rec.Longitude != nil {
		lon = sql.NullFloat64{Float64: *rec.Longitude, Valid: true}
	}

	_, err = s.DB.Exec(`
		INSERT INTO images (path, repo_id, kind, observed_at, exposure_sec, gain, binning,
			filter, target, instrument, camera_id, width, height, bayer_pattern,
			latitude, longitude, stack_count, metadata_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			repo_id=excluded.repo_id, kind=excluded.kind, observed_at=excluded.observed_at,
			exposure_sec=excluded.exposure_sec, gain=excluded.gain, binning=excluded.binning,
			filter=excluded.filter, target=excluded.target, instrument=excluded.instrument,
			camera_id=excluded.camera_id, width=excluded.width, height=excluded.height,
			bayer_pattern=excluded.bayer_pattern, latitude=excluded.latitude,
			longitude=excluded.longitude, stack_count=excluded.stack_count,
			metadata_json=excluded.metadata_json;
	`, rec.Path, rec.RepoID, string(rec.Kind), rec.ObservedAt, rec.ExposureSec, rec.Gain, rec.Binning,
		rec.Filter, rec.Target, rec.Instrument, rec.CameraID, rec.Width, rec.Height, rec.BayerPattern,
		lat, lon, rec.StackCount, string(metaJSON))
	if err != nil {
		return fmt.Errorf("upsert image %s: %w", rec.Path, err)
	}
	return nil
}

// RemoveRepo deletes all images owned by repoID and rebuilds sessions
// so any session reduced to zero members disappears too.
func (s *Store) RemoveRepo(repoID string) error {
	if _, err := s.DB.Exec(`DELETE FROM images WHERE repo_id = ?;`, repoID); err != nil {
		return fmt.Errorf("remove repo %s: %w", repoID, err)
	}
	return s.RebuildSessions()
}

// ImageCount returns the number of rows in images, for round-trip tests.
func (s *Store) ImageCount() (int, error) {
	var n int
	err := s.DB.QueryRow(`SELECT COUNT(*) FROM images;`).Scan(&n)
	return n, err
}

// SessionCount returns the number of rows in sessions.
func (s *Store) SessionCount() (int, error) {
	var n int
	err := s.DB.QueryRow(`SELECT COUNT(*) FROM sessions;`).Scan(&n)
	return n, err
}

func scanImageRow(rows *sql.Rows) (engine.ImageRecord, error) {
	var rec engine.ImageRecord
	var kind string
	var observedAt time.Time
	var bayer sql.NullString
	var lat, lon sql.NullFloat64
	var metaJSON sql.NullString

	err := rows.Scan(&rec.Path, &rec.RepoID, &kind, &observedAt, &rec.ExposureSec, &rec.Gain,
		&rec.Binning, &rec.Filter, &rec.Target, &rec.Instrument, &rec.CameraID, &rec.Width,
		&rec.Height, &bayer, &lat, &lon, &rec.StackCount, &metaJSON)
	if err != nil {
		return rec, err
	}
	rec.Kind = engine.ImageKind(kind)
	rec.ObservedAt = observedAt
	if bayer.Valid {
		rec.BayerPattern = bayer.String
	}
	if lat.Valid {
		v := lat.Float64
		rec.Latitude = &v
	}
	if lon.Valid {
		v := lon.Float64
		rec.Longitude = &v
	}
	if metaJSON.Valid && metaJSON.String != "" {
		_ = json.Unmarshal([]byte(metaJSON.String), &rec.MetadataBag)
	}
	return rec, nil
}

const imageColumns = `path, repo_id, kind, observed_at, exposure_sec, gain, binning,
	filter, target, instrument, camera_id, width, height, bayer_pattern,
	latitude, longitude, stack_count, metadata_json`
