package catalog

import (
	"fmt"

	"starbash/internal/engine"
)

// SetRepoKind records repoID's RepoKind so session aggregation and
// candidate search can tell raw-source repos from master/processed
// ones: sessions derived from master repositories never appear in
// light-session queries.
func (s *Store) SetRepoKind(repoID string, kind engine.RepoKind) error {
	_, err := s.DB.Exec(`INSERT INTO repo_kinds (repo_id, kind) VALUES (?, ?)
		ON CONFLICT(repo_id) DO UPDATE SET kind=excluded.kind;`, repoID, string(kind))
	return err
}

func (s *Store) repoKind(repoID string) (engine.RepoKind, error) {
	var kind string
	err := s.DB.QueryRow(`SELECT kind FROM repo_kinds WHERE repo_id = ?;`, repoID).Scan(&kind)
	if err != nil {
		return engine.RepoKindRawSource, nil // unregistered repo defaults to raw-source
	}
	return engine.RepoKind(kind), nil
}

// sessionKey groups images into candidate sessions: target, instrument,
// date-of-observation, filter, kind, exposure, gain, binning, dims.
type sessionKey struct {
	target, instrument, filter, kind string
	date                              string
	exposure                          float64
	gain, binning, width, height      int
	cameraID                          string
}

// RebuildSessions recomputes session aggregates as a pure function of
// the images table.
func (s *Store) RebuildSessions() error {
	rows, err := s.DB.Query(`SELECT ` + imageColumns + ` FROM images;`)
	if err != nil {
		return fmt.Errorf("rebuild sessions: query images: %w", err)
	}
	defer rows.Close()

	groups := map[sessionKey][]engine.ImageRecord{}
	for rows.Next() {
		rec, err := scanImageRow(rows)
		if err != nil {
			return fmt.Errorf("rebuild sessions: scan image: %w", err)
		}
		key := sessionKey{
			target:     rec.Target,
			instrument: rec.Instrument,
			filter:     rec.Filter,
			kind:       string(rec.Kind),
			date:       rec.ObservedAt.Format("2006-01-02"),
			exposure:   rec.ExposureSec,
			gain:       rec.Gain,
			binning:    rec.Binning,
			width:      rec.Width,
			height:     rec.Height,
			cameraID:   rec.CameraID,
		}
		groups[key] = append(groups[key], rec)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	tx, err := s.DB.Begin()
	if err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM sessions;`); err != nil {
		tx.Rollback()
		return err
	}

	for key, members := range groups {
		if len(members) == 0 {
			continue
		}
		fromMaster := false
		start, end := members[0].ObservedAt, members[0].ObservedAt
		total := 0.0
		for _, m := range members {
			if m.ObservedAt.Before(start) {
				start = m.ObservedAt
			}
			if m.ObservedAt.After(end) {
				end = m.ObservedAt
			}
			total += m.ExposureSec
			rk, _ := s.repoKind(m.RepoID)
			if rk == engine.RepoKindMaster || rk == engine.RepoKindProcessed || m.IsMaster(rk) {
				fromMaster = true
			}
		}
		id := sessionID(key)
		_, err := tx.Exec(`INSERT INTO sessions (id, target, instrument, filter, kind,
			exposure_sec, gain, binning, camera_id, width, height, frame_count,
			total_exposure_sec, start_at, end_at, from_master)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`,
			id, key.target, key.instrument, key.filter, key.kind, key.exposure, key.gain,
			key.binning, key.cameraID, key.width, key.height, len(members), total, start, end,
			boolToInt(fromMaster))
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("insert session %s: %w", id, err)
		}
	}

	return tx.Commit()
}

func sessionID(k sessionKey) string {
	return fmt.Sprintf("%s_%s_%s_%s_%s_e%g_g%d_b%d",
		k.target, k.instrument, k.filter, k.kind, k.date, k.exposure, k.gain, k.binning)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// SearchSessions returns sessions matching sel, restricted to kind.
// When kind == KindLight, sessions derived from master/processed
// repositories are excluded.
func (s *Store) SearchSessions(sel engine.Selection, kind engine.ImageKind) ([]engine.SessionRow, error) {
	query := `SELECT id, target, instrument, filter, kind, exposure_sec, gain, binning,
		camera_id, width, height, frame_count, total_exposure_sec, start_at, end_at, from_master
		FROM sessions WHERE kind = ?`
	args := []any{string(kind)}

	if kind == engine.KindLight {
		query += ` AND from_master = 0`
	}
	if len(sel.Targets) > 0 {
		query += inClause("target", len(sel.Targets))
		for _, t := range sel.Targets {
			args = append(args, t)
		}
	}
	if len(sel.Instruments) > 0 {
		query += inClause("instrument", len(sel.Instruments))
		for _, i := range sel.Instruments {
			args = append(args, i)
		}
	}
	if len(sel.Filters) > 0 {
		query += inClause("filter", len(sel.Filters))
		for _, f := range sel.Filters {
			args = append(args, f)
		}
	}
	if sel.After != nil {
		query += ` AND start_at >= ?`
		args = append(args, *sel.After)
	}
	if sel.Before != nil {
		query += ` AND start_at <= ?`
		args = append(args, *sel.Before)
	}

	rows, err := s.DB.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("search sessions: %w", err)
	}
	defer rows.Close()

	var out []engine.SessionRow
	for rows.Next() {
		var r engine.SessionRow
		var kindStr string
		var fromMaster int
		if err := rows.Scan(&r.ID, &r.Target, &r.Instrument, &r.Filter, &kindStr, &r.ExposureSec,
			&r.Gain, &r.Binning, &r.CameraID, &r.Width, &r.Height, &r.FrameCount, &r.TotalExpSec,
			&r.StartAt, &r.EndAt, &fromMaster); err != nil {
			return nil, err
		}
		r.Kind = engine.ImageKind(kindStr)
		r.FromMaster = fromMaster != 0
		out = append(out, r)
	}
	return out, rows.Err()
}

func inClause(col string, n int) string {
	s := fmt.Sprintf(" AND %s IN (", col)
	for i := 0; i < n; i++ {
		if i > 0 {
			s += ", "
		}
		s += "?"
	}
	return s + ")"
}
