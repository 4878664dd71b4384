package catalog

import (
	"fmt"
	"time"

	"starbash/internal/engine"
)

// FindCandidates returns the candidate set consumed by the Calibration
// Selector. Only images taken at or before takenBefore are returned;
// the grace window itself is applied by the caller via takenBefore
// (pass light-session-instant+grace).
func (s *Store) FindCandidates(kind engine.ImageKind, cameraID, instrument, filter string,
	width, height, gain, binning int, exposureSec float64, takenBefore time.Time) ([]engine.ImageRecord, error) {

	query := `SELECT ` + imageColumns + ` FROM images WHERE kind = ? AND width = ? AND height = ?
		AND observed_at <= ?`
	args := []any{string(kind), width, height, takenBefore}

	if cameraID != "" {
		query += ` AND camera_id = ?`
		args = append(args, cameraID)
	}
	if instrument != "" {
		query += ` AND instrument = ?`
		args = append(args, instrument)
	}
	if filter != "" {
		query += ` AND filter = ?`
		args = append(args, filter)
	}
	if gain >= 0 {
		query += ` AND gain = ?`
		args = append(args, gain)
	}
	if binning > 0 {
		query += ` AND binning = ?`
		args = append(args, binning)
	}

	rows, err := s.DB.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("find candidates: %w", err)
	}
	defer rows.Close()

	var out []engine.ImageRecord
	for rows.Next() {
		rec, err := scanImageRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
