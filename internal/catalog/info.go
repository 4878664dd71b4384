package catalog

import (
	"fmt"

	"starbash/internal/engine"
)

// Targets returns the distinct target labels among sessions matching
// sel, for the driver's enumerate-targets info query.
func (s *Store) Targets(sel engine.Selection) ([]string, error) {
	return s.distinctValues("target", sel)
}

// Instruments returns the distinct instrument labels among sessions
// matching sel.
func (s *Store) Instruments(sel engine.Selection) ([]string, error) {
	return s.distinctValues("instrument", sel)
}

// Filters returns the distinct filter labels among sessions matching
// sel.
func (s *Store) Filters(sel engine.Selection) ([]string, error) {
	return s.distinctValues("filter", sel)
}

// distinctValues applies the same selection predicates SearchSessions
// does, restricted to light sessions (the enumeration a driver cares
// about when deciding what to process), and returns the distinct
// values of col.
func (s *Store) distinctValues(col string, sel engine.Selection) ([]string, error) {
	query := fmt.Sprintf(`SELECT DISTINCT %s FROM sessions WHERE kind = ? AND from_master = 0`, col)
	args := []any{string(engine.KindLight)}

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
		return nil, fmt.Errorf("distinct %s: %w", col, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
