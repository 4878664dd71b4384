// Package calibration implements the Calibration Selector: for a light
// session, rank the master frames eligible to calibrate it.
package calibration

import (
	"math"
	"sort"
	"time"

	"starbash/internal/engine"
)

// Kind is the calibration family a light session needs, distinct from
// engine.ImageKind because "dark-or-bias" has no single backing master
// kind — it is satisfied by either.
type Kind string

const (
	Flat       Kind = "flat"
	Dark       Kind = "dark"
	Bias       Kind = "bias"
	DarkOrBias Kind = "darkorbias"
)

// graceWindow is how far past the light session's instant a master
// may still have been taken and remain eligible.
const graceWindow = 24 * time.Hour

// darkExposureTolerance is the ±fraction a dark's exposure may differ
// from the light session's exposure and still hard-pass.
const darkExposureTolerance = 0.05

// Rank returns candidates that survive the hard filters for kind
// against session, scored and sorted best-first. Ties break by newer
// instant, then higher stack-count, then lexical path order, matching
// the Task Graph Builder's expectation of a stable top candidate.
func Rank(session engine.SessionRow, kind Kind, candidates []engine.ImageRecord) []engine.ScoredCandidate {
	var out []engine.ScoredCandidate
	for _, c := range candidates {
		if !passesHardFilters(session, kind, c) {
			continue
		}
		score, rationale := score(session, c)
		out = append(out, engine.ScoredCandidate{Record: c, Score: score, Rationale: rationale})
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if !a.Record.ObservedAt.Equal(b.Record.ObservedAt) {
			return a.Record.ObservedAt.After(b.Record.ObservedAt)
		}
		if a.Record.StackCount != b.Record.StackCount {
			return a.Record.StackCount > b.Record.StackCount
		}
		return a.Record.Path < b.Record.Path
	})
	return out
}

// Best is a convenience wrapper returning the single top candidate and
// whether any candidate survived hard filtering at all.
func Best(session engine.SessionRow, kind Kind, candidates []engine.ImageRecord) (engine.ScoredCandidate, bool) {
	ranked := Rank(session, kind, candidates)
	if len(ranked) == 0 {
		return engine.ScoredCandidate{}, false
	}
	return ranked[0], true
}

func passesHardFilters(s engine.SessionRow, kind Kind, c engine.ImageRecord) bool {
	if c.Width != s.Width || c.Height != s.Height {
		return false
	}
	if c.ObservedAt.After(s.StartAt.Add(graceWindow)) {
		return false
	}

	switch kind {
	case Flat:
		return c.Instrument == s.Instrument && c.Filter == s.Filter
	case Dark:
		if c.CameraID != s.CameraID || c.Gain != s.Gain || c.Binning != s.Binning {
			return false
		}
		if s.ExposureSec == 0 {
			return c.ExposureSec == 0
		}
		delta := math.Abs(c.ExposureSec-s.ExposureSec) / s.ExposureSec
		return delta <= darkExposureTolerance
	case Bias:
		return c.CameraID == s.CameraID && c.Gain == s.Gain && c.Binning == s.Binning
	case DarkOrBias:
		return passesHardFilters(s, Dark, c) || passesHardFilters(s, Bias, c)
	default:
		return false
	}
}

func score(s engine.SessionRow, c engine.ImageRecord) (float64, string) {
	var total float64
	var rationale string

	deltaHours := c.ObservedAt.Sub(s.StartAt).Hours()
	switch {
	case deltaHours <= 0:
		total += 100
		rationale = "taken before session start"
	default:
		total += 40
		rationale = "taken within grace window after session start"
	}

	deltaDays := math.Abs(deltaHours) / 24
	clamped := math.Min(deltaDays, 30)
	total -= clamped * 2

	if c.StackCount > 1 {
		total += 20
		rationale += "; pre-stacked master"
	}

	return total, rationale
}
