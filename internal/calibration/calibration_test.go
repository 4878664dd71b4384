package calibration

import (
	"testing"
	"time"

	"starbash/internal/engine"
)

func lightSession() engine.SessionRow {
	return engine.SessionRow{
		Target:      "m31",
		Instrument:  "scope-1",
		Filter:      "ha",
		Kind:        engine.KindLight,
		ExposureSec: 300,
		Gain:        100,
		Binning:     1,
		CameraID:    "cam-1",
		Width:       4144,
		Height:      2822,
		StartAt:     time.Date(2026, 3, 1, 22, 0, 0, 0, time.UTC),
	}
}

func TestRankRejectsDimensionMismatch(t *testing.T) {
	s := lightSession()
	bad := engine.ImageRecord{Width: 100, Height: 100, ObservedAt: s.StartAt.Add(-time.Hour),
		CameraID: "cam-1", Gain: 100, Binning: 1}
	ranked := Rank(s, Bias, []engine.ImageRecord{bad})
	if len(ranked) != 0 {
		t.Fatalf("expected dimension-mismatched candidate rejected, got %d", len(ranked))
	}
}

func TestRankDarkRequiresExposureWithinTolerance(t *testing.T) {
	s := lightSession()
	base := engine.ImageRecord{
		Width: s.Width, Height: s.Height, CameraID: s.CameraID, Gain: s.Gain, Binning: s.Binning,
		ObservedAt: s.StartAt.Add(-time.Hour),
	}
	within := base
	within.ExposureSec = 310 // +3.3%, within 5%
	outside := base
	outside.ExposureSec = 400 // +33%, outside 5%

	ranked := Rank(s, Dark, []engine.ImageRecord{within, outside})
	if len(ranked) != 1 {
		t.Fatalf("expected exactly 1 candidate within exposure tolerance, got %d", len(ranked))
	}
	if ranked[0].Record.ExposureSec != 310 {
		t.Fatalf("expected the within-tolerance candidate to survive, got %v", ranked[0].Record.ExposureSec)
	}
}

func TestRankPrefersCandidateTakenBeforeSession(t *testing.T) {
	s := lightSession()
	before := engine.ImageRecord{Width: s.Width, Height: s.Height, CameraID: s.CameraID, Gain: s.Gain,
		Binning: s.Binning, ObservedAt: s.StartAt.Add(-2 * time.Hour)}
	after := engine.ImageRecord{Width: s.Width, Height: s.Height, CameraID: s.CameraID, Gain: s.Gain,
		Binning: s.Binning, ObservedAt: s.StartAt.Add(2 * time.Hour)}

	ranked := Rank(s, Bias, []engine.ImageRecord{after, before})
	if len(ranked) != 2 {
		t.Fatalf("expected both candidates within grace window, got %d", len(ranked))
	}
	if !ranked[0].Record.ObservedAt.Equal(before.ObservedAt) {
		t.Fatalf("expected the candidate taken before session start to rank first")
	}
}

func TestRankRejectsOutsideGraceWindow(t *testing.T) {
	s := lightSession()
	tooLate := engine.ImageRecord{Width: s.Width, Height: s.Height, CameraID: s.CameraID, Gain: s.Gain,
		Binning: s.Binning, ObservedAt: s.StartAt.Add(48 * time.Hour)}

	ranked := Rank(s, Bias, []engine.ImageRecord{tooLate})
	if len(ranked) != 0 {
		t.Fatalf("expected candidate beyond the grace window rejected, got %d", len(ranked))
	}
}

func TestRankDarkOrBiasAcceptsEither(t *testing.T) {
	s := lightSession()
	dark := engine.ImageRecord{Width: s.Width, Height: s.Height, CameraID: s.CameraID, Gain: s.Gain,
		Binning: s.Binning, ExposureSec: s.ExposureSec, ObservedAt: s.StartAt.Add(-time.Hour)}
	bias := engine.ImageRecord{Width: s.Width, Height: s.Height, CameraID: s.CameraID, Gain: s.Gain,
		Binning: s.Binning, ObservedAt: s.StartAt.Add(-time.Hour)}

	ranked := Rank(s, DarkOrBias, []engine.ImageRecord{dark, bias})
	if len(ranked) != 2 {
		t.Fatalf("expected both a dark and a bias to qualify, got %d", len(ranked))
	}
}

func TestBestReturnsFalseWhenNoneSurvive(t *testing.T) {
	s := lightSession()
	_, ok := Best(s, Flat, nil)
	if ok {
		t.Fatal("expected Best to report false for an empty candidate set")
	}
}
