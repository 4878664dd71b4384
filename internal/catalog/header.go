package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"os/exec"
	"strings"
	"time"
)

// headerFields is what ingestion can read straight from a frame's
// embedded header (FITS or EXIF), before any fallback inference runs.
type headerFields struct {
	Kind        string
	ObservedAt  time.Time
	ExposureSec float64
	Gain        int
	Binning     int
	Filter      string
	Target      string
	Instrument  string
	CameraID    string
	Width       int
	Height      int
	Bayer       string
	StackCount  int
	Raw         map[string]any
}

// readHeader shells out to exiftool -json, following an existing
// tasks.ExtractEXIF. exiftool reads both FITS and common RAW/TIFF
// headers, which is why that header reader is reused
// rather than hand-rolling a FITS parser.
func readHeader(ctx context.Context, path string) (headerFields, error) {
	var hf headerFields
	if !commandExists("exiftool") {
		return hf, nil
	}
	cmd := exec.CommandContext(ctx, "exiftool", "-json", "-G0", path)
	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return hf, nil
	}
	var parsed []map[string]any
	if err := json.Unmarshal(out.Bytes(), &parsed); err != nil || len(parsed) == 0 {
		return hf, nil
	}
	m := parsed[0]
	hf.Raw = m

	if v, ok := m["IMAGETYP"].(string); ok {
		hf.Kind = normalizeKindString(v)
	}
	if v, ok := str(m, "DATE-OBS"); ok {
		hf.ObservedAt = parseInstant(v)
	} else if v, ok := str(m, "DateTimeOriginal"); ok {
		hf.ObservedAt = parseInstant(v)
	}
	if v, ok := m["EXPTIME"].(float64); ok {
		hf.ExposureSec = v
	} else if v, ok := m["ExposureTime"].(float64); ok {
		hf.ExposureSec = v
	}
	if v, ok := m["GAIN"].(float64); ok {
		hf.Gain = int(v)
	}
	if v, ok := m["XBINNING"].(float64); ok {
		hf.Binning = int(v)
	} else {
		hf.Binning = 1
	}
	if v, ok := str(m, "FILTER"); ok {
		hf.Filter = v
	}
	if v, ok := str(m, "OBJECT"); ok {
		hf.Target = v
	}
	if v, ok := str(m, "TELESCOP"); ok {
		hf.Instrument = v
	}
	if v, ok := str(m, "INSTRUME"); ok {
		hf.CameraID = v
	}
	if v, ok := m["NAXIS1"].(float64); ok {
		hf.Width = int(v)
	} else if v, ok := m["ImageWidth"].(float64); ok {
		hf.Width = int(v)
	}
	if v, ok := m["NAXIS2"].(float64); ok {
		hf.Height = int(v)
	} else if v, ok := m["ImageHeight"].(float64); ok {
		hf.Height = int(v)
	}
	if v, ok := str(m, "BAYERPAT"); ok {
		hf.Bayer = v
	}
	if v, ok := m["STACKCNT"].(float64); ok {
		hf.StackCount = int(v)
	}
	return hf, nil
}

func str(m map[string]any, key string) (string, bool) {
	v, ok := m[key].(string)
	return v, ok && v != ""
}

func normalizeKindString(v string) string {
	switch strings.ToUpper(strings.TrimSpace(v)) {
	case "LIGHT", "LIGHT FRAME":
		return "light"
	case "FLAT", "FLAT FRAME":
		return "flat"
	case "DARK", "DARK FRAME":
		return "dark"
	case "BIAS", "BIAS FRAME", "ZERO":
		return "bias"
	default:
		return ""
	}
}

func parseInstant(v string) time.Time {
	layouts := []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05", "2006:01:02 15:04:05"}
	for _, l := range layouts {
		if t, err := time.Parse(l, v); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

func commandExists(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}
