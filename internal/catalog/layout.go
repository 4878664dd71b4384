package catalog

import (
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// inferredFields are the fields a layout-specific parser can recover
// from path components and a sidecar file, used as fallback inference
// for sparse-header capture devices.
type inferredFields struct {
	Kind        string
	Gain        *int
	Binning     *int
	ExposureSec *float64
	Target      string
	CameraID    string
	ObservedAt  time.Time
}

// calibrationLayoutMarker is the characteristic subdirectory name this
// capture-device layout uses for its calibration-frames root, e.g.
// CALI_FRAME/bias/cam_0/bias_gain_2_bin_1.fits.
const calibrationLayoutMarker = "CALI_FRAME"

var filenameFieldsRe = regexp.MustCompile(`(?i)(?:^|_)(bias|dark|flat|light)(?:_|$)|gain_(\d+)|bin_(\d+)|exp_([\d.]+)`)
var camDirRe = regexp.MustCompile(`(?i)^cam_?(\w+)$`)

// detectCaptureLayout walks path's ancestor directories looking for a
// recognized capture-device layout. It returns ok=false when nothing
// matches, in which case the caller has no fallback and should drop
// the record if the header was also insufficient.
func detectCaptureLayout(path string) (inferredFields, bool) {
	dir := filepath.Dir(path)
	parts := splitPath(dir)

	hasMarker := false
	var camID string
	for _, p := range parts {
		if strings.EqualFold(p, calibrationLayoutMarker) {
			hasMarker = true
		}
		if m := camDirRe.FindStringSubmatch(p); m != nil {
			camID = "cam_" + m[1]
		}
	}
	if !hasMarker {
		return inferredFields{}, false
	}

	var inf inferredFields
	inf.CameraID = camID

	// The kind subdirectory immediately under the marker (bias/dark/flat).
	for i, p := range parts {
		if strings.EqualFold(p, calibrationLayoutMarker) && i+1 < len(parts) {
			inf.Kind = strings.ToLower(parts[i+1])
		}
	}

	name := filepath.Base(path)
	for _, m := range filenameFieldsRe.FindAllStringSubmatch(name, -1) {
		switch {
		case m[1] != "":
			inf.Kind = strings.ToLower(m[1])
		case m[2] != "":
			g, _ := strconv.Atoi(m[2])
			inf.Gain = &g
		case m[3] != "":
			b, _ := strconv.Atoi(m[3])
			inf.Binning = &b
		case m[4] != "":
			e, _ := strconv.ParseFloat(m[4], 64)
			inf.ExposureSec = &e
		}
	}

	if sidecar := findSidecar(path); sidecar != nil {
		applySidecar(&inf, sidecar)
	}

	return inf, inf.Kind != ""
}

// sidecarSuffixes are the conventional names a capture device might
// use for a per-frame or per-directory metadata sidecar.
var sidecarSuffixes = []string{".json", ".shotinfo.json"}

func findSidecar(path string) map[string]any {
	base := strings.TrimSuffix(path, filepath.Ext(path))
	for _, suf := range sidecarSuffixes {
		candidate := base + suf
		if data, err := os.ReadFile(candidate); err == nil {
			var m map[string]any
			if json.Unmarshal(data, &m) == nil {
				return m
			}
		}
	}
	dirSidecar := filepath.Join(filepath.Dir(path), "shot-info.json")
	if data, err := os.ReadFile(dirSidecar); err == nil {
		var m map[string]any
		if json.Unmarshal(data, &m) == nil {
			return m
		}
	}
	return nil
}

func applySidecar(inf *inferredFields, m map[string]any) {
	if v, ok := m["target"].(string); ok && v != "" {
		inf.Target = v
	}
	if v, ok := m["date"].(string); ok && v != "" {
		if t, err := time.Parse("2006-01-02", v); err == nil {
			inf.ObservedAt = t
		}
	}
	if v, ok := m["exposure_sec"].(float64); ok {
		inf.ExposureSec = &v
	}
	if v, ok := m["gain"].(float64); ok {
		g := int(v)
		inf.Gain = &g
	}
	if v, ok := m["binning"].(float64); ok {
		b := int(v)
		inf.Binning = &b
	}
	if v, ok := m["camera_id"].(string); ok && v != "" {
		inf.CameraID = v
	}
}

func splitPath(p string) []string {
	var parts []string
	for _, seg := range strings.Split(filepath.ToSlash(p), "/") {
		if seg != "" {
			parts = append(parts, seg)
		}
	}
	return parts
}
