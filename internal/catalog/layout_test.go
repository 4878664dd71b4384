package catalog

import "testing"

func TestDetectCaptureLayoutCalibrationFrame(t *testing.T) {
	path := "/data/CALI_FRAME/bias/cam_0/bias_gain_2_bin_1.fits"

	inf, ok := detectCaptureLayout(path)
	if !ok {
		t.Fatal("expected layout match for CALI_FRAME path")
	}
	if inf.Kind != "bias" {
		t.Errorf("Kind = %q, want bias", inf.Kind)
	}
	if inf.CameraID != "cam_0" {
		t.Errorf("CameraID = %q, want cam_0", inf.CameraID)
	}
	if inf.Gain == nil || *inf.Gain != 2 {
		t.Errorf("Gain = %v, want 2", inf.Gain)
	}
	if inf.Binning == nil || *inf.Binning != 1 {
		t.Errorf("Binning = %v, want 1", inf.Binning)
	}
}

func TestDetectCaptureLayoutNoMarker(t *testing.T) {
	_, ok := detectCaptureLayout("/data/random/lights/m31_001.fits")
	if ok {
		t.Fatal("expected no layout match without the calibration marker")
	}
}
