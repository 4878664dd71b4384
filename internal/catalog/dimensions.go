package catalog

import (
	"fmt"
	"sync"

	"gopkg.in/gographics/imagick.v3/imagick"
)

var imagickOnce sync.Once

func ensureImagick() {
	imagickOnce.Do(func() {
		imagick.Initialize()
	})
}

// ProbeDimensions exposes probeDimensions to callers outside the
// package, such as the master-frame upsert path that has no header to
// read because the file was just produced by a stacking tool.
func ProbeDimensions(path string) (width, height int, err error) {
	return probeDimensions(path)
}

// probeDimensions reads width/height directly from pixel data via
// MagickWand, used by ingestion's fallback inference when a frame's
// header didn't carry NAXIS1/NAXIS2 or ImageWidth/ImageHeight.
// Following the imagick use already present in
// internal/tasks/{imagemagick_processor,stack_native}.go, redirected
// from a processing tool into a metadata probe.
func probeDimensions(path string) (width, height int, err error) {
	ensureImagick()
	wand := imagick.NewMagickWand()
	defer wand.Destroy()

	if err := wand.ReadImage(path); err != nil {
		return 0, 0, fmt.Errorf("probe dimensions of %s: %w", path, err)
	}
	return int(wand.GetImageWidth()), int(wand.GetImageHeight()), nil
}
