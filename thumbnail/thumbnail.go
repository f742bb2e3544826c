// Package thumbnail renders small previews for image content records.
package thumbnail

import (
	"bytes"
	"image/jpeg"
	"strings"

	"github.com/disintegration/imaging"
)

// MaxSourceBytes caps how large an image is worth decoding for a preview.
const MaxSourceBytes = 64 * 1024 * 1024

// Edge is the bounding box of the generated preview in pixels.
const Edge = 128

// Eligible reports whether content with the given MIME label and size gets a
// thumbnail attempt at all.
func Eligible(mime string, size int64) bool {
	return strings.HasPrefix(mime, "image/") && size > 0 && size <= MaxSourceBytes
}

// Generate decodes the image at path and returns a JPEG preview fitted into
// Edge x Edge, plus its MIME label. Errors leave the content record's
// thumbnail fields empty; they never abort the scan.
func Generate(path string) ([]byte, string, error) {
	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return nil, "", err
	}
	preview := imaging.Fit(img, Edge, Edge, imaging.Lanczos)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, preview, &jpeg.Options{Quality: 80}); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), "image/jpeg", nil
}
