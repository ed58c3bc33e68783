package payload

import (
	"bytes"
	"image"
	_ "image/gif"  // register decoder
	_ "image/jpeg" // register decoder
	_ "image/png"  // register decoder

	"github.com/rwcarlsen/goexif/exif"
	_ "golang.org/x/image/bmp"  // register decoder
	_ "golang.org/x/image/tiff" // register decoder
	_ "golang.org/x/image/webp" // register decoder

	"github.com/pithecene-io/loupe/types"
)

// Inspect reads the image header of data. It returns nil when data is not
// an image any registered decoder recognizes.
func Inspect(data []byte) *types.ImageInfo {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil
	}
	info := &types.ImageInfo{
		Format:      format,
		Width:       cfg.Width,
		Height:      cfg.Height,
		Orientation: 1,
	}
	if format == "jpeg" || format == "tiff" {
		info.Orientation = orientation(data)
	}
	return info
}

// orientation returns the EXIF orientation tag, or 1.
func orientation(data []byte) int {
	x, err := exif.Decode(bytes.NewReader(data))
	if err != nil {
		return 1
	}
	tag, err := x.Get(exif.Orientation)
	if err != nil {
		return 1
	}
	v, err := tag.Int(0)
	if err != nil || v < 1 || v > 8 {
		return 1
	}
	return v
}
