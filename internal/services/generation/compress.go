package generation

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	"image/png"

	"golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

const jpegQuality = 75

// Compress shrinks a still image so neither side exceeds maxSize, keeping the
// aspect ratio and format. It returns nil without error when the input should be
// kept as is: animated/GIF input, images already within bounds, and formats
// without an encoder.
func Compress(data []byte, maxSize int) ([]byte, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	if format == "gif" {
		return nil, nil
	}

	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if maxSize <= 0 || (w <= maxSize && h <= maxSize) {
		return nil, nil
	}

	nw, nh := fitWithin(w, h, maxSize)
	dst := image.NewRGBA(image.Rect(0, 0, nw, nh))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, bounds, draw.Over, nil)

	var buf bytes.Buffer
	switch format {
	case "jpeg":
		err = jpeg.Encode(&buf, dst, &jpeg.Options{Quality: jpegQuality})
	case "png":
		err = png.Encode(&buf, dst)
	case "bmp":
		err = bmp.Encode(&buf, dst)
	default:
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", format, err)
	}

	return buf.Bytes(), nil
}

func fitWithin(w, h, maxSize int) (int, int) {
	if w >= h {
		nh := (h*maxSize + w/2) / w
		return maxSize, max(nh, 1)
	}
	nw := (w*maxSize + h/2) / h
	return max(nw, 1), maxSize
}
