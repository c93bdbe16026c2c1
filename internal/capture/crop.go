package capture

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"

	xdraw "golang.org/x/image/draw"
)

// card aspect ratio of the guide frame shown to the user (85.6 x 54 mm)
const cardAspect = 54.0 / 85.6

// CropRect returns the centered guide rectangle for a frame of the given
// bounds. The width is widthFraction of the frame; when the resulting height
// does not fit, the rectangle is shrunk keeping the aspect ratio.
func CropRect(bounds image.Rectangle, widthFraction float64) image.Rectangle {
	fw, fh := bounds.Dx(), bounds.Dy()
	if fw <= 0 || fh <= 0 {
		return image.Rectangle{}
	}
	if widthFraction <= 0 || widthFraction > 1 {
		widthFraction = 1
	}

	w := float64(fw) * widthFraction
	h := w * cardAspect
	if h > float64(fh) {
		h = float64(fh)
		w = h / cardAspect
	}

	cw, ch := int(w), int(h)
	if cw < 1 {
		cw = 1
	}
	if ch < 1 {
		ch = 1
	}
	x0 := bounds.Min.X + (fw-cw)/2
	y0 := bounds.Min.Y + (fh-ch)/2
	return image.Rect(x0, y0, x0+cw, y0+ch)
}

// Crop copies the guide rectangle of img into a new RGBA image.
func Crop(img image.Image, widthFraction float64) *image.RGBA {
	r := CropRect(img.Bounds(), widthFraction)
	dst := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	xdraw.Copy(dst, image.Point{}, img, r, xdraw.Src, nil)
	return dst
}

// Encode crops img and encodes the result as JPEG.
func Encode(img image.Image, widthFraction float64, quality int) ([]byte, error) {
	cropped := Crop(img, widthFraction)
	if cropped.Bounds().Empty() {
		return nil, nil
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, cropped, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("failed to encode capture: %w", err)
	}
	return buf.Bytes(), nil
}
