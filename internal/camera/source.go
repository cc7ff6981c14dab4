package camera

import (
	"context"
	"errors"
	"image"
	"image/draw"
)

var ErrSourceClosed = errors.New("camera source closed")

// Source produces camera frames. Next blocks until a frame newer than the
// call is available, so several viewers can share one source.
type Source interface {
	Next(ctx context.Context) (image.Image, error)
	Close() error
}

// Mirror flips img horizontally, giving the selfie view.
func Mirror(img image.Image) *image.RGBA {
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)

	w := b.Dx()
	for y := 0; y < b.Dy(); y++ {
		row := dst.Pix[y*dst.Stride : y*dst.Stride+w*4]
		for l, r := 0, w-1; l < r; l, r = l+1, r-1 {
			li, ri := l*4, r*4
			row[li], row[ri] = row[ri], row[li]
			row[li+1], row[ri+1] = row[ri+1], row[li+1]
			row[li+2], row[ri+2] = row[ri+2], row[li+2]
			row[li+3], row[ri+3] = row[ri+3], row[li+3]
		}
	}

	return dst
}
