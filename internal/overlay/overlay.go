package overlay

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"sync"

	"github.com/2beens/posecoach/internal/pose"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
)

const DefaultJPEGQuality = 80

var (
	captionColor = color.RGBA{A: 255}
	liveColor    = color.RGBA{G: 255, A: 255}
	lockedColor  = color.RGBA{R: 255, G: 128, A: 255}
	boneColor    = color.RGBA{R: 245, G: 245, B: 245, A: 220}
	jointColor   = color.RGBA{R: 255, G: 64, B: 64, A: 255}

	// joints below this visibility are not drawn
	minVisibility = 0.3
)

var (
	fontOnce sync.Once
	boldFont *truetype.Font
	fontErr  error
)

// Caption is the text drawn on top of every frame.
type Caption struct {
	PoseName string
	Step     int
	Total    int
	Score    int
	Locked   bool
}

func (c Caption) Title() string {
	return fmt.Sprintf("%s (%d/%d)", c.PoseName, c.Step+1, c.Total)
}

func (c Caption) ScoreText() string {
	return fmt.Sprintf("Score: %d%%", c.Score)
}

// Renderer draws the skeleton and caption over camera frames and encodes
// the result as JPEG.
type Renderer struct {
	quality int
}

func NewRenderer(jpegQuality int) *Renderer {
	if jpegQuality <= 0 || jpegQuality > 100 {
		jpegQuality = DefaultJPEGQuality
	}
	return &Renderer{quality: jpegQuality}
}

func fontFace(size float64) (font.Face, error) {
	fontOnce.Do(func() {
		boldFont, fontErr = truetype.Parse(gobold.TTF)
	})
	if fontErr != nil {
		return nil, fontErr
	}
	return truetype.NewFace(boldFont, &truetype.Options{Size: size}), nil
}

// Render draws landmarks (may be empty) and the caption onto a copy of frame.
func (r *Renderer) Render(frame image.Image, landmarks pose.Landmarks, caption Caption) ([]byte, error) {
	dc := gg.NewContextForImage(frame)
	w, h := float64(dc.Width()), float64(dc.Height())

	if len(landmarks) > 0 {
		drawSkeleton(dc, landmarks, w, h)
	}

	// text scales with the frame, 640px wide gives ~20pt
	titleSize := clamp(w/32, 10, 48)
	titleFace, err := fontFace(titleSize)
	if err != nil {
		return nil, fmt.Errorf("load font: %w", err)
	}
	scoreFace, err := fontFace(titleSize * 8 / 7)
	if err != nil {
		return nil, fmt.Errorf("load font: %w", err)
	}

	dc.SetFontFace(titleFace)
	dc.SetColor(captionColor)
	dc.DrawString(caption.Title(), 10, titleSize*2)

	dc.SetFontFace(scoreFace)
	if caption.Locked {
		dc.SetColor(lockedColor)
	} else {
		dc.SetColor(liveColor)
	}
	dc.DrawString(caption.ScoreText(), 10, titleSize*4)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dc.Image(), &jpeg.Options{Quality: r.quality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

func drawSkeleton(dc *gg.Context, landmarks pose.Landmarks, w, h float64) {
	visible := func(i int) bool {
		if i >= len(landmarks) {
			return false
		}
		v := landmarks[i].Visibility
		// estimators that do not report visibility send 0
		return v == 0 || v >= minVisibility
	}

	lineWidth := clamp(w/240, 1.5, 6)
	dc.SetLineWidth(lineWidth)
	dc.SetColor(boneColor)
	for _, c := range pose.Connections {
		if !visible(c.From) || !visible(c.To) {
			continue
		}
		a, b := landmarks[c.From], landmarks[c.To]
		dc.DrawLine(a.X*w, a.Y*h, b.X*w, b.Y*h)
		dc.Stroke()
	}

	dc.SetColor(jointColor)
	for i, lm := range landmarks {
		if !visible(i) {
			continue
		}
		dc.DrawCircle(lm.X*w, lm.Y*h, lineWidth*1.5)
		dc.Fill()
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
