package main

import (
	"image"
	"image/color"

	"golang.org/x/image/draw"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/virtual-camera/internal/convert"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/virtual-camera/internal/format"
)

const boxSize = 160

var bars = []color.RGBA{
	{0xff, 0xff, 0xff, 0xff},
	{0xff, 0xff, 0x00, 0xff},
	{0x00, 0xff, 0xff, 0xff},
	{0x00, 0xff, 0x00, 0xff},
	{0xff, 0x00, 0xff, 0xff},
	{0xff, 0x00, 0x00, 0xff},
	{0x00, 0x00, 0xff, 0xff},
	{0x00, 0x00, 0x00, 0xff},
}

// Feeder renders producer frames: a static background with a box that
// moves one step per frame so consumers can see motion and tearing.
type Feeder struct {
	base   *image.RGBA
	canvas *image.RGBA
	frame  int
}

// NewFeeder scales src to the canonical size. A nil src gives colour bars.
func NewFeeder(src image.Image) *Feeder {
	rect := image.Rect(0, 0, format.CanonicalWidth, format.CanonicalHeight)
	base := image.NewRGBA(rect)
	if src == nil {
		w := rect.Dx() / len(bars)
		for i, c := range bars {
			r := image.Rect(i*w, 0, (i+1)*w, rect.Dy())
			if i == len(bars)-1 {
				r.Max.X = rect.Dx()
			}
			draw.Draw(base, r, image.NewUniform(c), image.Point{}, draw.Src)
		}
	} else {
		draw.CatmullRom.Scale(base, rect, src, src.Bounds(), draw.Src, nil)
	}
	return &Feeder{base: base, canvas: image.NewRGBA(rect)}
}

// boxAt returns the box position for frame n, bouncing across the width.
func boxAt(n int) image.Rectangle {
	span := format.CanonicalWidth - boxSize
	x := (n * 16) % (2 * span)
	if x > span {
		x = 2*span - x
	}
	y := (format.CanonicalHeight - boxSize) / 2
	return image.Rect(x, y, x+boxSize, y+boxSize)
}

// Next packs the next frame into buf as bottom-up BGR.
func (f *Feeder) Next(buf []byte) error {
	copy(f.canvas.Pix, f.base.Pix)
	draw.Draw(f.canvas, boxAt(f.frame), image.NewUniform(color.RGBA{0x80, 0x80, 0x80, 0xff}), image.Point{}, draw.Src)
	f.frame++
	return convert.FromImage(buf, f.canvas)
}
