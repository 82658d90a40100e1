package preview

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"

	"golang.org/x/image/draw"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/virtual-camera/internal/convert"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/virtual-camera/internal/format"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/virtual-camera/pkg/types"
)

// Encoder turns delivered frames into preview JPEGs.
type Encoder struct {
	Width   int
	Quality int
}

// Encode decodes frame from its pixel layout, scales it to e.Width and
// encodes it as JPEG.
func (e Encoder) Encode(frame *types.DeliveredFrame) ([]byte, error) {
	f, err := frameFormat(frame)
	if err != nil {
		return nil, err
	}
	img, err := convert.ToImage(frame.Data, f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", f, err)
	}
	return e.encodeImage(img)
}

func (e Encoder) encodeImage(img image.Image) ([]byte, error) {
	src := img.Bounds()
	w := min(e.Width, src.Dx())
	h := src.Dy() * w / src.Dx()
	if h < 1 {
		h = 1
	}
	thumb := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.ApproxBiLinear.Scale(thumb, thumb.Bounds(), img, src, draw.Src, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, thumb, &jpeg.Options{Quality: e.Quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func frameFormat(frame *types.DeliveredFrame) (format.Format, error) {
	pf, err := format.ParsePixelFormat(frame.PixelFormat)
	if err != nil {
		return format.Format{}, err
	}
	return format.Format{PixelFormat: pf, Width: frame.Width, Height: frame.Height}, nil
}

// blankJPEG renders colour bars shown before the first frame arrives.
func (e Encoder) blankJPEG() ([]byte, error) {
	w := e.Width
	h := w * format.CanonicalHeight / format.CanonicalWidth
	img := image.NewRGBA(image.Rect(0, 0, w, h))

	bars := []color.RGBA{
		{R: 235, G: 235, B: 235, A: 255},
		{R: 235, G: 235, B: 16, A: 255},
		{R: 16, G: 235, B: 235, A: 255},
		{R: 16, G: 235, B: 16, A: 255},
		{R: 235, G: 16, B: 235, A: 255},
		{R: 235, G: 16, B: 16, A: 255},
		{R: 16, G: 16, B: 235, A: 255},
		{R: 16, G: 16, B: 16, A: 255},
	}
	barWidth := max(w/len(bars), 1)
	for x := 0; x < w; x++ {
		c := bars[min(x/barWidth, len(bars)-1)]
		draw.Draw(img, image.Rect(x, 0, x+1, h), image.NewUniform(c), image.Point{}, draw.Src)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: e.Quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
