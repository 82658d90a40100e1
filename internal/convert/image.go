package convert

import (
	"fmt"
	"image"
	"image/color"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/virtual-camera/internal/format"
)

// ToImage decodes a buffer produced by Convert (or Neutral) back into an
// image. The result does not alias buf.
func ToImage(buf []byte, f format.Format) (image.Image, error) {
	w, h := f.Width, f.Height
	if !f.PixelFormat.Valid() || w <= 0 || h <= 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, f)
	}
	if need := f.SampleSize(); len(buf) < need {
		return nil, fmt.Errorf("%w: %d < %d", ErrShortBuffer, len(buf), need)
	}
	rect := image.Rect(0, 0, w, h)

	switch f.PixelFormat {
	case format.PixelFormatYUY2:
		img := image.NewYCbCr(rect, image.YCbCrSubsampleRatio422)
		for y := 0; y < h; y++ {
			line := buf[y*w*2 : (y+1)*w*2]
			for x := 0; x < w; x += 2 {
				p := line[x*2 : x*2+4]
				img.Y[y*img.YStride+x] = p[0]
				img.Y[y*img.YStride+x+1] = p[2]
				ci := y*img.CStride + x/2
				img.Cb[ci] = p[1]
				img.Cr[ci] = p[3]
			}
		}
		return img, nil

	case format.PixelFormatNV12:
		img := image.NewYCbCr(rect, image.YCbCrSubsampleRatio420)
		copy(img.Y, buf[:w*h])
		uv := buf[w*h:]
		for cy := 0; cy < h/2; cy++ {
			for cx := 0; cx < w/2; cx++ {
				src := cy*w + cx*2
				img.Cb[cy*img.CStride+cx] = uv[src]
				img.Cr[cy*img.CStride+cx] = uv[src+1]
			}
		}
		return img, nil

	case format.PixelFormatI420:
		img := image.NewYCbCr(rect, image.YCbCrSubsampleRatio420)
		q := w * h / 4
		copy(img.Y, buf[:w*h])
		copy(img.Cb, buf[w*h:w*h+q])
		copy(img.Cr, buf[w*h+q:w*h+2*q])
		return img, nil

	default:
		img := image.NewRGBA(rect)
		bottomUp := f.Canonical()
		for y := 0; y < h; y++ {
			row := y
			if bottomUp {
				row = h - 1 - y
			}
			line := buf[row*w*3 : (row+1)*w*3]
			for x := 0; x < w; x++ {
				b, g, r := line[x*3], line[x*3+1], line[x*3+2]
				img.SetRGBA(x, y, color.RGBA{R: r, G: g, B: b, A: 0xff})
			}
		}
		return img, nil
	}
}

// SourceImage decodes a canonical bottom-up BGR frame into an RGBA image.
func SourceImage(src []byte) (*image.RGBA, error) {
	if len(src) < SourceSize {
		return nil, fmt.Errorf("%w: source %d < %d", ErrShortBuffer, len(src), SourceSize)
	}
	img := image.NewRGBA(image.Rect(0, 0, srcWidth, srcHeight))
	for y := 0; y < srcHeight; y++ {
		line := src[(srcHeight-1-y)*srcStride:]
		out := img.Pix[y*img.Stride:]
		for x := 0; x < srcWidth; x++ {
			out[x*4] = line[x*3+2]
			out[x*4+1] = line[x*3+1]
			out[x*4+2] = line[x*3]
			out[x*4+3] = 0xff
		}
	}
	return img, nil
}

// FromImage packs img into dst as a canonical bottom-up BGR frame. img must
// already be 1920x1080.
func FromImage(dst []byte, img *image.RGBA) error {
	b := img.Bounds()
	if b.Dx() != srcWidth || b.Dy() != srcHeight {
		return fmt.Errorf("%w: image %dx%d", ErrUnsupportedFormat, b.Dx(), b.Dy())
	}
	if len(dst) < SourceSize {
		return fmt.Errorf("%w: destination %d < %d", ErrShortBuffer, len(dst), SourceSize)
	}
	for y := 0; y < srcHeight; y++ {
		in := img.Pix[img.PixOffset(b.Min.X, b.Min.Y+y):]
		line := dst[(srcHeight-1-y)*srcStride:]
		for x := 0; x < srcWidth; x++ {
			line[x*3] = in[x*4+2]
			line[x*3+1] = in[x*4+1]
			line[x*3+2] = in[x*4]
		}
	}
	return nil
}
