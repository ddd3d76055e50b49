package convert

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"

	"github.com/wachiwi/camstream/pkg/sensor"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported pixel format")
	ErrShortFrame        = errors.New("frame buffer shorter than its dimensions")
)

// Matrix is a packed RGB888 image, three bytes per pixel.
type Matrix struct {
	Width  int
	Height int
	Pix    []byte
}

func (m *Matrix) ColorModel() color.Model { return color.RGBAModel }

func (m *Matrix) Bounds() image.Rectangle { return image.Rect(0, 0, m.Width, m.Height) }

func (m *Matrix) At(x, y int) color.Color {
	if !(image.Point{x, y}.In(m.Bounds())) {
		return color.RGBA{}
	}
	i := (y*m.Width + x) * 3
	return color.RGBA{R: m.Pix[i], G: m.Pix[i+1], B: m.Pix[i+2], A: 255}
}

func checkLen(fb *sensor.FrameBuffer, bpp int) error {
	if want := fb.Width * fb.Height * bpp; fb.Len() < want {
		return fmt.Errorf("%w: %d bytes for %dx%d %s", ErrShortFrame, fb.Len(), fb.Width, fb.Height, fb.Format)
	}
	return nil
}

// frameImage exposes a raw frame as an image.Image for the encoder. Grayscale
// frames alias fb.Buf, so fb must stay alive until encoding is done.
func frameImage(fb *sensor.FrameBuffer) (image.Image, error) {
	rect := image.Rect(0, 0, fb.Width, fb.Height)
	switch fb.Format {
	case sensor.PixelFormatJPEG:
		return jpeg.Decode(bytes.NewReader(fb.Buf))
	case sensor.PixelFormatGrayscale:
		if err := checkLen(fb, 1); err != nil {
			return nil, err
		}
		return &image.Gray{Pix: fb.Buf, Stride: fb.Width, Rect: rect}, nil
	case sensor.PixelFormatYUV422:
		if err := checkLen(fb, 2); err != nil {
			return nil, err
		}
		img := image.NewYCbCr(rect, image.YCbCrSubsampleRatio422)
		for y := 0; y < fb.Height; y++ {
			for x := 0; x+1 < fb.Width; x += 2 {
				i := (y*fb.Width + x) * 2
				img.Y[y*img.YStride+x] = fb.Buf[i]
				img.Y[y*img.YStride+x+1] = fb.Buf[i+2]
				c := y*img.CStride + x/2
				img.Cb[c] = fb.Buf[i+1]
				img.Cr[c] = fb.Buf[i+3]
			}
		}
		return img, nil
	case sensor.PixelFormatRGB565, sensor.PixelFormatRGB888:
		m := &Matrix{Width: fb.Width, Height: fb.Height, Pix: make([]byte, fb.Width*fb.Height*3)}
		if err := toRGB888(fb, m); err != nil {
			return nil, err
		}
		return m, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, fb.Format)
	}
}

// toRGB888 converts any supported frame into m, which must match its size.
func toRGB888(fb *sensor.FrameBuffer, m *Matrix) error {
	if m.Width != fb.Width || m.Height != fb.Height || len(m.Pix) < fb.Width*fb.Height*3 {
		return fmt.Errorf("matrix %dx%d does not fit frame %dx%d", m.Width, m.Height, fb.Width, fb.Height)
	}
	n := fb.Width * fb.Height

	switch fb.Format {
	case sensor.PixelFormatRGB888:
		if err := checkLen(fb, 3); err != nil {
			return err
		}
		copy(m.Pix, fb.Buf[:n*3])
	case sensor.PixelFormatRGB565:
		if err := checkLen(fb, 2); err != nil {
			return err
		}
		for p := 0; p < n; p++ {
			v := uint16(fb.Buf[p*2])<<8 | uint16(fb.Buf[p*2+1])
			r := byte(v>>11) & 0x1F
			g := byte(v>>5) & 0x3F
			b := byte(v) & 0x1F
			m.Pix[p*3] = r<<3 | r>>2
			m.Pix[p*3+1] = g<<2 | g>>4
			m.Pix[p*3+2] = b<<3 | b>>2
		}
	case sensor.PixelFormatGrayscale:
		if err := checkLen(fb, 1); err != nil {
			return err
		}
		for p := 0; p < n; p++ {
			v := fb.Buf[p]
			m.Pix[p*3], m.Pix[p*3+1], m.Pix[p*3+2] = v, v, v
		}
	case sensor.PixelFormatYUV422, sensor.PixelFormatJPEG:
		img, err := frameImage(fb)
		if err != nil {
			return err
		}
		b := img.Bounds()
		if b.Dx() != fb.Width || b.Dy() != fb.Height {
			return fmt.Errorf("decoded image is %dx%d, frame says %dx%d", b.Dx(), b.Dy(), fb.Width, fb.Height)
		}
		for y := 0; y < fb.Height; y++ {
			for x := 0; x < fb.Width; x++ {
				c := color.RGBAModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.RGBA)
				i := (y*fb.Width + x) * 3
				m.Pix[i], m.Pix[i+1], m.Pix[i+2] = c.R, c.G, c.B
			}
		}
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, fb.Format)
	}
	return nil
}
