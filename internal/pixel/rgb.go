package pixel

import (
	"fmt"
	"image"
	"image/color"
	"io"
)

// Buffer is the canonical in-memory pixel representation every decoder in
// this package produces: one uint32 per pixel, row-major, with alpha in
// the top byte and blue in the low byte (0xAARRGGBB). Endianness of the
// wire format never leaks past this package. Buffer implements
// image.Image and draw.Image so it can be fed directly to
// golang.org/x/image/draw without an adapter type.
type Buffer struct {
	Width, Height int
	Pix           []uint32
}

// NewBuffer allocates a Buffer filled fully transparent.
func NewBuffer(width, height int) *Buffer {
	return &Buffer{Width: width, Height: height, Pix: make([]uint32, width*height)}
}

// Pack assembles a canonical pixel from its RGBA byte components.
func Pack(r, g, b, a byte) uint32 {
	return uint32(a)<<24 | uint32(r)<<16 | uint32(g)<<8 | uint32(b)
}

func (b *Buffer) ColorModel() color.Model { return color.NRGBAModel }

func (b *Buffer) Bounds() image.Rectangle { return image.Rect(0, 0, b.Width, b.Height) }

func (b *Buffer) At(x, y int) color.Color {
	if x < 0 || y < 0 || x >= b.Width || y >= b.Height {
		return color.NRGBA{}
	}
	px := b.Pix[y*b.Width+x]
	return color.NRGBA{
		R: byte(px >> 16),
		G: byte(px >> 8),
		B: byte(px),
		A: byte(px >> 24),
	}
}

// Set implements draw.Image so a Buffer can be used as a scale/blend
// destination.
func (b *Buffer) Set(x, y int, c color.Color) {
	if x < 0 || y < 0 || x >= b.Width || y >= b.Height {
		return
	}
	n := color.NRGBAModel.Convert(c).(color.NRGBA)
	b.Pix[y*b.Width+x] = Pack(n.R, n.G, n.B, n.A)
}

const rawChunkSize = 64 * 1024

// DecodeRGB reads a packed RGB (3 bytes/pixel) or RGBA (4 bytes/pixel)
// stream from r, a chunk at a time, and converts it into a Buffer of
// width*height pixels. Bytes beyond width*height pixels are discarded.
// A short stream yields a partially-filled buffer rather than an error;
// truncated uploads are rendered best-effort.
func DecodeRGB(r io.Reader, width, height int, hasAlpha bool) (*Buffer, error) {
	bytesPerPixel := 3
	if hasAlpha {
		bytesPerPixel = 4
	}

	buf := NewBuffer(width, height)
	total := width * height
	if total == 0 {
		return buf, nil
	}

	chunk := make([]byte, rawChunkSize-(rawChunkSize%bytesPerPixel))
	leftover := make([]byte, 0, bytesPerPixel)
	pixelIdx := 0

	for pixelIdx < total {
		n, err := r.Read(chunk)
		if n > 0 {
			data := append(leftover, chunk[:n]...)
			consumed := 0
			for pixelIdx < total && consumed+bytesPerPixel <= len(data) {
				px := data[consumed : consumed+bytesPerPixel]
				if hasAlpha {
					buf.Pix[pixelIdx] = Pack(px[0], px[1], px[2], px[3])
				} else {
					buf.Pix[pixelIdx] = Pack(px[0], px[1], px[2], 0xff)
				}
				pixelIdx++
				consumed += bytesPerPixel
			}
			leftover = append(leftover[:0], data[consumed:]...)
		}
		if err != nil {
			if err == io.EOF {
				break
			}
			return nil, fmt.Errorf("pixel: reading raw stream: %w", err)
		}
		if n == 0 {
			break
		}
	}

	return buf, nil
}
