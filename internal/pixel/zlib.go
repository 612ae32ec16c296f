package pixel

import (
	"compress/zlib"
	"errors"
	"fmt"
	"io"
)

// ErrNoProgress is returned when a compressed stream stops producing
// bytes before the expected pixel count is reached but without a read
// error. Callers treat it as a load failure rather than a silent
// truncation.
var ErrNoProgress = errors.New("pixel: zlib stream produced no data before completion")

// DecodeZlibRGB inflates a zlib-compressed RGB/RGBA stream and decodes it
// the same way DecodeRGB does, chunk by chunk, so memory use stays
// bounded regardless of the compressed image's dimensions. Decoding stops
// when width*height pixels have been produced, or when the inflater
// reports io.EOF; a read that returns neither an error nor any bytes
// twice in a row is treated as stalled and reported via ErrNoProgress.
func DecodeZlibRGB(r io.Reader, width, height int, hasAlpha bool) (*Buffer, error) {
	zr, err := zlib.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("pixel: opening zlib stream: %w", err)
	}
	defer zr.Close()

	buf, err := decodeRawFromReader(zr, width, height, hasAlpha, true)
	if err != nil {
		return nil, err
	}
	return buf, nil
}

func decodeRawFromReader(r io.Reader, width, height int, hasAlpha bool, guardStall bool) (*Buffer, error) {
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
	stalls := 0

	for pixelIdx < total {
		n, err := r.Read(chunk)
		if n > 0 {
			stalls = 0
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
		} else if err == nil {
			stalls++
			if guardStall && stalls >= 2 {
				return nil, ErrNoProgress
			}
		}
		if err != nil {
			if err == io.EOF {
				break
			}
			return nil, fmt.Errorf("pixel: reading compressed stream: %w", err)
		}
	}

	return buf, nil
}
