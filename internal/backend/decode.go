// Package backend provides the two pluggable collaborators the core
// delegates pixel work to: a generic image decoder for payloads that
// are not raw RGB/RGBA streams, and a drawing backend that blits
// finished placement buffers onto the host's drawable.
package backend

import (
	"bytes"
	"fmt"

	"github.com/disintegration/imaging"

	"gitlab.com/tinyland/lab/st-graphics/internal/pixel"
)

// ImagingDecoder decodes arbitrary encoded images (PNG, JPEG, GIF, BMP,
// TIFF) into the canonical pixel buffer. It fills the generic-decoder
// slot the loader dispatches format-100 and auto-format uploads to.
type ImagingDecoder struct{}

// Decode parses data and converts it to a canonical buffer.
func (ImagingDecoder) Decode(data []byte) (*pixel.Buffer, error) {
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("backend: decoding image: %w", err)
	}

	nrgba := imaging.Clone(img)
	w, h := nrgba.Rect.Dx(), nrgba.Rect.Dy()
	buf := pixel.NewBuffer(w, h)
	for y := 0; y < h; y++ {
		row := nrgba.Pix[y*nrgba.Stride : y*nrgba.Stride+w*4]
		for x := 0; x < w; x++ {
			px := row[x*4 : x*4+4]
			buf.Pix[y*w+x] = pixel.Pack(px[0], px[1], px[2], px[3])
		}
	}
	return buf, nil
}
