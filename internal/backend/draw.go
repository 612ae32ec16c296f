package backend

import (
	"fmt"
	"image"
	"io"
	"log/slog"

	"github.com/blacktop/go-termimg"

	"gitlab.com/tinyland/lab/st-graphics/internal/pixel"
)

// DrawBackend is the bracketed drawing interface the tile renderer
// flushes into. Start/Finish bracket one frame; Blit copies the
// (srcX, srcY, w, h) sub-rectangle of a placement's scaled buffer onto
// the drawable at pixel position (dstX, dstY), optionally with reversed
// colors. The target is opaque to the core; each backend knows what it
// accepts.
type DrawBackend interface {
	Start(target any, cw, ch int)
	Blit(target any, buf *pixel.Buffer, srcX, srcY, w, h, dstX, dstY int, reverse bool) error
	Finish(target any)
}

// TermimgBackend renders blits as kitty graphics escape sequences
// written to an io.Writer target, positioning each one with a cursor
// move derived from the frame's cell metrics. It exists for the demo
// host; a real terminal embeds its own pixel-level backend.
type TermimgBackend struct {
	Logger *slog.Logger

	cw, ch int
}

// NewTermimgBackend creates the demo drawing backend.
func NewTermimgBackend(logger *slog.Logger) *TermimgBackend {
	if logger == nil {
		logger = slog.Default()
	}
	return &TermimgBackend{Logger: logger}
}

func (b *TermimgBackend) Start(target any, cw, ch int) {
	b.cw, b.ch = cw, ch
}

func (b *TermimgBackend) Finish(target any) {}

func (b *TermimgBackend) Blit(target any, buf *pixel.Buffer, srcX, srcY, w, h, dstX, dstY int, reverse bool) error {
	wtr, ok := target.(io.Writer)
	if !ok {
		return fmt.Errorf("backend: target %T is not an io.Writer", target)
	}

	sub := subImage(buf, srcX, srcY, w, h, reverse)
	if sub == nil {
		return nil
	}

	ti := termimg.New(sub)
	if ti == nil {
		return fmt.Errorf("backend: could not wrap image for rendering")
	}
	cols, rows := 1, 1
	if b.cw > 0 {
		cols = (w + b.cw - 1) / b.cw
	}
	if b.ch > 0 {
		rows = (h + b.ch - 1) / b.ch
	}
	rendered, err := ti.Protocol(termimg.Kitty).Size(cols, rows).Render()
	if err != nil {
		return fmt.Errorf("backend: rendering blit: %w", err)
	}

	// Position the cursor at the cell containing (dstX, dstY), then emit.
	col, row := 1, 1
	if b.cw > 0 {
		col = dstX/b.cw + 1
	}
	if b.ch > 0 {
		row = dstY/b.ch + 1
	}
	if _, err := fmt.Fprintf(wtr, "\x1b[%d;%dH%s", row, col, rendered); err != nil {
		return fmt.Errorf("backend: writing blit: %w", err)
	}
	return nil
}

// subImage copies the requested sub-rectangle of buf into an NRGBA
// image, clamping to the buffer's bounds and inverting RGB channels
// when reverse is set.
func subImage(buf *pixel.Buffer, srcX, srcY, w, h int, reverse bool) *image.NRGBA {
	if srcX < 0 {
		w += srcX
		srcX = 0
	}
	if srcY < 0 {
		h += srcY
		srcY = 0
	}
	if srcX+w > buf.Width {
		w = buf.Width - srcX
	}
	if srcY+h > buf.Height {
		h = buf.Height - srcY
	}
	if w <= 0 || h <= 0 {
		return nil
	}

	out := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			px := buf.Pix[(srcY+y)*buf.Width+srcX+x]
			r := byte(px >> 16)
			g := byte(px >> 8)
			bl := byte(px)
			a := byte(px >> 24)
			if reverse {
				r, g, bl = 0xff-r, 0xff-g, 0xff-bl
			}
			i := y*out.Stride + x*4
			out.Pix[i+0] = r
			out.Pix[i+1] = g
			out.Pix[i+2] = bl
			out.Pix[i+3] = a
		}
	}
	return out
}
