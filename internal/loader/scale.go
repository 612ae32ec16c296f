package loader

import (
	"image"
	"image/color"

	xdraw "golang.org/x/image/draw"

	"gitlab.com/tinyland/lab/st-graphics/internal/pixel"
	"gitlab.com/tinyland/lab/st-graphics/internal/store"
)

// bufferImage adapts a read-only pixel.Buffer to image.Image so it can
// feed golang.org/x/image/draw.
type bufferImage struct{ buf *pixel.Buffer }

func (b bufferImage) ColorModel() color.Model { return color.NRGBAModel }

func (b bufferImage) Bounds() image.Rectangle {
	return image.Rect(0, 0, b.buf.Width, b.buf.Height)
}

func (b bufferImage) At(x, y int) color.Color {
	if x < 0 || y < 0 || x >= b.buf.Width || y >= b.buf.Height {
		return color.NRGBA{}
	}
	px := b.buf.Pix[y*b.buf.Width+x]
	return color.NRGBA{
		R: byte(px >> 16),
		G: byte(px >> 8),
		B: byte(px),
		A: byte(px >> 24),
	}
}

// bufferDrawImage adapts a pixel.Buffer as a mutable draw.Image target.
type bufferDrawImage struct{ buf *pixel.Buffer }

func (b bufferDrawImage) ColorModel() color.Model { return color.NRGBAModel }

func (b bufferDrawImage) Bounds() image.Rectangle {
	return image.Rect(0, 0, b.buf.Width, b.buf.Height)
}

func (b bufferDrawImage) At(x, y int) color.Color { return bufferImage{b.buf}.At(x, y) }

func (b bufferDrawImage) Set(x, y int, c color.Color) {
	if x < 0 || y < 0 || x >= b.buf.Width || y >= b.buf.Height {
		return
	}
	n := color.NRGBAModel.Convert(c).(color.NRGBA)
	b.buf.Pix[y*b.buf.Width+x] = pixel.Pack(n.R, n.G, n.B, n.A)
}

// Blend fits src's sub-rectangle (pl.SrcX/Y/Width/Height, already
// normalized by InferSize) into dst according to pl.ScaleMode. dst must
// already be allocated at pl.Cols*cw x pl.Rows*ch and zero-valued
// (fully transparent).
func Blend(dst *pixel.Buffer, src *pixel.Buffer, pl *store.Placement) {
	switch pl.ScaleMode {
	case store.ScaleFill:
		blendFill(dst, src, pl)
	case store.ScaleNone:
		blendNone(dst, src, pl)
	case store.ScaleNoneOrContain:
		if dst.Width >= pl.SrcWidth && dst.Height >= pl.SrcHeight {
			blendNone(dst, src, pl)
		} else {
			blendContain(dst, src, pl)
		}
	case store.ScaleContain:
		blendContain(dst, src, pl)
	default:
		// Unknown mode falls back to Contain; logging the warning is the
		// dispatcher's job, since it has the logger and the command
		// context this call site doesn't.
		blendContain(dst, src, pl)
	}
}

func srcRect(pl *store.Placement) image.Rectangle {
	return image.Rect(pl.SrcX, pl.SrcY, pl.SrcX+pl.SrcWidth, pl.SrcY+pl.SrcHeight)
}

// blendFill stretches the source rect to exactly fill dst.
func blendFill(dst, src *pixel.Buffer, pl *store.Placement) {
	if pl.SrcWidth <= 0 || pl.SrcHeight <= 0 {
		return
	}
	dstRect := image.Rect(0, 0, dst.Width, dst.Height)
	xdraw.CatmullRom.Scale(bufferDrawImage{dst}, dstRect, bufferImage{src}, srcRect(pl), xdraw.Over, nil)
}

// blendNone blits the source rect at native size, cropping to dst's
// bounds if the box is smaller than the source rect.
func blendNone(dst, src *pixel.Buffer, pl *store.Placement) {
	w := pl.SrcWidth
	if w > dst.Width {
		w = dst.Width
	}
	h := pl.SrcHeight
	if h > dst.Height {
		h = dst.Height
	}
	for y := 0; y < h; y++ {
		srcRow := (pl.SrcY + y) * src.Width
		dstRow := y * dst.Width
		for x := 0; x < w; x++ {
			dst.Pix[dstRow+x] = src.Pix[srcRow+pl.SrcX+x]
		}
	}
}

// blendContain uniform-scales the source rect to fit inside dst and
// centers it, padding the remainder transparent. Axis selection is a
// pure integer comparison: boxW*origH > origW*boxH picks fit-to-height,
// otherwise fit-to-width.
func blendContain(dst, src *pixel.Buffer, pl *store.Placement) {
	boxW, boxH := dst.Width, dst.Height
	origW, origH := pl.SrcWidth, pl.SrcHeight
	if origW <= 0 || origH <= 0 || boxW <= 0 || boxH <= 0 {
		return
	}

	var scaledW, scaledH int
	if boxW*origH > origW*boxH {
		scaledH = boxH
		scaledW = origW * boxH / origH
	} else {
		scaledW = boxW
		scaledH = origH * boxW / origW
	}
	if scaledW <= 0 || scaledH <= 0 {
		return
	}

	destX := (boxW - scaledW) / 2
	destY := (boxH - scaledH) / 2
	dstRect := image.Rect(destX, destY, destX+scaledW, destY+scaledH)

	xdraw.CatmullRom.Scale(bufferDrawImage{dst}, dstRect, bufferImage{src}, srcRect(pl), xdraw.Over, nil)
}
