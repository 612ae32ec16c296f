package loader

import "gitlab.com/tinyland/lab/st-graphics/internal/store"

func ceilDiv(n, d int) int {
	if d <= 0 {
		return 0
	}
	if n <= 0 {
		return 0
	}
	return (n + d - 1) / d
}

// InferSize normalizes a placement's source rectangle and fills in any
// missing cols/rows. cw/ch are the terminal's current cell pixel
// dimensions.
func InferSize(img *store.Image, pl *store.Placement, cw, ch int) {
	if pl.SrcX < 0 {
		pl.SrcX = 0
	}
	if pl.SrcY < 0 {
		pl.SrcY = 0
	}
	if pl.SrcX > img.PixWidth {
		pl.SrcX = img.PixWidth
	}
	if pl.SrcY > img.PixHeight {
		pl.SrcY = img.PixHeight
	}

	srcW := pl.SrcWidth
	if srcW == 0 {
		srcW = img.PixWidth - pl.SrcX
	}
	srcH := pl.SrcHeight
	if srcH == 0 {
		srcH = img.PixHeight - pl.SrcY
	}
	if pl.SrcX+srcW > img.PixWidth {
		srcW = img.PixWidth - pl.SrcX
	}
	if pl.SrcY+srcH > img.PixHeight {
		srcH = img.PixHeight - pl.SrcY
	}
	if srcW < 0 {
		srcW = 0
	}
	if srcH < 0 {
		srcH = 0
	}
	pl.SrcWidth = srcW
	pl.SrcHeight = srcH

	switch {
	case pl.Cols == 0 && pl.Rows == 0:
		if srcW > 0 && srcH > 0 && cw > 0 && ch > 0 {
			pl.Cols = ceilDiv(srcW, cw)
			pl.Rows = ceilDiv(srcH, ch)
		}

	case pl.Cols == 0 && pl.ScaleMode == store.ScaleContain:
		pl.Cols = containMinFit(srcW, srcH, pl.Rows*ch, cw)

	case pl.Rows == 0 && pl.ScaleMode == store.ScaleContain:
		pl.Rows = containMinFit(srcH, srcW, pl.Cols*cw, ch)

	default:
		if pl.Cols == 0 {
			pl.Cols = ceilDiv(srcW, cw)
		}
		if pl.Rows == 0 {
			pl.Rows = ceilDiv(srcH, ch)
		}
	}
}

// containMinFit computes the missing cell count on one axis given the
// pixel size of the other axis, preserving the source rectangle's
// aspect ratio: the known axis is held exact, and the unknown axis is
// the minimum number of cells whose pixel extent accommodates the
// uniformly-scaled source without cropping.
//
// srcOtherAxis/srcKnownAxis are the source rect's extents along the
// unknown/known axes respectively; knownPix is the known axis's pixel
// size (rows*ch or cols*cw); cellOther is the unknown axis's cell pixel
// dimension.
func containMinFit(srcOtherAxis, srcKnownAxis, knownPix, cellOther int) int {
	if srcKnownAxis <= 0 || knownPix <= 0 || cellOther <= 0 {
		return 0
	}
	scaledOther := srcOtherAxis * knownPix / srcKnownAxis
	return ceilDiv(scaledOther, cellOther)
}
