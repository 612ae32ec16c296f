// Package loader moves images from the on-disk cache into RAM and
// builds the per-placement scaled buffers the drawing backend blits.
package loader

import (
	"bytes"
	"fmt"

	"gitlab.com/tinyland/lab/st-graphics/internal/pixel"
	"gitlab.com/tinyland/lab/st-graphics/internal/store"
)

// Decoder decodes a generic (format-100 or auto-format) image payload
// into a canonical pixel buffer. internal/backend provides the
// disintegration/imaging-backed implementation; tests use fakes.
type Decoder interface {
	Decode(data []byte) (*pixel.Buffer, error)
}

// Loader pulls images from a Store's disk tier into its RAM tier and
// builds placement-scoped scaled buffers on demand.
type Loader struct {
	Store   *store.Store
	Decoder Decoder
}

// New constructs a Loader bound to st, decoding generic-format images
// through decoder.
func New(st *store.Store, decoder Decoder) *Loader {
	return &Loader{Store: st, Decoder: decoder}
}

// LoadImage decodes img's cached bytes into its RAM buffer. It is a
// no-op if a buffer is already present, or if the image previously
// failed to decode.
func (l *Loader) LoadImage(img *store.Image) error {
	if img.RAM != nil {
		return nil
	}
	if img.Status == store.StatusRamLoadingError {
		return nil
	}
	// StatusRamLoadingSuccess with a nil buffer means the reaper dropped
	// the RAM copy; the cached file is still good, so reload it.
	if img.Status != store.StatusUploadingSuccess && img.Status != store.StatusRamLoadingSuccess {
		return nil
	}

	data, err := l.Store.ReadCachedFile(img)
	if err != nil {
		img.Status = store.StatusRamLoadingError
		return fmt.Errorf("loader: reading cached file for image %d: %w", img.ID, err)
	}

	buf, err := l.decode(img, data)
	if err != nil {
		img.Status = store.StatusRamLoadingError
		return fmt.Errorf("loader: decoding image %d: %w", img.ID, err)
	}

	img.RAM = buf
	l.Store.RAMTotal += img.RAMSize()
	img.Status = store.StatusRamLoadingSuccess
	return nil
}

func (l *Loader) decode(img *store.Image, data []byte) (*pixel.Buffer, error) {
	switch img.Format {
	case store.FormatGeneric:
		return l.Decoder.Decode(data)
	case store.FormatRGB, store.FormatRGBA:
		return l.decodeRaw(img, data)
	case store.FormatAuto:
		buf, err := l.Decoder.Decode(data)
		if err != nil {
			return l.decodeRaw(img, data)
		}
		img.PixWidth, img.PixHeight = buf.Width, buf.Height
		return buf, nil
	default:
		return nil, fmt.Errorf("unsupported format %d", img.Format)
	}
}

func (l *Loader) decodeRaw(img *store.Image, data []byte) (*pixel.Buffer, error) {
	budget := int64(img.PixWidth) * int64(img.PixHeight) * 4
	if l.Store.Limits.SingleImageRAMCap > 0 && budget > l.Store.Limits.SingleImageRAMCap {
		return nil, fmt.Errorf("pixel budget %d exceeds single-image RAM cap %d", budget, l.Store.Limits.SingleImageRAMCap)
	}

	hasAlpha := img.Format == store.FormatRGBA
	r := bytes.NewReader(data)
	if img.Compression == store.CompressionZlib {
		return pixel.DecodeZlibRGB(r, img.PixWidth, img.PixHeight, hasAlpha)
	}
	return pixel.DecodeRGB(r, img.PixWidth, img.PixHeight, hasAlpha)
}

// LoadPlacement builds (or reuses) a placement's scaled buffer at the
// given cell metrics.
func (l *Loader) LoadPlacement(img *store.Image, pl *store.Placement, cw, ch int) error {
	// Step 1: always touch first.
	l.Store.TouchPlacement(img, pl)

	// Step 2: already loaded at these metrics.
	if pl.ScaledRAM != nil && pl.ScaledCW == cw && pl.ScaledCH == ch {
		return nil
	}

	// Step 3: unload any stale scaled buffer.
	if pl.ScaledRAM != nil {
		l.Store.RAMTotal -= pl.RAMSize()
		pl.ScaledRAM = nil
	}

	// Step 4: load the parent image.
	if err := l.LoadImage(img); err != nil {
		return err
	}
	if img.RAM == nil {
		return fmt.Errorf("loader: image %d has no RAM buffer after load", img.ID)
	}

	// Step 5: infer missing size fields.
	InferSize(img, pl, cw, ch)

	// Step 6: reject if over the single-image RAM ceiling.
	budget := int64(pl.Cols) * int64(cw) * int64(pl.Rows) * int64(ch) * 4
	if l.Store.Limits.SingleImageRAMCap > 0 && budget > l.Store.Limits.SingleImageRAMCap {
		return fmt.Errorf("loader: placement %d scaled size %d exceeds single-image RAM cap %d", pl.ID, budget, l.Store.Limits.SingleImageRAMCap)
	}

	// Step 7: allocate, fill transparent, blend.
	dst := pixel.NewBuffer(pl.Cols*cw, pl.Rows*ch)
	Blend(dst, img.RAM, pl)

	// Step 8: protect across check_limits so the reaper can't evict the
	// buffer we just built.
	pl.Protected = true
	pl.ScaledRAM = dst
	pl.ScaledCW, pl.ScaledCH = cw, ch
	l.Store.RAMTotal += pl.RAMSize()
	l.Store.CheckLimits()
	pl.Protected = false

	return nil
}
