package backend

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"gitlab.com/tinyland/lab/st-graphics/internal/pixel"
)

func pngBytes(t *testing.T, w, h int, c color.NRGBA) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png.Encode: %v", err)
	}
	return buf.Bytes()
}

func TestImagingDecoderPNG(t *testing.T) {
	data := pngBytes(t, 3, 2, color.NRGBA{R: 0x10, G: 0x20, B: 0x30, A: 0xff})

	buf, err := ImagingDecoder{}.Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if buf.Width != 3 || buf.Height != 2 {
		t.Fatalf("decoded %dx%d, want 3x2", buf.Width, buf.Height)
	}
	want := pixel.Pack(0x10, 0x20, 0x30, 0xff)
	if buf.Pix[0] != want {
		t.Errorf("pixel = %08x, want %08x", buf.Pix[0], want)
	}
}

func TestImagingDecoderGarbage(t *testing.T) {
	if _, err := (ImagingDecoder{}).Decode([]byte("not an image")); err == nil {
		t.Fatal("expected an error for undecodable bytes")
	}
}

func TestSubImageClampsAndReverses(t *testing.T) {
	buf := pixel.NewBuffer(2, 2)
	buf.Pix[0] = pixel.Pack(0x00, 0xff, 0x00, 0xff)

	sub := subImage(buf, -1, -1, 4, 4, false)
	if sub == nil || sub.Rect.Dx() != 2 || sub.Rect.Dy() != 2 {
		t.Fatalf("sub = %v, want clamped 2x2", sub)
	}

	rev := subImage(buf, 0, 0, 1, 1, true)
	px := rev.NRGBAAt(0, 0)
	if px.R != 0xff || px.G != 0x00 || px.B != 0xff || px.A != 0xff {
		t.Errorf("reversed pixel = %+v", px)
	}

	if subImage(buf, 5, 5, 1, 1, false) != nil {
		t.Error("fully out-of-bounds sub-rect must yield nil")
	}
}

func TestTermimgBackendRejectsNonWriter(t *testing.T) {
	b := NewTermimgBackend(nil)
	b.Start(struct{}{}, 8, 16)
	if err := b.Blit(struct{}{}, pixel.NewBuffer(1, 1), 0, 0, 1, 1, 0, 0, false); err == nil {
		t.Fatal("expected an error for a non-writer target")
	}
}

func TestTermimgBackendWritesEscapes(t *testing.T) {
	b := NewTermimgBackend(nil)
	var out bytes.Buffer
	b.Start(&out, 8, 16)

	buf := pixel.NewBuffer(8, 16)
	for i := range buf.Pix {
		buf.Pix[i] = pixel.Pack(0xaa, 0xbb, 0xcc, 0xff)
	}
	if err := b.Blit(&out, buf, 0, 0, 8, 16, 16, 32, false); err != nil {
		t.Fatalf("Blit: %v", err)
	}
	s := out.String()
	if !bytes.Contains(out.Bytes(), []byte("\x1b[3;3H")) {
		t.Errorf("output missing cursor move to row 3 col 3: %q", s[:min(len(s), 40)])
	}
	if !bytes.Contains(out.Bytes(), []byte("\x1b_G")) {
		t.Error("output missing graphics escape")
	}
}
