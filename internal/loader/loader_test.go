package loader

import (
	"errors"
	"testing"

	"gitlab.com/tinyland/lab/st-graphics/internal/pixel"
	"gitlab.com/tinyland/lab/st-graphics/internal/store"
)

type fakeDecoder struct {
	buf *pixel.Buffer
	err error
}

func (f fakeDecoder) Decode(data []byte) (*pixel.Buffer, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.buf, nil
}

func newTestStoreAndImage(t *testing.T, format store.Format, data []byte) (*store.Store, *store.Image) {
	t.Helper()
	s, err := store.New(t.TempDir(), store.Limits{MaxImages: 10, MaxPlacements: 10, SingleImageRAMCap: 1 << 20})
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	img := s.CreateImage(1)
	img.Format = format
	if err := s.OpenUploadSink(img); err != nil {
		t.Fatalf("OpenUploadSink: %v", err)
	}
	if err := s.WriteChunk(img, data); err != nil {
		t.Fatalf("WriteChunk: %v", err)
	}
	if err := s.CloseUploadSink(img); err != nil {
		t.Fatalf("CloseUploadSink: %v", err)
	}
	img.Status = store.StatusUploadingSuccess
	return s, img
}

func TestLoadImageRaw(t *testing.T) {
	data := []byte{
		0xff, 0x00, 0x00,
		0x00, 0xff, 0x00,
		0x00, 0x00, 0xff,
		0xff, 0xff, 0xff,
	}
	s, img := newTestStoreAndImage(t, store.FormatRGB, data)
	img.PixWidth, img.PixHeight = 2, 2

	l := New(s, fakeDecoder{err: errors.New("unused")})
	if err := l.LoadImage(img); err != nil {
		t.Fatalf("LoadImage: %v", err)
	}
	if img.Status != store.StatusRamLoadingSuccess {
		t.Fatalf("expected success status, got %v", img.Status)
	}
	if img.RAM == nil || len(img.RAM.Pix) != 4 {
		t.Fatalf("expected 4-pixel RAM buffer, got %v", img.RAM)
	}
}

func TestLoadImageIsNoOpWhenAlreadyLoaded(t *testing.T) {
	s, img := newTestStoreAndImage(t, store.FormatRGB, []byte{1, 2, 3})
	img.PixWidth, img.PixHeight = 1, 1
	img.RAM = pixel.NewBuffer(1, 1)

	l := New(s, fakeDecoder{})
	if err := l.LoadImage(img); err != nil {
		t.Fatalf("LoadImage: %v", err)
	}
}

func TestLoadImageGenericDecoder(t *testing.T) {
	want := pixel.NewBuffer(3, 4)
	s, img := newTestStoreAndImage(t, store.FormatGeneric, []byte("fake png bytes"))

	l := New(s, fakeDecoder{buf: want})
	if err := l.LoadImage(img); err != nil {
		t.Fatalf("LoadImage: %v", err)
	}
	if img.RAM != want {
		t.Fatal("expected decoder's buffer to be used directly")
	}
}

func TestLoadPlacementFillSizing(t *testing.T) {
	s, img := newTestStoreAndImage(t, store.FormatRGB, make([]byte, 4*4*3))
	img.PixWidth, img.PixHeight = 4, 4

	l := New(s, fakeDecoder{})
	pl := s.CreatePlacement(img, 0)
	pl.ScaleMode = store.ScaleFill

	if err := l.LoadPlacement(img, pl, 8, 16); err != nil {
		t.Fatalf("LoadPlacement: %v", err)
	}
	if pl.Cols != 1 || pl.Rows != 1 {
		t.Fatalf("expected cols=1 rows=1 (ceil(4/8), ceil(4/16)), got cols=%d rows=%d", pl.Cols, pl.Rows)
	}
	if pl.ScaledRAM == nil || pl.ScaledRAM.Width != 8 || pl.ScaledRAM.Height != 16 {
		t.Fatalf("expected scaled buffer 8x16, got %v", pl.ScaledRAM)
	}
	if pl.Protected {
		t.Fatal("expected protected flag cleared after load completes")
	}
}

func TestLoadPlacementSkipsWhenAlreadyLoaded(t *testing.T) {
	s, img := newTestStoreAndImage(t, store.FormatRGB, make([]byte, 2*2*3))
	img.PixWidth, img.PixHeight = 2, 2
	l := New(s, fakeDecoder{})
	pl := s.CreatePlacement(img, 0)
	pl.ScaleMode = store.ScaleFill

	if err := l.LoadPlacement(img, pl, 8, 16); err != nil {
		t.Fatalf("first load: %v", err)
	}
	existing := pl.ScaledRAM
	if err := l.LoadPlacement(img, pl, 8, 16); err != nil {
		t.Fatalf("second load: %v", err)
	}
	if pl.ScaledRAM != existing {
		t.Fatal("expected scaled buffer to be reused, not rebuilt")
	}
}
