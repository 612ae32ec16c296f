package pixel

import (
	"bytes"
	"compress/zlib"
	"testing"
)

func TestDecodeBase64RoundTrip(t *testing.T) {
	cases := [][]byte{
		nil,
		[]byte("a"),
		[]byte("ab"),
		[]byte("abc"),
		[]byte("abcd"),
		[]byte("the quick brown fox jumps over the lazy dog"),
		{0x00, 0x01, 0xff, 0xfe, 0x10},
	}
	for _, want := range cases {
		enc := EncodeBase64(want)
		got := DecodeBase64(enc)
		if !bytes.Equal(got, want) && !(len(got) == 0 && len(want) == 0) {
			t.Errorf("round trip failed for %v: got %v", want, got)
		}
	}
}

func TestDecodeBase64SkipsNonPrintable(t *testing.T) {
	want := []byte("hello!")
	enc := EncodeBase64(want)
	var noisy []byte
	for _, b := range enc {
		noisy = append(noisy, 0x01, b, '\n')
	}
	got := DecodeBase64(noisy)
	if !bytes.Equal(got, want) {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestDecodeBase64MissingPadding(t *testing.T) {
	full := EncodeBase64([]byte("ab"))
	trimmed := bytes.TrimRight(full, "=")
	got := DecodeBase64(trimmed)
	if !bytes.Equal(got, []byte("ab")) {
		t.Errorf("got %q, want %q", got, "ab")
	}
}

func TestDecodeBase64StopsAtEarlyPad(t *testing.T) {
	// "=" as the very first character: a==-1, so nothing is emitted.
	got := DecodeBase64([]byte("=abc"))
	if len(got) != 0 {
		t.Errorf("expected empty result, got %v", got)
	}
}

func TestDecodeRGB(t *testing.T) {
	// 2x1 RGB image: red, then green.
	data := []byte{0xff, 0x00, 0x00, 0x00, 0xff, 0x00}
	buf, err := DecodeRGB(bytes.NewReader(data), 2, 1, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if buf.Width != 2 || buf.Height != 1 {
		t.Fatalf("unexpected dimensions: %dx%d", buf.Width, buf.Height)
	}
	wantRed := Pack(0xff, 0x00, 0x00, 0xff)
	wantGreen := Pack(0x00, 0xff, 0x00, 0xff)
	if buf.Pix[0] != wantRed || buf.Pix[1] != wantGreen {
		t.Errorf("got %#08x %#08x, want %#08x %#08x", buf.Pix[0], buf.Pix[1], wantRed, wantGreen)
	}
}

func TestDecodeRGBADiscardsExcessBytes(t *testing.T) {
	data := make([]byte, 4*3+100) // 3 pixels worth plus junk
	for i := range data {
		data[i] = byte(i)
	}
	buf, err := DecodeRGB(bytes.NewReader(data), 3, 1, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(buf.Pix) != 3 {
		t.Fatalf("expected 3 pixels, got %d", len(buf.Pix))
	}
}

func TestDecodeZlibRGB(t *testing.T) {
	raw := []byte{0x10, 0x20, 0x30, 0x40, 0x50, 0x60}
	var compressed bytes.Buffer
	zw := zlib.NewWriter(&compressed)
	if _, err := zw.Write(raw); err != nil {
		t.Fatalf("compress: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}

	buf, err := DecodeZlibRGB(bytes.NewReader(compressed.Bytes()), 2, 1, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := Pack(0x10, 0x20, 0x30, 0xff)
	if buf.Pix[0] != want {
		t.Errorf("got %#08x, want %#08x", buf.Pix[0], want)
	}
}
