package protocol

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gitlab.com/tinyland/lab/st-graphics/internal/loader"
	"gitlab.com/tinyland/lab/st-graphics/internal/pixel"
	"gitlab.com/tinyland/lab/st-graphics/internal/store"
)

type fakeDecoder struct{}

func (fakeDecoder) Decode(data []byte) (*pixel.Buffer, error) {
	return nil, errors.New("generic decode not available in tests")
}

func testLimits() store.Limits {
	return store.Limits{
		SingleImageDiskCap: 1 << 20,
		TotalDiskCap:       16 << 20,
		SingleImageRAMCap:  1 << 20,
		TotalRAMCap:        16 << 20,
		MaxImages:          64,
		MaxPlacements:      256,
	}
}

func newTestDispatcher(t *testing.T, limits store.Limits) *Dispatcher {
	t.Helper()
	st, err := store.New(t.TempDir(), limits)
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	ld := loader.New(st, fakeDecoder{})
	return NewDispatcher(st, ld, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func run(t *testing.T, d *Dispatcher, cmd string) *Result {
	t.Helper()
	if d.ParseCommand([]byte(cmd)) != 1 {
		t.Fatalf("command not recognized: %q", cmd)
	}
	return &d.Result
}

func b64(data []byte) string {
	return string(pixel.EncodeBase64(data))
}

func TestParseCommandRejectsNonGraphics(t *testing.T) {
	d := newTestDispatcher(t, testLimits())
	if d.ParseCommand([]byte("a=t,i=1")) != 0 {
		t.Fatal("buffer without G sentinel must return 0")
	}
	if d.ParseCommand(nil) != 0 {
		t.Fatal("empty buffer must return 0")
	}
}

func TestDirectChunkedUpload(t *testing.T) {
	d := newTestDispatcher(t, testLimits())
	payload := make([]byte, 16)
	for i := range payload {
		payload[i] = byte(i)
	}

	res := run(t, d, "Ga=t,f=32,s=2,v=2,i=1,S=16,m=1;"+b64(payload[:8]))
	if res.Response != "" {
		t.Errorf("intermediate chunk must not respond, got %q", res.Response)
	}
	if d.Store.DirectUploadID != 1 {
		t.Errorf("direct upload slot = %d, want 1", d.Store.DirectUploadID)
	}

	res = run(t, d, "Gm=0;"+b64(payload[8:]))
	img, ok := d.Store.Image(1)
	if !ok {
		t.Fatal("image 1 not found")
	}
	if img.Status != store.StatusRamLoadingSuccess {
		t.Errorf("status = %v, want ram_loading_success", img.Status)
	}
	if img.DiskSize != 16 {
		t.Errorf("disk size = %d, want 16", img.DiskSize)
	}
	if img.RAM == nil || img.RAM.Width != 2 || img.RAM.Height != 2 {
		t.Errorf("RAM buffer = %v, want 2x2", img.RAM)
	}
	if res.Response != "\x1b_Gi=1;OK\x1b\\" {
		t.Errorf("response = %q, want OK frame", res.Response)
	}
	if d.Store.DirectUploadID != 0 {
		t.Errorf("direct upload slot not cleared: %d", d.Store.DirectUploadID)
	}
}

func TestDirectUploadSizeMismatch(t *testing.T) {
	d := newTestDispatcher(t, testLimits())
	payload := make([]byte, 16)

	run(t, d, "Ga=t,f=32,s=2,v=2,i=1,S=32,m=1;"+b64(payload[:8]))
	res := run(t, d, "Gm=0;"+b64(payload[8:]))

	img, _ := d.Store.Image(1)
	if img.Status != store.StatusUploadingError {
		t.Errorf("status = %v, want uploading_error", img.Status)
	}
	if img.UploadingFailure != store.FailureUnexpectedSize {
		t.Errorf("failure = %v, want unexpected size", img.UploadingFailure)
	}
	if !strings.Contains(res.Response, "EINVAL") {
		t.Errorf("response = %q, want EINVAL", res.Response)
	}
}

func TestContinuationChunkInheritsUploadID(t *testing.T) {
	d := newTestDispatcher(t, testLimits())
	payload := make([]byte, 12)

	run(t, d, "Ga=t,f=32,s=1,v=3,i=9,m=1;"+b64(payload[:4]))
	run(t, d, "Gm=1;"+b64(payload[4:8]))
	run(t, d, "Gm=0;"+b64(payload[8:]))

	img, ok := d.Store.Image(9)
	if !ok {
		t.Fatal("image 9 not found")
	}
	if img.DiskSize != 12 {
		t.Errorf("disk size = %d, want 12", img.DiskSize)
	}
	if img.Status != store.StatusRamLoadingSuccess {
		t.Errorf("status = %v, want ram_loading_success", img.Status)
	}
}

func TestPutSizingInference(t *testing.T) {
	d := newTestDispatcher(t, testLimits())
	run(t, d, "Ga=t,f=32,s=2,v=2,i=1,m=0;"+b64(make([]byte, 16)))

	d.CurrentCW, d.CurrentCH = 10, 20
	res := run(t, d, "Ga=p,i=1,p=7,U=1")

	img, _ := d.Store.Image(1)
	pl, ok := img.Placements[7]
	if !ok {
		t.Fatal("placement 7 not created")
	}
	if pl.Cols != 1 || pl.Rows != 1 {
		t.Errorf("cols/rows = %d/%d, want 1/1", pl.Cols, pl.Rows)
	}
	if !pl.Virtual {
		t.Error("placement must be virtual")
	}
	if res.CreatePlaceholder != nil {
		t.Error("virtual put must not produce a placeholder")
	}
	if !strings.Contains(res.Response, "p=7") || !strings.Contains(res.Response, "OK") {
		t.Errorf("response = %q, want OK with p=7", res.Response)
	}
}

func TestPutNonVirtualProducesPlaceholder(t *testing.T) {
	d := newTestDispatcher(t, testLimits())
	run(t, d, "Ga=t,f=32,s=2,v=2,i=1,m=0;"+b64(make([]byte, 16)))

	res := run(t, d, "Ga=p,i=1,p=3,c=4,r=2,C=1")
	ph := res.CreatePlaceholder
	if ph == nil {
		t.Fatal("expected a placeholder result")
	}
	if ph.ImageID != 1 || ph.PlacementID != 3 || ph.Columns != 4 || ph.Rows != 2 {
		t.Errorf("placeholder = %+v", ph)
	}
	if !ph.DoNotMoveCursor {
		t.Error("C=1 must be carried through")
	}
	if !res.Redraw {
		t.Error("put must request a redraw")
	}
}

func TestPutMissingImage(t *testing.T) {
	d := newTestDispatcher(t, testLimits())
	res := run(t, d, "Ga=p,i=77")
	if !res.Error || !strings.Contains(res.Response, "ENOENT") {
		t.Errorf("response = %q, want ENOENT", res.Response)
	}
}

func TestFileMediumTransmit(t *testing.T) {
	d := newTestDispatcher(t, testLimits())

	path := filepath.Join(t.TempDir(), "img.rgba")
	if err := os.WriteFile(path, make([]byte, 4), 0o600); err != nil {
		t.Fatal(err)
	}

	res := run(t, d, "Ga=t,t=f,f=32,s=1,v=1,i=3;"+b64([]byte(path)))
	img, ok := d.Store.Image(3)
	if !ok {
		t.Fatal("image 3 not found")
	}
	if img.Status != store.StatusRamLoadingSuccess {
		t.Errorf("status = %v, want ram_loading_success", img.Status)
	}
	if img.DiskSize != 4 {
		t.Errorf("disk size = %d, want 4", img.DiskSize)
	}
	if !strings.Contains(res.Response, "OK") {
		t.Errorf("response = %q, want OK", res.Response)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("medium f must keep the source file: %v", err)
	}
}

func TestFileMediumOversize(t *testing.T) {
	limits := testLimits()
	limits.SingleImageDiskCap = 4
	d := newTestDispatcher(t, limits)

	path := filepath.Join(t.TempDir(), "big")
	if err := os.WriteFile(path, make([]byte, 10), 0o600); err != nil {
		t.Fatal(err)
	}

	res := run(t, d, "Ga=T,t=f,i=2;"+b64([]byte(path)))
	img, ok := d.Store.Image(2)
	if !ok {
		t.Fatal("image 2 not found")
	}
	if img.Status != store.StatusUploadingError {
		t.Errorf("status = %v, want uploading_error", img.Status)
	}
	if img.UploadingFailure != store.FailureOverSizeLimit {
		t.Errorf("failure = %v, want over size limit", img.UploadingFailure)
	}
	if !strings.Contains(res.Response, "EFBIG") {
		t.Errorf("response = %q, want EFBIG", res.Response)
	}
}

func TestQueryDiscardsRecord(t *testing.T) {
	d := newTestDispatcher(t, testLimits())

	res := run(t, d, "Ga=q,f=32,s=1,v=1,i=42,m=0;"+b64(make([]byte, 4)))
	if res.Response != "\x1b_Gi=42;OK\x1b\\" {
		t.Errorf("response = %q, want OK addressed to the query id", res.Response)
	}
	if n := len(d.Store.AllImages()); n != 0 {
		t.Errorf("query record not discarded, %d images remain", n)
	}
}

type fakeCell struct {
	imageID, placementID uint32
	col, row             int
	classic              bool
}

type fakeHost struct {
	cells  []fakeCell
	erased []fakeCell
}

func (h *fakeHost) ForEachImageCell(fn CellFunc) {
	for _, c := range h.cells {
		if fn(c.imageID, c.placementID, c.col, c.row, c.classic) {
			h.erased = append(h.erased, c)
		}
	}
}

func TestDeleteAllClassicPlaceholders(t *testing.T) {
	d := newTestDispatcher(t, testLimits())
	for id := 1; id <= 2; id++ {
		run(t, d, fmt.Sprintf("Ga=t,f=32,s=1,v=1,i=%d,m=0;%s", id, b64(make([]byte, 4))))
		run(t, d, fmt.Sprintf("Ga=p,i=%d,p=1,c=1,r=1", id))
	}

	host := &fakeHost{cells: []fakeCell{
		{1, 1, 0, 0, true},
		{2, 1, 0, 1, true},
		{2, 1, 5, 5, false}, // placeholder-extension cell, not classic
	}}
	d.Host = host

	run(t, d, "Ga=d")

	if len(host.erased) != 2 {
		t.Errorf("erased %d cells, want 2 classic cells", len(host.erased))
	}
	for id := store.ImageID(1); id <= 2; id++ {
		img, ok := d.Store.Image(id)
		if !ok {
			t.Fatalf("image %d must survive a lowercase delete", id)
		}
		if len(img.Placements) != 0 {
			t.Errorf("image %d still has %d placements", id, len(img.Placements))
		}
	}
}

func TestDeleteUppercaseRemovesImages(t *testing.T) {
	d := newTestDispatcher(t, testLimits())
	run(t, d, "Ga=t,f=32,s=1,v=1,i=5,m=0;"+b64(make([]byte, 4)))
	run(t, d, "Ga=p,i=5,p=1,c=1,r=1")

	run(t, d, "Ga=d,d=I,i=5")
	if _, ok := d.Store.Image(5); ok {
		t.Fatal("uppercase delete must remove the image once no placements remain")
	}
}

func TestDeleteByNumber(t *testing.T) {
	d := newTestDispatcher(t, testLimits())
	run(t, d, "Ga=t,f=32,s=1,v=1,i=6,I=88,m=0;"+b64(make([]byte, 4)))
	run(t, d, "Ga=p,i=6,p=2,c=1,r=1")

	run(t, d, "Ga=d,d=n,I=88")
	img, ok := d.Store.Image(6)
	if !ok {
		t.Fatal("lowercase delete must keep the image")
	}
	if len(img.Placements) != 0 {
		t.Errorf("placements remain: %d", len(img.Placements))
	}
}

func TestQuietLevels(t *testing.T) {
	d := newTestDispatcher(t, testLimits())
	run(t, d, "Ga=t,f=32,s=1,v=1,i=1,m=0;"+b64(make([]byte, 4)))

	res := run(t, d, "Ga=p,i=1,p=1,U=1,q=1")
	if res.Response != "" {
		t.Errorf("q=1 must suppress OK, got %q", res.Response)
	}

	res = run(t, d, "Ga=p,i=404,q=1")
	if !res.Error || res.Response == "" {
		t.Errorf("q=1 must keep errors, got error=%v resp=%q", res.Error, res.Response)
	}

	res = run(t, d, "Ga=p,i=404,q=2")
	if !res.Error {
		t.Error("q=2 must still flag the error internally")
	}
	if res.Response != "" {
		t.Errorf("q=2 must suppress errors, got %q", res.Response)
	}
}

func TestUnknownActionReported(t *testing.T) {
	d := newTestDispatcher(t, testLimits())
	res := run(t, d, "Ga=x,i=1")
	if !res.Error || !strings.Contains(res.Response, "EINVAL") {
		t.Errorf("response = %q, want EINVAL", res.Response)
	}
}

func TestNoActionWithoutMore(t *testing.T) {
	d := newTestDispatcher(t, testLimits())
	res := run(t, d, "Gi=1")
	if !res.Error || !strings.Contains(res.Response, "EINVAL") {
		t.Errorf("response = %q, want EINVAL no action", res.Response)
	}
}

func TestReplacingUploadDestroysOldRecord(t *testing.T) {
	d := newTestDispatcher(t, testLimits())
	run(t, d, "Ga=t,f=32,s=1,v=1,i=1,m=0;"+b64(make([]byte, 4)))
	first, _ := d.Store.Image(1)

	run(t, d, "Ga=t,f=32,s=1,v=1,i=1,m=0;"+b64(make([]byte, 4)))
	second, ok := d.Store.Image(1)
	if !ok {
		t.Fatal("image 1 not found after replacement")
	}
	if first == second {
		t.Fatal("replacement must create a fresh record")
	}
	if d.Store.DiskTotal != 4 {
		t.Errorf("disk total = %d, want 4 after replacement", d.Store.DiskTotal)
	}
}
