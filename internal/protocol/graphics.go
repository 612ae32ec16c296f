package protocol

import (
	"log/slog"
	"path/filepath"
	"time"

	"gitlab.com/tinyland/lab/st-graphics/internal/backend"
	"gitlab.com/tinyland/lab/st-graphics/internal/config"
	"gitlab.com/tinyland/lab/st-graphics/internal/diag"
	"gitlab.com/tinyland/lab/st-graphics/internal/loader"
	"gitlab.com/tinyland/lab/st-graphics/internal/store"
	"gitlab.com/tinyland/lab/st-graphics/internal/tiles"
)

// Graphics is the embedding surface for a host terminal: it owns the
// store, loader, tile list, and dispatcher, and exposes the entry
// points the host calls between its own redraw and input handling.
type Graphics struct {
	Store      *store.Store
	Loader     *loader.Loader
	Dispatcher *Dispatcher
	Tiles      *tiles.List
	Draw       backend.DrawBackend
	Logger     *slog.Logger

	// target is the drawable for the frame currently being drawn.
	target any
}

// Init creates the cache directory, zeroes the counters, and wires the
// components together. host may be nil when the embedding terminal has
// no placeholder grid (tests, headless tools).
func Init(cfg *config.Config, draw backend.DrawBackend, host Host, logger *slog.Logger) (*Graphics, error) {
	if logger == nil {
		logger = slog.Default()
	}

	st, err := store.New(filepath.Dir(cfg.CacheDirTemplate), cfg.Limits())
	if err != nil {
		return nil, err
	}

	ld := loader.New(st, backend.ImagingDecoder{})
	disp := NewDispatcher(st, ld, logger)
	disp.Host = host
	disp.Debug = cfg.Debug

	g := &Graphics{
		Store:      st,
		Loader:     ld,
		Dispatcher: disp,
		Draw:       draw,
		Logger:     logger,
	}
	g.Tiles = tiles.New(g.flushRect, logger, cfg.Debug)
	return g, nil
}

// Deinit drops every image and removes the cache directory.
func (g *Graphics) Deinit() error {
	return g.Store.Close()
}

// ParseCommand processes one escape-sequence body. Returns 0 if buf
// does not start with 'G', else 1; the outcome is in Result().
func (g *Graphics) ParseCommand(buf []byte) int {
	return g.Dispatcher.ParseCommand(buf)
}

// Result exposes the side effects of the most recent command.
func (g *Graphics) Result() *Result {
	return &g.Dispatcher.Result
}

// StartDrawing begins a frame on target with the given cell metrics.
func (g *Graphics) StartDrawing(target any, cw, ch int) {
	g.target = target
	g.Dispatcher.CurrentCW, g.Dispatcher.CurrentCH = cw, ch
	g.Tiles.StartDrawing(cw, ch)
	if g.Draw != nil {
		g.Draw.Start(target, cw, ch)
	}
}

// FinishDrawing flushes all pending rects and closes the frame.
func (g *Graphics) FinishDrawing(target any) {
	g.target = target
	g.Tiles.FinishDrawing()
	if g.Draw != nil {
		g.Draw.Finish(target)
	}
}

// AppendImageRect queues one strip of placement cells for drawing this
// frame; adjacent strips of the same placement coalesce.
func (g *Graphics) AppendImageRect(target any, imageID, placementID uint32,
	startCol, endCol, startRow, endRow, xPix, yPix, cw, ch int, reverse bool) {
	g.target = target
	g.Tiles.AppendImageRect(store.ImageRect{
		ImageID:     store.ImageID(imageID),
		PlacementID: store.PlacementID(placementID),
		StartCol:    startCol,
		EndCol:      endCol,
		StartRow:    startRow,
		EndRow:      endRow,
		XPix:        xPix,
		YPix:        yPix,
		CW:          cw,
		CH:          ch,
		Reverse:     reverse,
	})
}

// UnloadImagesToReduceRAM drops all unprotected RAM buffers.
func (g *Graphics) UnloadImagesToReduceRAM() {
	g.Store.UnloadAllRAM()
}

// PreviewImage opens an image's cached file in an external viewer.
func (g *Graphics) PreviewImage(imageID uint32, viewer string) {
	diag.PreviewImage(g.Store, store.ImageID(imageID), viewer, g.Logger)
}

// DumpState traces the full store contents and audits the counters.
func (g *Graphics) DumpState() diag.Audit {
	return diag.DumpState(g.Store, g.Logger)
}

// StillUploading reports whether a direct upload burst is in progress,
// so the host can defer expensive redraws.
func (g *Graphics) StillUploading() bool {
	return g.Store.StillUploading(time.Now())
}

// flushRect draws one coalesced rect: it pulls the placement's scaled
// buffer in at the rect's cell metrics, then hands the covered
// sub-rectangle to the drawing backend.
func (g *Graphics) flushRect(r store.ImageRect) {
	img, ok := g.Store.Image(r.ImageID)
	if !ok {
		return
	}
	pl, ok := img.Placements[r.PlacementID]
	if !ok {
		return
	}
	if err := g.Loader.LoadPlacement(img, pl, r.CW, r.CH); err != nil {
		g.Logger.Debug("placement load failed", "image_id", uint32(r.ImageID),
			"placement_id", uint32(r.PlacementID), "err", err)
		return
	}
	if pl.ScaledRAM == nil || g.Draw == nil {
		return
	}

	srcX := r.StartCol * r.CW
	srcY := r.StartRow * r.CH
	w := (r.EndCol - r.StartCol) * r.CW
	h := (r.EndRow - r.StartRow) * r.CH
	if err := g.Draw.Blit(g.target, pl.ScaledRAM, srcX, srcY, w, h, r.XPix, r.YPix, r.Reverse); err != nil {
		g.Logger.Debug("blit failed", "image_id", uint32(r.ImageID), "err", err)
	}
}
