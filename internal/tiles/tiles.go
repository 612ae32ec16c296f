// Package tiles implements the deferred tile renderer: a small bounded
// set of pending rectangles that coalesces vertically adjacent,
// identically-styled strips and flushes them once per frame.
package tiles

import (
	"log/slog"
	"time"

	"gitlab.com/tinyland/lab/st-graphics/internal/store"
)

// MaxRects is the size of the bounded pending-rect set.
const MaxRects = 20

// Flusher draws a finished rect to the drawing backend. It is invoked
// both when a rect is evicted to make room for a new one and when the
// frame finishes.
type Flusher func(store.ImageRect)

// List is the bounded tile list for one host session.
type List struct {
	slots   [MaxRects]*store.ImageRect
	flush   Flusher
	logger  *slog.Logger
	debug   bool

	cw, ch       int
	frameStarted time.Time
	appended     int
	merged       int
	evicted      int
}

// New creates a tile list that calls flush to draw a rect whenever it is
// evicted or the frame finishes.
func New(flush Flusher, logger *slog.Logger, debug bool) *List {
	if logger == nil {
		logger = slog.Default()
	}
	return &List{flush: flush, logger: logger, debug: debug}
}

// StartDrawing records the current cell metrics for use by debug
// overlays and frame timing.
func (l *List) StartDrawing(cw, ch int) {
	l.cw, l.ch = cw, ch
	l.frameStarted = time.Now()
	l.appended, l.merged, l.evicted = 0, 0, 0
}

// AppendImageRect merges nr into an existing pending rect if possible,
// otherwise stores it in a free slot, evicting (and flushing) the
// lowest-on-screen rect if the list is full.
func (l *List) AppendImageRect(nr store.ImageRect) {
	if nr.Area() <= 0 || nr.ImageID == 0 {
		return
	}
	l.appended++

	for _, r := range l.slots {
		if r == nil || !mergeable(r, &nr) {
			continue
		}
		r.EndRow = nr.EndRow
		l.merged++
		return
	}

	idx := l.freeSlot()
	if idx < 0 {
		idx = l.evictLowest()
	}
	stored := nr
	l.slots[idx] = &stored
}

// mergeable reports whether new can extend existing: same image,
// placement, and cell style, existing's bottom edge aligns exactly to
// new's top edge, and the column ranges match exactly.
func mergeable(existing, nr *store.ImageRect) bool {
	return existing.ImageID == nr.ImageID &&
		existing.PlacementID == nr.PlacementID &&
		existing.CW == nr.CW &&
		existing.CH == nr.CH &&
		existing.Reverse == nr.Reverse &&
		existing.StartCol == nr.StartCol &&
		existing.EndCol == nr.EndCol &&
		existing.Bottom() == nr.YPix &&
		existing.EndRow == nr.StartRow
}

func (l *List) freeSlot() int {
	for i, r := range l.slots {
		if r == nil {
			return i
		}
	}
	return -1
}

// evictLowest flushes and frees the slot holding the rect with the
// largest Bottom() (i.e. lowest on screen), returning its index for
// reuse.
func (l *List) evictLowest() int {
	worst := -1
	var worstBottom int
	for i, r := range l.slots {
		b := r.Bottom()
		if worst == -1 || b > worstBottom {
			worst = i
			worstBottom = b
		}
	}
	l.flush(*l.slots[worst])
	l.evicted++
	l.slots[worst] = nil
	return worst
}

// FinishDrawing flushes every remaining pending rect and, in debug mode,
// logs a one-line timing/counter summary.
func (l *List) FinishDrawing() {
	for i, r := range l.slots {
		if r == nil {
			continue
		}
		l.flush(*r)
		l.slots[i] = nil
	}

	if l.debug {
		l.logger.Debug("frame finished",
			"elapsed", time.Since(l.frameStarted),
			"appended", l.appended,
			"merged", l.merged,
			"evicted", l.evicted,
			"cw", l.cw, "ch", l.ch,
		)
	}
}
