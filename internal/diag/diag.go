// Package diag holds the operator-facing diagnostics: the state dump
// with its counter audit, and the external image preview helper.
package diag

import (
	"log/slog"
	"os"
	"os/exec"

	"github.com/shirou/gopsutil/v4/process"

	"gitlab.com/tinyland/lab/st-graphics/internal/store"
)

// Audit is the result of recomputing the store's counters from scratch
// and comparing them with the running totals.
type Audit struct {
	Images     int
	Placements int

	DiskTotal      int64
	DiskRecomputed int64
	RAMTotal       int64
	RAMRecomputed  int64

	// RSS is the process resident set size in bytes, zero if it could
	// not be read.
	RSS uint64
}

// Consistent reports whether the running totals match the recomputed
// ones.
func (a Audit) Consistent() bool {
	return a.DiskTotal == a.DiskRecomputed && a.RAMTotal == a.RAMRecomputed
}

// DumpState logs every image and placement the store holds, recomputes
// the disk/RAM totals, and flags any drift between the counters and the
// records. The process RSS is included so cache totals can be read next
// to actual memory use.
func DumpState(st *store.Store, logger *slog.Logger) Audit {
	if logger == nil {
		logger = slog.Default()
	}

	var a Audit
	a.DiskTotal = st.DiskTotal
	a.RAMTotal = st.RAMTotal

	for _, img := range st.AllImages() {
		a.Images++
		a.DiskRecomputed += img.DiskSize
		a.RAMRecomputed += img.RAMSize()

		logger.Info("image",
			"id", uint32(img.ID),
			"number", img.Number,
			"status", img.Status.String(),
			"disk_size", img.DiskSize,
			"ram_size", img.RAMSize(),
			"placements", len(img.Placements),
			"atime", img.Atime,
		)
		for _, pl := range img.Placements {
			a.Placements++
			a.RAMRecomputed += pl.RAMSize()
			logger.Info("placement",
				"image_id", uint32(img.ID),
				"id", uint32(pl.ID),
				"virtual", pl.Virtual,
				"cols", pl.Cols,
				"rows", pl.Rows,
				"scale_mode", pl.ScaleMode.String(),
				"ram_size", pl.RAMSize(),
			)
		}
	}

	if p, err := process.NewProcess(int32(os.Getpid())); err == nil {
		if mi, err := p.MemoryInfo(); err == nil {
			a.RSS = mi.RSS
		}
	}

	logger.Info("totals",
		"images", a.Images,
		"placements", a.Placements,
		"disk_total", a.DiskTotal,
		"ram_total", a.RAMTotal,
		"rss", a.RSS,
		"cache_dir", st.CacheDir(),
	)
	if !a.Consistent() {
		logger.Error("counter audit failed",
			"disk_total", a.DiskTotal, "disk_recomputed", a.DiskRecomputed,
			"ram_total", a.RAMTotal, "ram_recomputed", a.RAMRecomputed,
		)
	}

	return a
}

// PreviewImage spawns viewer on an image's cached file. Failures are
// surfaced to the user with an xmessage error box, since a preview is
// typically requested from a context with no attached console.
func PreviewImage(st *store.Store, id store.ImageID, viewer string, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}

	img, ok := st.Image(id)
	if !ok || img.DiskPath == "" {
		errorBox(logger, "no cached file for image")
		return
	}
	st.Touch(img)

	if err := exec.Command(viewer, img.DiskPath).Start(); err != nil {
		logger.Error("starting previewer", "viewer", viewer, "err", err)
		errorBox(logger, "could not start "+viewer)
	}
}

func errorBox(logger *slog.Logger, msg string) {
	if err := exec.Command("xmessage", msg).Start(); err != nil {
		logger.Error("preview failed", "msg", msg, "err", err)
	}
}
