package protocol

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gitlab.com/tinyland/lab/st-graphics/internal/loader"
	"gitlab.com/tinyland/lab/st-graphics/internal/pixel"
	"gitlab.com/tinyland/lab/st-graphics/internal/store"
)

// CellFunc is invoked for every placeholder cell the host grid holds.
// Returning true asks the host to erase that cell.
type CellFunc func(imageID, placementID uint32, col, row int, isClassic bool) bool

// Host is the callback surface the dispatcher needs from the embedding
// terminal: enumeration of the grid's placeholder cells for delete
// commands.
type Host interface {
	ForEachImageCell(fn CellFunc)
}

// Dispatcher executes parsed commands against the store and loader and
// accumulates their side effects in Result.
type Dispatcher struct {
	Store  *store.Store
	Loader *loader.Loader
	Logger *slog.Logger
	Host   Host

	// CurrentCW/CurrentCH are the terminal's current cell pixel
	// dimensions, updated by the host whenever they change. Zero means
	// unknown; sizing inference is deferred until draw time.
	CurrentCW, CurrentCH int

	// Result holds the outcome of the most recent ParseCommand call.
	Result Result

	Debug  bool
	cmdnum int
}

// NewDispatcher wires a dispatcher to its store and loader.
func NewDispatcher(st *store.Store, ld *loader.Loader, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{Store: st, Loader: ld, Logger: logger}
}

// ParseCommand processes one command buffer. It returns 0 if the buffer
// does not start with the 'G' sentinel, otherwise 1 after processing;
// side effects are left in d.Result.
func (d *Dispatcher) ParseCommand(buf []byte) int {
	if len(buf) == 0 || buf[0] != 'G' {
		return 0
	}

	d.Result = Result{}
	d.cmdnum++

	cmd := ParseCommandBody(buf[1:])
	if d.Debug {
		d.Logger.Debug("graphics command", "n", d.cmdnum, "body", truncateForLog(cmd.Raw))
	}
	for _, w := range cmd.Warnings {
		d.Logger.Warn(w, "command", truncateForLog(cmd.Raw))
	}

	// With no id and no number there is no addressee for command-level
	// responses. Image-level reporting (continuation chunks) still uses
	// the quietness stored on the image record.
	clientQuiet := cmd.Quiet
	if !cmd.HasImageID && !cmd.HasImageNumber {
		cmd.Quiet = 2
	}

	if len(cmd.Errors) > 0 {
		for _, e := range cmd.Errors {
			d.reportErrorCmd(cmd, "%s", e)
		}
	} else {
		d.handle(cmd)
	}

	// Belt and braces: the individual report sites honor quietness, but
	// the final result must too, whatever path produced it. Only the
	// client's own quietness counts here.
	if clientQuiet > 0 {
		if !d.Result.Error || clientQuiet >= 2 {
			d.Result.Response = ""
		}
	}

	return 1
}

func truncateForLog(s string) string {
	const max = 80
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}

func (d *Dispatcher) handle(cmd *Command) {
	switch cmd.Action {
	case 0:
		// No action with an m= key is a direct-transmission
		// continuation chunk.
		if cmd.HasMore {
			d.appendData(nil, cmd)
		} else {
			d.reportErrorCmd(cmd, "EINVAL: no action specified")
		}
	case 't', 'q':
		d.transmit(cmd)
	case 'T':
		img, fresh := d.transmit(cmd)
		if img != nil && fresh && !d.Result.Error {
			d.put(cmd, img)
		}
	case 'p':
		d.put(cmd, nil)
	case 'd':
		d.handleDelete(cmd)
	default:
		d.reportErrorCmd(cmd, "EINVAL: unsupported action: %c", cmd.Action)
	}
}

// ---- responses -------------------------------------------------------------

func (d *Dispatcher) respond(imageID store.ImageID, number uint32, placementID store.PlacementID, msg string) {
	resp, ok := buildResponse(imageID, number, placementID, msg)
	if !ok {
		d.Logger.Warn("dropping response with no addressee", "msg", msg)
		return
	}
	d.Result.Response = resp
}

// respID picks the id a response about img should carry: the shadow
// query id when the record is a query, the real id otherwise.
func respID(img *store.Image) store.ImageID {
	if img.IsQuery {
		return img.QueryID
	}
	return img.ID
}

func (d *Dispatcher) reportSuccessCmd(cmd *Command) {
	if cmd.Quiet < 1 {
		d.respond(cmd.ImageID, cmd.ImageNumber, cmd.PlacementID, "OK")
	}
}

func (d *Dispatcher) reportErrorCmd(cmd *Command, format string, args ...any) {
	d.Result.Error = true
	msg := fmt.Sprintf(format, args...)
	d.Logger.Error(msg, "command", truncateForLog(cmd.Raw))
	if cmd.Quiet < 2 {
		d.respond(cmd.ImageID, cmd.ImageNumber, cmd.PlacementID, msg)
	}
}

func (d *Dispatcher) reportSuccessImg(img *store.Image) {
	if img.Quiet < 1 {
		d.respond(respID(img), img.Number, img.InitialPlacementID, "OK")
	}
}

func (d *Dispatcher) reportErrorImg(img *store.Image, format string, args ...any) {
	d.Result.Error = true
	msg := fmt.Sprintf(format, args...)
	if img == nil {
		d.Logger.Error(msg)
		return
	}
	d.Logger.Error(msg, "image_id", uint32(img.ID))
	if img.Quiet < 2 {
		d.respond(respID(img), img.Number, 0, msg)
	}
}

// reportUploadError renders the failure stored on the image, if any.
func (d *Dispatcher) reportUploadError(img *store.Image) {
	if img.UploadingFailure == store.FailureNone {
		return
	}
	d.reportErrorImg(img, "%s", uploadFailureMessage(img, d.Store.Limits.SingleImageDiskCap))
}

// ---- transmission ----------------------------------------------------------

// transmit handles t/q/T actions. It returns the image the command
// acted on and whether that image was freshly created (as opposed to a
// chunk continuation of an earlier transmission).
func (d *Dispatcher) transmit(cmd *Command) (*store.Image, bool) {
	medium := cmd.Medium
	if medium == 0 {
		medium = 'd'
	}
	switch medium {
	case 'f', 't':
		return d.transmitFile(cmd, medium), true
	case 'd':
		return d.transmitDirect(cmd)
	default:
		d.reportErrorCmd(cmd, "EINVAL: transmission medium '%c' is not supported", medium)
		return nil, false
	}
}

// newTransmitImage instantiates the image record a transmission command
// describes. Queries get a generated id and remember the client's id
// only for response addressing.
func (d *Dispatcher) newTransmitImage(cmd *Command) *store.Image {
	id := cmd.ImageID
	if cmd.Action == 'q' {
		id = 0
	}
	img := d.Store.CreateImage(id)
	if cmd.Action == 'q' {
		img.IsQuery = true
		img.QueryID = cmd.ImageID
	}
	img.Number = cmd.ImageNumber
	img.Format = cmd.Format
	img.Compression = cmd.Compression
	img.PixWidth = cmd.PixWidth
	img.PixHeight = cmd.PixHeight
	img.ExpectedSize = cmd.ExpectedSize
	img.Quiet = cmd.Quiet
	if cmd.Action == 'T' {
		img.InitialPlacementID = cmd.PlacementID
	}
	img.Status = store.StatusUploading
	return img
}

func (d *Dispatcher) transmitDirect(cmd *Command) (*store.Image, bool) {
	// A chunk addressed to an image already mid-upload continues that
	// upload rather than replacing the record.
	if cmd.ImageID != 0 {
		if existing, ok := d.Store.Image(cmd.ImageID); ok && existing.Status == store.StatusUploading {
			d.appendData(existing, cmd)
			return existing, false
		}
	} else if !cmd.HasImageNumber && cmd.HasMore && d.Store.DirectUploadID != 0 {
		// No id at all: inherit the in-progress direct upload's id.
		d.appendData(nil, cmd)
		return nil, false
	}

	img := d.newTransmitImage(cmd)
	d.appendData(img, cmd)
	return img, true
}

func (d *Dispatcher) transmitFile(cmd *Command, medium byte) *store.Image {
	img := d.newTransmitImage(cmd)
	if img.IsQuery {
		defer d.Store.DeleteImage(img.ID)
	}
	path := string(pixel.DecodeBase64(cmd.Payload))

	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() || info.Size() == 0 {
		img.Status = store.StatusUploadingError
		img.UploadingFailure = store.FailureCannotCopyFile
		d.reportUploadError(img)
		d.Store.CheckLimits()
		return img
	}

	if diskCap := d.Store.Limits.SingleImageDiskCap; diskCap > 0 && info.Size() > diskCap {
		img.Status = store.StatusUploadingError
		img.UploadingFailure = store.FailureOverSizeLimit
		d.reportUploadError(img)
		d.Store.CheckLimits()
		return img
	}

	n, err := d.Store.CopyFileInto(img, path)
	if err != nil {
		d.Logger.Error("copying image file", "path", path, "err", err)
		img.Status = store.StatusUploadingError
		img.UploadingFailure = store.FailureCannotCopyFile
		d.reportUploadError(img)
		d.Store.CheckLimits()
		return img
	}

	img.Status = store.StatusUploadingSuccess
	if img.ExpectedSize > 0 && img.ExpectedSize != n {
		img.Status = store.StatusUploadingError
		img.UploadingFailure = store.FailureUnexpectedSize
		d.reportUploadError(img)
	} else {
		d.loadAndReport(img)
	}

	// A temp-medium source that really lives in a temporary location is
	// the client's way of handing the file over; remove it.
	if medium == 't' && inTempDir(path) {
		os.Remove(path)
	}

	d.Store.CheckLimits()
	return img
}

// inTempDir reports whether path is inside a recognized temporary
// directory: $TMPDIR, the platform temp dir, or the conventional /tmp
// and /dev/shm locations.
func inTempDir(path string) bool {
	dirs := []string{os.TempDir(), "/tmp", "/dev/shm"}
	if v := os.Getenv("TMPDIR"); v != "" {
		dirs = append(dirs, v)
	}
	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if strings.HasPrefix(path, strings.TrimSuffix(dir, string(filepath.Separator))+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// appendData appends one direct-transmission chunk to img (resolved by
// the current-upload slot when nil). Errors are reported only on the
// final chunk to avoid spamming the client.
func (d *Dispatcher) appendData(img *store.Image, cmd *Command) {
	more := cmd.HasMore && cmd.More != 0

	if img == nil {
		if id := d.Store.DirectUploadID; id != 0 {
			img, _ = d.Store.Image(id)
		}
	}
	if !more {
		d.Store.DirectUploadID = 0
	}
	if img == nil {
		if !more {
			d.reportErrorCmd(cmd, "ENOENT: could not find the image to append data to")
		}
		return
	}
	if img.IsQuery && !more {
		defer d.Store.DeleteImage(img.ID)
	}
	if img.Status != store.StatusUploading {
		if !more {
			d.reportUploadError(img)
		}
		return
	}

	data := pixel.DecodeBase64(cmd.Payload)
	if d.Debug {
		d.Logger.Debug("appending chunk", "image_id", uint32(img.ID),
			"have", img.DiskSize, "chunk", len(data))
	}

	diskCap := d.Store.Limits.SingleImageDiskCap
	if diskCap > 0 && (img.DiskSize+int64(len(data)) > diskCap || img.ExpectedSize > diskCap) {
		d.Store.DropDiskArtifact(img)
		img.Status = store.StatusUploadingError
		img.UploadingFailure = store.FailureOverSizeLimit
		if !more {
			d.reportUploadError(img)
		}
		return
	}

	if err := d.Store.WriteChunk(img, data); err != nil {
		d.Logger.Error("writing upload chunk", "image_id", uint32(img.ID), "err", err)
		img.Status = store.StatusUploadingError
		img.UploadingFailure = store.FailureCannotOpenCachedFile
		if !more {
			d.reportUploadError(img)
		}
		return
	}
	d.Store.Touch(img)
	d.Store.NoteChunk()

	if more {
		d.Store.DirectUploadID = img.ID
	} else {
		d.Store.CloseUploadSink(img)
		if img.ExpectedSize > 0 && img.ExpectedSize != img.DiskSize {
			img.Status = store.StatusUploadingError
			img.UploadingFailure = store.FailureUnexpectedSize
			d.reportUploadError(img)
		} else {
			img.Status = store.StatusUploadingSuccess
			d.loadAndReport(img)
			for _, pl := range img.Placements {
				if pl.Virtual {
					continue
				}
				d.Result.CreatePlaceholder = &Placeholder{
					ImageID:         img.ID,
					PlacementID:     pl.ID,
					Columns:         pl.Cols,
					Rows:            pl.Rows,
					DoNotMoveCursor: pl.DoNotMoveCursor,
				}
			}
			d.Result.Redraw = true
		}
	}

	d.Store.CheckLimits()
}

// loadAndReport pulls an image into RAM and reports the outcome.
func (d *Dispatcher) loadAndReport(img *store.Image) {
	if err := d.Loader.LoadImage(img); err != nil {
		d.Logger.Debug("image load failed", "image_id", uint32(img.ID), "err", err)
	}
	if img.RAM == nil {
		d.reportErrorImg(img, "EBADF: could not load image")
	} else {
		d.reportSuccessImg(img)
	}
}

// ---- put -------------------------------------------------------------------

// put creates or replaces a placement. img is pre-resolved on the
// transmit-and-display path and nil otherwise.
func (d *Dispatcher) put(cmd *Command, img *store.Image) {
	if img == nil {
		switch {
		case cmd.ImageID != 0:
			var ok bool
			img, ok = d.Store.Image(cmd.ImageID)
			if !ok {
				d.reportErrorCmd(cmd, "ENOENT: image not found")
				return
			}
		case cmd.ImageNumber != 0:
			var ok bool
			img, ok = d.Store.ImageByNumber(cmd.ImageNumber)
			if !ok {
				d.reportErrorCmd(cmd, "ENOENT: no image with number %d", cmd.ImageNumber)
				return
			}
		default:
			d.reportErrorCmd(cmd, "EINVAL: neither image id nor image number is specified")
			return
		}
	}

	pl := d.Store.CreatePlacement(img, cmd.PlacementID)
	pl.Virtual = cmd.Virtual
	pl.Cols, pl.Rows = cmd.Cols, cmd.Rows
	pl.SrcX, pl.SrcY = cmd.SrcX, cmd.SrcY
	pl.SrcWidth, pl.SrcHeight = cmd.SrcWidth, cmd.SrcHeight
	pl.DoNotMoveCursor = cmd.DoNotMoveCursor
	if pl.Virtual {
		pl.ScaleMode = store.ScaleFill
	} else {
		pl.ScaleMode = store.ScaleContain
	}
	d.Store.TouchPlacement(img, pl)

	// Infer the cell box now if the metrics and pixel dimensions are
	// already known; otherwise draw time fills them in.
	if d.CurrentCW > 0 && d.CurrentCH > 0 && img.PixWidth > 0 && img.PixHeight > 0 {
		loader.InferSize(img, pl, d.CurrentCW, d.CurrentCH)
	}

	if img.Quiet < 1 && cmd.Quiet < 1 {
		d.respond(respID(img), img.Number, pl.ID, "OK")
	}

	if !pl.Virtual {
		d.Result.CreatePlaceholder = &Placeholder{
			ImageID:         img.ID,
			PlacementID:     pl.ID,
			Columns:         pl.Cols,
			Rows:            pl.Rows,
			DoNotMoveCursor: pl.DoNotMoveCursor,
		}
	}
	d.Result.Redraw = true
	d.Store.CheckLimits()
}

// ---- delete ----------------------------------------------------------------

func (d *Dispatcher) handleDelete(cmd *Command) {
	spec := cmd.DeleteSpec
	deleteImages := spec >= 'A' && spec <= 'Z'
	norm := spec | 0x20 // lowercase

	switch {
	case spec == 0, norm == 'a':
		d.deleteMatching(0, 0, deleteImages, false)
	case norm == 'i':
		if cmd.ImageID == 0 {
			d.reportErrorCmd(cmd, "EINVAL: no image id to delete")
			return
		}
		d.deleteMatching(cmd.ImageID, cmd.PlacementID, deleteImages, true)
	case norm == 'n':
		img, ok := d.Store.ImageByNumber(cmd.ImageNumber)
		if !ok {
			d.reportErrorCmd(cmd, "ENOENT: no image with number %d", cmd.ImageNumber)
			return
		}
		d.deleteMatching(img.ID, cmd.PlacementID, deleteImages, true)
	default:
		d.reportErrorCmd(cmd, "EINVAL: unsupported delete specifier: '%c'", spec)
		return
	}

	d.Result.Redraw = true
	d.reportSuccessCmd(cmd)
}

// deleteMatching erases the placeholder cells and placements selected
// by (imageID, placementID), zero meaning "any". explicit distinguishes
// a targeted delete (which removes virtual placements too) from the
// delete-everything form, which touches only classic placeholders.
// When deleteImages is set, images left with no placements afterwards
// are deleted as well.
func (d *Dispatcher) deleteMatching(imageID store.ImageID, placementID store.PlacementID, deleteImages, explicit bool) {
	if d.Host != nil {
		d.Host.ForEachImageCell(func(cellImage, cellPlacement uint32, col, row int, isClassic bool) bool {
			if !isClassic {
				return false
			}
			if imageID != 0 && store.ImageID(cellImage) != imageID {
				return false
			}
			if placementID != 0 && store.PlacementID(cellPlacement) != placementID {
				return false
			}
			// Erase the cell even if the image is already gone.
			return true
		})
	}

	for _, img := range d.Store.AllImages() {
		if imageID != 0 && img.ID != imageID {
			continue
		}
		for _, pl := range img.Placements {
			if placementID != 0 && pl.ID != placementID {
				continue
			}
			if !explicit && pl.Virtual {
				continue
			}
			d.Store.DeletePlacement(img, pl.ID)
		}
		if deleteImages && len(img.Placements) == 0 {
			d.Store.DeleteImage(img.ID)
		}
	}
}
