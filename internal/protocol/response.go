package protocol

import (
	"fmt"
	"strings"

	"gitlab.com/tinyland/lab/st-graphics/internal/store"
)

// Response frame boundaries. Responses travel the opposite direction
// from commands but use the same APC framing.
const (
	respESC = "\x1b_G"
	respST  = "\x1b\\"
)

// Placeholder describes the classic placeholder cells the host must
// write after a successful non-virtual put. The host advances the
// cursor past the placeholder unless DoNotMoveCursor is set.
type Placeholder struct {
	ImageID         store.ImageID
	PlacementID     store.PlacementID
	Columns, Rows   int
	DoNotMoveCursor bool
}

// Result accumulates the side effects of one command for the host to
// act on: a redraw request, a ready-to-emit response frame, an error
// flag, and an optional placeholder to materialize.
type Result struct {
	Redraw            bool
	Response          string
	Error             bool
	CreatePlaceholder *Placeholder
}

// buildResponse frames a response message with the non-zero identifier
// fields. A response with no identifiers at all has no addressee, so it
// is dropped; the caller logs the message instead.
func buildResponse(imageID store.ImageID, number uint32, placementID store.PlacementID, msg string) (string, bool) {
	var b strings.Builder
	b.WriteString(respESC)

	if imageID != 0 {
		fmt.Fprintf(&b, "i=%d,", uint32(imageID))
	}
	if number != 0 {
		fmt.Fprintf(&b, "I=%d,", number)
	}
	if placementID != 0 {
		fmt.Fprintf(&b, "p=%d,", uint32(placementID))
	}

	keys := b.String()
	if keys == respESC {
		return "", false
	}
	// Trim the trailing comma before the payload separator.
	keys = keys[:len(keys)-1]

	return keys + ";" + msg + respST, true
}

// uploadFailureMessage renders the stored upload failure for an image
// into its wire message, including the sizes the message references.
func uploadFailureMessage(img *store.Image, diskCap int64) string {
	switch img.UploadingFailure {
	case store.FailureOverSizeLimit:
		return fmt.Sprintf("EFBIG: the size of the uploaded image exceeded the image size limit %d", diskCap)
	case store.FailureCannotOpenCachedFile:
		return "EIO: could not create a file for image"
	case store.FailureUnexpectedSize:
		return fmt.Sprintf("EINVAL: size %d doesn't match expected %d", img.DiskSize, img.ExpectedSize)
	case store.FailureCannotCopyFile:
		return "EBADF: could not copy the image"
	default:
		return ""
	}
}
