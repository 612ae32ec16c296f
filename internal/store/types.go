// Package store owns the Image and Placement records the rest of the
// core operates on, plus the disk/RAM/count ceilings and LRU eviction
// that keep them bounded.
package store

import (
	"os"
	"time"

	"gitlab.com/tinyland/lab/st-graphics/internal/pixel"
)

// ImageID identifies an Image. Zero is never a valid id once assigned.
type ImageID uint32

// PlacementID identifies a Placement within its owning Image.
type PlacementID uint32

// Status is the lifecycle state of an Image.
type Status int

const (
	StatusUninitialized Status = iota
	StatusUploading
	StatusUploadingError
	StatusUploadingSuccess
	StatusRamLoadingError
	StatusRamLoadingSuccess
)

func (s Status) String() string {
	switch s {
	case StatusUninitialized:
		return "uninitialized"
	case StatusUploading:
		return "uploading"
	case StatusUploadingError:
		return "uploading_error"
	case StatusUploadingSuccess:
		return "uploading_success"
	case StatusRamLoadingError:
		return "ram_loading_error"
	case StatusRamLoadingSuccess:
		return "ram_loading_success"
	default:
		return "unknown"
	}
}

// UploadFailure is a closed enum of upload failure causes, carried
// alongside Status rather than folded into it so an in-progress upload
// never carries a stale failure.
type UploadFailure int

const (
	FailureNone UploadFailure = iota
	FailureOverSizeLimit
	FailureCannotOpenCachedFile
	FailureUnexpectedSize
	FailureCannotCopyFile
)

// Code returns the errno-style code the response writer emits for a
// failure, or "" for FailureNone.
func (f UploadFailure) Code() string {
	switch f {
	case FailureOverSizeLimit:
		return "EFBIG"
	case FailureCannotOpenCachedFile:
		return "EIO"
	case FailureUnexpectedSize:
		return "EINVAL"
	case FailureCannotCopyFile:
		return "EBADF"
	default:
		return ""
	}
}

// Format is the pixel format an upload declares.
type Format int

const (
	FormatAuto    Format = 0
	FormatRGB     Format = 24
	FormatRGBA    Format = 32
	FormatGeneric Format = 100
)

// Compression is the wire compression applied to a raw pixel upload.
type Compression int

const (
	CompressionNone Compression = iota
	CompressionZlib
)

// ScaleMode controls how a placement's source rectangle is fit into
// its cell box. Numeric values keep the historical wire encoding of
// 1 for Fill and 2 for Contain.
type ScaleMode int

const (
	ScaleFill ScaleMode = iota + 1
	ScaleContain
	ScaleNone
	ScaleNoneOrContain
)

func (m ScaleMode) String() string {
	switch m {
	case ScaleFill:
		return "fill"
	case ScaleContain:
		return "contain"
	case ScaleNone:
		return "none"
	case ScaleNoneOrContain:
		return "none_or_contain"
	default:
		return "unknown"
	}
}

// Image is one logical uploaded image.
type Image struct {
	ID     ImageID
	Number uint32

	// IsQuery marks a shadow record created for a query action; the
	// record is discarded after its result is reported. QueryID is the
	// id the client used, kept only for addressing that response.
	IsQuery bool
	QueryID ImageID

	Atime       time.Time
	GlobalIndex uint64

	Status            Status
	UploadingFailure  UploadFailure
	Quiet             int
	Format            Format
	Compression       Compression
	PixWidth          int
	PixHeight         int
	ExpectedSize      int64
	DiskSize          int64

	DiskPath string
	diskSink *os.File
	RAM      *pixel.Buffer

	Placements         map[PlacementID]*Placement
	DefaultPlacement   PlacementID
	InitialPlacementID PlacementID
}

// RAMSize is the byte footprint of the image's own decoded buffer (not
// counting its placements' scaled buffers, which are sized separately).
func (img *Image) RAMSize() int64 {
	if img.RAM == nil {
		return 0
	}
	return int64(len(img.RAM.Pix)) * 4
}

// Placement is one visible incarnation of an Image.
type Placement struct {
	ID    PlacementID
	Image ImageID

	Atime     time.Time
	Protected bool
	Virtual   bool

	ScaleMode ScaleMode
	Cols      int
	Rows      int

	SrcX, SrcY          int
	SrcWidth, SrcHeight int

	ScaledRAM          *pixel.Buffer
	ScaledCW, ScaledCH int

	DoNotMoveCursor bool
}

// RAMSize is the byte footprint of the placement's scaled buffer, if any.
func (p *Placement) RAMSize() int64 {
	if p.ScaledRAM == nil {
		return 0
	}
	return int64(len(p.ScaledRAM.Pix)) * 4
}

// ImageRect is an ephemeral pending-draw rectangle, reset every frame.
// Cells are zero-based and half-open ([StartCol, EndCol)).
type ImageRect struct {
	ImageID     ImageID
	PlacementID PlacementID

	StartCol, EndCol int
	StartRow, EndRow int

	XPix, YPix int
	CW, CH     int
	Reverse    bool
}

// Bottom returns the pixel row just past the rect's bottom edge.
func (r *ImageRect) Bottom() int {
	return r.YPix + (r.EndRow-r.StartRow)*r.CH
}

// Area returns the number of cells the rect covers (columns times
// rows); it is zero or negative when the rect covers no cells.
func (r *ImageRect) Area() int {
	return (r.EndCol - r.StartCol) * (r.EndRow - r.StartRow)
}
