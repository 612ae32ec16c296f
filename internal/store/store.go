package store

import (
	"fmt"
	"time"
)

// Limits holds the configurable ceilings check_limits enforces, plus the
// tolerance ratio that lets callers burst past a cap before the reaper
// acts. Values come from internal/config; this package has no config
// dependency of its own so it stays usable from tests without pulling
// in TOML decoding.
type Limits struct {
	SingleImageDiskCap int64
	TotalDiskCap       int64
	SingleImageRAMCap  int64
	TotalRAMCap        int64
	MaxImages          int
	MaxPlacements      int
	Tolerance          float64
}

func (l Limits) disk() int64    { return int64(float64(l.TotalDiskCap) * (1 + l.Tolerance)) }
func (l Limits) ram() int64     { return int64(float64(l.TotalRAMCap) * (1 + l.Tolerance)) }
func (l Limits) images() int    { return int(float64(l.MaxImages) * (1 + l.Tolerance)) }
func (l Limits) placements() int { return int(float64(l.MaxPlacements) * (1 + l.Tolerance)) }

// Store owns every Image (and, through it, every Placement) the core
// currently knows about, along with the running disk/RAM totals. There
// is no internal locking: the core is single-threaded and cooperative,
// and the host serializes calls to its entry points.
type Store struct {
	Limits Limits

	images map[ImageID]*Image

	DiskTotal int64
	RAMTotal  int64

	globalIndex uint64

	// DirectUploadID is the image currently receiving direct-medium
	// chunks, or zero if none.
	DirectUploadID ImageID
	lastChunkAt    time.Time

	disk *diskCache
}

// New creates a Store backed by a freshly created cache directory
// under baseDir.
func New(baseDir string, limits Limits) (*Store, error) {
	disk, err := newDiskCache(baseDir)
	if err != nil {
		return nil, fmt.Errorf("store: creating cache directory: %w", err)
	}
	return &Store{
		Limits: limits,
		images: make(map[ImageID]*Image),
		disk:   disk,
	}, nil
}

// CacheDir returns the current cache directory path.
func (s *Store) CacheDir() string { return s.disk.dir }

// Image looks up an image by id.
func (s *Store) Image(id ImageID) (*Image, bool) {
	img, ok := s.images[id]
	return img, ok
}

// ImageByNumber returns the most recently created image with the given
// client-assigned number; when several share it, the newest wins.
func (s *Store) ImageByNumber(number uint32) (*Image, bool) {
	var best *Image
	for _, img := range s.images {
		if img.Number != number {
			continue
		}
		if best == nil || img.GlobalIndex > best.GlobalIndex {
			best = img
		}
	}
	return best, best != nil
}

// AllImages returns every currently-stored image, in no particular
// order.
func (s *Store) AllImages() []*Image {
	out := make([]*Image, 0, len(s.images))
	for _, img := range s.images {
		out = append(out, img)
	}
	return out
}

// CreateImage allocates a new Image with the given id, generating one
// if id is zero. If an image with the same non-zero id already exists,
// the old record is destroyed first.
func (s *Store) CreateImage(id ImageID) *Image {
	if id != 0 {
		if _, exists := s.images[id]; exists {
			s.DeleteImage(id)
		}
	} else {
		for {
			id = randomImageID()
			if _, exists := s.images[id]; !exists {
				break
			}
		}
	}

	s.globalIndex++
	img := &Image{
		ID:          id,
		Atime:       time.Now(),
		GlobalIndex: s.globalIndex,
		Status:      StatusUninitialized,
		Placements:  make(map[PlacementID]*Placement),
	}
	s.images[id] = img
	return img
}

// DeleteImage removes the on-disk file, frees RAM, drops every
// placement, and erases the image from the store.
func (s *Store) DeleteImage(id ImageID) {
	img, ok := s.images[id]
	if !ok {
		return
	}
	if img.DiskSize > 0 {
		s.DiskTotal -= img.DiskSize
	}
	s.RAMTotal -= img.RAMSize()
	for _, pl := range img.Placements {
		s.RAMTotal -= pl.RAMSize()
	}
	s.disk.remove(img)
	if s.DirectUploadID == id {
		s.DirectUploadID = 0
	}
	delete(s.images, id)
}

// CreatePlacement creates or replaces a placement on img, generating an
// id if placementID is zero.
func (s *Store) CreatePlacement(img *Image, placementID PlacementID) *Placement {
	if placementID != 0 {
		s.DeletePlacement(img, placementID)
	} else {
		for {
			placementID = randomPlacementID()
			if _, exists := img.Placements[placementID]; !exists {
				break
			}
		}
	}

	pl := &Placement{
		ID:    placementID,
		Image: img.ID,
		Atime: time.Now(),
	}
	img.Placements[placementID] = pl
	if img.DefaultPlacement == 0 {
		img.DefaultPlacement = placementID
	}
	return pl
}

// DeletePlacement frees a placement's scaled buffer and erases it.
func (s *Store) DeletePlacement(img *Image, id PlacementID) {
	pl, ok := img.Placements[id]
	if !ok {
		return
	}
	s.RAMTotal -= pl.RAMSize()
	delete(img.Placements, id)
	if img.DefaultPlacement == id {
		img.DefaultPlacement = 0
	}
}

// Touch updates an image's atime.
func (s *Store) Touch(img *Image) {
	img.Atime = time.Now()
}

// TouchPlacement updates a placement's atime, and its parent image's
// atime too, so an image is always at least as recent as its newest
// placement.
func (s *Store) TouchPlacement(img *Image, pl *Placement) {
	now := time.Now()
	pl.Atime = now
	if img.Atime.Before(now) {
		img.Atime = now
	}
}

// NoteChunk records that a direct-upload chunk just arrived, for the
// StillUploading heuristic.
func (s *Store) NoteChunk() {
	s.lastChunkAt = time.Now()
}

// StillUploading reports whether a direct upload is in progress and
// has received a chunk within the last second. It exists so the host
// can suppress expensive redraws during a burst without deadlocking if
// the burst aborts.
func (s *Store) StillUploading(now time.Time) bool {
	if s.DirectUploadID == 0 {
		return false
	}
	return now.Sub(s.lastChunkAt) < time.Second
}
