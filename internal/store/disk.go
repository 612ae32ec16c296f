package store

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// diskCache owns the cache directory's lifecycle: creation with a
// mkdtemp-style template, re-creation if removed out from under us, and
// per-image file naming.
type diskCache struct {
	dir string
}

func newDiskCache(baseDir string) (*diskCache, error) {
	if baseDir == "" {
		baseDir = os.TempDir()
	}
	dir, err := os.MkdirTemp(baseDir, "st-images-")
	if err != nil {
		return nil, err
	}
	return &diskCache{dir: dir}, nil
}

// ensure re-creates the cache directory if it has been removed since
// init, so a stray rm -rf of /tmp does not wedge future uploads.
func (d *diskCache) ensure() error {
	if _, err := os.Stat(d.dir); err == nil {
		return nil
	}
	return os.MkdirAll(d.dir, 0o700)
}

func (d *diskCache) path(id ImageID) string {
	return filepath.Join(d.dir, fmt.Sprintf("img-%d", uint32(id)))
}

func (d *diskCache) remove(img *Image) {
	if img.diskSink != nil {
		img.diskSink.Close()
		img.diskSink = nil
	}
	if img.DiskPath != "" {
		os.Remove(img.DiskPath)
		img.DiskPath = ""
	}
}

// removeAll deletes the cache directory entirely, for deinit.
func (d *diskCache) removeAll() error {
	return os.RemoveAll(d.dir)
}

// OpenUploadSink opens (or reopens in append mode) the on-disk sink for a
// direct upload, creating the cache directory first if it was removed.
func (s *Store) OpenUploadSink(img *Image) error {
	if err := s.disk.ensure(); err != nil {
		return fmt.Errorf("store: recreating cache directory: %w", err)
	}
	if img.diskSink != nil {
		return nil
	}
	path := s.disk.path(img.ID)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o600)
	if err != nil {
		return err
	}
	img.diskSink = f
	img.DiskPath = path
	return nil
}

// WriteChunk appends a decoded chunk to the image's sink and updates
// the disk-size counters.
func (s *Store) WriteChunk(img *Image, data []byte) error {
	if img.diskSink == nil {
		if err := s.OpenUploadSink(img); err != nil {
			return err
		}
	}
	n, err := img.diskSink.Write(data)
	img.DiskSize += int64(n)
	s.DiskTotal += int64(n)
	if err != nil {
		return err
	}
	return nil
}

// CloseUploadSink finalizes the on-disk file for an image after the last
// chunk of a direct upload.
func (s *Store) CloseUploadSink(img *Image) error {
	if img.diskSink == nil {
		return nil
	}
	err := img.diskSink.Close()
	img.diskSink = nil
	return err
}

// CopyFileInto copies src (a file/temp medium source path) into the
// cache directory under the image's canonical name, returning the
// number of bytes copied. The cached file ends up at the expected name
// with its length recorded in DiskSize.
func (s *Store) CopyFileInto(img *Image, src string) (int64, error) {
	if err := s.disk.ensure(); err != nil {
		return 0, fmt.Errorf("store: recreating cache directory: %w", err)
	}
	in, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer in.Close()

	dstPath := s.disk.path(img.ID)
	tmp := dstPath + ".tmp"
	out, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(out, in)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp)
		return 0, err
	}
	if err := os.Rename(tmp, dstPath); err != nil {
		os.Remove(tmp)
		return 0, err
	}

	img.DiskPath = dstPath
	s.DiskTotal += n - img.DiskSize
	img.DiskSize = n
	return n, nil
}

// DropDiskArtifact removes an image's on-disk file and reconciles the
// disk counters, leaving any RAM copy in place.
func (s *Store) DropDiskArtifact(img *Image) {
	s.DiskTotal -= img.DiskSize
	img.DiskSize = 0
	s.disk.remove(img)
}

// UnloadAllRAM drops every unprotected RAM buffer, both image-level and
// placement-level, reconciling the RAM counter. The host calls this
// when it is under memory pressure.
func (s *Store) UnloadAllRAM() {
	for _, img := range s.images {
		if img.RAM != nil {
			s.RAMTotal -= img.RAMSize()
			img.RAM = nil
		}
		for _, pl := range img.Placements {
			if pl.Protected || pl.ScaledRAM == nil {
				continue
			}
			s.RAMTotal -= pl.RAMSize()
			pl.ScaledRAM = nil
			pl.ScaledCW, pl.ScaledCH = 0, 0
		}
	}
}

// ReadCachedFile reads an image's cached bytes back from disk, for
// load_image's raw/generic decode paths.
func (s *Store) ReadCachedFile(img *Image) ([]byte, error) {
	if img.DiskPath == "" {
		return nil, fmt.Errorf("store: image %d has no cached file", img.ID)
	}
	return os.ReadFile(img.DiskPath)
}

// Close drops every image and removes the cache directory.
func (s *Store) Close() error {
	for id := range s.images {
		s.DeleteImage(id)
	}
	return s.disk.removeAll()
}
