package store

// CheckLimits runs the five eviction passes in order, each stopping as
// soon as its own ceiling is satisfied: whole images first, then
// placements, then on-disk artifacts, then image RAM, then placement
// RAM.
func (s *Store) CheckLimits() {
	s.evictExcessImages()
	s.evictExcessPlacements()
	s.evictExcessDisk()
	s.evictExcessImageRAM()
	s.evictExcessPlacementRAM()
}

func (s *Store) evictExcessImages() {
	limit := s.Limits.images()
	if limit <= 0 {
		return
	}
	for len(s.images) > limit {
		oldest, ok := s.oldestImage(func(*Image) bool { return true })
		if !ok {
			return
		}
		s.DeleteImage(oldest.ID)
	}
}

func (s *Store) placementCount() int {
	n := 0
	for _, img := range s.images {
		n += len(img.Placements)
	}
	return n
}

func (s *Store) evictExcessPlacements() {
	limit := s.Limits.placements()
	if limit <= 0 {
		return
	}
	for s.placementCount() > limit {
		img, pl, ok := s.oldestPlacement(func(p *Placement) bool { return !p.Protected })
		if !ok {
			return
		}
		s.DeletePlacement(img, pl.ID)
	}
}

func (s *Store) evictExcessDisk() {
	limit := s.Limits.disk()
	for s.DiskTotal > limit {
		img, ok := s.oldestImage(func(i *Image) bool { return i.DiskSize > 0 })
		if !ok {
			return
		}
		s.DropDiskArtifact(img)
	}
}

func (s *Store) evictExcessImageRAM() {
	limit := s.Limits.ram()
	for s.RAMTotal > limit {
		img, ok := s.oldestImage(func(i *Image) bool { return i.RAM != nil })
		if !ok {
			return
		}
		s.RAMTotal -= img.RAMSize()
		img.RAM = nil
	}
}

func (s *Store) evictExcessPlacementRAM() {
	limit := s.Limits.ram()
	for s.RAMTotal > limit {
		_, pl, ok := s.oldestPlacement(func(p *Placement) bool { return !p.Protected && p.ScaledRAM != nil })
		if !ok {
			return
		}
		s.RAMTotal -= pl.RAMSize()
		pl.ScaledRAM = nil
		pl.ScaledCW, pl.ScaledCH = 0, 0
	}
}

// oldestImage returns the image with the smallest atime among those
// matching pred.
func (s *Store) oldestImage(pred func(*Image) bool) (*Image, bool) {
	var best *Image
	for _, img := range s.images {
		if !pred(img) {
			continue
		}
		if best == nil || img.Atime.Before(best.Atime) {
			best = img
		}
	}
	return best, best != nil
}

// oldestPlacement returns the placement (and its owning image) with the
// smallest atime among those matching pred, scanning every image.
func (s *Store) oldestPlacement(pred func(*Placement) bool) (*Image, *Placement, bool) {
	var bestImg *Image
	var best *Placement
	for _, img := range s.images {
		for _, pl := range img.Placements {
			if !pred(pl) {
				continue
			}
			if best == nil || pl.Atime.Before(best.Atime) {
				best = pl
				bestImg = img
			}
		}
	}
	return bestImg, best, best != nil
}
