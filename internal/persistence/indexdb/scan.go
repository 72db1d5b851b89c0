package indexdb

import (
	"fmt"

	"voxelstore.ai/internal/java"
	"voxelstore.ai/internal/java/anvil"
)

// ScanLayer queues one RecordRegion per region file of l and returns how
// many were queued.
func (s *SQLiteIndex) ScanLayer(dimension, layer string, l *anvil.Layer) (int, error) {
	coords, err := l.RegionCoords()
	if err != nil {
		return 0, err
	}
	n := 0
	for _, rc := range coords {
		r, err := l.Region(rc[0], rc[1])
		if err != nil {
			return n, err
		}
		entries, err := r.Entries()
		if err != nil {
			return n, fmt.Errorf("%s: %w", r.Path(), err)
		}
		st, err := r.Stats()
		if err != nil {
			return n, fmt.Errorf("%s: %w", r.Path(), err)
		}
		s.RecordRegion(RegionScan{
			Dimension: dimension,
			Layer:     layer,
			RX:        rc[0],
			RZ:        rc[1],
			Stats:     st,
			Entries:   entries,
		})
		n++
	}
	return n, nil
}

// ScanDimension indexes every layer of d.
func (s *SQLiteIndex) ScanDimension(d *java.RawDimension) (int, error) {
	total := 0
	for _, name := range java.LayerNames() {
		l, err := d.Layer(name)
		if err != nil {
			return total, err
		}
		n, err := s.ScanLayer(d.DimensionID(), name, l)
		total += n
		if err != nil {
			return total, fmt.Errorf("%s %s: %w", d.DimensionID(), name, err)
		}
	}
	return total, nil
}
