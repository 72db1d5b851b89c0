package java

import (
	"errors"
	"fmt"

	"voxelstore.ai/internal/core"
	"voxelstore.ai/internal/history"
	"voxelstore.ai/internal/java/chunk"
	"voxelstore.ai/internal/lock"
)

// ChunkHandle is the access point for one chunk of a level. Chunk values
// are cached in the level history as encoded records; a nil record means the
// chunk does not exist.
//
// Callers that read, modify and write a chunk hold its lock for the whole
// sequence.
type ChunkHandle struct {
	level *Level
	dim   *Dimension
	key   chunkKey
	ref   *lock.Ref
}

func (h *ChunkHandle) DimensionID() string { return h.key.Dimension }
func (h *ChunkHandle) CX() int64           { return h.key.CX }
func (h *ChunkHandle) CZ() int64           { return h.key.CZ }

// Lock returns the chunk lock. It stays valid while the level is open.
func (h *ChunkHandle) Lock() *lock.Ref { return h.ref }

func (h *ChunkHandle) Exists() (bool, error) {
	if h.level.chunks.Has(h.key) {
		v, err := h.level.chunks.GetValue(h.key)
		return v != nil, err
	}
	return h.dim.raw.HasChunk(h.key.CX, h.key.CZ)
}

// GetChunk returns a fresh copy of the chunk. Changes to it have no effect
// until it is passed to SetChunk.
func (h *ChunkHandle) GetChunk() (*chunk.JavaChunk, error) {
	v, err := h.value()
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, fmt.Errorf("%s: %w", h.key, core.ErrChunkNotFound)
	}
	return chunk.UnmarshalBinary(v)
}

// SetChunk replaces the chunk in the current restore point.
func (h *ChunkHandle) SetChunk(c *chunk.JavaChunk) error {
	b, err := c.MarshalBinary()
	if err != nil {
		return err
	}
	return h.set(b)
}

// DeleteChunk removes the chunk in the current restore point.
func (h *ChunkHandle) DeleteChunk() error {
	return h.set(nil)
}

func (h *ChunkHandle) set(v []byte) error {
	if !h.level.HistoryEnabled() {
		return h.level.chunks.SetValue(h.key, v, history.InitValue)
	}
	if _, err := h.value(); err != nil {
		return err
	}
	return h.level.chunks.SetValue(h.key, v, history.InitError)
}

// value returns the visible record, loading the stored chunk into history
// the first time the key is seen.
func (h *ChunkHandle) value() ([]byte, error) {
	if v, err := h.level.chunks.GetValue(h.key); err == nil {
		return v, nil
	} else if !errors.Is(err, history.ErrUnknownResource) {
		return nil, err
	}
	v, err := h.load()
	if err != nil {
		return nil, err
	}
	h.level.chunks.SetInitialValue(h.key, v)
	return h.level.chunks.GetValue(h.key)
}

func (h *ChunkHandle) load() ([]byte, error) {
	raw, err := h.dim.raw.GetRawChunk(h.key.CX, h.key.CZ)
	if errors.Is(err, core.ErrChunkNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	c, err := h.dim.raw.DecodeChunk(raw, h.key.CX, h.key.CZ)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", h.key, err)
	}
	return c.MarshalBinary()
}
