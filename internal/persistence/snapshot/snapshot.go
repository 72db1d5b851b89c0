package snapshot

import (
	"bufio"
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/Tnze/go-mc/nbt"
	"github.com/klauspost/compress/zstd"

	"voxelstore.ai/internal/java"
	"voxelstore.ai/internal/java/chunk"
	"voxelstore.ai/internal/nbtx"
)

const Version = 1

// Header is written as a JSON line ahead of the gob body so tools can
// inspect an export without decoding the chunks.
type Header struct {
	Version     int    `json:"version"`
	Level       string `json:"level"`
	Dimension   string `json:"dimension"`
	DataVersion int64  `json:"data_version"`
	Chunks      int    `json:"chunks"`
	CreatedAt   string `json:"created_at"`
}

type ExportV1 struct {
	Header Header
	Chunks []ChunkV1
}

type ChunkV1 struct {
	CX, CZ int64
	Layers []LayerV1
}

type LayerV1 struct {
	Layer string
	Name  string
	Type  byte
	Data  []byte
}

func fromRaw(cx, cz int64, raw chunk.RawChunk) ChunkV1 {
	c := ChunkV1{CX: cx, CZ: cz}
	for name, t := range raw {
		c.Layers = append(c.Layers, LayerV1{Layer: name, Name: t.Name, Type: t.Tag.Type, Data: t.Tag.Data})
	}
	sort.Slice(c.Layers, func(i, j int) bool { return c.Layers[i].Layer < c.Layers[j].Layer })
	return c
}

func (c ChunkV1) Raw() chunk.RawChunk {
	raw := make(chunk.RawChunk, len(c.Layers))
	for _, l := range c.Layers {
		raw[l.Layer] = nbtx.NamedTag{Name: l.Name, Tag: nbt.RawMessage{Type: l.Type, Data: l.Data}}
	}
	return raw
}

// ExportDimension writes every chunk of one dimension to path.
func ExportDimension(level *java.RawLevel, dimension, path string) (Header, error) {
	d, err := level.Dimension(dimension)
	if err != nil {
		return Header{}, err
	}
	coords, err := d.AllChunkCoords()
	if err != nil {
		return Header{}, err
	}
	exp := ExportV1{Header: Header{
		Version:     Version,
		Level:       level.LevelName(),
		Dimension:   dimension,
		DataVersion: level.DataVersion(),
		CreatedAt:   time.Now().UTC().Format(time.RFC3339Nano),
	}}
	for _, c := range coords {
		raw, err := d.GetRawChunk(c[0], c[1])
		if err != nil {
			return Header{}, fmt.Errorf("chunk %d,%d: %w", c[0], c[1], err)
		}
		exp.Chunks = append(exp.Chunks, fromRaw(c[0], c[1], raw))
	}
	exp.Header.Chunks = len(exp.Chunks)
	if err := WriteExport(path, exp); err != nil {
		return Header{}, err
	}
	return exp.Header, nil
}

// ImportDimension writes the chunks of an export into a dimension. Chunks
// already present are left alone unless overwrite is set.
func ImportDimension(level *java.RawLevel, dimension, path string, overwrite bool) (int, error) {
	exp, err := ReadExport(path)
	if err != nil {
		return 0, err
	}
	if dimension == "" {
		dimension = exp.Header.Dimension
	}
	d, err := level.Dimension(dimension)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, c := range exp.Chunks {
		if !overwrite {
			ok, err := d.HasChunk(c.CX, c.CZ)
			if err != nil {
				return n, err
			}
			if ok {
				continue
			}
		}
		if err := d.SetRawChunk(c.CX, c.CZ, c.Raw()); err != nil {
			return n, fmt.Errorf("chunk %d,%d: %w", c.CX, c.CZ, err)
		}
		n++
	}
	return n, nil
}

func WriteExport(path string, exp ExportV1) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(enc, 256*1024)

	hb, _ := json.Marshal(exp.Header)
	if _, err := bw.Write(hb); err != nil {
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		return err
	}
	if err := gob.NewEncoder(bw).Encode(&exp); err != nil {
		return fmt.Errorf("gob encode: %w", err)
	}
	if err := bw.Flush(); err != nil {
		return err
	}
	if err := enc.Close(); err != nil {
		return err
	}
	return f.Close()
}

func ReadExport(path string) (ExportV1, error) {
	var exp ExportV1
	f, err := os.Open(path)
	if err != nil {
		return exp, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return exp, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 256*1024)
	if _, err := br.ReadBytes('\n'); err != nil {
		return exp, fmt.Errorf("read header: %w", err)
	}
	if err := gob.NewDecoder(br).Decode(&exp); err != nil {
		return exp, fmt.Errorf("gob decode: %w", err)
	}
	if exp.Header.Version != Version {
		return exp, fmt.Errorf("unsupported export version %d", exp.Header.Version)
	}
	return exp, nil
}

// ReadHeader decodes only the leading JSON line.
func ReadHeader(path string) (Header, error) {
	var h Header
	f, err := os.Open(path)
	if err != nil {
		return h, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return h, err
	}
	defer dec.Close()

	line, err := bufio.NewReader(dec).ReadBytes('\n')
	if err != nil {
		return h, fmt.Errorf("read header: %w", err)
	}
	if err := json.Unmarshal(line, &h); err != nil {
		return h, err
	}
	if h.Version == 0 {
		return h, errors.New("missing export header")
	}
	return h, nil
}
