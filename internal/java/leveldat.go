package java

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Tnze/go-mc/nbt"
	"github.com/klauspost/compress/gzip"

	"voxelstore.ai/internal/nbtx"
)

const levelDatName = "level.dat"

// Metadata is the part of level.dat the store itself depends on.
type Metadata struct {
	DataVersion int64
	LevelName   string
	Modified    time.Time
}

func readLevelDat(dir string) (nbtx.NamedTag, error) {
	f, err := os.Open(filepath.Join(dir, levelDatName))
	if errors.Is(err, os.ErrNotExist) {
		return nbtx.NamedTag{}, fmt.Errorf("%s: %w", dir, ErrNotLevel)
	}
	if err != nil {
		return nbtx.NamedTag{}, err
	}
	defer f.Close()

	zr, err := gzip.NewReader(bufio.NewReader(f))
	if err != nil {
		return nbtx.NamedTag{}, fmt.Errorf("%s: %w", levelDatName, err)
	}
	defer zr.Close()
	tag, err := nbtx.Read(zr)
	if err != nil {
		return nbtx.NamedTag{}, fmt.Errorf("%s: %w", levelDatName, err)
	}
	if tag.Tag.Type != nbt.TagCompound {
		return nbtx.NamedTag{}, fmt.Errorf("%s: %w", levelDatName, nbtx.ErrTagType)
	}
	return tag, nil
}

// writeLevelDat replaces level.dat through a synced temporary file.
func writeLevelDat(dir string, tag nbtx.NamedTag) error {
	path := filepath.Join(dir, levelDatName)
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	zw := gzip.NewWriter(f)
	if err := tag.WriteTo(zw); err != nil {
		_ = f.Close()
		return err
	}
	if err := zw.Close(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// parseMetadata reads the Data compound of a level.dat tag.
func parseMetadata(tag nbtx.NamedTag) (Metadata, error) {
	md := Metadata{DataVersion: -1}
	root, err := nbtx.DecodeCompound(tag.Tag)
	if err != nil {
		return md, err
	}
	data, err := root.Compound("Data")
	if err != nil {
		return md, fmt.Errorf("Data: %w", err)
	}
	if data == nil {
		return md, fmt.Errorf("%w: level.dat has no Data compound", ErrNotLevel)
	}
	if v, ok := data["DataVersion"]; ok {
		if md.DataVersion, err = nbtx.AsInt(v); err != nil {
			return md, fmt.Errorf("DataVersion: %w", err)
		}
	}
	if v, ok := data["LevelName"]; ok {
		if md.LevelName, err = nbtx.AsString(v); err != nil {
			return md, fmt.Errorf("LevelName: %w", err)
		}
	}
	if v, ok := data["LastPlayed"]; ok {
		ms, err := nbtx.AsInt(v)
		if err != nil {
			return md, fmt.Errorf("LastPlayed: %w", err)
		}
		md.Modified = time.UnixMilli(ms).UTC()
	}
	return md, nil
}

// setDataField returns tag with Data[key] replaced by v.
func setDataField(tag nbtx.NamedTag, key string, v nbt.RawMessage) (nbtx.NamedTag, error) {
	root, err := nbtx.DecodeCompound(tag.Tag)
	if err != nil {
		return tag, err
	}
	data, err := root.Compound("Data")
	if err != nil {
		return tag, err
	}
	if data == nil {
		data = nbtx.Compound{}
	}
	data[key] = v
	root["Data"] = data.Raw()
	return nbtx.NamedTag{Name: tag.Name, Tag: root.Raw()}, nil
}

func newLevelDat(dataVersion int64, name string, now time.Time) nbtx.NamedTag {
	data := nbtx.Compound{
		"DataVersion": nbtx.Int(int32(dataVersion)),
		"LevelName":   nbtx.String(name),
		"LastPlayed":  nbtx.Long(now.UnixMilli()),
		"version":     nbtx.Int(19133),
	}
	root := nbtx.Compound{"Data": data.Raw()}
	return nbtx.NamedTag{Name: "", Tag: root.Raw()}
}
