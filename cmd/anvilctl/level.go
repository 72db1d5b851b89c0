package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"voxelstore.ai/internal/core"
	"voxelstore.ai/internal/java"
	"voxelstore.ai/internal/java/chunk"
)

func infoCmd(args []string) {
	fs := flag.NewFlagSet("info", flag.ExitOnError)
	c := addCommon(fs)
	_ = fs.Parse(args)

	s := openSession(c, openOpts{})
	defer s.close()

	type dimInfo struct {
		ID     string            `json:"id"`
		Bounds core.SelectionBox `json:"bounds"`
		Chunks int               `json:"chunks"`
	}
	out := struct {
		Path        string    `json:"path"`
		Name        string    `json:"name"`
		Platform    string    `json:"platform"`
		DataVersion int64     `json:"data_version"`
		Supported   bool      `json:"supported"`
		Modified    time.Time `json:"modified"`
		Dimensions  []dimInfo `json:"dimensions"`
	}{
		Path:        s.level.Path(),
		Name:        s.level.LevelName(),
		Platform:    s.level.Platform(),
		DataVersion: s.level.DataVersion(),
		Supported:   s.level.IsSupported(),
		Modified:    s.level.ModifiedTime(),
	}
	ids, err := s.level.DimensionIDs()
	if err != nil {
		fatal("dimensions", err)
	}
	for _, id := range ids {
		d := s.dimension(id)
		coords, err := d.ChunkCoords()
		if err != nil {
			fatal("coords", err)
		}
		out.Dimensions = append(out.Dimensions, dimInfo{ID: id, Bounds: d.Bounds(), Chunks: len(coords)})
	}
	printJSON(out)
}

func coordsCmd(args []string) {
	fs := flag.NewFlagSet("coords", flag.ExitOnError)
	c := addCommon(fs)
	_ = fs.Parse(args)

	s := openSession(c, openOpts{})
	defer s.close()

	coords, err := s.dimension(*c.dim).ChunkCoords()
	if err != nil {
		fatal("coords", err)
	}
	for _, xz := range coords {
		fmt.Printf("%d %d\n", xz[0], xz[1])
	}
}

func getCmd(args []string) {
	fs := flag.NewFlagSet("get", flag.ExitOnError)
	c := addCommon(fs)
	x := fs.Int64("x", 0, "block x")
	y := fs.Int64("y", 0, "block y")
	z := fs.Int64("z", 0, "block z")
	_ = fs.Parse(args)

	s := openSession(c, openOpts{})
	defer s.close()

	h, err := s.dimension(*c.dim).ChunkHandle(floorDiv(*x, 16), floorDiv(*z, 16))
	if err != nil {
		fatal("chunk", err)
	}
	ch, err := h.GetChunk()
	if err != nil {
		fatal("chunk", err)
	}
	stack, err := ch.Block().Block(int(mod(*x, 16)), int(*y), int(mod(*z, 16)))
	if err != nil {
		fatal("block", err)
	}
	layers := make([]string, 0, len(ch.RawData()))
	for name := range ch.RawData() {
		layers = append(layers, name)
	}
	sort.Strings(layers)
	printJSON(map[string]any{
		"cx":           h.CX(),
		"cz":           h.CZ(),
		"chunk_id":     ch.ChunkID(),
		"data_version": ch.DataVersion(),
		"palette":      ch.Block().Palette.Len(),
		"block":        stackString(stack),
		"layers":       layers,
	})
}

func setBlockCmd(args []string) {
	fs := flag.NewFlagSet("set-block", flag.ExitOnError)
	c := addCommon(fs)
	x := fs.Int64("x", 0, "block x")
	y := fs.Int64("y", 0, "block y")
	z := fs.Int64("z", 0, "block z")
	block := fs.String("block", "", "block, e.g. minecraft:oak_log[axis=y] (required)")
	create := fs.Bool("create", false, "create the chunk when it does not exist")
	timeout := fs.Duration("timeout", 10*time.Second, "lock wait")
	_ = fs.Parse(args)

	s := openSession(c, openOpts{index: true})
	defer s.close()

	b, err := parseBlock(*block, s.level.DataVersion())
	if err != nil {
		fmt.Fprintln(os.Stderr, "bad -block:", err)
		os.Exit(2)
	}
	d := s.dimension(*c.dim)
	cx, cz := floorDiv(*x, 16), floorDiv(*z, 16)
	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	s.level.CreateRestorePoint()
	err = s.level.EditChunks(ctx, *c.dim, [][2]int64{{cx, cz}}, func(hs []*java.ChunkHandle) error {
		ch, err := hs[0].GetChunk()
		if err != nil {
			if !*create || !isNotFound(err) {
				return err
			}
			if ch, err = chunk.New(s.level.DataVersion(), d.DefaultBlock()); err != nil {
				return err
			}
		}
		ch.Block().SetBlock(int(mod(*x, 16)), int(*y), int(mod(*z, 16)), core.BlockStack{b})
		return hs[0].SetChunk(ch)
	})
	if err != nil {
		fatal("set-block", err)
	}
	if err := s.level.Save(); err != nil {
		fatal("save", err)
	}
	fmt.Printf("set %s at %d,%d,%d (chunk %d,%d)\n", b, *x, *y, *z, cx, cz)
}

func deleteCmd(args []string) {
	fs := flag.NewFlagSet("delete", flag.ExitOnError)
	c := addCommon(fs)
	cx := fs.Int64("cx", 0, "chunk x")
	cz := fs.Int64("cz", 0, "chunk z")
	_ = fs.Parse(args)

	s := openSession(c, openOpts{index: true})
	defer s.close()

	s.level.CreateRestorePoint()
	err := s.level.EditChunks(context.Background(), *c.dim, [][2]int64{{*cx, *cz}}, func(hs []*java.ChunkHandle) error {
		return hs[0].DeleteChunk()
	})
	if err != nil {
		fatal("delete", err)
	}
	if err := s.level.Save(); err != nil {
		fatal("save", err)
	}
	fmt.Printf("deleted chunk %d,%d in %s\n", *cx, *cz, *c.dim)
}

func compactCmd(args []string) {
	fs := flag.NewFlagSet("compact", flag.ExitOnError)
	c := addCommon(fs)
	_ = fs.Parse(args)

	s := openSession(c, openOpts{backup: true, index: true, offsite: true})
	defer s.close()

	st, err := s.level.Compact()
	out := compactSummary(st)
	if s.backup != nil && len(s.backup.Files()) > 0 {
		out["backup"] = s.backup.Dir()
	}
	printJSON(out)
	if err != nil {
		s.close()
		fatal("compact", err)
	}
	if s.index != nil {
		if _, err := scanLevel(s); err != nil {
			s.logger.Printf("reindex: %v", err)
		}
	}
}

func stackString(s core.BlockStack) string {
	parts := make([]string, len(s))
	for i, b := range s {
		parts[i] = b.String()
	}
	return strings.Join(parts, " + ")
}

func isNotFound(err error) bool {
	return errors.Is(err, core.ErrChunkNotFound)
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if r := a % b; r < 0 {
		q--
	}
	return q
}

func mod(a, b int64) int64 {
	m := a % b
	if m < 0 {
		m += b
	}
	return m
}
