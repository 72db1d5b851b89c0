package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"voxelstore.ai/internal/persistence/journal"
	"voxelstore.ai/internal/persistence/snapshot"
)

func exportCmd(args []string) {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	c := addCommon(fs)
	out := fs.String("out", "", "output path (required)")
	_ = fs.Parse(args)
	if strings.TrimSpace(*out) == "" {
		fmt.Fprintln(os.Stderr, "missing -out")
		os.Exit(2)
	}

	s := openSession(c, openOpts{offsite: true})
	defer s.close()

	h, err := snapshot.ExportDimension(s.level.Raw(), *c.dim, *out)
	if err != nil {
		fatal("export", err)
	}
	printJSON(h)
	if s.mirror != nil {
		s.mirror.Enqueue(*out)
	}
}

func importCmd(args []string) {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	c := addCommon(fs)
	in := fs.String("in", "", "export path (required)")
	overwrite := fs.Bool("overwrite", false, "replace chunks that already exist")
	_ = fs.Parse(args)
	if strings.TrimSpace(*in) == "" {
		fmt.Fprintln(os.Stderr, "missing -in")
		os.Exit(2)
	}
	h, err := snapshot.ReadHeader(*in)
	if err != nil {
		fatal("read export", err)
	}
	dim := h.Dimension
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "dim" {
			dim = *c.dim
		}
	})

	s := openSession(c, openOpts{})
	defer s.close()
	if h.DataVersion != s.level.DataVersion() {
		s.logger.Printf("export data version %d differs from level %d", h.DataVersion, s.level.DataVersion())
	}
	n, err := snapshot.ImportDimension(s.level.Raw(), dim, *in, *overwrite)
	if err != nil {
		fatal("import", err)
	}
	fmt.Printf("imported %d of %d chunks into %s\n", n, h.Chunks, dim)
}

func historyCmd(args []string) {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	level := fs.String("level", "", "level directory (required unless -dir)")
	dir := fs.String("dir", "", "journal directory (optional)")
	session := fs.String("session", "", "session filter (optional)")
	_ = fs.Parse(args)

	path := strings.TrimSpace(*dir)
	if path == "" {
		if strings.TrimSpace(*level) == "" {
			fmt.Fprintln(os.Stderr, "missing -level or -dir")
			os.Exit(2)
		}
		path = filepath.Join(*level, "journal")
	}
	recs, err := journal.ReadHistory(path)
	if err != nil {
		fatal("read journal", err)
	}
	for _, r := range recs {
		if *session != "" && r.Session != *session {
			continue
		}
		printJSON(r)
	}
}
