package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"voxelstore.ai/internal/config"
	"voxelstore.ai/internal/java"
	"voxelstore.ai/internal/java/anvil"
	"voxelstore.ai/internal/java/loader"
	"voxelstore.ai/internal/persistence/archive"
	"voxelstore.ai/internal/persistence/indexdb"
	"voxelstore.ai/internal/persistence/journal"
	"voxelstore.ai/internal/persistence/offsite"
)

// commonFlags are shared by every command that opens a level.
type commonFlags struct {
	level  *string
	config *string
	dim    *string
}

func addCommon(fs *flag.FlagSet) commonFlags {
	return commonFlags{
		level:  fs.String("level", "", "level directory (required)"),
		config: fs.String("config", "", "yaml config path (optional)"),
		dim:    fs.String("dim", java.Overworld, "dimension id"),
	}
}

func (c commonFlags) levelPath() string {
	p := strings.TrimSpace(*c.level)
	if p == "" {
		fmt.Fprintln(os.Stderr, "missing -level")
		os.Exit(2)
	}
	return p
}

// session is one opened level plus the sinks configured for it.
type session struct {
	cfg    config.Config
	logger *log.Logger
	loader *loader.Loader
	level  *java.Level

	journal *journal.HistoryJournal
	index   *indexdb.SQLiteIndex
	backup  *archive.RegionBackup
	mirror  *offsite.Mirror
}

type openOpts struct {
	// backup copies regions aside before compaction when configured.
	backup bool
	// index opens the sqlite index even when no history is written.
	index bool
	// offsite uploads backups and exports when a bucket is configured.
	offsite bool
}

func openSession(c commonFlags, o openOpts) *session {
	path := c.levelPath()
	cfg, err := config.Load(*c.config)
	if err != nil {
		fatal("config", err)
	}
	logger := log.New(os.Stderr, cfg.Log.Prefix, log.LstdFlags|log.Lmicroseconds)
	opts, err := cfg.LevelOptions(logger)
	if err != nil {
		fatal("config", err)
	}
	s := &session{cfg: cfg, logger: logger}

	if p := strings.TrimSpace(cfg.Index.Path); p != "" && o.index {
		idx, err := indexdb.OpenSQLite(p)
		if err != nil {
			fatal("index", err)
		}
		s.index = idx
		opts.Region.AfterCompact = idx.RecordCompaction
	}
	if o.backup && strings.TrimSpace(cfg.Compaction.BackupDir) != "" {
		abs, err := loader.CanonicalPath(path)
		if err != nil {
			fatal("level", err)
		}
		s.backup = archive.NewRegionBackup(abs, cfg.Compaction.BackupDir, time.Now())
		opts.Region.BeforeCompact = s.backup.BeforeCompact
	}

	if cc, ok := cfg.OffsiteClientConfig(os.Getenv); ok && o.offsite {
		client, err := offsite.NewClient(cc)
		if err != nil {
			fatal("offsite", err)
		}
		base, err := loader.CanonicalPath(path)
		if err != nil {
			fatal("level", err)
		}
		s.mirror = offsite.NewMirror(client, base, cfg.Offsite.Prefix, cfg.Offsite.Workers, logger)
	}

	s.loader = loader.New(opts)
	level, err := s.loader.Get(path)
	if err != nil {
		fatal("load", err)
	}
	if err := level.Open(); err != nil {
		fatal("open", err)
	}
	level.SetHistoryEnabled(cfg.History.Enabled)

	var sinks historyLoggers
	if dir := strings.TrimSpace(cfg.Journal.Dir); dir != "" {
		s.journal = journal.NewHistoryJournal(level.Path(), dir)
		sinks = append(sinks, s.journal)
	}
	if s.index != nil {
		sinks = append(sinks, s.index)
	}
	if len(sinks) > 0 {
		level.SetHistoryLogger(sinks)
	}
	s.level = level
	return s
}

func (s *session) close() {
	if err := s.loader.Release(s.level); err != nil {
		s.logger.Printf("close level: %v", err)
	}
	if s.backup != nil {
		if err := s.backup.Close(); err != nil {
			s.logger.Printf("backup meta: %v", err)
		}
		if files := s.backup.Files(); len(files) > 0 && s.mirror != nil {
			for _, f := range files {
				s.mirror.Enqueue(filepath.Join(s.backup.Dir(), filepath.FromSlash(f)))
			}
			s.mirror.Enqueue(filepath.Join(s.backup.Dir(), "meta.json"))
		}
	}
	if s.mirror != nil {
		s.mirror.Close()
		st := s.mirror.Stats()
		s.logger.Printf("offsite uploads ok=%d failed=%d dropped=%d", st.UploadSuccessTotal, st.UploadFailTotal, st.DroppedTotal)
	}
	if s.journal != nil {
		_ = s.journal.Close()
	}
	if s.index != nil {
		if st := s.index.Stats(); st.DropRegionTotal+st.DropCompactionTotal+st.DropHistoryTotal > 0 {
			s.logger.Printf("index dropped rows: regions=%d compactions=%d history=%d",
				st.DropRegionTotal, st.DropCompactionTotal, st.DropHistoryTotal)
		}
		_ = s.index.Close()
	}
}

func (s *session) dimension(id string) *java.Dimension {
	d, err := s.level.Dimension(id)
	if err != nil {
		fatal("dimension", err)
	}
	return d
}

// historyLoggers fans one history entry out to several sinks.
type historyLoggers []java.HistoryLogger

func (h historyLoggers) WriteHistory(e java.HistoryEntry) error {
	var errs []error
	for _, l := range h {
		if err := l.WriteHistory(e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func compactSummary(st anvil.CompactStats) map[string]any {
	return map[string]any{
		"queued":          st.Queued,
		"compacted":       st.Compacted,
		"removed":         st.Removed,
		"failed":          st.Failed,
		"bytes_reclaimed": st.BytesReclaimed,
	}
}
