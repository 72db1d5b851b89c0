package archive

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

type BackupMeta struct {
	Level     string   `json:"level"`
	CreatedAt string   `json:"created_at"`
	Files     []string `json:"files"`
}

// RegionBackup copies region files aside before they are rewritten. One
// backup lives in backupRoot/compact_<UTC stamp>/ and mirrors the level layout.
type RegionBackup struct {
	levelDir string
	dir      string
	created  time.Time

	mu    sync.Mutex
	files []string
}

// NewRegionBackup does not touch the disk until the first file is copied.
// A relative backupRoot is resolved against levelDir.
func NewRegionBackup(levelDir, backupRoot string, now time.Time) *RegionBackup {
	if !filepath.IsAbs(backupRoot) {
		backupRoot = filepath.Join(levelDir, backupRoot)
	}
	now = now.UTC()
	return &RegionBackup{
		levelDir: levelDir,
		dir:      filepath.Join(backupRoot, "compact_"+now.Format("20060102T150405Z")),
		created:  now,
	}
}

func (b *RegionBackup) Dir() string { return b.dir }

// BeforeCompact has the signature of anvil.Options.BeforeCompact.
func (b *RegionBackup) BeforeCompact(path string) error {
	rel, err := filepath.Rel(b.levelDir, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		rel = filepath.Base(path)
	}
	dst := filepath.Join(b.dir, rel)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	if err := copyFile(path, dst); err != nil {
		return fmt.Errorf("backup %s: %w", rel, err)
	}
	b.mu.Lock()
	b.files = append(b.files, filepath.ToSlash(rel))
	b.mu.Unlock()
	return nil
}

func (b *RegionBackup) Files() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.files...)
}

// Close writes meta.json. Nothing is written when no file was copied.
func (b *RegionBackup) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.files) == 0 {
		return nil
	}
	meta := BackupMeta{
		Level:     b.levelDir,
		CreatedAt: b.created.Format(time.RFC3339Nano),
		Files:     b.files,
	}
	out, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(b.dir, "meta.json"), out, 0o644)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() { _ = out.Close() }()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
