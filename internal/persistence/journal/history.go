package journal

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"

	"voxelstore.ai/internal/java"
)

const (
	historyDir    = "history"
	historyPrefix = "history"
)

// Record is one journal line. Session separates runs that share a directory.
type Record struct {
	Session string `json:"session"`
	java.HistoryEntry
}

// HistoryJournal writes level history operations (compressed).
type HistoryJournal struct {
	w       *JSONLZstdWriter
	session string
}

// NewHistoryJournal journals into dir/history. A relative dir is resolved
// against levelDir.
func NewHistoryJournal(levelDir, dir string) *HistoryJournal {
	if dir == "" {
		dir = "journal"
	}
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(levelDir, dir)
	}
	return &HistoryJournal{
		w:       NewJSONLZstdWriter(filepath.Join(dir, historyDir), historyPrefix),
		session: uuid.NewString(),
	}
}

func (j *HistoryJournal) Session() string { return j.session }

func (j *HistoryJournal) WriteHistory(e java.HistoryEntry) error {
	return j.w.Write(Record{Session: j.session, HistoryEntry: e})
}

func (j *HistoryJournal) Close() error { return j.w.Close() }

// ReadHistory returns every record under dir/history in file order.
// A missing directory yields no records.
func ReadHistory(dir string) ([]Record, error) {
	files, err := filepath.Glob(filepath.Join(dir, historyDir, historyPrefix+"-*.jsonl.zst"))
	if err != nil {
		return nil, err
	}
	// Hour stamps sort lexically.
	sort.Strings(files)
	var out []Record
	for _, path := range files {
		recs, err := readFile(path)
		if err != nil {
			return out, fmt.Errorf("read %s: %w", filepath.Base(path), err)
		}
		out = append(out, recs...)
	}
	return out, nil
}

func readFile(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer dec.Close()

	var out []Record
	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 64*1024), 4<<20)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var r Record
		if err := json.Unmarshal([]byte(line), &r); err != nil {
			return out, err
		}
		out = append(out, r)
	}
	return out, sc.Err()
}
