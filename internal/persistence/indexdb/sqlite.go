package indexdb

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"voxelstore.ai/internal/java"
	"voxelstore.ai/internal/java/anvil"
)

// SQLiteIndex keeps a queryable catalogue of region files, chunk entries,
// compactions and history operations. The region files stay the source of
// truth; rows are written by one goroutine and dropped if it falls behind.
type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropRegion     atomic.Uint64
	dropCompaction atomic.Uint64
	dropHistory    atomic.Uint64
}

type reqKind int

const (
	reqRegion reqKind = iota + 1
	reqCompaction
	reqHistory
)

type req struct {
	kind reqKind

	region     RegionScan
	compaction compactionRow
	history    java.HistoryEntry
}

// RegionScan is the header view of one region file.
type RegionScan struct {
	Dimension string
	Layer     string
	RX, RZ    int64
	Stats     anvil.Stats
	Entries   []anvil.Entry
}

type compactionRow struct {
	Result     anvil.CompactResult
	FinishedAt string
}

// QueueStats reports writer queue pressure.
type QueueStats struct {
	QueueDepth          int
	QueueCapacity       int
	DropRegionTotal     uint64
	DropCompactionTotal uint64
	DropHistoryTotal    uint64
}

const queueSize = 65536

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		// A full level scan queues one request per region file.
		ch: make(chan req, queueSize),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS regions (
			path TEXT PRIMARY KEY,
			dimension TEXT NOT NULL,
			layer TEXT NOT NULL,
			rx INTEGER NOT NULL,
			rz INTEGER NOT NULL,
			entries INTEGER NOT NULL,
			external INTEGER NOT NULL,
			corrupt INTEGER NOT NULL,
			used_sectors INTEGER NOT NULL,
			file_bytes INTEGER NOT NULL,
			scanned_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_regions_dim_layer ON regions(dimension, layer);`,
		`CREATE TABLE IF NOT EXISTS chunks (
			path TEXT NOT NULL,
			cx INTEGER NOT NULL,
			cz INTEGER NOT NULL,
			sector_offset INTEGER NOT NULL,
			sectors INTEGER NOT NULL,
			timestamp INTEGER NOT NULL,
			compression INTEGER NOT NULL,
			external INTEGER NOT NULL,
			corrupt INTEGER NOT NULL,
			PRIMARY KEY (path, cx, cz)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_chunks_pos ON chunks(cx, cz);`,
		`CREATE TABLE IF NOT EXISTS compactions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			path TEXT NOT NULL,
			bytes_before INTEGER NOT NULL,
			bytes_after INTEGER NOT NULL,
			entries INTEGER NOT NULL,
			removed INTEGER NOT NULL,
			duration_ms INTEGER NOT NULL,
			finished_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_compactions_path ON compactions(path);`,
		`CREATE TABLE IF NOT EXISTS history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			time TEXT NOT NULL,
			level TEXT NOT NULL,
			op TEXT NOT NULL,
			restore_point TEXT,
			undo_count INTEGER NOT NULL,
			redo_count INTEGER NOT NULL,
			chunks INTEGER NOT NULL,
			bytes INTEGER NOT NULL
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *SQLiteIndex) Stats() QueueStats {
	if s == nil {
		return QueueStats{}
	}
	return QueueStats{
		QueueDepth:          len(s.ch),
		QueueCapacity:       cap(s.ch),
		DropRegionTotal:     s.dropRegion.Load(),
		DropCompactionTotal: s.dropCompaction.Load(),
		DropHistoryTotal:    s.dropHistory.Load(),
	}
}

// RecordRegion replaces the rows of one region file. A scan with no entries
// removes the region.
func (s *SQLiteIndex) RecordRegion(scan RegionScan) {
	if s == nil || s.closed.Load() || scan.Stats.Path == "" {
		return
	}
	select {
	case s.ch <- req{kind: reqRegion, region: scan}:
	default:
		s.dropRegion.Add(1)
	}
}

// RecordCompaction has the signature of anvil.Options.AfterCompact.
func (s *SQLiteIndex) RecordCompaction(res anvil.CompactResult) {
	if s == nil || s.closed.Load() || res.Path == "" {
		return
	}
	r := compactionRow{Result: res, FinishedAt: time.Now().UTC().Format(time.RFC3339Nano)}
	select {
	case s.ch <- req{kind: reqCompaction, compaction: r}:
	default:
		s.dropCompaction.Add(1)
	}
}

// WriteHistory lets the index act as a java.HistoryLogger.
func (s *SQLiteIndex) WriteHistory(e java.HistoryEntry) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	select {
	case s.ch <- req{kind: reqHistory, history: e}:
	default:
		s.dropHistory.Add(1)
	}
	return nil
}

// SetMeta writes meta rows synchronously.
func (s *SQLiteIndex) SetMeta(kv map[string]string) error {
	if s == nil {
		return nil
	}
	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1')`); err != nil {
		return err
	}
	stmt, err := tx.Prepare(`INSERT OR REPLACE INTO meta(key,value) VALUES(?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for k, v := range kv {
		if k == "" {
			continue
		}
		if _, err := stmt.Exec(k, v); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertRegion, _ := s.db.Prepare(`INSERT OR REPLACE INTO regions(path,dimension,layer,rx,rz,entries,external,corrupt,used_sectors,file_bytes,scanned_at) VALUES(?,?,?,?,?,?,?,?,?,?,?)`)
	deleteRegion, _ := s.db.Prepare(`DELETE FROM regions WHERE path=?`)
	deleteChunks, _ := s.db.Prepare(`DELETE FROM chunks WHERE path=?`)
	insertChunk, _ := s.db.Prepare(`INSERT OR REPLACE INTO chunks(path,cx,cz,sector_offset,sectors,timestamp,compression,external,corrupt) VALUES(?,?,?,?,?,?,?,?,?)`)
	insertCompaction, _ := s.db.Prepare(`INSERT INTO compactions(path,bytes_before,bytes_after,entries,removed,duration_ms,finished_at) VALUES(?,?,?,?,?,?,?)`)
	insertHistory, _ := s.db.Prepare(`INSERT INTO history(time,level,op,restore_point,undo_count,redo_count,chunks,bytes) VALUES(?,?,?,?,?,?,?,?)`)
	defer func() {
		for _, st := range []*sql.Stmt{insertRegion, deleteRegion, deleteChunks, insertChunk, insertCompaction, insertHistory} {
			if st != nil {
				_ = st.Close()
			}
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 2000
		commitMaxWait = 2 * time.Second
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	flushIfNeeded := func() {
		if tx == nil {
			return
		}
		if opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait {
			commit()
		}
	}
	exec := func(st *sql.Stmt, args ...any) bool {
		if st == nil || tx == nil {
			return false
		}
		if _, err := tx.Stmt(st).Exec(args...); err != nil {
			rollback()
			return false
		}
		opCount++
		return true
	}

	for r := range s.ch {
		begin()
		if tx == nil {
			continue
		}
		switch r.kind {
		case reqRegion:
			sc := r.region
			path := sc.Stats.Path
			if !exec(deleteChunks, path) {
				continue
			}
			if len(sc.Entries) == 0 {
				exec(deleteRegion, path)
				break
			}
			if !exec(insertRegion,
				path,
				sc.Dimension,
				sc.Layer,
				sc.RX, sc.RZ,
				sc.Stats.Entries,
				sc.Stats.External,
				sc.Stats.Corrupt,
				sc.Stats.UsedSectors,
				sc.Stats.FileBytes,
				time.Now().UTC().Format(time.RFC3339Nano),
			) {
				continue
			}
			for _, e := range sc.Entries {
				if !exec(insertChunk,
					path,
					sc.RX*32+int64(e.X),
					sc.RZ*32+int64(e.Z),
					e.Offset,
					e.Sectors,
					int64(e.Timestamp),
					int(e.Scheme),
					boolInt(e.External),
					boolInt(e.Corrupt),
				) {
					break
				}
			}

		case reqCompaction:
			c := r.compaction
			res := c.Result
			if !exec(insertCompaction,
				res.Path,
				res.BytesBefore,
				res.BytesAfter,
				res.Entries,
				boolInt(res.Removed),
				res.Duration.Milliseconds(),
				c.FinishedAt,
			) {
				continue
			}
			if res.Removed {
				if exec(deleteChunks, res.Path) {
					exec(deleteRegion, res.Path)
				}
			}

		case reqHistory:
			h := r.history
			var point any
			if h.RestorePoint != "" {
				point = h.RestorePoint
			}
			exec(insertHistory,
				h.Time.UTC().Format(time.RFC3339Nano),
				h.Level,
				h.Op,
				point,
				h.UndoCount,
				h.RedoCount,
				h.Chunks,
				h.Bytes,
			)
		}
		flushIfNeeded()
	}

	commit()
}
