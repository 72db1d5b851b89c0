package main

import (
	"database/sql"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	_ "modernc.org/sqlite"
)

func indexCmd(args []string) {
	fs := flag.NewFlagSet("index", flag.ExitOnError)
	c := addCommon(fs)
	_ = fs.Parse(args)

	s := openSession(c, openOpts{index: true})
	defer s.close()
	if s.index == nil {
		fmt.Fprintln(os.Stderr, "index.path is not configured")
		os.Exit(2)
	}
	n, err := scanLevel(s)
	if err != nil {
		fatal("index", err)
	}
	fmt.Printf("indexed %d region files\n", n)
}

// scanLevel queues every region file of every dimension and stamps the
// level metadata.
func scanLevel(s *session) (int, error) {
	err := s.index.SetMeta(map[string]string{
		"level":        s.level.Path(),
		"level_name":   s.level.LevelName(),
		"data_version": strconv.FormatInt(s.level.DataVersion(), 10),
	})
	if err != nil {
		return 0, err
	}
	ids, err := s.level.DimensionIDs()
	if err != nil {
		return 0, err
	}
	total := 0
	for _, id := range ids {
		d := s.dimension(id)
		n, err := s.index.ScanDimension(d.Raw())
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func dbCmd(args []string) {
	fs := flag.NewFlagSet("db", flag.ExitOnError)
	dbPath := fs.String("db", "", "sqlite index path (required)")
	limit := fs.Int("limit", 20, "result limit")
	cx := fs.Int64("cx", 0, "chunk x (chunks)")
	cz := fs.Int64("cz", 0, "chunk z (chunks)")
	_ = fs.Parse(args)

	q := "regions"
	if fs.NArg() > 0 {
		q = strings.TrimSpace(fs.Arg(0))
	}
	if strings.TrimSpace(*dbPath) == "" {
		fmt.Fprintln(os.Stderr, "missing -db")
		os.Exit(2)
	}
	if *limit <= 0 {
		*limit = 20
	}

	db, err := sql.Open("sqlite", *dbPath)
	if err != nil {
		fatal("open", err)
	}
	defer db.Close()

	switch q {
	case "regions":
		rows, err := db.Query(`SELECT path,dimension,layer,rx,rz,entries,external,corrupt,used_sectors,file_bytes,scanned_at FROM regions ORDER BY dimension,layer,rx,rz LIMIT ?`, *limit)
		if err != nil {
			fatal("query", err)
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				Path        string `json:"path"`
				Dimension   string `json:"dimension"`
				Layer       string `json:"layer"`
				RX          int64  `json:"rx"`
				RZ          int64  `json:"rz"`
				Entries     int    `json:"entries"`
				External    int    `json:"external"`
				Corrupt     int    `json:"corrupt"`
				UsedSectors int64  `json:"used_sectors"`
				FileBytes   int64  `json:"file_bytes"`
				ScannedAt   string `json:"scanned_at"`
			}
			if err := rows.Scan(&r.Path, &r.Dimension, &r.Layer, &r.RX, &r.RZ, &r.Entries, &r.External, &r.Corrupt, &r.UsedSectors, &r.FileBytes, &r.ScannedAt); err != nil {
				fatal("scan", err)
			}
			printJSON(r)
		}
		if err := rows.Err(); err != nil {
			fatal("rows", err)
		}

	case "chunks":
		rows, err := db.Query(`SELECT path,cx,cz,sector_offset,sectors,timestamp,compression,external,corrupt FROM chunks WHERE cx=? AND cz=? LIMIT ?`, *cx, *cz, *limit)
		if err != nil {
			fatal("query", err)
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				Path        string `json:"path"`
				CX          int64  `json:"cx"`
				CZ          int64  `json:"cz"`
				Offset      int64  `json:"sector_offset"`
				Sectors     int64  `json:"sectors"`
				Timestamp   int64  `json:"timestamp"`
				Compression int    `json:"compression"`
				External    int    `json:"external"`
				Corrupt     int    `json:"corrupt"`
			}
			if err := rows.Scan(&r.Path, &r.CX, &r.CZ, &r.Offset, &r.Sectors, &r.Timestamp, &r.Compression, &r.External, &r.Corrupt); err != nil {
				fatal("scan", err)
			}
			printJSON(r)
		}
		if err := rows.Err(); err != nil {
			fatal("rows", err)
		}

	case "compactions":
		rows, err := db.Query(`SELECT path,bytes_before,bytes_after,entries,removed,duration_ms,finished_at FROM compactions ORDER BY id DESC LIMIT ?`, *limit)
		if err != nil {
			fatal("query", err)
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				Path        string `json:"path"`
				BytesBefore int64  `json:"bytes_before"`
				BytesAfter  int64  `json:"bytes_after"`
				Entries     int    `json:"entries"`
				Removed     int    `json:"removed"`
				DurationMS  int64  `json:"duration_ms"`
				FinishedAt  string `json:"finished_at"`
			}
			if err := rows.Scan(&r.Path, &r.BytesBefore, &r.BytesAfter, &r.Entries, &r.Removed, &r.DurationMS, &r.FinishedAt); err != nil {
				fatal("scan", err)
			}
			printJSON(r)
		}
		if err := rows.Err(); err != nil {
			fatal("rows", err)
		}

	case "history":
		rows, err := db.Query(`SELECT time,level,op,COALESCE(restore_point,''),undo_count,redo_count,chunks,bytes FROM history ORDER BY id DESC LIMIT ?`, *limit)
		if err != nil {
			fatal("query", err)
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				Time         string `json:"time"`
				Level        string `json:"level"`
				Op           string `json:"op"`
				RestorePoint string `json:"restore_point,omitempty"`
				UndoCount    int    `json:"undo_count"`
				RedoCount    int    `json:"redo_count"`
				Chunks       int    `json:"chunks"`
				Bytes        int64  `json:"bytes"`
			}
			if err := rows.Scan(&r.Time, &r.Level, &r.Op, &r.RestorePoint, &r.UndoCount, &r.RedoCount, &r.Chunks, &r.Bytes); err != nil {
				fatal("scan", err)
			}
			printJSON(r)
		}
		if err := rows.Err(); err != nil {
			fatal("rows", err)
		}

	default:
		fmt.Fprintf(os.Stderr, "unknown query %q (regions|chunks|compactions|history)\n", q)
		os.Exit(2)
	}
}
