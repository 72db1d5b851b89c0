package offsite

import (
	"context"
	"fmt"
	"log"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type Stats struct {
	QueueDepth         int
	QueueCapacity      int
	EnqueuedTotal      uint64
	DroppedTotal       uint64
	UploadSuccessTotal uint64
	UploadFailTotal    uint64
}

// Mirror uploads files below baseDir with a bounded worker pool. Object keys
// are prefix plus the path relative to baseDir; files outside baseDir use
// their base name.
type Mirror struct {
	client  *Client
	baseDir string
	prefix  string
	logger  *log.Logger

	jobs        chan string
	enqueueWait time.Duration
	wg          sync.WaitGroup

	enqueuedTotal      atomic.Uint64
	droppedTotal       atomic.Uint64
	uploadSuccessTotal atomic.Uint64
	uploadFailTotal    atomic.Uint64
}

func NewMirror(client *Client, baseDir, prefix string, workers int, logger *log.Logger) *Mirror {
	if workers <= 0 {
		workers = 1
	}
	m := &Mirror{
		client:      client,
		baseDir:     baseDir,
		prefix:      strings.Trim(strings.ReplaceAll(prefix, "\\", "/"), "/"),
		logger:      logger,
		jobs:        make(chan string, 1024),
		enqueueWait: 5 * time.Second,
	}
	for i := 0; i < workers; i++ {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			for localPath := range m.jobs {
				m.uploadOne(localPath)
			}
		}()
	}
	return m
}

func (m *Mirror) Enqueue(localPath string) {
	if m == nil || m.client == nil {
		return
	}
	m.enqueuedTotal.Add(1)
	timer := time.NewTimer(m.enqueueWait)
	defer timer.Stop()
	select {
	case m.jobs <- localPath:
	case <-timer.C:
		m.droppedTotal.Add(1)
		m.printf("offsite drop local=%s reason=queue_saturated", localPath)
	}
}

// Close waits for queued uploads to finish.
func (m *Mirror) Close() {
	if m == nil {
		return
	}
	close(m.jobs)
	m.wg.Wait()
}

func (m *Mirror) Stats() Stats {
	if m == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:         len(m.jobs),
		QueueCapacity:      cap(m.jobs),
		EnqueuedTotal:      m.enqueuedTotal.Load(),
		DroppedTotal:       m.droppedTotal.Load(),
		UploadSuccessTotal: m.uploadSuccessTotal.Load(),
		UploadFailTotal:    m.uploadFailTotal.Load(),
	}
}

func (m *Mirror) uploadOne(localPath string) {
	key, err := m.objectKey(localPath)
	if err != nil {
		m.uploadFailTotal.Add(1)
		m.printf("offsite skip local=%s err=%v", localPath, err)
		return
	}
	if err := m.uploadWithRetry(key, localPath); err != nil {
		m.uploadFailTotal.Add(1)
		m.printf("offsite upload failed key=%s local=%s err=%v", key, localPath, err)
		return
	}
	m.uploadSuccessTotal.Add(1)
	m.printf("offsite uploaded key=%s", key)
}

func (m *Mirror) uploadWithRetry(key, localPath string) error {
	const maxAttempts = 4
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		err := m.client.PutFile(ctx, key, localPath)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err
		if attempt < maxAttempts {
			time.Sleep(time.Duration(attempt*attempt) * 200 * time.Millisecond)
		}
	}
	return lastErr
}

func (m *Mirror) objectKey(localPath string) (string, error) {
	if localPath == "" {
		return "", fmt.Errorf("empty local path")
	}
	if _, err := os.Stat(localPath); err != nil {
		return "", err
	}
	absLocal, err := filepath.Abs(localPath)
	if err != nil {
		return "", err
	}
	key := filepath.Base(absLocal)
	if m.baseDir != "" {
		absBase, err := filepath.Abs(m.baseDir)
		if err != nil {
			return "", err
		}
		if rel, err := filepath.Rel(absBase, absLocal); err == nil {
			rel = filepath.ToSlash(rel)
			if rel != "." && rel != ".." && !strings.HasPrefix(rel, "../") {
				key = rel
			}
		}
	}
	if m.prefix != "" {
		key = path.Join(m.prefix, key)
	}
	return key, nil
}

func (m *Mirror) printf(format string, args ...any) {
	if m.logger != nil {
		m.logger.Printf(format, args...)
	}
}
