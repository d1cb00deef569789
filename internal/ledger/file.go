package ledger

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

const fileHistoryLimit = 512

// FileRecorder appends entries to a local JSONL file. Reads scan the file on
// demand, so opening it for a write does not load any history.
type FileRecorder struct {
	mu   sync.Mutex
	path string
}

// NewFileRecorder prepares the directory for the ledger file at path.
func NewFileRecorder(path string) (*FileRecorder, error) {
	if path == "" {
		path = "submissions.jsonl"
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("创建数据目录失败: %w", err)
	}
	return &FileRecorder{path: path}, nil
}

// Name implements Recorder.
func (r *FileRecorder) Name() string { return "file" }

// Path returns the ledger file location.
func (r *FileRecorder) Path() string { return r.path }

// Record appends entry as one JSON line.
func (r *FileRecorder) Record(_ context.Context, entry Entry) error {
	encoded, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("序列化提交记录失败: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	file, err := os.OpenFile(r.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("打开提交记录失败: %w", err)
	}
	defer file.Close()
	if _, err := file.Write(append(encoded, '\n')); err != nil {
		return fmt.Errorf("写入提交记录失败: %w", err)
	}
	return nil
}

// ListLatest implements Reader. It returns at most limit entries (512 when
// limit <= 0), newest first. Lines that do not decode are skipped.
func (r *FileRecorder) ListLatest(_ context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = fileHistoryLimit
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	file, err := os.Open(r.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("读取提交记录失败: %w", err)
	}
	defer file.Close()

	// ring keeps the last limit entries in file order.
	ring := make([]Entry, 0, limit)
	next := 0
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		var entry Entry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			continue
		}
		if len(ring) < limit {
			ring = append(ring, entry)
			continue
		}
		ring[next] = entry
		next = (next + 1) % limit
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("解析提交记录失败: %w", err)
	}

	latest := make([]Entry, 0, len(ring))
	for i := len(ring) - 1; i >= 0; i-- {
		latest = append(latest, ring[(next+i)%len(ring)])
	}
	return latest, nil
}

// Close implements Recorder.
func (r *FileRecorder) Close() error { return nil }
