package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/xiaot623/gogo/uxrunner/internal/domain"
	"github.com/xiaot623/gogo/uxrunner/internal/oracle"
)

// CachedRun is the checkpoint needed to resume an interrupted run.
type CachedRun struct {
	Run             *domain.Run    `json:"run"`
	History         oracle.History `json:"history"`
	ExecID          string         `json:"exec_id"`
	Iteration       int            `json:"iteration"`
	ScreenshotCount int            `json:"screenshot_count"`
	SavedAt         time.Time      `json:"saved_at"`
}

// RunCache holds in-flight run state keyed by run id. Saves overwrite wholesale.
type RunCache interface {
	// Load returns nil, nil when nothing is cached for runID.
	Load(ctx context.Context, runID string) (*CachedRun, error)
	Save(ctx context.Context, c *CachedRun) error
	Clear(ctx context.Context, runID string) error
}

var safeName = regexp.MustCompile(`[^A-Za-z0-9_.-]`)

// FileCache stores one JSON file per run in a directory.
type FileCache struct {
	dir string
}

var _ RunCache = (*FileCache)(nil)

// NewFileCache creates the directory if needed.
func NewFileCache(dir string) (*FileCache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create run cache dir: %w", err)
	}
	return &FileCache{dir: dir}, nil
}

func (c *FileCache) path(runID string) string {
	return filepath.Join(c.dir, safeName.ReplaceAllString(runID, "_")+".json")
}

// Load implements RunCache.
func (c *FileCache) Load(_ context.Context, runID string) (*CachedRun, error) {
	data, err := os.ReadFile(c.path(runID))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read run cache: %w", err)
	}
	var out CachedRun
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode run cache: %w", err)
	}
	return &out, nil
}

// Save implements RunCache. The file is replaced atomically.
func (c *FileCache) Save(_ context.Context, cr *CachedRun) error {
	if cr == nil || cr.Run == nil {
		return fmt.Errorf("run cache: nothing to save")
	}
	data, err := json.Marshal(cr)
	if err != nil {
		return fmt.Errorf("encode run cache: %w", err)
	}
	tmp, err := os.CreateTemp(c.dir, ".run-*.tmp")
	if err != nil {
		return fmt.Errorf("create run cache temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write run cache: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close run cache: %w", err)
	}
	if err := os.Rename(tmp.Name(), c.path(cr.Run.RunID)); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replace run cache: %w", err)
	}
	return nil
}

// Clear implements RunCache.
func (c *FileCache) Clear(_ context.Context, runID string) error {
	err := os.Remove(c.path(runID))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("clear run cache: %w", err)
	}
	return nil
}

// MemoryCache keeps checkpoints in process. Entries are stored encoded so callers
// never share state with the cache.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string][]byte
}

var _ RunCache = (*MemoryCache)(nil)

// NewMemoryCache creates an empty cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string][]byte)}
}

// Load implements RunCache.
func (c *MemoryCache) Load(_ context.Context, runID string) (*CachedRun, error) {
	c.mu.Lock()
	data, ok := c.entries[runID]
	c.mu.Unlock()
	if !ok {
		return nil, nil
	}
	var out CachedRun
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Save implements RunCache.
func (c *MemoryCache) Save(_ context.Context, cr *CachedRun) error {
	if cr == nil || cr.Run == nil {
		return fmt.Errorf("run cache: nothing to save")
	}
	data, err := json.Marshal(cr)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.entries[cr.Run.RunID] = data
	c.mu.Unlock()
	return nil
}

// Clear implements RunCache.
func (c *MemoryCache) Clear(_ context.Context, runID string) error {
	c.mu.Lock()
	delete(c.entries, runID)
	c.mu.Unlock()
	return nil
}
