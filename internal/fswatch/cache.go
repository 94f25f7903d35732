// Package fswatch maintains a live modification-time and
// mention-frequency cache over a workspace, used by internal/context to
// rank which recently-mentioned files belong in fresh context (spec.md
// §4.4). The watch loop is grounded on the donor's skill-reload watcher
// (internal/skills/manager.go's StartWatching/watchLoop).
package fswatch

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Cache tracks, per absolute path, how many times a file has been
// mentioned and its last-known mtime.
type Cache struct {
	mu      sync.RWMutex
	root    string
	mtimes  map[string]time.Time
	mentions map[string]int

	watcher *fsnotify.Watcher
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a cache rooted at workspace. It does not start watching
// until Start is called.
func New(workspace string) *Cache {
	return &Cache{
		root:     workspace,
		mtimes:   make(map[string]time.Time),
		mentions: make(map[string]int),
	}
}

// Start begins an fsnotify watch over the workspace root, refreshing
// mtimes on any create/write/rename/remove event. It is a no-op if the
// root doesn't exist (e.g. in tests with no workspace configured).
func (c *Cache) Start(ctx context.Context) error {
	if c.root == "" {
		return nil
	}
	if _, err := os.Stat(c.root); err != nil {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(c.root); err != nil {
		watcher.Close()
		return err
	}

	watchCtx, cancel := context.WithCancel(ctx)
	c.watcher = watcher
	c.cancel = cancel

	c.wg.Add(1)
	go c.loop(watchCtx)
	return nil
}

// Close stops the watch loop, if running.
func (c *Cache) Close() error {
	if c.cancel != nil {
		c.cancel()
	}
	if c.watcher != nil {
		c.watcher.Close()
	}
	c.wg.Wait()
	return nil
}

func (c *Cache) loop(ctx context.Context) {
	defer c.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-c.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0 {
				c.refresh(event.Name)
			}
		case _, ok := <-c.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

func (c *Cache) refresh(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	info, err := os.Stat(path)
	if err != nil {
		delete(c.mtimes, path)
		return
	}
	c.mtimes[path] = info.ModTime()
}

// RecordMention increments path's mention count, absolutizing it
// against the workspace root if relative.
func (c *Cache) RecordMention(path string) {
	abs := c.absolutize(path)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mentions[abs]++
	if _, ok := c.mtimes[abs]; !ok {
		if info, err := os.Stat(abs); err == nil {
			c.mtimes[abs] = info.ModTime()
		}
	}
}

func (c *Cache) absolutize(path string) string {
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Join(c.root, path)
}

// Ranked is one scored candidate for fresh-context file inlining.
type Ranked struct {
	Path     string
	Mentions int
	ModTime  time.Time
}

// TopMentioned returns up to n paths, ranked by (mention_count,
// last_modified_time) descending, per spec.md §4.4's file-mention
// ranking rule.
func (c *Cache) TopMentioned(n int) []Ranked {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ranked := make([]Ranked, 0, len(c.mentions))
	for path, count := range c.mentions {
		ranked = append(ranked, Ranked{Path: path, Mentions: count, ModTime: c.mtimes[path]})
	}
	for i := 1; i < len(ranked); i++ {
		for j := i; j > 0; j-- {
			if less(ranked[j], ranked[j-1]) {
				ranked[j], ranked[j-1] = ranked[j-1], ranked[j]
			} else {
				break
			}
		}
	}
	if n > 0 && len(ranked) > n {
		ranked = ranked[:n]
	}
	return ranked
}

// less reports whether a ranks ahead of b: higher mention count first,
// then more recent modification time.
func less(a, b Ranked) bool {
	if a.Mentions != b.Mentions {
		return a.Mentions > b.Mentions
	}
	return a.ModTime.After(b.ModTime)
}

// DisplayPath renders path relative to cwd when possible, absolute
// otherwise — spec.md §4.4: "absolute paths from outside the workspace
// are shown absolute, otherwise relative to current directory."
func DisplayPath(path, cwd string) string {
	rel, err := filepath.Rel(cwd, path)
	if err != nil || rel == ".." || len(rel) >= 2 && rel[:2] == ".." {
		return path
	}
	return rel
}
