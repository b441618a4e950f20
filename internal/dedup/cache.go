// Package dedup detects duplicate agent dispatches by hashing the worker
// type and a normalized prompt prefix.
package dedup

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/avandras/agentcore/internal/logging"
)

// Status is the lifecycle state of a dispatched-task entry.
type Status string

const (
	// StatusRunning marks a dispatch that has not settled yet.
	StatusRunning Status = "running"
	// StatusCompleted marks a dispatch that finished successfully.
	StatusCompleted Status = "completed"
	// StatusFailed marks a dispatch that failed.
	StatusFailed Status = "failed"
)

// Defaults for the cache knobs.
const (
	// DefaultTTL is how long entries stay fresh.
	DefaultTTL = 5 * time.Minute
	// DefaultCapacity bounds the number of retained entries.
	DefaultCapacity = 200
	// DefaultMaxResultLen caps stored results.
	DefaultMaxResultLen = 2000
	// promptPrefixLen is how much of the normalized prompt feeds the hash.
	promptPrefixLen = 200
	// previewLen is how much of the prompt is kept for inspection.
	previewLen = 80
)

// DispatchedTask is one cache entry keyed by its hash.
type DispatchedTask struct {
	// Hash identifies the (workerType, prompt-prefix) pair.
	Hash string
	// WorkerType is the role the task was dispatched under.
	WorkerType string
	// PromptPreview is a short prefix of the original prompt.
	PromptPreview string
	// DispatchTime is when the entry was registered.
	DispatchTime time.Time
	// Status is the entry's lifecycle state.
	Status Status
	// Result holds the length-capped output for completed entries.
	Result string
}

// Check is the outcome of a duplicate probe.
type Check struct {
	// Duplicate is true when a fresh matching entry exists.
	Duplicate bool
	// InFlight is true when the matching entry is still running.
	InFlight bool
	// CachedResult holds the completed entry's result, when available.
	CachedResult string
	// Hash is the computed hash for the probe, usable with RegisterTask's
	// companion methods.
	Hash string
}

var whitespaceRe = regexp.MustCompile(`\s+`)

// Cache detects in-flight and recently-completed duplicate dispatches.
type Cache struct {
	mu           sync.Mutex
	entries      map[string]*DispatchedTask
	ttl          time.Duration
	capacity     int
	maxResultLen int
	logger       *logging.DebugLogger
	// now is swappable for tests.
	now func() time.Time
}

// Option customizes a Cache.
type Option func(*Cache)

// WithTTL overrides the entry freshness window.
func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithCapacity overrides the retained-entry bound.
func WithCapacity(capacity int) Option {
	return func(c *Cache) {
		if capacity > 0 {
			c.capacity = capacity
		}
	}
}

// WithLogger sets the debug logger.
func WithLogger(l *logging.DebugLogger) Option {
	return func(c *Cache) { c.logger = l }
}

// NewCache creates a Cache with default knobs.
func NewCache(opts ...Option) *Cache {
	c := &Cache{
		entries:      make(map[string]*DispatchedTask),
		ttl:          DefaultTTL,
		capacity:     DefaultCapacity,
		maxResultLen: DefaultMaxResultLen,
		logger:       logging.NopLogger(),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Hash computes the dedup key for a worker type and prompt: the prompt is
// lower-cased, whitespace-collapsed, and truncated to a 200-character
// prefix before hashing.
func Hash(workerType, prompt string) string {
	norm := strings.TrimSpace(whitespaceRe.ReplaceAllString(strings.ToLower(prompt), " "))
	if len(norm) > promptPrefixLen {
		norm = norm[:promptPrefixLen]
	}
	sum := sha256.Sum256([]byte(workerType + ":" + norm))
	return hex.EncodeToString(sum[:])
}

// IsDuplicate probes for a fresh matching entry. A running entry younger
// than the TTL reports an in-flight duplicate; a completed entry returns
// the cached result; a failed entry is evicted and treated as
// non-duplicate so retries always proceed.
func (c *Cache) IsDuplicate(workerType, prompt string) Check {
	hash := Hash(workerType, prompt)

	c.mu.Lock()
	defer c.mu.Unlock()

	return c.checkLocked(hash)
}

// CheckAndRegister probes and, when no fresh entry matches, inserts the
// running placeholder in the same critical section. Concurrent identical
// dispatches therefore see exactly one non-duplicate outcome.
func (c *Cache) CheckAndRegister(workerType, prompt string) Check {
	hash := Hash(workerType, prompt)

	c.mu.Lock()
	defer c.mu.Unlock()

	check := c.checkLocked(hash)
	if check.Duplicate {
		return check
	}
	c.registerLocked(hash, workerType, prompt)
	return check
}

// checkLocked is the duplicate probe. Caller must hold c.mu.
func (c *Cache) checkLocked(hash string) Check {
	entry, ok := c.entries[hash]
	if !ok {
		return Check{Hash: hash}
	}

	if entry.Status == StatusFailed {
		delete(c.entries, hash)
		return Check{Hash: hash}
	}

	if c.now().Sub(entry.DispatchTime) > c.ttl {
		delete(c.entries, hash)
		return Check{Hash: hash}
	}

	switch entry.Status {
	case StatusRunning:
		c.logger.Log("[dedup] in-flight duplicate for %s (%s)", entry.WorkerType, entry.PromptPreview)
		return Check{Duplicate: true, InFlight: true, Hash: hash}
	case StatusCompleted:
		c.logger.Log("[dedup] cache hit for %s (%s)", entry.WorkerType, entry.PromptPreview)
		return Check{Duplicate: true, CachedResult: entry.Result, Hash: hash}
	default:
		return Check{Hash: hash}
	}
}

// RegisterTask inserts a running placeholder for the dispatch and returns
// its hash. Triggers capacity cleanup.
func (c *Cache) RegisterTask(workerType, prompt string) string {
	hash := Hash(workerType, prompt)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.registerLocked(hash, workerType, prompt)
	return hash
}

// registerLocked inserts the running placeholder and triggers capacity
// cleanup. Caller must hold c.mu.
func (c *Cache) registerLocked(hash, workerType, prompt string) {
	preview := strings.TrimSpace(prompt)
	if len(preview) > previewLen {
		preview = preview[:previewLen]
	}

	c.entries[hash] = &DispatchedTask{
		Hash:          hash,
		WorkerType:    workerType,
		PromptPreview: preview,
		DispatchTime:  c.now(),
		Status:        StatusRunning,
	}
	c.cleanupLocked()
}

// CompleteTask marks the entry completed and stores a length-capped result.
func (c *Cache) CompleteTask(hash, result string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[hash]
	if !ok {
		return
	}
	if len(result) > c.maxResultLen {
		result = result[:c.maxResultLen]
	}
	entry.Status = StatusCompleted
	entry.Result = result
}

// FailTask marks the entry failed so subsequent probes allow a retry.
func (c *Cache) FailTask(hash string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.entries[hash]; ok {
		entry.Status = StatusFailed
	}
}

// Size returns the number of retained entries.
func (c *Cache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Clear removes every entry.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*DispatchedTask)
}

// cleanupLocked enforces the capacity bound: expired entries are removed
// first, then the oldest by dispatch time. Caller must hold c.mu.
func (c *Cache) cleanupLocked() {
	if len(c.entries) <= c.capacity {
		return
	}

	now := c.now()
	for hash, entry := range c.entries {
		if now.Sub(entry.DispatchTime) > c.ttl {
			delete(c.entries, hash)
		}
	}

	if len(c.entries) <= c.capacity {
		return
	}

	remaining := make([]*DispatchedTask, 0, len(c.entries))
	for _, entry := range c.entries {
		remaining = append(remaining, entry)
	}
	sort.Slice(remaining, func(i, j int) bool {
		return remaining[i].DispatchTime.Before(remaining[j].DispatchTime)
	})

	for _, entry := range remaining[:len(remaining)-c.capacity] {
		delete(c.entries, entry.Hash)
	}
}
