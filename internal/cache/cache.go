// Package cache implements C1, the content-addressed transform cache:
// spec.md §4.1. It has two tiers — an in-memory LRU and an optional disk
// tier — and never turns a cache failure into a build failure.
package cache

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/bcentdev/soku/internal/logger"
)

// Hash is a 256-bit content hash. A collision is treated as zero-probability,
// per spec.md §4.1, which is why this is backed by a real cryptographic hash
// (crypto/sha256) rather than a fast non-cryptographic one such as xxhash:
// xxhash's birthday bound is far too weak for a cache-key invariant that the
// whole build's correctness depends on (spec.md §8 invariant 3).
type Hash [32]byte

func (h Hash) String() string { return hex.EncodeToString(h[:]) }

func ComputeContentHash(bytes []byte) Hash {
	return sha256.Sum256(bytes)
}

// CacheKey is the deterministic key described in spec.md §3: a hash of the
// absolute path, content hash, sorted conditions, sorted defines, plugin
// chain fingerprint, and target flags. Any change to any component yields a
// distinct key.
type CacheKey string

type KeyInputs struct {
	AbsPath            string
	ContentHash        Hash
	Conditions         []string
	Defines            map[string]string
	PluginChainFingerprint string
	Target             string
}

func ComputeKey(in KeyInputs) CacheKey {
	h := sha256.New()
	fmt.Fprintf(h, "path:%s\n", in.AbsPath)
	fmt.Fprintf(h, "content:%s\n", in.ContentHash)

	conditions := append([]string(nil), in.Conditions...)
	sort.Strings(conditions)
	for _, c := range conditions {
		fmt.Fprintf(h, "cond:%s\n", c)
	}

	keys := make([]string, 0, len(in.Defines))
	for k := range in.Defines {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(h, "define:%s=%s\n", k, in.Defines[k])
	}

	fmt.Fprintf(h, "plugins:%s\n", in.PluginChainFingerprint)
	fmt.Fprintf(h, "target:%s\n", in.Target)

	var sum [32]byte
	copy(sum[:], h.Sum(nil))
	return CacheKey(hex.EncodeToString(sum[:]))
}

// ImportMeta is the cache-tier mirror of graph.ImportRecord: just enough to
// recompute dependency edges and per-export usage on a cache hit, without
// cache importing graph (graph already imports cache).
type ImportMeta struct {
	Specifier string   `json:"specifier"`
	Names     []string `json:"names,omitempty"`
}

type Metadata struct {
	Exports        []string     `json:"exports"`
	Imports        []ImportMeta `json:"imports"`
	ModuleType     string       `json:"moduleType"`
	HasSideEffects bool         `json:"hasSideEffects"`
	IsEntry        bool         `json:"isEntry"`
}

type Entry struct {
	Key             CacheKey `json:"key"`
	ContentHash     Hash     `json:"-"`
	ContentHashHex  string   `json:"contentHash"`
	TransformedCode string   `json:"code"`
	SourceMap       []byte   `json:"sourceMap,omitempty"`
	Metadata        Metadata `json:"metadata"`
}

// diskEntry mirrors Entry for the length-prefixed binary encoding on disk
// (spec.md §6): a 4-byte little-endian length header followed by that many
// bytes of JSON. JSON (not a bespoke binary layout) keeps the on-disk format
// stable across patch versions without hand-maintaining a wire schema.
func encodeDisk(e Entry) ([]byte, error) {
	e.ContentHashHex = e.ContentHash.String()
	body, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 4+len(body))
	binary.LittleEndian.PutUint32(out, uint32(len(body)))
	copy(out[4:], body)
	return out, nil
}

func decodeDisk(data []byte) (Entry, error) {
	var e Entry
	if len(data) < 4 {
		return e, fmt.Errorf("cache: truncated entry")
	}
	n := binary.LittleEndian.Uint32(data)
	if int(4+n) > len(data) {
		return e, fmt.Errorf("cache: truncated entry body")
	}
	if err := json.Unmarshal(data[4:4+n], &e); err != nil {
		return e, err
	}
	if raw, err := hex.DecodeString(e.ContentHashHex); err == nil && len(raw) == 32 {
		copy(e.ContentHash[:], raw)
	}
	return e, nil
}

// Cache is the C1 content cache: an in-memory LRU tier bounded by a soft
// byte budget, plus pinned entries (entry-point modules, spec.md §5) that
// are never evicted, plus an optional per-key-file disk tier.
type Cache struct {
	log *logger.Log

	mu       sync.Mutex
	mem      *lru.Cache[CacheKey, *Entry]
	pinned   map[CacheKey]*Entry
	pinnedBy map[CacheKey]bool // keys that must never be evicted from mem either

	diskDir     string // empty disables the disk tier
	softLimit   int
	approxBytes int
}

const defaultMemEntries = 4096

// New constructs a Cache. diskDir may be empty to disable the disk tier, as
// permitted by the --no-cache CLI flag (spec.md §6).
func New(log *logger.Log, diskDir string, softLimitBytes int) (*Cache, error) {
	c := &Cache{
		log:       log,
		pinned:    make(map[CacheKey]*Entry),
		pinnedBy:  make(map[CacheKey]bool),
		diskDir:   diskDir,
		softLimit: softLimitBytes,
	}
	mem, err := lru.NewWithEvict[CacheKey, *Entry](defaultMemEntries, c.onEvict)
	if err != nil {
		return nil, err
	}
	c.mem = mem
	if diskDir != "" {
		if err := os.MkdirAll(diskDir, 0o755); err != nil {
			log.AddWarning(nil, fmt.Sprintf("cache: could not create disk cache dir %s: %v", diskDir, err))
			c.diskDir = ""
		}
	}
	return c, nil
}

func (c *Cache) onEvict(key CacheKey, entry *Entry) {
	if entry != nil {
		c.approxBytes -= len(entry.TransformedCode)
	}
}

// Pin marks a key (typically an entry module's key) as exempt from
// in-memory eviction, per spec.md §5 "Entry-point modules are pinned
// against eviction."
func (c *Cache) Pin(key CacheKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pinnedBy[key] = true
}

func (c *Cache) Get(key CacheKey) (*Entry, bool) {
	c.mu.Lock()
	if e, ok := c.pinned[key]; ok {
		c.mu.Unlock()
		return e, true
	}
	if e, ok := c.mem.Get(key); ok {
		c.mu.Unlock()
		return e, true
	}
	c.mu.Unlock()

	if c.diskDir == "" {
		return nil, false
	}
	data, err := os.ReadFile(c.diskPath(key))
	if err != nil {
		return nil, false // disk miss or error: never fatal
	}
	entry, err := decodeDisk(data)
	if err != nil {
		c.log.AddWarning(nil, fmt.Sprintf("cache: corrupt disk entry for %s: %v", key, err))
		return nil, false
	}
	c.promote(key, &entry)
	return &entry, true
}

func (c *Cache) promote(key CacheKey, e *Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pinnedBy[key] {
		c.pinned[key] = e
		return
	}
	c.mem.Add(key, e)
	c.approxBytes += len(e.TransformedCode)
	c.evictIfOverBudget()
}

// Set writes the disk tier first (best-effort) and then inserts into
// memory, per spec.md §4.1.
func (c *Cache) Set(key CacheKey, e *Entry) {
	e.Key = key
	if c.diskDir != "" {
		if data, err := encodeDisk(*e); err == nil {
			path := c.diskPath(key)
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				c.log.AddWarning(nil, fmt.Sprintf("cache: disk write failed for %s: %v", key, err))
			} else if err := os.WriteFile(path, data, 0o644); err != nil {
				c.log.AddWarning(nil, fmt.Sprintf("cache: disk write failed for %s: %v", key, err))
			}
		}
	}

	c.mu.Lock()
	if c.pinnedBy[key] {
		c.pinned[key] = e
		c.mu.Unlock()
		return
	}
	c.mem.Add(key, e)
	c.approxBytes += len(e.TransformedCode)
	c.evictIfOverBudget()
	c.mu.Unlock()
}

// evictIfOverBudget drops least-recently-used non-pinned entries until the
// approximate byte budget is satisfied. Caller must hold c.mu.
func (c *Cache) evictIfOverBudget() {
	if c.softLimit <= 0 {
		return
	}
	for c.approxBytes > c.softLimit && c.mem.Len() > 0 {
		if _, _, ok := c.mem.RemoveOldest(); !ok {
			return
		}
	}
}

func (c *Cache) Invalidate(key CacheKey) {
	c.mu.Lock()
	delete(c.pinned, key)
	c.mem.Remove(key)
	c.mu.Unlock()
	if c.diskDir != "" {
		os.Remove(c.diskPath(key))
	}
}

func (c *Cache) Clear() {
	c.mu.Lock()
	c.pinned = make(map[CacheKey]*Entry)
	c.mem.Purge()
	c.approxBytes = 0
	c.mu.Unlock()
	if c.diskDir != "" {
		os.RemoveAll(c.diskDir)
		os.MkdirAll(c.diskDir, 0o755)
	}
}

func (c *Cache) diskPath(key CacheKey) string {
	k := string(key)
	prefix := k
	if len(k) >= 2 {
		prefix = k[:2]
	}
	return filepath.Join(c.diskDir, "modules", prefix, k+".cache")
}
