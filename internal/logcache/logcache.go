// Package logcache is a bounded, TTL-sliding ring of log entries per
// deployment. It is a performance artifact, never the system of record.
package logcache

import (
	"strings"
	"sync"
	"time"
)

const (
	maxEntries = 1000
	ttl        = 30 * time.Minute
)

// Entry is one cached log line.
type Entry struct {
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
	Container string    `json:"container,omitempty"`
}

type bucket struct {
	entries []Entry // oldest first
	expires time.Time
}

// Cache is a keyed, in-process ring buffer. Every write resets the key's
// TTL; reads do not — stale caches expire when a deployment goes quiet.
type Cache struct {
	mu      sync.Mutex
	buckets map[string]*bucket
}

// New constructs an empty Cache.
func New() *Cache {
	return &Cache{buckets: make(map[string]*bucket)}
}

func key(deploymentHash, container string) string {
	if container == "" {
		return deploymentHash
	}
	return deploymentHash + "/" + container
}

// Append pushes e onto the key's ring, trims to the last 1000 entries, and
// resets the key's TTL.
func (c *Cache) Append(deploymentHash, container string, e Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	k := key(deploymentHash, container)
	b, ok := c.buckets[k]
	if !ok {
		b = &bucket{}
		c.buckets[k] = b
	}
	b.entries = append(b.entries, e)
	if len(b.entries) > maxEntries {
		b.entries = b.entries[len(b.entries)-maxEntries:]
	}
	b.expires = time.Now().Add(ttl)
}

// Page is one cursor-based read result.
type Page struct {
	Entries    []Entry `json:"entries"` // newest-first
	TotalCount int     `json:"total_count"`
	Cursor     int     `json:"cursor"`
	HasMore    bool    `json:"has_more"`
}

// Read returns up to limit entries newest-first starting at cursor (an
// offset from the newest entry), with pagination metadata. Expired or
// missing keys return an empty page.
func (c *Cache) Read(deploymentHash, container string, cursor, limit int) Page {
	c.mu.Lock()
	defer c.mu.Unlock()

	b, ok := c.liveBucket(deploymentHash, container)
	if !ok {
		return Page{}
	}

	total := len(b.entries)
	newestFirst := make([]Entry, total)
	for i, e := range b.entries {
		newestFirst[total-1-i] = e
	}

	if cursor < 0 {
		cursor = 0
	}
	if cursor >= total {
		return Page{TotalCount: total, Cursor: cursor, HasMore: false}
	}
	end := cursor + limit
	if limit <= 0 || end > total {
		end = total
	}

	return Page{
		Entries:    newestFirst[cursor:end],
		TotalCount: total,
		Cursor:     end,
		HasMore:    end < total,
	}
}

// liveBucket returns the bucket if present and not expired; callers hold c.mu.
func (c *Cache) liveBucket(deploymentHash, container string) (*bucket, bool) {
	k := key(deploymentHash, container)
	b, ok := c.buckets[k]
	if !ok {
		return nil, false
	}
	if time.Now().After(b.expires) {
		delete(c.buckets, k)
		return nil, false
	}
	return b, true
}

// Summary aggregates a deployment's cached log entries.
type Summary struct {
	ErrorCount   int            `json:"error_count"`
	WarningCount int            `json:"warning_count"`
	Earliest     time.Time      `json:"earliest"`
	Latest       time.Time      `json:"latest"`
	TopPatterns  []PatternCount `json:"top_patterns"`
}

// PatternCount is one entry in a Summary's top-5 frequency list.
type PatternCount struct {
	Pattern string `json:"pattern"`
	Count   int    `json:"count"`
}

// patternLexicon is the fixed set of substrings summary generation scans for.
var patternLexicon = []string{
	"connection refused", "timeout", "permission denied", "oom",
	"disk full", "not found", "authentication", "ssl", "tls",
}

// Summarize scans the cache for deploymentHash (all containers combined via
// the bare key) and reports error/warning counts, the earliest/latest
// timestamps, and the top-5 most frequent lexicon pattern matches.
func (c *Cache) Summarize(deploymentHash string) Summary {
	c.mu.Lock()
	b, ok := c.liveBucket(deploymentHash, "")
	var entries []Entry
	if ok {
		entries = append(entries, b.entries...)
	}
	c.mu.Unlock()

	var sum Summary
	counts := make(map[string]int)

	for i, e := range entries {
		switch strings.ToLower(e.Level) {
		case "error":
			sum.ErrorCount++
		case "warning", "warn":
			sum.WarningCount++
		}
		if i == 0 || e.Timestamp.Before(sum.Earliest) {
			sum.Earliest = e.Timestamp
		}
		if i == 0 || e.Timestamp.After(sum.Latest) {
			sum.Latest = e.Timestamp
		}
		lower := strings.ToLower(e.Message)
		for _, p := range patternLexicon {
			if strings.Contains(lower, p) {
				counts[p]++
			}
		}
	}

	sum.TopPatterns = topFive(counts)
	return sum
}

func topFive(counts map[string]int) []PatternCount {
	out := make([]PatternCount, 0, len(counts))
	for p, n := range counts {
		out = append(out, PatternCount{Pattern: p, Count: n})
	}
	// simple insertion sort by count desc; the lexicon is tiny (9 entries).
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].Count > out[j-1].Count; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	if len(out) > 5 {
		out = out[:5]
	}
	return out
}
