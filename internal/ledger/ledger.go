// Package ledger persists the set of fingerprints already ingested into an
// index directory.
package ledger

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/google/renameio"
	"github.com/rs/zerolog/log"
)

type file struct {
	Rows map[string]bool `json:"rows"`
}

// Ledger is the fingerprint -> presence mapping for one index directory.
// It is loaded once on Open and rewritten in full by Flush.
type Ledger struct {
	mu        sync.RWMutex
	path      string
	rows      map[string]bool
	recovered bool
}

// Open loads the ledger at path. A missing file yields an empty ledger. An
// unreadable or unparseable file also yields an empty ledger, flagged by
// Recovered, so the store stays available.
func Open(path string) *Ledger {
	l := &Ledger{path: path, rows: make(map[string]bool)}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn().Err(err).Str("path", path).Msg("Ledger unreadable, starting empty")
			l.recovered = true
		}
		return l
	}

	var f file
	if err := json.Unmarshal(data, &f); err != nil {
		log.Warn().Err(err).Str("path", path).Msg("Ledger corrupt, starting empty")
		l.recovered = true
		return l
	}
	for fp, present := range f.Rows {
		if present {
			l.rows[fp] = true
		}
	}
	return l
}

func (l *Ledger) Path() string { return l.path }

// Recovered reports whether Open discarded an unreadable ledger file.
func (l *Ledger) Recovered() bool { return l.recovered }

func (l *Ledger) Has(fp string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.rows[fp]
}

func (l *Ledger) Add(fps ...string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, fp := range fps {
		l.rows[fp] = true
	}
}

func (l *Ledger) Remove(fps ...string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, fp := range fps {
		delete(l.rows, fp)
	}
}

func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.rows)
}

// Keys returns the fingerprints in sorted order.
func (l *Ledger) Keys() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	keys := make([]string, 0, len(l.rows))
	for fp := range l.rows {
		keys = append(keys, fp)
	}
	sort.Strings(keys)
	return keys
}

// Replace swaps the whole fingerprint set.
func (l *Ledger) Replace(fps map[string]bool) {
	rows := make(map[string]bool, len(fps))
	for fp, present := range fps {
		if present {
			rows[fp] = true
		}
	}
	l.mu.Lock()
	l.rows = rows
	l.mu.Unlock()
}

// Flush atomically rewrites the ledger file.
func (l *Ledger) Flush() error {
	l.mu.RLock()
	data, err := json.MarshalIndent(file{Rows: l.rows}, "", "  ")
	l.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("failed to marshal ledger: %w", err)
	}
	if err := renameio.WriteFile(l.path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("failed to write ledger %s: %w", l.path, err)
	}
	l.recovered = false
	return nil
}
