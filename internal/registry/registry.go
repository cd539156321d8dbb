// Package registry holds the tracked-account set the pipeline mirrors.
//
// The set is produced by an offline discovery job and consumed here as a
// JSON file. It is immutable per session: reloads swap the whole snapshot,
// individual accounts are never mutated.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"mempool-mirror/internal/domain"
)

// fileAccount is the on-disk record shape written by the discovery job.
type fileAccount struct {
	Address       string  `json:"address"`
	Category      string  `json:"category"`
	Confidence    float64 `json:"confidence_score"`
	AvgMultiplier float64 `json:"avg_multiplier"`
}

// Registry is a read-mostly set of tracked accounts keyed by lowercase
// address.
type Registry struct {
	path   string
	logger *log.Logger

	mu       sync.RWMutex
	accounts map[string]domain.TrackedAccount
}

// Load reads the tracked-account file at path and builds a registry.
func Load(path string, logger *log.Logger) (*Registry, error) {
	r := &Registry{
		path:     path,
		logger:   logger,
		accounts: make(map[string]domain.TrackedAccount),
	}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload re-reads the file and replaces the set wholesale. On error the
// previous snapshot is kept.
func (r *Registry) Reload() error {
	data, err := os.ReadFile(r.path)
	if err != nil {
		return fmt.Errorf("read tracked accounts: %w", err)
	}

	var records []fileAccount
	if err := json.Unmarshal(data, &records); err != nil {
		return fmt.Errorf("parse tracked accounts: %w", err)
	}

	accounts := make(map[string]domain.TrackedAccount, len(records))
	for _, rec := range records {
		addr := strings.ToLower(strings.TrimSpace(rec.Address))
		if !strings.HasPrefix(addr, "0x") || len(addr) != 42 {
			continue
		}
		if rec.Confidence < 0 || rec.Confidence > 1 {
			continue
		}
		accounts[addr] = domain.TrackedAccount{
			Address:       addr,
			Category:      rec.Category,
			Confidence:    rec.Confidence,
			AvgMultiplier: rec.AvgMultiplier,
		}
	}

	if len(accounts) == 0 {
		return fmt.Errorf("tracked accounts file %s contains no valid entries", r.path)
	}

	r.mu.Lock()
	r.accounts = accounts
	r.mu.Unlock()

	if r.logger != nil {
		r.logger.Printf("Loaded %d tracked accounts from %s", len(accounts), r.path)
	}
	return nil
}

// Lookup returns the tracked account for addr, case-insensitively.
func (r *Registry) Lookup(addr string) (domain.TrackedAccount, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	acct, ok := r.accounts[strings.ToLower(addr)]
	return acct, ok
}

// Len returns the number of tracked accounts in the current snapshot.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.accounts)
}

// Watch reloads the registry whenever the underlying file is rewritten.
// A failed reload keeps the previous snapshot. Blocks until ctx is done.
func (r *Registry) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(r.path); err != nil {
		return fmt.Errorf("watch %s: %w", r.path, err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if err := r.Reload(); err != nil && r.logger != nil {
				r.logger.Printf("Registry reload failed, keeping previous snapshot: %v", err)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			if r.logger != nil {
				r.logger.Printf("Registry watcher error: %v", err)
			}
		}
	}
}
