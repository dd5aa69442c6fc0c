// Package store is the filesystem-backed asset database: one JSON record
// per asset under a two-hex-character partition directory, plus a _map
// directory enforcing per-domain ticker uniqueness. The directory is
// shared with the publishing hook and a static file server, so every
// mutation is staged and renamed into place.
package store

import (
	"context"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/liquidnet/asset-registry/internal/logger"
	"github.com/liquidnet/asset-registry/internal/registry"
)

const mapDir = "_map"

// tmpSuffix marks staged files. Anything carrying it is garbage after a
// crash and is swept at startup.
const tmpSuffix = ".tmp"

// ChainVerifier confirms an on-chain issuance commitment.
type ChainVerifier interface {
	VerifyIssuance(ctx context.Context, id registry.AssetID, contractHash [32]byte) (*registry.IssuanceWitness, error)
}

// ProofVerifier confirms a domain ownership proof.
type ProofVerifier interface {
	Verify(ctx context.Context, domain string, id registry.AssetID) error
}

// Config holds the database configuration.
type Config struct {
	// Path is the root of the database directory (DB_PATH).
	Path string
	// HookCmd is the external program invoked after each successful
	// mutation; empty disables the hook.
	HookCmd string

	Chain ChainVerifier
	Proof ProofVerifier
}

// Store owns all on-disk registry state. Mutations serialize behind a
// single write mutex; the in-memory map only serves the read endpoints.
type Store struct {
	path    string
	hookCmd string
	chain   ChainVerifier
	proof   ProofVerifier

	// writeMu makes submit/delete critical sections: at most one
	// mutation, including its chain/domain lookups and the hook run, is
	// in flight at a time.
	writeMu sync.Mutex

	mu     sync.RWMutex
	assets map[registry.AssetID]*registry.AssetRecord
}

// Open prepares the database directory and scans it: existing records are
// loaded into the read map, stale staging files and orphaned _map entries
// left behind by a crash are removed.
func Open(cfg Config) (*Store, error) {
	s := &Store{
		path:    cfg.Path,
		hookCmd: cfg.HookCmd,
		chain:   cfg.Chain,
		proof:   cfg.Proof,
		assets:  make(map[registry.AssetID]*registry.AssetRecord),
	}

	if err := os.MkdirAll(filepath.Join(s.path, mapDir), 0o755); err != nil {
		return nil, registry.Wrap(registry.KindIoError, err, "failed to create database directory")
	}
	if err := s.scan(); err != nil {
		return nil, err
	}

	logger.Info("asset database opened",
		zap.String("path", s.path),
		zap.Int("assets", len(s.assets)),
	)
	return s, nil
}

// Get returns the record for an asset id, if present.
func (s *Store) Get(id registry.AssetID) (*registry.AssetRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.assets[id]
	return rec, ok
}

// List returns all records keyed by asset id.
func (s *Store) List() map[registry.AssetID]*registry.AssetRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[registry.AssetID]*registry.AssetRecord, len(s.assets))
	for id, rec := range s.assets {
		out[id] = rec
	}
	return out
}

// recordRel is the record path relative to the database root, the form
// passed to the hook and used by the static server.
func recordRel(id registry.AssetID) string {
	return filepath.Join(id.Prefix(), string(id)+".json")
}

func (s *Store) recordPath(id registry.AssetID) string {
	return filepath.Join(s.path, recordRel(id))
}

func (s *Store) mapPath(domain, ticker string) string {
	return filepath.Join(s.path, mapDir, domain, ticker)
}

func isPartitionDir(name string) bool {
	if len(name) != 2 {
		return false
	}
	_, err := hex.DecodeString(name)
	return err == nil
}

// scan walks the database directory once at startup.
func (s *Store) scan() error {
	entries, err := os.ReadDir(s.path)
	if err != nil {
		return registry.Wrap(registry.KindIoError, err, "failed to read database directory")
	}

	for _, entry := range entries {
		if !entry.IsDir() || !isPartitionDir(entry.Name()) {
			continue
		}
		dir := filepath.Join(s.path, entry.Name())
		files, err := os.ReadDir(dir)
		if err != nil {
			return registry.Wrap(registry.KindIoError, err, "failed to read partition directory")
		}
		for _, file := range files {
			path := filepath.Join(dir, file.Name())
			if strings.HasSuffix(file.Name(), tmpSuffix) {
				logger.Warn("removing stale staging file", zap.String("path", path))
				if err := os.Remove(path); err != nil {
					return registry.Wrap(registry.KindIoError, err, "failed to remove stale staging file")
				}
				continue
			}
			if !strings.HasSuffix(file.Name(), ".json") {
				continue
			}
			data, err := os.ReadFile(path)
			if err != nil {
				return registry.Wrap(registry.KindIoError, err, "failed to read asset record")
			}
			rec, err := registry.ParseRecord(data)
			if err != nil {
				logger.Warn("skipping unreadable asset record", zap.String("path", path), zap.Error(err))
				continue
			}
			s.assets[rec.AssetID] = rec
		}
	}

	return s.sweepMap()
}

// sweepMap drops _map entries whose record no longer exists, along with
// staged map files.
func (s *Store) sweepMap() error {
	root := filepath.Join(s.path, mapDir)
	domains, err := os.ReadDir(root)
	if err != nil {
		return registry.Wrap(registry.KindIoError, err, "failed to read ticker map directory")
	}
	for _, domain := range domains {
		if !domain.IsDir() {
			continue
		}
		dir := filepath.Join(root, domain.Name())
		tickers, err := os.ReadDir(dir)
		if err != nil {
			return registry.Wrap(registry.KindIoError, err, "failed to read ticker map directory")
		}
		for _, ticker := range tickers {
			path := filepath.Join(dir, ticker.Name())
			if strings.HasSuffix(ticker.Name(), tmpSuffix) {
				logger.Warn("removing stale staging file", zap.String("path", path))
				if err := os.Remove(path); err != nil {
					return registry.Wrap(registry.KindIoError, err, "failed to remove stale staging file")
				}
				continue
			}
			data, err := os.ReadFile(path)
			if err != nil {
				return registry.Wrap(registry.KindIoError, err, "failed to read ticker map entry")
			}
			id := registry.AssetID(strings.TrimSpace(string(data)))
			if _, ok := s.assets[id]; !ok {
				logger.Warn("removing orphaned ticker map entry",
					zap.String("path", path), zap.String("asset_id", string(id)))
				if err := os.Remove(path); err != nil {
					return registry.Wrap(registry.KindIoError, err, "failed to remove orphaned ticker map entry")
				}
			}
		}
		// drops the directory once its last ticker entry is gone
		_ = os.Remove(dir)
	}
	return nil
}
