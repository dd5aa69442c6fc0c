package store

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/liquidnet/asset-registry/internal/contract"
	"github.com/liquidnet/asset-registry/internal/logger"
	"github.com/liquidnet/asset-registry/internal/registry"
	"github.com/liquidnet/asset-registry/internal/sigmsg"
)

// Submit runs the full registration pipeline for one asset: contract
// validation, uniqueness checks, chain and domain verification, atomic
// commit of the record and its ticker map entry, hook invocation. On any
// failure no on-disk state changes.
func (s *Store) Submit(ctx context.Context, id registry.AssetID, contractJSON []byte, expectedHash string) (*registry.AssetRecord, error) {
	// contract first: cheap and deterministic
	c, err := contract.Parse(contractJSON)
	if err != nil {
		return nil, err
	}
	if expectedHash != "" {
		if err := c.MatchHash(expectedHash); err != nil {
			return nil, err
		}
	}
	if !id.Valid() {
		return nil, registry.New(registry.KindMalformedJSON, "invalid asset id")
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	// uniqueness under the write lock
	if _, err := os.Stat(s.recordPath(id)); err == nil {
		return nil, registry.Newf(registry.KindAlreadyExists, "asset %s is already registered", id)
	} else if !os.IsNotExist(err) {
		return nil, registry.Wrap(registry.KindIoError, err, "failed to check asset record")
	}
	ticker := c.TickerValue()
	if ticker != "" {
		if _, err := os.Stat(s.mapPath(c.Domain, ticker)); err == nil {
			return nil, registry.Newf(registry.KindTickerTaken,
				"ticker %s is already registered for domain %s", ticker, c.Domain)
		} else if !os.IsNotExist(err) {
			return nil, registry.Wrap(registry.KindIoError, err, "failed to check ticker map")
		}
	}

	// the expensive, I/O-bound verifications run last, chain before domain
	witness, err := s.chain.VerifyIssuance(ctx, id, c.Hash())
	if err != nil {
		return nil, err
	}
	if err := s.proof.Verify(ctx, c.Domain, id); err != nil {
		return nil, err
	}

	rec := &registry.AssetRecord{
		AssetID:         id,
		Contract:        c.Canonical(),
		IssuanceTxin:    witness.Txin,
		IssuancePrevout: witness.Prevout,
	}
	data, err := rec.Canonical()
	if err != nil {
		return nil, registry.Wrap(registry.KindIoError, err, "failed to serialize record")
	}

	if err := s.commitAdd(rec, data, c.Domain, ticker); err != nil {
		return nil, err
	}

	if err := s.runHook(ctx, id, "add", nil); err != nil {
		s.rollbackAdd(id, c.Domain, ticker)
		return nil, err
	}

	s.mu.Lock()
	s.assets[id] = rec
	s.mu.Unlock()

	logger.Info("asset registered",
		zap.String("asset_id", string(id)),
		zap.String("domain", c.Domain),
		zap.String("ticker", ticker),
	)
	return rec, nil
}

// Delete removes an asset record after verifying the issuer's signature
// over the canonical deletion message.
func (s *Store) Delete(ctx context.Context, id registry.AssetID, sigB64 string) error {
	if !id.Valid() {
		return registry.Newf(registry.KindNotFound, "no registered asset %s", id)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	data, err := os.ReadFile(s.recordPath(id))
	if os.IsNotExist(err) {
		return registry.Newf(registry.KindNotFound, "no registered asset %s", id)
	} else if err != nil {
		return registry.Wrap(registry.KindIoError, err, "failed to read asset record")
	}
	rec, err := registry.ParseRecord(data)
	if err != nil {
		return registry.Wrap(registry.KindIoError, err, "corrupt asset record")
	}
	c, err := contract.Parse(rec.Contract)
	if err != nil {
		return registry.Wrap(registry.KindIoError, err, "corrupt contract in asset record")
	}

	if err := sigmsg.Verify(c.IssuerPubkey, sigmsg.DeletionMessage(id), sigB64); err != nil {
		return err
	}

	// move the record aside, drop the map entry, and only unlink the
	// staged copy once the hook has published the removal
	staged := s.recordPath(id) + tmpSuffix
	if err := os.Rename(s.recordPath(id), staged); err != nil {
		return registry.Wrap(registry.KindIoError, err, "failed to stage record removal")
	}

	ticker := c.TickerValue()
	var mapEntry []byte
	if ticker != "" {
		mapEntry, err = os.ReadFile(s.mapPath(c.Domain, ticker))
		if err != nil && !os.IsNotExist(err) {
			_ = os.Rename(staged, s.recordPath(id))
			return registry.Wrap(registry.KindIoError, err, "failed to read ticker map entry")
		}
		if mapEntry != nil {
			if err := os.Remove(s.mapPath(c.Domain, ticker)); err != nil {
				_ = os.Rename(staged, s.recordPath(id))
				return registry.Wrap(registry.KindIoError, err, "failed to remove ticker map entry")
			}
		}
	}

	env := []string{"AUTHORIZING_SIG=" + sigB64}
	if err := s.runHook(ctx, id, "delete", env); err != nil {
		// restore the exact pre-delete state
		if mapEntry != nil {
			if werr := writeFileSync(s.mapPath(c.Domain, ticker), mapEntry); werr != nil {
				logger.Error(werr, zap.String("asset_id", string(id)))
			}
		}
		if rerr := os.Rename(staged, s.recordPath(id)); rerr != nil {
			logger.Error(rerr, zap.String("asset_id", string(id)))
		}
		return err
	}

	if err := os.Remove(staged); err != nil {
		logger.Warn("failed to remove staged record", zap.String("path", staged), zap.Error(err))
	}
	if ticker != "" {
		_ = os.Remove(filepath.Dir(s.mapPath(c.Domain, ticker)))
	}
	_ = os.Remove(filepath.Dir(s.recordPath(id)))

	s.mu.Lock()
	delete(s.assets, id)
	s.mu.Unlock()

	logger.Info("asset deleted", zap.String("asset_id", string(id)))
	return nil
}

// commitAdd stages the record file and its ticker map entry and renames
// them into place. The record rename is the commit point, so the map
// entry lands first.
func (s *Store) commitAdd(rec *registry.AssetRecord, data []byte, domain, ticker string) error {
	if err := os.MkdirAll(filepath.Dir(s.recordPath(rec.AssetID)), 0o755); err != nil {
		return registry.Wrap(registry.KindIoError, err, "failed to create partition directory")
	}

	if ticker != "" {
		mapPath := s.mapPath(domain, ticker)
		if err := os.MkdirAll(filepath.Dir(mapPath), 0o755); err != nil {
			return registry.Wrap(registry.KindIoError, err, "failed to create ticker map directory")
		}
		if err := stageAndRename(mapPath, []byte(rec.AssetID)); err != nil {
			return err
		}
	}

	if err := stageAndRename(s.recordPath(rec.AssetID), data); err != nil {
		if ticker != "" {
			_ = os.Remove(s.mapPath(domain, ticker))
		}
		return err
	}
	return nil
}

// rollbackAdd undoes commitAdd after a hook failure, restoring the
// pre-submit directory state.
func (s *Store) rollbackAdd(id registry.AssetID, domain, ticker string) {
	if err := os.Remove(s.recordPath(id)); err != nil {
		logger.Error(err, zap.String("asset_id", string(id)))
	}
	_ = os.Remove(filepath.Dir(s.recordPath(id)))
	if ticker != "" {
		if err := os.Remove(s.mapPath(domain, ticker)); err != nil {
			logger.Error(err, zap.String("asset_id", string(id)))
		}
		_ = os.Remove(filepath.Dir(s.mapPath(domain, ticker)))
	}
}

// stageAndRename writes data to a sibling staging file, fsyncs it and
// renames it into place.
func stageAndRename(path string, data []byte) error {
	if err := writeFileSync(path+tmpSuffix, data); err != nil {
		return err
	}
	if err := os.Rename(path+tmpSuffix, path); err != nil {
		_ = os.Remove(path + tmpSuffix)
		return registry.Wrap(registry.KindIoError, err, "failed to commit "+path)
	}
	return nil
}

func writeFileSync(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return registry.Wrap(registry.KindIoError, err, "failed to create "+path)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return registry.Wrap(registry.KindIoError, err, "failed to write "+path)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return registry.Wrap(registry.KindIoError, err, "failed to sync "+path)
	}
	if err := f.Close(); err != nil {
		return registry.Wrap(registry.KindIoError, err, "failed to close "+path)
	}
	return nil
}

// runHook invokes the external publishing program with the asset id, the
// record path relative to the database root, and the update type. The
// hook outlives request cancellation: once the commit happened the
// publication must run to completion.
func (s *Store) runHook(ctx context.Context, id registry.AssetID, updateType string, extraEnv []string) error {
	if s.hookCmd == "" {
		return nil
	}

	cmd := exec.CommandContext(context.WithoutCancel(ctx), s.hookCmd, string(id), recordRel(id), updateType)
	cmd.Dir = s.path
	cmd.Env = append(os.Environ(), extraEnv...)

	out, err := cmd.CombinedOutput()
	if err != nil {
		return registry.Wrap(registry.KindHookFailed, err, string(out))
	}
	logger.Debug("hook completed",
		zap.String("asset_id", string(id)),
		zap.String("update_type", updateType),
	)
	return nil
}
