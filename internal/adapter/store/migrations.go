package store

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"go.etcd.io/bbolt"

	"mnemo/config"
)

// CurrentSchemaVersion is the current cache schema version.
// Increment this when making breaking changes to the storage format.
const CurrentSchemaVersion = 1

var (
	keySchemaVersion    = []byte("schema_version")
	keyIndexFingerprint = []byte("index_fingerprint")
)

// SchemaInfo stores the schema version and the fingerprint of the index the
// cache mirrors.
type SchemaInfo struct {
	Version          int    `json:"version"`
	IndexFingerprint string `json:"index_fingerprint"`
}

func (c *BoltCache) GetSchemaInfo() (*SchemaInfo, error) {
	var info SchemaInfo
	err := c.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketMeta)
		if data := b.Get(keySchemaVersion); data != nil {
			if err := json.Unmarshal(data, &info.Version); err != nil {
				info.Version = 0
			}
		}
		if data := b.Get(keyIndexFingerprint); data != nil {
			info.IndexFingerprint = string(data)
		}
		return nil
	})
	return &info, err
}

func (c *BoltCache) SetSchemaInfo(info *SchemaInfo) error {
	return c.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketMeta)
		versionData, err := json.Marshal(info.Version)
		if err != nil {
			return err
		}
		if err := b.Put(keySchemaVersion, versionData); err != nil {
			return err
		}
		return b.Put(keyIndexFingerprint, []byte(info.IndexFingerprint))
	})
}

// IndexFingerprint identifies the remote index and namespace a cache mirrors.
func IndexFingerprint(cfg *config.Config) string {
	relevant := struct {
		Backend   string `json:"backend"`
		Name      string `json:"name"`
		Host      string `json:"host"`
		Path      string `json:"path"`
		Namespace string `json:"namespace"`
	}{
		Backend:   cfg.Index.Backend,
		Name:      cfg.Index.Name,
		Host:      cfg.Index.Host,
		Path:      cfg.Index.Path,
		Namespace: cfg.Memory.Namespace,
	}

	data, _ := json.Marshal(relevant)
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:8])
}

// SyncResult describes what Sync did.
type SyncResult struct {
	Cleared    bool
	OldVersion int
	NewVersion int
	Reason     string
}

// Sync clears the cache when it was written by another schema version or
// for another index, then records the current schema info.
func (c *BoltCache) Sync(fingerprint string) (*SyncResult, error) {
	info, err := c.GetSchemaInfo()
	if err != nil {
		return nil, fmt.Errorf("failed to get schema info: %w", err)
	}

	result := &SyncResult{OldVersion: info.Version, NewVersion: CurrentSchemaVersion}
	switch {
	case info.Version == 0:
		// fresh cache
	case info.Version != CurrentSchemaVersion:
		result.Cleared = true
		result.Reason = fmt.Sprintf("schema changed from v%d to v%d", info.Version, CurrentSchemaVersion)
	case info.IndexFingerprint != fingerprint:
		result.Cleared = true
		result.Reason = "index configuration changed"
	}

	if result.Cleared {
		if err := c.Clear(); err != nil {
			return nil, err
		}
	}

	if err := c.SetSchemaInfo(&SchemaInfo{Version: CurrentSchemaVersion, IndexFingerprint: fingerprint}); err != nil {
		return nil, err
	}
	return result, nil
}
