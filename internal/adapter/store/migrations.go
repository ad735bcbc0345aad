package store

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"go.etcd.io/bbolt"

	"github.com/hive-discover/clip-api/config"
	"github.com/hive-discover/clip-api/internal/domain"
)

// CurrentSchemaVersion is the current schema version.
// Increment this when making breaking changes to the storage format.
const CurrentSchemaVersion = 1

var (
	keySchemaVersion = []byte("schema_version")
	keyConfigHash    = []byte("config_hash")
)

// SchemaInfo stores schema version and configuration hash.
type SchemaInfo struct {
	Version    int    `json:"version"`
	ConfigHash string `json:"config_hash"`
}

// GetSchemaInfo retrieves the current schema info from the database.
func (s *BoltStore) GetSchemaInfo() (*SchemaInfo, error) {
	var info SchemaInfo
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketMeta)
		if b == nil {
			return nil
		}

		if versionData := b.Get(keySchemaVersion); versionData != nil {
			if err := json.Unmarshal(versionData, &info.Version); err != nil {
				return fmt.Errorf("corrupted schema version: %w", err)
			}
		}
		if hashData := b.Get(keyConfigHash); hashData != nil {
			info.ConfigHash = string(hashData)
		}
		return nil
	})
	return &info, err
}

// SetSchemaInfo stores the schema info in the database.
func (s *BoltStore) SetSchemaInfo(info *SchemaInfo) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketMeta)

		versionData, err := json.Marshal(info.Version)
		if err != nil {
			return err
		}
		if err := b.Put(keySchemaVersion, versionData); err != nil {
			return err
		}

		return b.Put(keyConfigHash, []byte(info.ConfigHash))
	})
}

// ComputeConfigHash computes a hash of the configuration that determines
// the stored vector space. Vectors from different spaces must never be
// compared, so a change means the local store has to be rebuilt.
func ComputeConfigHash(cfg *config.Config) string {
	relevant := struct {
		Dimension   int    `json:"dimension"`
		Provider    string `json:"provider"`
		ImagesIndex string `json:"images_index"`
	}{
		Dimension:   cfg.Embedding.Dimension,
		Provider:    cfg.Embedding.Provider,
		ImagesIndex: cfg.Store.ImagesIndex,
	}

	data, _ := json.Marshal(relevant)
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:8])
}

// MigrationResult describes the result of a schema check.
type MigrationResult struct {
	NeedsInit    bool
	NeedsRebuild bool
	OldVersion   int
	NewVersion   int
	Reason       string
}

// CheckMigration reports whether the store can be used with cfg.
func (s *BoltStore) CheckMigration(cfg *config.Config) (*MigrationResult, error) {
	info, err := s.GetSchemaInfo()
	if err != nil {
		return nil, fmt.Errorf("failed to get schema info: %w", err)
	}

	result := &MigrationResult{
		OldVersion: info.Version,
		NewVersion: CurrentSchemaVersion,
	}

	switch {
	case info.Version == 0 || info.ConfigHash == "":
		result.NeedsInit = true
		result.Reason = "initializing schema version"
		return result, nil
	case info.Version > CurrentSchemaVersion:
		result.NeedsRebuild = true
		result.Reason = fmt.Sprintf("database created by newer version (v%d > v%d)", info.Version, CurrentSchemaVersion)
		return result, nil
	}

	if info.ConfigHash != ComputeConfigHash(cfg) {
		result.NeedsRebuild = true
		result.Reason = "embedding configuration changed"
	}
	return result, nil
}

// EnsureSchema initializes a fresh store and refuses one whose vectors were
// produced under a different embedding configuration.
func (s *BoltStore) EnsureSchema(cfg *config.Config) error {
	result, err := s.CheckMigration(cfg)
	if err != nil {
		return err
	}
	if result.NeedsRebuild {
		return fmt.Errorf("local store %s needs a rebuild: %s", s.db.Path(), result.Reason)
	}
	if !result.NeedsInit {
		return nil
	}
	return s.SetSchemaInfo(&SchemaInfo{
		Version:    CurrentSchemaVersion,
		ConfigHash: ComputeConfigHash(cfg),
	})
}

// Clear prepares a rebuild: image clusters and vectors are dropped and every
// post returns to pending without its averages, so the next cycles describe
// them again under the current embedding configuration.
func (s *BoltStore) Clear() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{indexBucket(s.imagesIndex), bucketVectors} {
			if tx.Bucket(name) == nil {
				continue
			}
			if err := tx.DeleteBucket(name); err != nil {
				return err
			}
		}
		if _, err := tx.CreateBucket(indexBucket(s.imagesIndex)); err != nil {
			return err
		}

		var postBuckets [][]byte
		err := tx.ForEach(func(name []byte, _ *bbolt.Bucket) error {
			if strings.HasPrefix(string(name), indexBucketPrefix) && string(name) != string(indexBucket(s.imagesIndex)) {
				postBuckets = append(postBuckets, append([]byte(nil), name...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, name := range postBuckets {
			if err := s.resetPosts(tx.Bucket(name)); err != nil {
				return err
			}
		}
		return tx.Bucket(bucketMeta).Delete(keyConfigHash)
	})
}

func (s *BoltStore) resetPosts(b *bbolt.Bucket) error {
	type entry struct {
		key []byte
		doc map[string]any
	}
	var entries []entry
	err := b.ForEach(func(k, v []byte) error {
		doc, err := decodeDoc(v)
		if err != nil {
			return err
		}
		entries = append(entries, entry{key: append([]byte(nil), k...), doc: doc})
		return nil
	})
	if err != nil {
		return err
	}

	for _, e := range entries {
		delete(e.doc, domain.FieldAvgClipVector)
		delete(e.doc, domain.FieldAvgQuality)
		if jobs, ok := e.doc[domain.FieldJobs].(map[string]any); ok {
			delete(jobs, s.jobField)
		}
		data, err := json.Marshal(e.doc)
		if err != nil {
			return err
		}
		if err := b.Put(e.key, data); err != nil {
			return err
		}
	}
	return nil
}
