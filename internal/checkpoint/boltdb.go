package checkpoint

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/SteelMorgan/journal-ingest/internal/domain"
	"github.com/rs/zerolog/log"
	"go.etcd.io/bbolt"
)

const (
	bucketName = "checkpoints"
)

// BoltPersister implements Persister using BoltDB
type BoltPersister struct {
	db *bbolt.DB
}

// NewBoltPersister creates a new BoltDB checkpoint store
func NewBoltPersister(dbPath string) (*BoltPersister, error) {
	db, err := bbolt.Open(dbPath, 0600, &bbolt.Options{
		Timeout: 1 * time.Second,
	})
	if err != nil {
		// A lock timeout means another process still holds the file
		return nil, fmt.Errorf("failed to open boltdb (file may be locked by another process): %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create bucket: %w", err)
	}

	log.Info().
		Str("db_path", dbPath).
		Msg("BoltDB checkpoint store initialized")

	return &BoltPersister{db: db}, nil
}

// Load returns all stored checkpoints. Values that do not decode are skipped.
func (s *BoltPersister) Load(ctx context.Context) (domain.Checkpoints, error) {
	result := make(domain.Checkpoints)

	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		if b == nil {
			return fmt.Errorf("bucket not found")
		}

		return b.ForEach(func(k, v []byte) error {
			if len(v) < 8 {
				log.Warn().Str("file", string(k)).Msg("Invalid checkpoint value, ignoring")
				return nil
			}
			result[string(k)] = int64(binary.BigEndian.Uint64(v))
			return nil
		})
	})
	if err != nil {
		return domain.Checkpoints{}, fmt.Errorf("failed to list checkpoints: %w", err)
	}

	return result, nil
}

// Merge stores updates in a single transaction, never lowering a value
func (s *BoltPersister) Merge(ctx context.Context, updates domain.Checkpoints) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		if b == nil {
			return fmt.Errorf("bucket not found")
		}

		for name, line := range updates {
			if line < 0 {
				continue
			}
			if cur := b.Get([]byte(name)); len(cur) >= 8 && int64(binary.BigEndian.Uint64(cur)) >= line {
				continue
			}
			val := make([]byte, 8)
			binary.BigEndian.PutUint64(val, uint64(line))
			if err := b.Put([]byte(name), val); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to merge checkpoints: %w", err)
	}

	log.Debug().
		Int("files", len(updates)).
		Msg("Checkpoints merged")

	return nil
}

// Clear drops and recreates the bucket
func (s *BoltPersister) Clear(ctx context.Context) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.DeleteBucket([]byte(bucketName)); err != nil && err != bbolt.ErrBucketNotFound {
			return err
		}
		_, err := tx.CreateBucket([]byte(bucketName))
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to clear checkpoints: %w", err)
	}
	return nil
}

// Close closes the BoltDB database
func (s *BoltPersister) Close() error {
	log.Info().Msg("Closing BoltDB checkpoint store")
	return s.db.Close()
}
