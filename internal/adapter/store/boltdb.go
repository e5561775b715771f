package store

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"mnemo/internal/domain"
)

var (
	bucketMemories = []byte("memories")
	bucketByTime   = []byte("by_time")
	bucketMeta     = []byte("meta")
)

// BoltCache is the local display cache of saved memories. It is never the
// source of truth; recall always goes to the vector index.
type BoltCache struct {
	db *bbolt.DB
}

type cachedMeta struct {
	Text      string `json:"text"`
	Source    string `json:"source,omitempty"`
	Namespace string `json:"namespace,omitempty"`
	SavedAt   int64  `json:"saved_at"`
}

func NewBoltCache(path string) (*BoltCache, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, b := range [][]byte{bucketMemories, bucketByTime, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", b, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltCache{db: db}, nil
}

// timeKey orders entries by save time, then id.
func timeKey(savedAt int64, id string) []byte {
	key := make([]byte, 8+len(id))
	binary.BigEndian.PutUint64(key, uint64(savedAt))
	copy(key[8:], id)
	return key
}

// Put stores item, replacing an earlier entry with the same id.
func (c *BoltCache) Put(item domain.CachedMemory) error {
	if item.ID == "" {
		return fmt.Errorf("cached memory has no id")
	}
	if item.SavedAt.IsZero() {
		item.SavedAt = time.Now()
	}

	return c.db.Update(func(tx *bbolt.Tx) error {
		memories := tx.Bucket(bucketMemories)
		byTime := tx.Bucket(bucketByTime)

		if old := memories.Get([]byte(item.ID)); old != nil {
			var prev cachedMeta
			if err := json.Unmarshal(old, &prev); err == nil {
				if err := byTime.Delete(timeKey(prev.SavedAt, item.ID)); err != nil {
					return err
				}
			}
		}

		meta := cachedMeta{
			Text:      item.Text,
			Source:    item.Source,
			Namespace: item.Namespace,
			SavedAt:   item.SavedAt.UnixNano(),
		}
		data, err := json.Marshal(meta)
		if err != nil {
			return err
		}
		if err := memories.Put([]byte(item.ID), data); err != nil {
			return err
		}
		return byTime.Put(timeKey(meta.SavedAt, item.ID), []byte(item.ID))
	})
}

// List returns every cached memory, newest first.
func (c *BoltCache) List() ([]domain.CachedMemory, error) {
	var items []domain.CachedMemory
	err := c.db.View(func(tx *bbolt.Tx) error {
		memories := tx.Bucket(bucketMemories)
		cur := tx.Bucket(bucketByTime).Cursor()
		for k, id := cur.Last(); k != nil; k, id = cur.Prev() {
			data := memories.Get(id)
			if data == nil {
				continue
			}
			var meta cachedMeta
			if err := json.Unmarshal(data, &meta); err != nil {
				continue
			}
			items = append(items, domain.CachedMemory{
				ID:        string(id),
				Text:      meta.Text,
				Source:    meta.Source,
				Namespace: meta.Namespace,
				SavedAt:   time.Unix(0, meta.SavedAt).UTC(),
			})
		}
		return nil
	})
	return items, err
}

func (c *BoltCache) Delete(ids []string) error {
	return c.db.Update(func(tx *bbolt.Tx) error {
		memories := tx.Bucket(bucketMemories)
		byTime := tx.Bucket(bucketByTime)
		for _, id := range ids {
			data := memories.Get([]byte(id))
			if data == nil {
				continue
			}
			var meta cachedMeta
			if err := json.Unmarshal(data, &meta); err == nil {
				if err := byTime.Delete(timeKey(meta.SavedAt, id)); err != nil {
					return err
				}
			}
			if err := memories.Delete([]byte(id)); err != nil {
				return err
			}
		}
		return nil
	})
}

// Clear drops all cached memories. Schema info is kept.
func (c *BoltCache) Clear() error {
	return c.db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketMemories, bucketByTime} {
			if err := tx.DeleteBucket(name); err != nil && err != bbolt.ErrBucketNotFound {
				return err
			}
			if _, err := tx.CreateBucket(name); err != nil {
				return err
			}
		}
		return nil
	})
}

func (c *BoltCache) Close() error {
	return c.db.Close()
}
