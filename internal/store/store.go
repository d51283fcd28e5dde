package store

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sthaha/emseepee/internal/domain"
	bolt "go.etcd.io/bbolt"
)

// Bucket names
var (
	bucketLabels  = []byte("labels")
	bucketProfile = []byte("profile")
	bucketMeta    = []byte("meta")
)

// Meta bucket keys
const (
	metaLabelsRefreshedAt  = "labels_refreshed_at"
	metaProfileRefreshedAt = "profile_refreshed_at"
)

const dbFileName = "metadata.db"

// MetadataCache implements domain.MetadataStore using BoltDB with an
// in-memory mirror. Reads are always served from memory; writes update
// memory first and then the durable store, so a durability failure leaves
// the cache usable in a degraded mode.
type MetadataCache struct {
	db     *bolt.DB
	logger *slog.Logger

	mu        sync.RWMutex
	labels    map[string]string
	profile   *domain.Profile
	labelsAt  time.Time
	profileAt time.Time
}

// Open loads the metadata cache for one account's cache directory. It never
// fails: a missing or corrupt store starts empty (memory-only if the db
// cannot be opened at all) with a logged warning.
func Open(cacheDir string, logger *slog.Logger) *MetadataCache {
	if logger == nil {
		logger = slog.Default()
	}

	c := &MetadataCache{
		logger: logger,
		labels: make(map[string]string),
	}

	if cacheDir == "" {
		// Memory-only mode (no persistence)
		return c
	}

	if err := os.MkdirAll(cacheDir, 0755); err != nil {
		logger.Warn("failed to create cache directory, running memory-only", "error", err)
		return c
	}

	dbPath := filepath.Join(cacheDir, dbFileName)
	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		logger.Warn("failed to open metadata db, running memory-only", "error", err)
		return c
	}

	// Create buckets
	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketLabels, bucketProfile, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		logger.Warn("failed to initialize metadata db, running memory-only", "error", err)
		db.Close()
		return c
	}

	c.db = db
	c.load()
	return c
}

// load populates the in-memory mirror from the durable store. Corrupt
// entries are skipped with a warning; load never fails construction.
func (c *MetadataCache) load() {
	err := c.db.View(func(tx *bolt.Tx) error {
		if b := tx.Bucket(bucketLabels); b != nil {
			b.ForEach(func(k, v []byte) error {
				c.labels[string(k)] = string(v)
				return nil
			})
		}

		if b := tx.Bucket(bucketProfile); b != nil {
			if v := b.Get([]byte("profile")); v != nil {
				var p domain.Profile
				if err := json.Unmarshal(v, &p); err != nil {
					c.logger.Warn("skipping corrupt cached profile", "error", err)
				} else {
					c.profile = &p
				}
			}
		}

		if b := tx.Bucket(bucketMeta); b != nil {
			c.labelsAt = parseTime(b.Get([]byte(metaLabelsRefreshedAt)))
			c.profileAt = parseTime(b.Get([]byte(metaProfileRefreshedAt)))
		}
		return nil
	})
	if err != nil {
		c.logger.Warn("failed to load metadata cache, starting empty", "error", err)
		return
	}

	c.logger.Debug("metadata cache loaded", "labels", len(c.labels), "hasProfile", c.profile != nil)
}

func parseTime(v []byte) time.Time {
	if v == nil {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, string(v))
	if err != nil {
		return time.Time{}
	}
	return t
}

// LabelName returns the cached name for a label identifier.
func (c *MetadataCache) LabelName(id string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	name, ok := c.labels[id]
	return name, ok
}

// Labels returns a copy of the cached label id to name mapping.
func (c *MetadataCache) Labels() map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]string, len(c.labels))
	for id, name := range c.labels {
		out[id] = name
	}
	return out
}

// SaveLabels merges the given mappings into the cache. Memory is updated
// first; a durable write failure is returned but does not roll memory back.
func (c *MetadataCache) SaveLabels(labels map[string]string) error {
	if len(labels) == 0 {
		return nil
	}

	now := time.Now().UTC()

	c.mu.Lock()
	for id, name := range labels {
		c.labels[id] = name
	}
	c.labelsAt = now
	c.mu.Unlock()

	if c.db == nil {
		return nil // Memory-only mode
	}

	return c.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketLabels)
		for id, name := range labels {
			if err := b.Put([]byte(id), []byte(name)); err != nil {
				return err
			}
		}
		return tx.Bucket(bucketMeta).Put([]byte(metaLabelsRefreshedAt), []byte(now.Format(time.RFC3339Nano)))
	})
}

// InvalidateLabel removes a single label mapping from memory and disk.
func (c *MetadataCache) InvalidateLabel(id string) error {
	c.mu.Lock()
	delete(c.labels, id)
	c.mu.Unlock()

	if c.db == nil {
		return nil
	}

	return c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketLabels).Delete([]byte(id))
	})
}

// Profile returns the cached account profile.
func (c *MetadataCache) Profile() (*domain.Profile, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.profile == nil {
		return nil, false
	}
	p := *c.profile
	return &p, true
}

// SaveProfile stores the account profile in memory and on disk.
func (c *MetadataCache) SaveProfile(p *domain.Profile) error {
	if p == nil {
		return nil
	}

	now := time.Now().UTC()

	c.mu.Lock()
	cp := *p
	c.profile = &cp
	c.profileAt = now
	c.mu.Unlock()

	if c.db == nil {
		return nil
	}

	data, err := json.Marshal(p)
	if err != nil {
		return err
	}

	return c.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketProfile).Put([]byte("profile"), data); err != nil {
			return err
		}
		return tx.Bucket(bucketMeta).Put([]byte(metaProfileRefreshedAt), []byte(now.Format(time.RFC3339Nano)))
	})
}

// InvalidateAll clears memory and the durable store. The memory lock is held
// across the bolt transaction so no reader can observe a partially cleared
// cache.
func (c *MetadataCache) InvalidateAll() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.labels = make(map[string]string)
	c.profile = nil
	c.labelsAt = time.Time{}
	c.profileAt = time.Time{}

	if c.db == nil {
		return nil
	}

	return c.db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketLabels, bucketProfile, bucketMeta} {
			if err := tx.DeleteBucket(bucket); err != nil {
				return err
			}
			if _, err := tx.CreateBucket(bucket); err != nil {
				return err
			}
		}
		return nil
	})
}

// Status reports cache existence and freshness. It exposes no paths.
func (c *MetadataCache) Status() domain.CacheStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return domain.CacheStatus{
		Exists:             c.db != nil,
		LabelCount:         len(c.labels),
		LabelsRefreshedAt:  c.labelsAt,
		ProfileRefreshedAt: c.profileAt,
	}
}

func (c *MetadataCache) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}
