package toolcache

import (
	"encoding/binary"
	"fmt"

	bolt "go.etcd.io/bbolt"
)

const (
	schemaVersion = 1

	rootBucketName  = "tool_cache"
	metaBucketName  = "meta"
	toolsBucketName = "backends"
	versionKey      = "version"
)

func ensureSchema(db *bolt.DB) error {
	return db.Update(func(tx *bolt.Tx) error {
		root, err := tx.CreateBucketIfNotExists([]byte(rootBucketName))
		if err != nil {
			return fmt.Errorf("create root bucket: %w", err)
		}
		meta, err := root.CreateBucketIfNotExists([]byte(metaBucketName))
		if err != nil {
			return fmt.Errorf("create meta bucket: %w", err)
		}
		if _, err := root.CreateBucketIfNotExists([]byte(toolsBucketName)); err != nil {
			return fmt.Errorf("create backends bucket: %w", err)
		}

		current := readSchemaVersion(meta)
		switch {
		case current == 0:
			return writeSchemaVersion(meta, schemaVersion)
		case current > schemaVersion:
			return fmt.Errorf("unsupported tool cache schema version %d", current)
		case current < schemaVersion:
			// Older layouts are only a cache; drop them.
			if err := root.DeleteBucket([]byte(toolsBucketName)); err != nil {
				return fmt.Errorf("reset backends bucket: %w", err)
			}
			if _, err := root.CreateBucket([]byte(toolsBucketName)); err != nil {
				return fmt.Errorf("create backends bucket: %w", err)
			}
			return writeSchemaVersion(meta, schemaVersion)
		default:
			return nil
		}
	})
}

func toolsBucket(tx *bolt.Tx) *bolt.Bucket {
	return tx.Bucket([]byte(rootBucketName)).Bucket([]byte(toolsBucketName))
}

func readSchemaVersion(meta *bolt.Bucket) int {
	raw := meta.Get([]byte(versionKey))
	if len(raw) != 8 {
		return 0
	}
	return int(binary.BigEndian.Uint64(raw))
}

func writeSchemaVersion(meta *bolt.Bucket, version int) error {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(version))
	return meta.Put([]byte(versionKey), buf)
}
