package container

import (
	"fmt"

	bolt "go.etcd.io/bbolt"

	"github.com/kvswarm/kvswarm/revision"
	"github.com/kvswarm/kvswarm/snapshotio"
)

// recordsBucket is the sole bucket a container's bbolt file uses: one
// key-value pair per record id, value is that record's current head,
// serialized. The plain persisted-state format elsewhere is a flat
// snapshot stream; this on-disk variant additionally keys entries by
// record id so a single record can be read back without decoding the
// whole file, the way a keyed store is accessed by key rather than by
// full scan.
var recordsBucket = []byte("records")

// PersistTo opens (creating if necessary) a bbolt file at path and
// writes every live record's current head revision into it, replacing
// whatever was there before. This is the on-disk counterpart to an
// otherwise in-memory Container: a chunk that wants durability across
// restarts calls this after committing, instead of only relying on
// the in-memory Dump the in-process peer arena serves reads from.
func (c *Container) PersistTo(path string) error {
	db, err := bolt.Open(path, 0600, nil)

	if err != nil {
		return fmt.Errorf("opening container store %s: %w", path, err)
	}

	defer db.Close()

	heads, err := c.Dump(^uint64(0))

	if err != nil {
		return err
	}

	return db.Update(func(tx *bolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists(recordsBucket)

		if err != nil {
			return err
		}

		var staleKeys [][]byte

		if err := bucket.ForEach(func(k, v []byte) error {
			staleKeys = append(staleKeys, append([]byte(nil), k...))
			return nil
		}); err != nil {
			return err
		}

		for _, k := range staleKeys {
			if err := bucket.Delete(k); err != nil {
				return err
			}
		}

		for _, rev := range heads {
			data, err := rev.Serialize()

			if err != nil {
				return err
			}

			key := []byte(rev.Id().String())

			if err := bucket.Put(key, data); err != nil {
				return err
			}
		}

		return nil
	})
}

// LoadFrom rebuilds c from a bbolt file previously written by
// PersistTo, patching each stored head in (Patch tolerates a missing
// prior history the way a fresh replica bootstrapping from a snapshot
// needs to).
func (c *Container) LoadFrom(path string) error {
	db, err := bolt.Open(path, 0600, nil)

	if err != nil {
		return fmt.Errorf("opening container store %s: %w", path, err)
	}

	defer db.Close()

	return db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(recordsBucket)

		if bucket == nil {
			return nil
		}

		return bucket.ForEach(func(k, v []byte) error {
			rev, err := revision.Parse(c.desc, v)

			if err != nil {
				return err
			}

			return c.Patch(rev)
		})
	})
}

// SnapshotTo writes every live record's current head to w in the
// gzip-compressed, table-scoped snapshot format, via snapshotio.
func (c *Container) SnapshotTo(w interface{ Write([]byte) (int, error) }) error {
	sw := snapshotio.NewWriter(w)

	heads, err := c.Dump(^uint64(0))

	if err != nil {
		return err
	}

	for _, rev := range heads {
		data, err := rev.Serialize()

		if err != nil {
			return err
		}

		sw.Put(data)
	}

	return sw.Close()
}
