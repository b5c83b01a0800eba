// Package keystore persists device settings and credentials in a bbolt
// database.
package keystore

import (
	"os"
	"path/filepath"
	"time"

	"github.com/go-errors/errors"
	"go.etcd.io/bbolt"
)

const dbName = "fotad.db"

var (
	ErrNotFound = errors.New("key not found")

	valuesBucket  = []byte("values")
	recordsBucket = []byte("records")
)

// DB is the key/value store backing credentials and provisioning data.
type DB struct {
	*bbolt.DB
	path string
}

// Open opens or creates the store inside dir.
func Open(dir string) (*DB, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, errors.Errorf("could not create data dir %v: %v", dir, err)
	}

	path := filepath.Join(dir, dbName)

	bdb, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, errors.Errorf("could not open %v: %v", path, err)
	}

	db := &DB{
		DB:   bdb,
		path: path,
	}

	if err := db.createBuckets(); err != nil {
		_ = bdb.Close()
		return nil, err
	}

	return db, nil
}

func (db *DB) Path() string {
	return db.path
}

func (db *DB) createBuckets() error {
	return db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{valuesBucket, recordsBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return errors.Errorf("could not create bucket %s: %v", name, err)
			}
		}
		return nil
	})
}

func (db *DB) Exists(key string) bool {
	exists := false

	_ = db.View(func(tx *bbolt.Tx) error {
		exists = tx.Bucket(valuesBucket).Get([]byte(key)) != nil
		return nil
	})

	return exists
}

func (db *DB) Get(key string) (string, error) {
	var value string

	err := db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(valuesBucket).Get([]byte(key))
		if data == nil {
			return errors.Errorf("%v: %w", key, ErrNotFound)
		}

		value = string(data)

		return nil
	})
	if err != nil {
		return "", err
	}

	return value, nil
}

func (db *DB) Set(key string, value string) error {
	if key == "" {
		return errors.New("empty key")
	}

	return db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(valuesBucket).Put([]byte(key), []byte(value))
	})
}

// Del removes key. Deleting a missing key returns ErrNotFound.
func (db *DB) Del(key string) error {
	return db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(valuesBucket)
		if bucket.Get([]byte(key)) == nil {
			return errors.Errorf("%v: %w", key, ErrNotFound)
		}
		return bucket.Delete([]byte(key))
	})
}

// Keys returns all stored keys in lexical order.
func (db *DB) Keys() ([]string, error) {
	var keys []string

	err := db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(valuesBucket).ForEach(func(k, _ []byte) error {
			keys = append(keys, string(k))
			return nil
		})
	})
	if err != nil {
		return nil, errors.Errorf("could not list keys: %v", err)
	}

	return keys, nil
}

// Wipe deletes every value and record.
func (db *DB) Wipe() error {
	err := db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{valuesBucket, recordsBucket} {
			if err := tx.DeleteBucket(name); err != nil && !errors.Is(err, bbolt.ErrBucketNotFound) {
				return err
			}
			if _, err := tx.CreateBucket(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return errors.Errorf("could not wipe store: %v", err)
	}

	return nil
}
