package keystore

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/go-errors/errors"
	"go.etcd.io/bbolt"
)

var lastUpdateKey = []byte("last-update")

// UpdateRecord describes the most recent firmware update attempt. It is
// written before the image is applied so it survives the reboot.
type UpdateRecord struct {
	URL       string    `json:"url"`
	Size      uint32    `json:"size"`
	State     string    `json:"state"`
	Error     string    `json:"error,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (db *DB) SetUpdateRecord(record *UpdateRecord) error {
	return db.setJSON(recordsBucket, lastUpdateKey, record)
}

// GetUpdateRecord returns nil when no update was ever attempted.
func (db *DB) GetUpdateRecord() (*UpdateRecord, error) {
	record := &UpdateRecord{}

	found, err := db.getJSON(recordsBucket, lastUpdateKey, record)
	if err != nil {
		return nil, err
	}

	if !found {
		return nil, nil
	}

	return record, nil
}

func (db *DB) setJSON(bucket []byte, bucketKey []byte, v interface{}) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}

	return db.Update(func(tx *bbolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists(bucket)
		if err != nil {
			return err
		}

		return bucket.Put(bucketKey, payload)
	})
}

func (db *DB) getJSON(bucket []byte, bucketKey []byte, v interface{}) (bool, error) {
	found := false

	err := db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucket)
		if b == nil {
			return nil
		}

		data := b.Get(bucketKey)
		if data == nil || bytes.Equal(data, []byte("null")) {
			return nil
		}

		if err := json.Unmarshal(data, v); err != nil {
			return errors.Errorf("could not unmarshal data: %v", err)
		}

		found = true

		return nil
	})
	if err != nil {
		return false, err
	}

	return found, nil
}
