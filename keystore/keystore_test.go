package keystore

import (
	"testing"
	"time"

	"github.com/go-errors/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *DB {
	db, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = db.Close()
	})
	return db
}

func TestSetGetDel(t *testing.T) {
	db := openTestDB(t)

	assert.False(t, db.Exists("ssid"))

	_, err := db.Get("ssid")
	assert.True(t, errors.Is(err, ErrNotFound))

	require.NoError(t, db.Set("ssid", "home"))
	assert.True(t, db.Exists("ssid"))

	value, err := db.Get("ssid")
	require.NoError(t, err)
	assert.Equal(t, "home", value)

	require.NoError(t, db.Set("ssid", "office"))
	value, err = db.Get("ssid")
	require.NoError(t, err)
	assert.Equal(t, "office", value)

	require.NoError(t, db.Del("ssid"))
	assert.False(t, db.Exists("ssid"))
	assert.True(t, errors.Is(db.Del("ssid"), ErrNotFound))

	assert.Error(t, db.Set("", "x"))
}

func TestEmptyValueExists(t *testing.T) {
	db := openTestDB(t)

	require.NoError(t, db.Set("pass", ""))
	assert.True(t, db.Exists("pass"))
}

func TestKeysAndWipe(t *testing.T) {
	db := openTestDB(t)

	require.NoError(t, db.Set("security", "WPA2"))
	require.NoError(t, db.Set("pass", "secret"))
	require.NoError(t, db.Set("ssid", "home"))
	require.NoError(t, db.SetUpdateRecord(&UpdateRecord{URL: "http://fw", State: "INSTALLING"}))

	keys, err := db.Keys()
	require.NoError(t, err)
	assert.Equal(t, []string{"pass", "security", "ssid"}, keys)

	require.NoError(t, db.Wipe())

	keys, err = db.Keys()
	require.NoError(t, err)
	assert.Empty(t, keys)

	record, err := db.GetUpdateRecord()
	require.NoError(t, err)
	assert.Nil(t, record)
}

func TestValuesSurviveReopen(t *testing.T) {
	dir := t.TempDir()

	db, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, db.Set("device-id", "abc"))
	require.NoError(t, db.Close())

	db, err = Open(dir)
	require.NoError(t, err)
	defer db.Close()

	value, err := db.Get("device-id")
	require.NoError(t, err)
	assert.Equal(t, "abc", value)
}

func TestUpdateRecord(t *testing.T) {
	db := openTestDB(t)

	record, err := db.GetUpdateRecord()
	require.NoError(t, err)
	assert.Nil(t, record)

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, db.SetUpdateRecord(&UpdateRecord{
		URL:       "https://updates.example.com/fw.bin",
		Size:      1024,
		State:     "INSTALLING",
		UpdatedAt: now,
	}))

	record, err = db.GetUpdateRecord()
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, uint32(1024), record.Size)
	assert.Equal(t, "INSTALLING", record.State)
	assert.True(t, now.Equal(record.UpdatedAt))
}
