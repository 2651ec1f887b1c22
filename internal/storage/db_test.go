package storage

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runDBSuite exercises the DB contract against one backend.
func runDBSuite(t *testing.T, db DB) {
	t.Helper()

	t.Run("PutGet", func(t *testing.T) {
		require.NoError(t, db.Put([]byte("k1"), []byte("v1")))
		val, err := db.Get([]byte("k1"))
		require.NoError(t, err)
		assert.Equal(t, []byte("v1"), val)
	})

	t.Run("GetMissing", func(t *testing.T) {
		_, err := db.Get([]byte("nope"))
		assert.True(t, errors.Is(err, ErrNotFound), "got %v", err)
	})

	t.Run("HasAndDelete", func(t *testing.T) {
		require.NoError(t, db.Put([]byte("del"), []byte("x")))
		ok, err := db.Has([]byte("del"))
		require.NoError(t, err)
		assert.True(t, ok)

		require.NoError(t, db.Delete([]byte("del")))
		ok, err = db.Has([]byte("del"))
		require.NoError(t, err)
		assert.False(t, ok)

		assert.NoError(t, db.Delete([]byte("never-existed")))
	})

	t.Run("Overwrite", func(t *testing.T) {
		require.NoError(t, db.Put([]byte("ow"), []byte("first")))
		require.NoError(t, db.Put([]byte("ow"), []byte("second")))
		val, err := db.Get([]byte("ow"))
		require.NoError(t, err)
		assert.Equal(t, []byte("second"), val)
	})

	t.Run("ValueIsCopied", func(t *testing.T) {
		buf := []byte("orig")
		require.NoError(t, db.Put([]byte("cp"), buf))
		buf[0] = 'X'
		val, err := db.Get([]byte("cp"))
		require.NoError(t, err)
		assert.Equal(t, []byte("orig"), val)
	})

	t.Run("ForEachPrefixOrdered", func(t *testing.T) {
		for _, k := range []string{"ban/c", "ban/a", "ban/b", "other/x"} {
			require.NoError(t, db.Put([]byte(k), []byte(k)))
		}
		var keys []string
		err := db.ForEach([]byte("ban/"), func(key, value []byte) error {
			assert.Equal(t, key, value)
			keys = append(keys, string(key))
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"ban/a", "ban/b", "ban/c"}, keys)
	})

	t.Run("ForEachStopsOnError", func(t *testing.T) {
		stop := errors.New("stop")
		n := 0
		err := db.ForEach([]byte("ban/"), func(key, value []byte) error {
			n++
			return stop
		})
		assert.ErrorIs(t, err, stop)
		assert.Equal(t, 1, n)
	})
}

func TestMemoryDB(t *testing.T) {
	db := NewMemory()
	defer db.Close()
	runDBSuite(t, db)
}

func TestBadgerDB(t *testing.T) {
	db, err := NewBadger(t.TempDir())
	require.NoError(t, err)
	defer db.Close()
	runDBSuite(t, db)
}

func TestLevelDB(t *testing.T) {
	db, err := NewLevelDB(t.TempDir())
	require.NoError(t, err)
	defer db.Close()
	runDBSuite(t, db)
}

func TestOpen_Persistence(t *testing.T) {
	for _, backend := range []string{BackendBadger, BackendLevelDB} {
		t.Run(backend, func(t *testing.T) {
			dir := filepath.Join(t.TempDir(), backend)

			db1, err := Open(backend, dir)
			require.NoError(t, err)
			require.NoError(t, db1.Put([]byte("persist"), []byte("data")))
			require.NoError(t, db1.Close())

			db2, err := Open(backend, dir)
			require.NoError(t, err)
			defer db2.Close()
			val, err := db2.Get([]byte("persist"))
			require.NoError(t, err)
			assert.Equal(t, []byte("data"), val)
		})
	}
}

func TestOpen_Unknown(t *testing.T) {
	_, err := Open("rocksdb", t.TempDir())
	assert.Error(t, err)

	db, err := Open(BackendMemory, "")
	require.NoError(t, err)
	assert.IsType(t, &MemoryDB{}, db)
}
