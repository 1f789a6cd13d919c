package storage

import (
	"io/ioutil"
	"path/filepath"
	"testing"

	"github.com/pingcap/errors"
	"github.com/pingcap/goleveldb/leveldb"
	lvlstorage "github.com/pingcap/goleveldb/leveldb/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dbcluster/action"
	"dbcluster/config"
	"dbcluster/member"
)

func sampleSnapshot() *Snapshot {
	return &Snapshot{
		Members: []member.Descriptor{
			{Label: "a", Driver: "mysql", Addr: "127.0.0.1:3306", User: "root", Database: "shop"},
			{Label: "b", Driver: "postgres", Addr: "127.0.0.1:5432", Database: "shop", Quarantined: true},
		},
		Tables: []*action.Table{{
			Name: "items",
			Columns: []action.Column{
				{Name: "id", Type: "BIGINT"},
				{Name: "title", Type: "TEXT", Nullable: true},
			},
			PrimaryKey: []string{"id"},
		}},
	}
}

func checkRoundTrip(t *testing.T, s Store) {
	_, err := s.Load("shop")
	assert.Equal(t, ErrNotFound, errors.Cause(err))

	require.NoError(t, s.Save("shop", sampleSnapshot()))
	got, err := s.Load("shop")
	require.NoError(t, err)

	assert.Equal(t, "shop", got.Name)
	assert.False(t, got.SavedAt.IsZero())
	require.Len(t, got.Members, 2)
	assert.Equal(t, sampleSnapshot().Members, got.Members)
	require.Len(t, got.Tables, 1)
	assert.Equal(t, sampleSnapshot().Tables[0], got.Tables[0])

	require.Len(t, got.Active(), 1)
	assert.Equal(t, "a", got.Active()[0].Label)
	require.Len(t, got.Quarantined(), 1)
	assert.Equal(t, "b", got.Quarantined()[0].Label)

	// overwrite
	next := sampleSnapshot()
	next.Members = next.Members[:1]
	require.NoError(t, s.Save("shop", next))
	got, err = s.Load("shop")
	require.NoError(t, err)
	assert.Len(t, got.Members, 1)
}

func tempDir(t *testing.T) string {
	dir, err := ioutil.TempDir("", "dbcluster-storage")
	require.NoError(t, err)
	return dir
}

func TestFileStoreTOML(t *testing.T) {
	s := NewFileStore(filepath.Join(tempDir(t), "nested", "shop.toml"))
	checkRoundTrip(t, s)

	data, err := ioutil.ReadFile(s.Path())
	require.NoError(t, err)
	assert.Contains(t, string(data), `name = "shop"`)

	_, err = s.Load("other")
	assert.Equal(t, ErrNotFound, errors.Cause(err))
}

func TestFileStoreYAML(t *testing.T) {
	s := NewFileStore(filepath.Join(tempDir(t), "shop.yaml"))
	checkRoundTrip(t, s)

	data, err := ioutil.ReadFile(s.Path())
	require.NoError(t, err)
	assert.Contains(t, string(data), "name: shop")
}

func TestFileStoreCorrupt(t *testing.T) {
	path := filepath.Join(tempDir(t), "shop.toml")
	require.NoError(t, ioutil.WriteFile(path, []byte("name = "), 0600))
	_, err := NewFileStore(path).Load("shop")
	assert.Error(t, err)
	assert.NotEqual(t, ErrNotFound, errors.Cause(err))
}

func TestLevelStore(t *testing.T) {
	db, err := leveldb.Open(lvlstorage.NewMemStorage(), nil)
	require.NoError(t, err)
	s := NewLevelStoreWithDB(db)
	defer s.Close()

	checkRoundTrip(t, s)
	require.NoError(t, s.Save("audit", sampleSnapshot()))

	names, err := s.Names()
	require.NoError(t, err)
	assert.Equal(t, []string{"audit", "shop"}, names)
}

func TestOpen(t *testing.T) {
	dir := tempDir(t)

	cfg := config.AutoConnect("shop")
	cfg.DataDir = dir
	s, err := Open(cfg)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "shop.toml"), s.(*FileStore).Path())

	cfg.Store.Type = "leveldb"
	s, err = Open(cfg)
	require.NoError(t, err)
	_, ok := s.(*LevelStore)
	assert.True(t, ok)
	require.NoError(t, s.Close())

	cfg.Store.Type = "s3"
	_, err = Open(cfg)
	assert.Error(t, err)
}

func TestZKNodePath(t *testing.T) {
	assert.Equal(t, "/dbcluster/shop", zkNodePath(DefaultZKRoot, "shop"))
	assert.Equal(t, "/a/b/x_y", zkNodePath("a/b/", "x/y"))
}
