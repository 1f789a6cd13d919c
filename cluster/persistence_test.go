package cluster

import (
	"io/ioutil"
	"path/filepath"
	"testing"

	"github.com/pingcap/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dbcluster/action"
	"dbcluster/config"
	"dbcluster/member"
	"dbcluster/sink"
	"dbcluster/storage"
)

func storePath(t *testing.T, name string) string {
	dir, err := ioutil.TempDir("", "dbcluster-cluster")
	require.NoError(t, err)
	return filepath.Join(dir, name+".toml")
}

func persistentConfig(mode config.Mode, name string) *config.ClusterConfig {
	cfg := testConfig(name)
	cfg.Modes = []config.Mode{mode}
	return cfg
}

func TestNoConfigurationFound(t *testing.T) {
	for _, mode := range []config.Mode{config.ModeAutoConnect, config.ModeAutoRebuild} {
		cfg := persistentConfig(mode, "missing")
		_, err := NewManager(cfg, WithStore(storage.NewFileStore(storePath(t, "missing"))))
		assert.Equal(t, ErrNoConfigurationFound, errors.Cause(err), string(mode))
	}
}

func TestCorruptConfigurationFails(t *testing.T) {
	path := storePath(t, "corrupt")
	require.NoError(t, ioutil.WriteFile(path, []byte("name = "), 0600))
	_, err := NewManager(persistentConfig(config.ModeAutoConnect, "corrupt"), WithStore(storage.NewFileStore(path)))
	assert.Error(t, err)
	assert.NotEqual(t, ErrNoConfigurationFound, errors.Cause(err))
}

func TestAutoStart(t *testing.T) {
	aDB := sink.NewMemoryDB(t.Name()+"/a", sink.MemoryOptions{})
	bDB := sink.NewMemoryDB(t.Name()+"/b", sink.MemoryOptions{})
	path := storePath(t, "static")

	cfg := config.AutoStart("static")
	cfg.Tables = []*action.Table{items}
	cfg.Store.Path = path
	cfg.Members = nil
	for _, db := range []*sink.MemoryDB{aDB, bDB} {
		cfg.Members = append(cfg.Members, member.Descriptor{Label: db.Name(), Driver: "memory", Database: db.Name()})
	}

	c, err := NewManager(cfg)
	require.NoError(t, err)
	defer c.Dismantle()
	require.True(t, c.WaitUntilSynchronised(syncTimeout))
	assert.Equal(t, 2, c.Size())

	insertN(t, c, 0, 4)
	assert.Equal(t, 4, bDB.RowCount("items"))

	snap, err := storage.NewFileStore(path).Load("static")
	require.NoError(t, err)
	assert.Len(t, snap.Members, 2)
	assert.Len(t, snap.Tables, 1)
}

func TestRestartWithAutoConnect(t *testing.T) {
	a, aDB := memMember(t, "a", sink.MemoryOptions{})
	b, bDB := memMember(t, "b", sink.MemoryOptions{})
	path := storePath(t, "restart")

	c, err := NewManager(persistentConfig(config.ModeAutoConnect, "restart"),
		WithStore(storage.NewFileStore(path)), WithMembers(a, b))
	require.NoError(t, err)
	require.True(t, c.WaitUntilSynchronised(syncTimeout))
	insertN(t, c, 0, 6)
	c.Dismantle()

	// tables come back from the saved snapshot
	cfg := persistentConfig(config.ModeAutoConnect, "restart")
	cfg.Tables = nil
	c, err = NewManager(cfg, WithStore(storage.NewFileStore(path)))
	require.NoError(t, err)
	defer c.Dismantle()
	require.True(t, c.WaitUntilSynchronised(syncTimeout))

	assert.Equal(t, 2, c.Size())
	require.Len(t, c.TrackedTables(), 1)
	assert.Equal(t, "items", c.TrackedTables()[0].Name)
	assert.Equal(t, a.ID(), c.Databases()[0].ID())

	require.NoError(t, c.Insert("items", action.Row{"id": 100}))
	assert.Equal(t, 7, aDB.RowCount("items"))
	assert.Equal(t, 7, bDB.RowCount("items"))
}

func TestSeedFailureKeepsPersistedMembership(t *testing.T) {
	a, aDB := memMember(t, "a", sink.MemoryOptions{})
	path := storePath(t, "seed-kept")

	c, err := NewManager(persistentConfig(config.ModeAutoConnect, "seed-kept"),
		WithStore(storage.NewFileStore(path)), WithMembers(a))
	require.NoError(t, err)
	c.Dismantle()

	aDB.FailOn(errBoom, action.CreateTable)
	_, err = NewManager(persistentConfig(config.ModeAutoConnect, "seed-kept"), WithStore(storage.NewFileStore(path)))
	assert.Equal(t, errBoom, errors.Cause(err))

	snap, err := storage.NewFileStore(path).Load("seed-kept")
	require.NoError(t, err)
	require.Len(t, snap.Members, 1)
	assert.Equal(t, a.ID(), snap.Members[0].ID())
}

func TestFullyManualPersistsNothing(t *testing.T) {
	a, _ := memMember(t, "a", sink.MemoryOptions{})
	path := storePath(t, "manual")
	c, err := NewManager(testConfig("manual"), WithStore(storage.NewFileStore(path)), WithMembers(a))
	require.NoError(t, err)
	defer c.Dismantle()
	insertN(t, c, 0, 1)

	_, err = storage.NewFileStore(path).Load("manual")
	assert.Equal(t, storage.ErrNotFound, errors.Cause(err))
}

func quarantineSecond(t *testing.T, mode config.Mode, path string) (*sink.MemoryDB, *sink.MemoryDB) {
	a, aDB := memMember(t, "a", sink.MemoryOptions{})
	b, bDB := memMember(t, "b", sink.MemoryOptions{})
	c, err := NewManager(persistentConfig(mode, "rebuild"),
		WithStore(storage.NewFileStore(path)), WithMembers(a, b))
	require.NoError(t, err)
	require.True(t, c.WaitUntilSynchronised(syncTimeout))
	insertN(t, c, 0, 3)

	bDB.FailOn(errBoom, action.Insert)
	insertN(t, c, 3, 5)
	require.Equal(t, 1, c.Size())
	c.Dismantle()
	bDB.SetFault(nil)

	snap, err := storage.NewFileStore(path).Load("rebuild")
	require.NoError(t, err)
	require.Len(t, snap.Quarantined(), 1)
	assert.Equal(t, b.ID(), snap.Quarantined()[0].ID())
	assert.Equal(t, 5, aDB.RowCount("items"))
	assert.Equal(t, 3, bDB.RowCount("items"))
	return aDB, bDB
}

func TestAutoConnectSkipsQuarantined(t *testing.T) {
	path := storePath(t, "rebuild")
	quarantineSecond(t, config.ModeAutoConnect, path)

	c, err := NewManager(persistentConfig(config.ModeAutoConnect, "rebuild"), WithStore(storage.NewFileStore(path)))
	require.NoError(t, err)
	defer c.Dismantle()
	assert.Equal(t, 1, c.Size())

	// still remembered for a later rebuild
	snap, err := storage.NewFileStore(path).Load("rebuild")
	require.NoError(t, err)
	assert.Len(t, snap.Quarantined(), 1)
	assert.Len(t, snap.Active(), 1)
}

func TestAutoRebuild(t *testing.T) {
	path := storePath(t, "rebuild")
	aDB, bDB := quarantineSecond(t, config.ModeAutoConnect, path)

	c, err := NewManager(persistentConfig(config.ModeAutoRebuild, "rebuild"), WithStore(storage.NewFileStore(path)))
	require.NoError(t, err)
	defer c.Dismantle()
	require.True(t, c.WaitUntilSynchronised(syncTimeout), c.GetClusterStatus())

	assert.Equal(t, 2, c.Size())
	assert.Equal(t, rowsOf(t, aDB), rowsOf(t, bDB))

	snap, err := storage.NewFileStore(path).Load("rebuild")
	require.NoError(t, err)
	assert.Empty(t, snap.Quarantined())
	assert.Len(t, snap.Active(), 2)
}

func TestExplicitMembersWin(t *testing.T) {
	path := storePath(t, "explicit")
	a, aDB := memMember(t, "a", sink.MemoryOptions{})
	c, err := NewManager(persistentConfig(config.ModeAutoConnect, "explicit"),
		WithStore(storage.NewFileStore(path)), WithMembers(a))
	require.NoError(t, err)
	c.Dismantle()

	again := a.Descriptor()
	again.Label = "relabelled"
	var opened int
	open := func(d member.Descriptor) (member.Driver, error) {
		opened++
		return sink.Open(d)
	}
	explicit := member.New(again, aDB)
	c, err = NewManager(persistentConfig(config.ModeAutoConnect, "explicit"),
		WithStore(storage.NewFileStore(path)), WithOpener(open), WithMembers(explicit))
	require.NoError(t, err)
	defer c.Dismantle()

	assert.Equal(t, 0, opened)
	require.Equal(t, 1, c.Size())
	assert.Equal(t, "relabelled", c.Databases()[0].Label())
}

func TestUnreachableMemberIsQuarantined(t *testing.T) {
	path := storePath(t, "unreachable")
	a, _ := memMember(t, "a", sink.MemoryOptions{})
	b, _ := memMember(t, "b", sink.MemoryOptions{})
	c, err := NewManager(persistentConfig(config.ModeAutoConnect, "unreachable"),
		WithStore(storage.NewFileStore(path)), WithMembers(a, b))
	require.NoError(t, err)
	require.True(t, c.WaitUntilSynchronised(syncTimeout))
	c.Dismantle()

	open := func(d member.Descriptor) (member.Driver, error) {
		if d.Label == "b" {
			return nil, errBoom
		}
		return sink.Open(d)
	}
	c, err = NewManager(persistentConfig(config.ModeAutoConnect, "unreachable"),
		WithStore(storage.NewFileStore(path)), WithOpener(open))
	require.NoError(t, err)
	defer c.Dismantle()

	assert.Equal(t, 1, c.Size())
	require.Len(t, c.RemovedDatabases(), 1)
	assert.Equal(t, member.StatusQuarantined, c.RemovedDatabases()[0].Status)

	snap, err := storage.NewFileStore(path).Load("unreachable")
	require.NoError(t, err)
	require.Len(t, snap.Quarantined(), 1)
	assert.Equal(t, b.ID(), snap.Quarantined()[0].ID())
}
