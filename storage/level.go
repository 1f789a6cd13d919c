package storage

import (
	"github.com/pingcap/errors"
	"github.com/pingcap/goleveldb/leveldb"
	"github.com/pingcap/goleveldb/leveldb/util"
)

const levelPrefix = "cluster/"

// LevelStore keeps snapshots as JSON values in a LevelDB database, keyed by
// cluster name, so several clusters can share one directory.
type LevelStore struct {
	db *leveldb.DB
}

func NewLevelStore(path string) (*LevelStore, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "open leveldb %s", path)
	}
	return &LevelStore{db: db}, nil
}

// NewLevelStoreWithDB wraps an already opened database.
func NewLevelStoreWithDB(db *leveldb.DB) *LevelStore {
	return &LevelStore{db: db}
}

func (l *LevelStore) Load(name string) (*Snapshot, error) {
	data, err := l.db.Get([]byte(levelPrefix+name), nil)
	if err == leveldb.ErrNotFound {
		return nil, errors.Wrapf(ErrNotFound, "%s", name)
	}
	if err != nil {
		return nil, errors.Trace(err)
	}
	return unmarshalJSON(data)
}

func (l *LevelStore) Save(name string, s *Snapshot) error {
	data, err := marshalJSON(stamp(name, s))
	if err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(l.db.Put([]byte(levelPrefix+name), data, nil))
}

// Names lists the clusters saved in the database.
func (l *LevelStore) Names() ([]string, error) {
	it := l.db.NewIterator(util.BytesPrefix([]byte(levelPrefix)), nil)
	defer it.Release()

	var names []string
	for it.Next() {
		names = append(names, string(it.Key()[len(levelPrefix):]))
	}
	return names, errors.Trace(it.Error())
}

func (l *LevelStore) Close() error {
	return errors.Trace(l.db.Close())
}
