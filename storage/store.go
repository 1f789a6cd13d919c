package storage

import (
	"encoding/json"
	"time"

	"github.com/pingcap/errors"

	"dbcluster/action"
	"dbcluster/config"
	"dbcluster/member"
)

// ErrNotFound is returned by Load when nothing was saved under the name.
var ErrNotFound = errors.New("storage: no saved cluster")

// DefaultZKRoot is the parent znode of saved clusters.
const DefaultZKRoot = "/dbcluster"

// Snapshot is what a cluster persists to be rebuilt after a restart:
// connection descriptors and table schemas, never row data.
type Snapshot struct {
	Name    string              `toml:"name" json:"name" yaml:"name"`
	SavedAt time.Time           `toml:"saved_at" json:"saved_at" yaml:"saved_at"`
	Members []member.Descriptor `toml:"member" json:"members" yaml:"members"`
	Tables  []*action.Table     `toml:"table" json:"tables" yaml:"tables"`
}

// Active returns the descriptors of members that were not quarantined.
func (s *Snapshot) Active() []member.Descriptor {
	var out []member.Descriptor
	for _, d := range s.Members {
		if !d.Quarantined {
			out = append(out, d)
		}
	}
	return out
}

// Quarantined returns the descriptors of members quarantined last run.
func (s *Snapshot) Quarantined() []member.Descriptor {
	var out []member.Descriptor
	for _, d := range s.Members {
		if d.Quarantined {
			out = append(out, d)
		}
	}
	return out
}

// Store persists cluster snapshots by cluster name.
type Store interface {
	Load(name string) (*Snapshot, error)
	Save(name string, s *Snapshot) error
	Close() error
}

// Open opens the store the configuration selects.
func Open(cfg *config.ClusterConfig) (Store, error) {
	switch cfg.Store.Type {
	case "", "file":
		return NewFileStore(cfg.StorePath()), nil
	case "leveldb":
		return NewLevelStore(cfg.StorePath())
	case "zookeeper":
		root := cfg.Store.Root
		if len(root) == 0 {
			root = DefaultZKRoot
		}
		return NewZKStore(cfg.Store.Servers, root)
	}
	return nil, errors.Errorf("storage: unknown store type %q", cfg.Store.Type)
}

func stamp(name string, s *Snapshot) *Snapshot {
	c := *s
	c.Name = name
	c.SavedAt = time.Now().UTC().Truncate(time.Second)
	return &c
}

func marshalJSON(s *Snapshot) ([]byte, error) {
	data, err := json.Marshal(s)
	return data, errors.Trace(err)
}

func unmarshalJSON(data []byte) (*Snapshot, error) {
	s := new(Snapshot)
	if err := json.Unmarshal(data, s); err != nil {
		return nil, errors.Trace(err)
	}
	return s, nil
}
