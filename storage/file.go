package storage

import (
	"bytes"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
	"github.com/pingcap/errors"
	"github.com/siddontang/go/ioutil2"
	"gopkg.in/yaml.v3"
)

// FileStore keeps one snapshot in a TOML file, or a YAML file when the path
// ends in .yaml or .yml. Writes replace the file atomically.
type FileStore struct {
	mu   sync.Mutex
	path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (f *FileStore) Path() string {
	return f.path
}

func (f *FileStore) yaml() bool {
	ext := strings.ToLower(filepath.Ext(f.path))
	return ext == ".yaml" || ext == ".yml"
}

func (f *FileStore) Load(name string) (*Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := ioutil.ReadFile(f.path)
	if os.IsNotExist(err) {
		return nil, errors.Wrapf(ErrNotFound, "%s", f.path)
	}
	if err != nil {
		return nil, errors.Trace(err)
	}

	s := new(Snapshot)
	if f.yaml() {
		err = yaml.Unmarshal(data, s)
	} else {
		_, err = toml.Decode(string(data), s)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "decode %s", f.path)
	}
	if s.Name != name {
		return nil, errors.Wrapf(ErrNotFound, "%s holds cluster %q", f.path, s.Name)
	}
	return s, nil
}

func (f *FileStore) Save(name string, s *Snapshot) error {
	s = stamp(name, s)

	var data []byte
	if f.yaml() {
		out, err := yaml.Marshal(s)
		if err != nil {
			return errors.Trace(err)
		}
		data = out
	} else {
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(s); err != nil {
			return errors.Trace(err)
		}
		data = buf.Bytes()
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if dir := filepath.Dir(f.path); len(dir) > 0 {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return errors.Trace(err)
		}
	}
	return errors.Trace(ioutil2.WriteFileAtomic(f.path, data, 0600))
}

func (f *FileStore) Close() error {
	return nil
}
