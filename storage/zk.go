package storage

import (
	"path"
	"strings"
	"time"

	"github.com/go-zookeeper/zk"
	"github.com/pingcap/errors"

	"dbcluster/log"
)

const zkSessionTimeout = 5 * time.Second

// ZKStore keeps snapshots as JSON data of persistent znodes under root, one
// per cluster name, so every coordinator of an ensemble sees the same
// membership.
type ZKStore struct {
	conn *zk.Conn
	root string
}

func NewZKStore(servers []string, root string) (*ZKStore, error) {
	conn, _, err := zk.Connect(servers, zkSessionTimeout, zk.WithLogger(zkLogger{}))
	if err != nil {
		return nil, errors.Wrapf(err, "zk connect %s", strings.Join(servers, ","))
	}
	return &ZKStore{conn: conn, root: root}, nil
}

type zkLogger struct{}

func (zkLogger) Printf(format string, args ...interface{}) {
	log.Log.Debugf("[zk] "+format, args...)
}

func (z *ZKStore) nodePath(name string) string {
	return zkNodePath(z.root, name)
}

func zkNodePath(root, name string) string {
	return path.Join("/", root, strings.Replace(name, "/", "_", -1))
}

func (z *ZKStore) ensurePath(p string) error {
	cur := ""
	for _, part := range strings.Split(p, "/") {
		if part == "" {
			continue
		}
		cur = cur + "/" + part
		exists, _, err := z.conn.Exists(cur)
		if err != nil {
			return errors.Trace(err)
		}
		if !exists {
			_, err = z.conn.Create(cur, nil, 0, zk.WorldACL(zk.PermAll))
			if err != nil && err != zk.ErrNodeExists {
				return errors.Trace(err)
			}
		}
	}
	return nil
}

func (z *ZKStore) Load(name string) (*Snapshot, error) {
	data, _, err := z.conn.Get(z.nodePath(name))
	if err == zk.ErrNoNode {
		return nil, errors.Wrapf(ErrNotFound, "%s", z.nodePath(name))
	}
	if err != nil {
		return nil, errors.Trace(err)
	}
	return unmarshalJSON(data)
}

func (z *ZKStore) Save(name string, s *Snapshot) error {
	data, err := marshalJSON(stamp(name, s))
	if err != nil {
		return errors.Trace(err)
	}
	if err := z.ensurePath(z.root); err != nil {
		return errors.Trace(err)
	}
	p := z.nodePath(name)
	_, err = z.conn.Set(p, data, -1)
	if err == zk.ErrNoNode {
		_, err = z.conn.Create(p, data, 0, zk.WorldACL(zk.PermAll))
	}
	return errors.Trace(err)
}

func (z *ZKStore) Close() error {
	z.conn.Close()
	return nil
}
