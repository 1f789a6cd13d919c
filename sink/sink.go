package sink

import (
	"sort"
	"strings"
	"sync"

	"github.com/pingcap/errors"

	"dbcluster/member"
)

// ErrUnknownDriver is returned by Open for an unregistered driver name.
var ErrUnknownDriver = errors.New("sink: unknown driver")

// OpenFunc connects to the database a descriptor names.
type OpenFunc func(desc member.Descriptor) (member.Driver, error)

var (
	driversMu sync.RWMutex
	drivers   = map[string]OpenFunc{
		"mysql":      openMySQL,
		"postgres":   openPostgres,
		"postgresql": openPostgres,
		"memory":     openMemory,
	}
)

// Register makes a driver available to Open under name.
func Register(name string, open OpenFunc) {
	driversMu.Lock()
	defer driversMu.Unlock()
	drivers[strings.ToLower(name)] = open
}

// Open connects to the database described by desc.
func Open(desc member.Descriptor) (member.Driver, error) {
	driversMu.RLock()
	open, ok := drivers[strings.ToLower(desc.Driver)]
	driversMu.RUnlock()
	if !ok {
		return nil, errors.Wrapf(ErrUnknownDriver, "%q", desc.Driver)
	}
	drv, err := open(desc)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", desc)
	}
	return drv, nil
}

// Drivers returns the registered driver names.
func Drivers() []string {
	driversMu.RLock()
	defer driversMu.RUnlock()
	names := make([]string, 0, len(drivers))
	for name := range drivers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
