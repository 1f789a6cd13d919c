package sink

import (
	"testing"

	"github.com/pingcap/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dbcluster/action"
	"dbcluster/member"
)

func descriptor(driver, addr, user, password, database string) member.Descriptor {
	return member.Descriptor{Label: database, Driver: driver, Addr: addr, User: user, Password: password, Database: database}
}

func mustAction(a *action.Action, err error) *action.Action {
	if err != nil {
		panic(err)
	}
	return a
}

func TestMemoryReplayIsIdempotent(t *testing.T) {
	db := NewMemoryDB(t.Name(), MemoryOptions{})
	defer DropMemoryDatabase(t.Name())

	create := mustAction(action.NewCreateTable(orders))
	require.NoError(t, db.Execute(create))
	require.NoError(t, db.Execute(create))

	insert := mustAction(action.NewInsert(orders, action.Row{"id": 1, "note": "a", "total": 1.0}))
	require.NoError(t, db.Execute(insert))
	require.NoError(t, db.Execute(insert))
	assert.Equal(t, 1, db.RowCount("orders"))

	rows, err := db.Rows(orders)
	require.NoError(t, err)
	assert.Equal(t, []action.Row{{"id": int64(1), "note": "a", "total": 1.0}}, rows)
}

func TestMemoryUpdateDelete(t *testing.T) {
	db := NewMemoryDB(t.Name(), MemoryOptions{})
	defer DropMemoryDatabase(t.Name())

	require.NoError(t, db.Execute(mustAction(action.NewCreateTable(orders))))
	require.NoError(t, db.Execute(mustAction(action.NewInsert(orders, action.Row{"id": 1, "note": "a", "total": 1.0}))))

	require.NoError(t, db.Execute(mustAction(action.NewUpdate(orders, action.Row{"id": 1, "note": "b"}))))
	require.NoError(t, db.Execute(mustAction(action.NewUpdate(orders, action.Row{"id": 99, "note": "none"}))))
	rows, err := db.Rows(orders)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "b", rows[0]["note"])
	assert.Equal(t, 1.0, rows[0]["total"])

	del := mustAction(action.NewDelete(orders, action.Row{"id": 1}))
	require.NoError(t, db.Execute(del))
	require.NoError(t, db.Execute(del))
	assert.Equal(t, 0, db.RowCount("orders"))
}

func TestMemoryMissingTable(t *testing.T) {
	db := NewMemoryDB(t.Name(), MemoryOptions{})
	defer DropMemoryDatabase(t.Name())

	err := db.Execute(mustAction(action.NewInsert(orders, action.Row{"id": 1})))
	assert.Equal(t, ErrNoSuchTable, errors.Cause(err))

	ok, err := db.TableExists("orders")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, db.Execute(mustAction(action.NewDropTable(orders))))
}

func TestMemoryEmptyStringAsNull(t *testing.T) {
	db := NewMemoryDB(t.Name(), MemoryOptions{EmptyStringIsNull: true})
	defer DropMemoryDatabase(t.Name())

	caps, err := db.Capabilities()
	require.NoError(t, err)
	assert.False(t, caps[member.CapNullDistinctFromEmpty])

	require.NoError(t, db.Execute(mustAction(action.NewCreateTable(orders))))
	require.NoError(t, db.Execute(mustAction(action.NewInsert(orders, action.Row{"id": 1, "note": "", "total": 0.0}))))
	rows, err := db.Rows(orders)
	require.NoError(t, err)
	assert.Nil(t, rows[0]["note"])
}

func TestMemoryFaults(t *testing.T) {
	db := NewMemoryDB(t.Name(), MemoryOptions{})
	defer DropMemoryDatabase(t.Name())
	require.NoError(t, db.Execute(mustAction(action.NewCreateTable(orders))))

	boom := errors.New("constraint violation")
	db.FailOn(boom, action.Insert)
	err := db.Execute(mustAction(action.NewInsert(orders, action.Row{"id": 1})))
	assert.Equal(t, boom, errors.Cause(err))
	assert.Equal(t, 0, db.RowCount("orders"))
	require.NoError(t, db.Execute(mustAction(action.NewDelete(orders, action.Row{"id": 1}))))

	db.SetFault(nil)
	require.NoError(t, db.Execute(mustAction(action.NewInsert(orders, action.Row{"id": 1}))))

	db.FailReads(boom)
	_, err = db.Rows(orders)
	assert.Error(t, err)
	_, err = db.TableExists("orders")
	assert.Error(t, err)
}

func TestMemoryRawSQLIsRecorded(t *testing.T) {
	db := NewMemoryDB(t.Name(), MemoryOptions{})
	defer DropMemoryDatabase(t.Name())
	require.NoError(t, db.Execute(mustAction(action.NewRawSQL("ANALYZE orders"))))
	assert.Equal(t, []string{"ANALYZE orders"}, db.Statements())
}

func TestOpenRegistry(t *testing.T) {
	defer DropMemoryDatabase("registry")

	drv, err := Open(descriptor("MEMORY", "", "", "", "registry"))
	require.NoError(t, err)
	again, err := Open(descriptor("memory", "", "", "", "registry"))
	require.NoError(t, err)
	assert.True(t, drv == again, "same name must reach the same database")

	_, err = Open(descriptor("oracle", "", "", "", "x"))
	assert.Equal(t, ErrUnknownDriver, errors.Cause(err))

	_, err = Open(descriptor("memory", "", "", "", ""))
	assert.Error(t, err)

	Register("custom", func(desc member.Descriptor) (member.Driver, error) {
		return MemoryDatabase("registry"), nil
	})
	custom, err := Open(descriptor("custom", "", "", "", "whatever"))
	require.NoError(t, err)
	assert.True(t, custom == drv)
	assert.Contains(t, Drivers(), "custom")
	assert.Contains(t, Drivers(), "mysql")
}
