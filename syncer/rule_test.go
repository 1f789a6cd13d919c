package syncer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dbcluster/action"
)

func TestRules(t *testing.T) {
	orders := &action.Table{
		Name:       "Orders",
		Columns:    []action.Column{{Name: "id", Type: "BIGINT"}},
		PrimaryKey: []string{"id"},
	}
	r, err := NewRules(items, orders)
	require.NoError(t, err)
	assert.Equal(t, 2, r.Len())

	rule, ok := r.Get("orders")
	require.True(t, ok)
	assert.Equal(t, "orders", rule.Index)
	assert.True(t, rule.CheckFilter("ID"))
	assert.False(t, rule.CheckFilter("title"))
	assert.Error(t, rule.CheckRow(action.Row{"id": 1, "title": "x"}))
	assert.NoError(t, rule.CheckRow(action.Row{"id": 1}))

	// replacing keeps the original position
	wider := items.Clone()
	wider.Columns = append(wider.Columns, action.Column{Name: "price", Type: "DOUBLE", Nullable: true})
	require.NoError(t, r.Add(wider))
	tables := r.Tables()
	require.Len(t, tables, 2)
	assert.Equal(t, "items", tables[0].Name)
	assert.Len(t, tables[0].Columns, 3)
	assert.Equal(t, "Orders", tables[1].Name)

	// copies
	tables[0].Name = "changed"
	assert.Equal(t, "items", r.Tables()[0].Name)

	r.Remove("ITEMS")
	assert.Equal(t, 1, r.Len())

	assert.Error(t, r.Add(&action.Table{Name: "nokey", Columns: []action.Column{{Name: "a", Type: "INT"}}}))
	_, err = NewRules(&action.Table{})
	assert.Error(t, err)
}
