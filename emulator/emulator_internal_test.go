package emulator

import (
	"context"
	"testing"

	"github.com/maxpert/cqnwatch/dpi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRowID_RoundTrip(t *testing.T) {
	for _, rowID := range []int64{1, 2, 63, 64, 1 << 18, 1<<18 + 5, 123456789} {
		s := EncodeRowID("ORDERS", rowID)
		require.Len(t, s, 18)

		obj, got, err := ParseRowID(s)
		require.NoError(t, err)
		assert.Equal(t, rowID, got)
		assert.Equal(t, ObjectID("ORDERS"), obj)
	}

	assert.Equal(t, EncodeRowID("orders", 7), EncodeRowID("ORDERS", 7), "object ids ignore case")
	assert.NotEqual(t, EncodeRowID("ORDERS", 7), EncodeRowID("ITEMS", 7))
	assert.Equal(t, "AAB", EncodeRowID("ORDERS", 1)[6:9], "file number")
}

func TestParseRowID_Invalid(t *testing.T) {
	_, _, err := ParseRowID("short")
	assert.Error(t, err)
	_, _, err = ParseRowID("AAAQ//AAAAABAABA!A")
	assert.Error(t, err)
}

func TestDDLChange(t *testing.T) {
	tests := []struct {
		stmt  string
		table string
		op    uint32
		ok    bool
	}{
		{"DROP TABLE orders", "orders", dpi.OpDrop, true},
		{"  drop table if exists main.orders", "orders", dpi.OpDrop, true},
		{`ALTER TABLE "items" ADD COLUMN sku TEXT`, "items", dpi.OpAlter, true},
		{"DROP INDEX idx_orders", "", 0, false},
		{"INSERT INTO orders VALUES (1)", "", 0, false},
		{"DROP TABLE __cqnwatch_aq", "", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.stmt, func(t *testing.T) {
			c, ok := ddlChange(tt.stmt)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.table, c.Table)
				assert.Equal(t, tt.op, c.Op)
				assert.Zero(t, c.RowID)
			}
		})
	}
}

func TestDiscoverReadSet(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, Options{})
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Exec(ctx, `CREATE TABLE customers (id INTEGER PRIMARY KEY, name TEXT);
		CREATE TABLE orders (id INTEGER PRIMARY KEY, customer_id INTEGER, total REAL);
		CREATE INDEX idx_orders_customer ON orders(customer_id);
		CREATE VIEW big_orders AS SELECT * FROM orders WHERE total > 100`)
	require.NoError(t, err)

	tests := []struct {
		query string
		want  []string
	}{
		{"SELECT * FROM orders", []string{"orders"}},
		{"SELECT c.name FROM customers c JOIN orders o ON o.customer_id = c.id", []string{"customers", "orders"}},
		{"SELECT id FROM orders WHERE customer_id = 3", []string{"orders"}},
		{"SELECT * FROM big_orders", []string{"orders"}},
		{"SELECT 1", nil},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			got, err := discoverReadSet(ctx, s.conn, tt.query)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err = discoverReadSet(ctx, s.conn, "UPDATE orders SET total = 0")
	assert.ErrorIs(t, err, errNotAQuery)

	_, err = discoverReadSet(ctx, s.conn, "SELECT * FROM missing")
	assert.Error(t, err)
}

func TestCapture_RollbackDiscardsChanges(t *testing.T) {
	var c capture
	c.onUpdate(18, "main", "orders", 1) // SQLITE_INSERT
	c.onRollback()
	assert.Empty(t, c.take())

	c.onUpdate(18, "main", "orders", 2)
	c.onUpdate(23, "main", "orders", 2) // SQLITE_UPDATE
	c.onUpdate(18, "main", "__cqnwatch_aq", 9)
	assert.Equal(t, 0, c.onCommit())

	commits := c.take()
	require.Len(t, commits, 1)
	require.Len(t, commits[0], 2)
	assert.Equal(t, dpi.OpInsert, commits[0][0].Op)
	assert.Equal(t, dpi.OpUpdate, commits[0][1].Op)
	assert.Empty(t, c.take())
}

func TestValidateParams(t *testing.T) {
	cb := func(uintptr, *dpi.SubscrMessage) {}
	valid := dpi.DefaultSubscrCreateParams()
	valid.Callback = cb

	tests := []struct {
		name   string
		mutate func(p *dpi.SubscrCreateParams)
	}{
		{"bad namespace", func(p *dpi.SubscrCreateParams) { p.Namespace = 9 }},
		{"bad protocol", func(p *dpi.SubscrCreateParams) { p.Protocol = 9 }},
		{"callback missing", func(p *dpi.SubscrCreateParams) { p.Callback = nil }},
		{"recipient missing", func(p *dpi.SubscrCreateParams) { p.Protocol = dpi.ProtoHTTP }},
		{"queue without name", func(p *dpi.SubscrCreateParams) { p.Namespace = dpi.NamespaceAQ }},
		{"bad grouping class", func(p *dpi.SubscrCreateParams) { p.GroupingClass = 7 }},
		{"bad grouping type", func(p *dpi.SubscrCreateParams) {
			p.GroupingClass = dpi.GroupingClassTime
			p.GroupingType = 9
		}},
	}

	require.NoError(t, validateParams(&valid))
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := valid
			tt.mutate(&p)
			err := validateParams(&p)
			var dpiErr *dpi.Error
			require.ErrorAs(t, err, &dpiErr)
			assert.Equal(t, CodeInvalidParameter, dpiErr.Code)
		})
	}
}
