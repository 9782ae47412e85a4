package db

import (
	"crypto/rand"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConn(t *testing.T) {
	t.Parallel()

	rndName := make([]byte, 12)
	_, err := rand.Read(rndName)
	require.NoError(t, err)

	d, err := Open(t.Context(), fmt.Sprintf("file:multimig-%x?mode=memory&cache=shared", rndName))
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })

	_, err = d.ExecContext(t.Context(), `CREATE TABLE items (id INTEGER PRIMARY KEY)`)
	require.NoError(t, err)

	conn := d.NewConn()
	assert.False(t, conn.IsOpen())

	_, err = conn.ExecContext(t.Context(), `INSERT INTO items (id) VALUES (1)`)
	require.EqualError(t, err, "connection is closed")

	require.NoError(t, conn.Open(t.Context()))
	assert.True(t, conn.IsOpen())
	require.EqualError(t, conn.Open(t.Context()), "connection is already open")

	_, err = conn.ExecContext(t.Context(), `INSERT INTO items (id) VALUES (1)`)
	require.NoError(t, err)

	require.NoError(t, conn.Close())
	assert.False(t, conn.IsOpen())
	require.NoError(t, conn.Close())

	var count int
	err = d.QueryRowContext(t.Context(), `SELECT COUNT(*) FROM items`).Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestOpenEmptyDSN(t *testing.T) {
	t.Parallel()

	_, err := Open(t.Context(), "")
	assert.EqualError(t, err, "database connection string is required")
}

func TestErr(t *testing.T) {
	t.Parallel()

	rndName := make([]byte, 12)
	_, err := rand.Read(rndName)
	require.NoError(t, err)

	d, err := Open(t.Context(), fmt.Sprintf("file:multimig-%x?mode=memory&cache=shared", rndName))
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })

	_, err = d.ExecContext(t.Context(), `CREATE TABLE items (id TEXT PRIMARY KEY, name TEXT UNIQUE)`)
	require.NoError(t, err)
	_, err = d.ExecContext(t.Context(), `INSERT INTO items (id, name) VALUES ('a', 'x')`)
	require.NoError(t, err)

	tests := []struct {
		name   string
		query  string
		expDup bool
	}{
		{name: "ok/primary_key", query: `INSERT INTO items (id, name) VALUES ('a', 'y')`, expDup: true},
		{name: "ok/unique", query: `INSERT INTO items (id, name) VALUES ('b', 'x')`, expDup: true},
		{name: "ok/other", query: `INSERT INTO missing (id) VALUES ('a')`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := d.ExecContext(t.Context(), tt.query)
			require.Error(t, err)

			err = Err("items", "a", err)
			var dupErr *DuplicateError
			assert.Equal(t, tt.expDup, errors.As(err, &dupErr))
			if tt.expDup {
				assert.EqualError(t, err, "items record a already exists")
			}
		})
	}
}
