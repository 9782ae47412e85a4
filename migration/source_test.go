package migration

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSource(t *testing.T) {
	t.Parallel()

	list := func(context.Context) ([]string, error) { return nil, nil }
	update := func(context.Context, string) error { return nil }

	tests := []struct {
		name   string
		opts   []SourceOption
		expErr string
	}{
		{
			name: "ok/required_only",
			opts: []SourceOption{WithPending(list), WithApplied(list), WithUpdate(update)},
		},
		{
			name:   "err/no_pending",
			opts:   []SourceOption{WithApplied(list), WithUpdate(update)},
			expErr: "source s1: pending migrations operation is required",
		},
		{
			name:   "err/no_applied",
			opts:   []SourceOption{WithPending(list), WithUpdate(update)},
			expErr: "source s1: applied migrations operation is required",
		},
		{
			name:   "err/no_update",
			opts:   []SourceOption{WithPending(list), WithApplied(list)},
			expErr: "source s1: update operation is required",
		},
		{
			name:   "err/nil_script",
			opts:   []SourceOption{WithPending(list), WithApplied(list), WithUpdate(update), WithScript(nil)},
			expErr: "script operation must not be nil",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			src, err := NewSource("s1", nil, tt.opts...)
			if tt.expErr != "" {
				assert.ErrorContains(t, err, tt.expErr)
				assert.Nil(t, src)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "s1", src.Name())
			assert.Zero(t, src.Priority())
			assert.False(t, src.AutoMigrations())
			// Without a dispose function closing is a no-op.
			assert.NoError(t, src.Close())
		})
	}
}

func TestSourceInsertMigrationHistory(t *testing.T) {
	t.Parallel()

	t.Run("ok/opens_and_closes", func(t *testing.T) {
		t.Parallel()

		var (
			calls []string
			mx    sync.Mutex
		)
		e := newFakeEngine("s1", &calls, &mx, id(100, "A"), id(200, "B"))
		conn := &fakeConn{}
		src := e.source(t, conn)

		err := src.InsertMigrationHistory(t.Context(), id(200, "B"), id(100, "A"))
		require.NoError(t, err)
		assert.False(t, conn.IsOpen())
		assert.Equal(t, 1, conn.opened)
		assert.Equal(t, 1, conn.closed)
		assert.Equal(t, []string{
			"INSERT INTO [main].[__MigrationHistory] ([MigrationId], [ContextKey])\n" +
				"VALUES ('" + id(200, "B") + "', 's1');",
		}, conn.execs)
	})

	t.Run("ok/keeps_open_connection", func(t *testing.T) {
		t.Parallel()

		var (
			calls []string
			mx    sync.Mutex
		)
		e := newFakeEngine("s1", &calls, &mx, id(100, "A"))
		conn := &fakeConn{open: true}
		src := e.source(t, conn)

		err := src.InsertMigrationHistory(t.Context(), id(100, "A"), "")
		require.NoError(t, err)
		assert.True(t, conn.IsOpen())
		assert.Zero(t, conn.opened)
		assert.Zero(t, conn.closed)
		assert.Len(t, conn.execs, 1)
	})

	t.Run("ok/fixes_schema", func(t *testing.T) {
		t.Parallel()

		var (
			calls []string
			mx    sync.Mutex
		)
		e := newFakeEngine("s1", &calls, &mx, id(100, "A"), id(200, "B"))
		e.schema = "dbo"
		conn := &fakeConn{}
		src := e.source(t, conn)

		err := src.InsertMigrationHistory(t.Context(), id(200, "B"), id(100, "A"))
		require.NoError(t, err)
		require.Len(t, conn.execs, 1)
		assert.Contains(t, conn.execs[0], "INSERT INTO [main].[__MigrationHistory]")
	})

	t.Run("err/script", func(t *testing.T) {
		t.Parallel()

		errBoom := errors.New("boom")
		conn := &fakeConn{}
		src, err := NewSource("s1", conn,
			WithPending(func(context.Context) ([]string, error) { return nil, nil }),
			WithApplied(func(context.Context) ([]string, error) { return nil, nil }),
			WithUpdate(func(context.Context, string) error { return nil }),
			WithScript(func(context.Context, string, string) (string, error) { return "", errBoom }),
		)
		require.NoError(t, err)

		err = src.InsertMigrationHistory(t.Context(), id(100, "A"), "")
		require.ErrorIs(t, err, errBoom)
		assert.ErrorContains(t, err, "failed scripting history of s1 for "+id(100, "A"))
		assert.Zero(t, conn.opened)
	})

	t.Run("err/no_script", func(t *testing.T) {
		t.Parallel()

		src, err := NewSource("s1", &fakeConn{},
			WithPending(func(context.Context) ([]string, error) { return nil, nil }),
			WithApplied(func(context.Context) ([]string, error) { return nil, nil }),
			WithUpdate(func(context.Context, string) error { return nil }),
		)
		require.NoError(t, err)

		err = src.InsertMigrationHistory(t.Context(), id(100, "A"), "")
		assert.ErrorContains(t, err, "source s1 can't script migrations")
	})
}
