package migration

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// fakeEngine is an in-memory migration engine for a single source. It records
// every call made through the Source built from it.
type fakeEngine struct {
	name     string
	all      []string // every known migration, in creation order
	applied  []string
	schema   string // schema used by scripts for explicit ranges
	failWith error

	mx    *sync.Mutex
	calls *[]string

	appliedCalls int
	disposed     int
}

func newFakeEngine(name string, calls *[]string, mx *sync.Mutex, all ...string) *fakeEngine {
	return &fakeEngine{name: name, all: all, calls: calls, mx: mx, schema: "main"}
}

func (f *fakeEngine) record(format string, args ...any) {
	f.mx.Lock()
	defer f.mx.Unlock()
	*f.calls = append(*f.calls, f.name+":"+fmt.Sprintf(format, args...))
}

func (f *fakeEngine) pending(context.Context) ([]string, error) {
	var ids []string
	for _, id := range f.all {
		if !slices.Contains(f.applied, id) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (f *fakeEngine) appliedIDs(context.Context) ([]string, error) {
	f.appliedCalls++
	return slices.Clone(f.applied), nil
}

func (f *fakeEngine) update(_ context.Context, target string) error {
	f.record("update %s", target)
	if f.failWith != nil {
		return f.failWith
	}
	for _, id := range f.all {
		if !slices.Contains(f.applied, id) {
			f.applied = append(f.applied, id)
		}
		if id == target {
			break
		}
	}
	return nil
}

func (f *fakeEngine) script(_ context.Context, from, to string) (string, error) {
	schema := f.schema
	if from == "" && to == "" {
		schema = "main"
	} else {
		f.record("script %s..%s", from, to)
	}

	var (
		b       strings.Builder
		started = from == ""
	)
	for _, id := range f.all {
		if started {
			fmt.Fprintf(&b, "CREATE TABLE t_%s (id INTEGER);\n", id)
			fmt.Fprintf(&b, "INSERT INTO [%s].[__MigrationHistory] ([MigrationId], [ContextKey])\n", schema)
			fmt.Fprintf(&b, "VALUES ('%s', '%s');\n", id, f.name)
		}
		if id == from {
			started = true
		}
		if id == to {
			break
		}
	}
	return b.String(), nil
}

func (f *fakeEngine) dispose() error {
	f.disposed++
	f.record("dispose")
	return f.failWith
}

func (f *fakeEngine) source(t *testing.T, conn Conn, opts ...SourceOption) *Source {
	t.Helper()
	opts = append([]SourceOption{
		WithPending(f.pending),
		WithApplied(f.appliedIDs),
		WithUpdate(f.update),
		WithScript(f.script),
		WithDispose(f.dispose),
	}, opts...)
	src, err := NewSource(f.name, conn, opts...)
	require.NoError(t, err)
	return src
}

// id returns a migration identifier created at 2020-01-01, with hms as the
// HHmmss part of the timestamp.
func id(hms int, name string) string {
	return fmt.Sprintf("20200101%06d_%s", hms, name)
}

var valuesIDRx = regexp.MustCompile(`VALUES \('([^']+)'`)

// fakeConn records the statements executed on it.
type fakeConn struct {
	engine *fakeEngine
	open   bool
	opened int
	closed int
	execs  []string
}

var _ Conn = (*fakeConn)(nil)

func (c *fakeConn) Open(context.Context) error {
	if c.open {
		return errors.New("already open")
	}
	c.open = true
	c.opened++
	return nil
}

func (c *fakeConn) Close() error {
	c.open = false
	c.closed++
	return nil
}

func (c *fakeConn) IsOpen() bool {
	return c.open
}

func (c *fakeConn) ExecContext(_ context.Context, query string, _ ...any) (sql.Result, error) {
	if !c.open {
		return nil, errors.New("connection is closed")
	}
	c.execs = append(c.execs, query)
	if c.engine != nil {
		if m := valuesIDRx.FindStringSubmatch(query); m != nil {
			c.engine.record("history %s", m[1])
			c.engine.applied = append(c.engine.applied, m[1])
		}
	}
	return nil, nil //nolint:nilnil // Not used.
}
