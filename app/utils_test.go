package app

import (
	"bytes"
	"crypto/rand"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mandelsoft/vfs/pkg/memoryfs"
	"github.com/mandelsoft/vfs/pkg/vfs"
	"github.com/stretchr/testify/require"

	"go.hackfix.me/multimig/db"
)

const configFilePath = "/etc/multimig/config.json"

var timeNow = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func timeNowFn() time.Time {
	return timeNow
}

var migrationFiles = map[string]string{
	"/etc/multimig/migrations/sales/20200101000100_InitialCreate.sql": `CREATE TABLE orders (id INTEGER PRIMARY KEY);`,
	"/etc/multimig/migrations/sales/20200101000300_AddTotal.sql":      `ALTER TABLE orders ADD COLUMN total INTEGER;`,
	"/etc/multimig/migrations/audit/20200101000150_CreateLog.sql":     `CREATE TABLE audit_log (id INTEGER PRIMARY KEY);`,
	"/etc/multimig/migrations/audit/20200101000200_AddLevel.sql":      `ALTER TABLE audit_log ADD COLUMN level TEXT;`,
}

type testApp struct {
	*App
	stdout, stderr *bytes.Buffer
	fs             vfs.FileSystem
	// db is kept open for the duration of the test, since the in-memory
	// database is discarded when its last connection is closed.
	db  *db.DB
	dsn string
}

// newTestApp returns an app with the migration files of two sources, and a
// configuration file using a fresh in-memory database. If cfgJSON is empty, a
// configuration for both sources is written. Otherwise, ${dsn} in cfgJSON is
// replaced with the connection string of the database.
func newTestApp(t *testing.T, cfgJSON string) *testApp {
	t.Helper()

	// A unique name per app, to avoid clashing of in-memory SQLite DBs.
	rndName := make([]byte, 12)
	_, err := rand.Read(rndName)
	require.NoError(t, err)
	dsn := fmt.Sprintf("file:multimig-%x?mode=memory&cache=shared", rndName)

	d, err := db.Open(t.Context(), dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })

	fs := memoryfs.New()
	for path, content := range migrationFiles {
		require.NoError(t, fs.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, vfs.WriteFile(fs, path, []byte(content), 0o644))
	}

	if cfgJSON == "" {
		cfgJSON = fmt.Sprintf(`{
			"dsn": %q,
			"sources": [
				{"name": "sales", "dir": "migrations/sales"},
				{"name": "audit", "dir": "migrations/audit", "schema": "dbo"}
			]
		}`, dsn)
	}
	cfgJSON = strings.ReplaceAll(cfgJSON, "${dsn}", dsn)
	require.NoError(t, vfs.WriteFile(fs, configFilePath, []byte(cfgJSON), 0o644))

	stdout, stderr := &bytes.Buffer{}, &bytes.Buffer{}
	app, err := New("multimig", configFilePath,
		WithContext(t.Context()),
		WithTimeNow(timeNowFn),
		WithFDs(strings.NewReader(""), stdout, stderr),
		WithFS(fs),
		WithLogger(false),
	)
	require.NoError(t, err)

	return &testApp{App: app, stdout: stdout, stderr: stderr, fs: fs, db: d, dsn: dsn}
}

// Run runs the app with args, resetting the output buffers first.
func (ta *testApp) Run(args ...string) error {
	ta.stdout.Reset()
	ta.stderr.Reset()
	return ta.App.Run(args)
}

// tableRows returns the whitespace-separated fields of every table row,
// skipping the header.
func tableRows(out string) [][]string {
	lines := strings.Split(strings.TrimSpace(out), "\n")
	rows := make([][]string, 0, len(lines))
	for _, line := range lines[1:] {
		rows = append(rows, strings.Fields(line))
	}
	return rows
}

func history(t *testing.T, d *db.DB) []string {
	t.Helper()

	rows, err := d.QueryContext(t.Context(),
		`SELECT ContextKey, MigrationId FROM __MigrationHistory ORDER BY MigrationId, ContextKey`)
	require.NoError(t, err)
	defer rows.Close()

	var records []string
	for rows.Next() {
		var key, id string
		require.NoError(t, rows.Scan(&key, &id))
		records = append(records, key+" "+id)
	}
	require.NoError(t, rows.Err())

	return records
}
