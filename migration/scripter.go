package migration

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"sync"
)

var insertSchemaRx = regexp.MustCompile(`INSERT\s+(?:INTO\s+)?\[(\w+)\]`)

// HistoryInsertScripter produces the SQL that records a migration in the
// history table, without the schema changes of the migration itself.
//
// Some engine configurations script the history insert with the configured
// schema instead of the connection's default one. The scripter detects the
// default schema once, and rewrites the insert statement if they differ.
type HistoryInsertScripter struct {
	script ScriptFn

	mx             sync.Mutex
	schemaDetected bool
	defaultSchema  string
}

// NewHistoryInsertScripter returns a new HistoryInsertScripter that uses script
// to generate migration SQL.
func NewHistoryInsertScripter(script ScriptFn) *HistoryInsertScripter {
	return &HistoryInsertScripter{script: script}
}

// GetHistoryInsertSQL returns the statement that inserts the history row of
// target, as if previous were the last applied migration.
func (h *HistoryInsertScripter) GetHistoryInsertSQL(ctx context.Context, previous, target string) (string, error) {
	script, err := h.script(ctx, previous, target)
	if err != nil {
		return "", err
	}

	stmt := lastInsertStatement(script)
	if stmt == nil {
		return "", errors.New("script contains no history insert statement")
	}

	first, last := stmt[0], stmt[len(stmt)-1]
	if m := insertSchemaRx.FindStringSubmatchIndex(first); m != nil {
		defSchema, err := h.detectDefaultSchema(ctx)
		if err != nil {
			return "", err
		}
		if defSchema != "" && first[m[2]:m[3]] != defSchema {
			first = first[:m[2]] + defSchema + first[m[3]:]
		}
	}

	if len(stmt) == 1 {
		return first, nil
	}

	return first + "\n" + last, nil
}

// detectDefaultSchema returns the schema used when scripting all migrations
// from the baseline. An empty string means it couldn't be detected.
func (h *HistoryInsertScripter) detectDefaultSchema(ctx context.Context) (string, error) {
	h.mx.Lock()
	defer h.mx.Unlock()

	if h.schemaDetected {
		return h.defaultSchema, nil
	}

	script, err := h.script(ctx, "", "")
	if err != nil {
		return "", err
	}
	if stmt := lastInsertStatement(script); stmt != nil {
		if m := insertSchemaRx.FindStringSubmatch(stmt[0]); m != nil {
			h.defaultSchema = m[1]
		}
	}
	h.schemaDetected = true

	return h.defaultSchema, nil
}

// lastInsertStatement returns the lines of the last statement in script that
// starts with a line containing "insert". It returns nil if there is none.
func lastInsertStatement(script string) []string {
	lines := strings.Split(strings.TrimRight(script, "\r\n"), "\n")
	for i, l := range lines {
		lines[i] = strings.TrimRight(l, "\r")
	}

	groups := SliceBy(lines, func(_, cur string) bool {
		return containsInsert(cur)
	})
	if len(groups) == 0 {
		return nil
	}

	last := groups[len(groups)-1]
	if !containsInsert(last[0]) {
		return nil
	}

	return last
}

func containsInsert(line string) bool {
	return strings.Contains(strings.ToLower(line), "insert")
}
