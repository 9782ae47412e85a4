package migration

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"
)

// idTimeLayout is the fixed-width part of the identifier timestamp. It can be
// followed by up to 3 digits of fractional seconds.
const idTimeLayout = "20060102150405"

// MaxTime is the creation time of the automatic migration sentinel. Nothing
// sorts after it.
var MaxTime = time.Date(9999, time.December, 31, 23, 59, 59, 999_999_999, time.UTC)

// Info is the parsed form of a migration identifier.
type Info struct {
	CreatedOn time.Time
	// FullName is the raw identifier, as known by the migration engine.
	FullName string
	// Name is the friendly part of the identifier.
	Name string
	// IsAuto marks the sentinel standing in for the automatic migration the
	// engine generates during an update to the latest version.
	IsAuto bool
	// IsSkipped is set if the identifier was in the skip-list.
	IsSkipped bool
}

// Parse the raw migration identifier. The migration is marked as skipped if
// raw is in skip.
//
// Only the first token after the timestamp becomes Name: for
// "20150326225236_Add_Users" Name is "Add". FullName always keeps the whole
// identifier.
func Parse(raw string, skip []string) (Info, error) {
	parts := strings.Split(raw, "_")
	if len(parts) < 2 {
		return Info{}, &ParseError{ID: raw, Err: errors.New("missing '_' separator")}
	}

	createdOn, err := parseCreatedOn(parts[0])
	if err != nil {
		return Info{}, &ParseError{ID: raw, Err: err}
	}

	return Info{
		CreatedOn: createdOn,
		FullName:  raw,
		Name:      parts[1],
		IsSkipped: slices.Contains(skip, raw),
	}, nil
}

// ParseAll parses every identifier in raws, stopping at the first failure.
func ParseAll(raws []string, skip []string) ([]Info, error) {
	infos := make([]Info, 0, len(raws))
	for _, raw := range raws {
		info, err := Parse(raw, skip)
		if err != nil {
			return nil, err
		}
		infos = append(infos, info)
	}

	return infos, nil
}

// Auto returns the automatic migration sentinel.
func Auto() Info {
	return Info{CreatedOn: MaxTime, IsAuto: true}
}

// FormatID returns the identifier of a migration created at createdOn. The
// timestamp is truncated to milliseconds, and trailing zeros of the fraction
// are omitted.
func FormatID(createdOn time.Time, name string) string {
	createdOn = createdOn.UTC()
	ts := createdOn.Format(idTimeLayout)
	if ms := createdOn.Nanosecond() / int(time.Millisecond); ms > 0 {
		ts += strings.TrimRight(fmt.Sprintf("%03d", ms), "0")
	}

	return ts + "_" + name
}

// Compare orders migrations by creation time.
func Compare(a, b Info) int {
	return a.CreatedOn.Compare(b.CreatedOn)
}

func (i Info) String() string {
	if i.IsAuto {
		return "<automatic>"
	}
	return i.FullName
}

func parseCreatedOn(ts string) (time.Time, error) {
	if len(ts) < len(idTimeLayout) || len(ts) > len(idTimeLayout)+3 {
		return time.Time{}, fmt.Errorf(
			"timestamp '%s' must have between %d and %d digits",
			ts, len(idTimeLayout), len(idTimeLayout)+3)
	}

	t, err := time.ParseInLocation(idTimeLayout, ts[:len(idTimeLayout)], time.UTC)
	if err != nil {
		return time.Time{}, err //nolint:wrapcheck // Wrapped in ParseError.
	}

	if frac := ts[len(idTimeLayout):]; frac != "" {
		ms, err := strconv.ParseUint(frac+strings.Repeat("0", 3-len(frac)), 10, 16)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid fractional seconds '%s'", frac)
		}
		t = t.Add(time.Duration(ms) * time.Millisecond)
	}

	return t, nil
}

// ParseError is returned for identifiers that don't follow the
// `{yyyyMMddHHmmssFFF}_{Name}` format.
type ParseError struct {
	ID  string
	Err error
}

// Error returns a string representation of the error.
func (e *ParseError) Error() string {
	return fmt.Sprintf("invalid migration identifier '%s': %s", e.ID, e.Err)
}

// Unwrap returns the underlying error for error unwrapping.
func (e *ParseError) Unwrap() error {
	return e.Err
}
