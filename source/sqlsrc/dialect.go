package sqlsrc

import (
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/dianpeng/xtab/query"
)

// Dialect is the part of the generated SQL that differs between databases
type Dialect interface {
	Name() string
	Placeholder() sq.PlaceholderFormat
	Quote(ident string) string
	// Bucket returns the expression truncating column expression col to the
	// start of its date bucket. Weeks start on Sunday.
	Bucket(level query.DateLevel, col string) (string, error)
}

func quoteDouble(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

type sqlite struct{}

// SQLite renders dates as text buckets, which the coerce stage parses back.
var SQLite Dialect = sqlite{}

func (sqlite) Name() string                      { return "sqlite3" }
func (sqlite) Placeholder() sq.PlaceholderFormat { return sq.Question }
func (sqlite) Quote(ident string) string         { return quoteDouble(ident) }

func (sqlite) Bucket(level query.DateLevel, col string) (string, error) {
	switch level {
	case query.LevelYear:
		return fmt.Sprintf("strftime('%%Y-01-01', %s)", col), nil
	case query.LevelQuarter:
		return fmt.Sprintf(
			"printf('%%s-%%02d-01', strftime('%%Y', %[1]s), ((cast(strftime('%%m', %[1]s) as integer) - 1) / 3) * 3 + 1)",
			col,
		), nil
	case query.LevelMonth:
		return fmt.Sprintf("strftime('%%Y-%%m-01', %s)", col), nil
	case query.LevelWeek:
		return fmt.Sprintf("date(%s, '-6 days', 'weekday 0')", col), nil
	case query.LevelDay:
		return fmt.Sprintf("date(%s)", col), nil
	case query.LevelHour:
		return fmt.Sprintf("strftime('%%Y-%%m-%%d %%H:00:00', %s)", col), nil
	case query.LevelMinute:
		return fmt.Sprintf("strftime('%%Y-%%m-%%d %%H:%%M:00', %s)", col), nil
	case query.LevelSecond:
		return fmt.Sprintf("strftime('%%Y-%%m-%%d %%H:%%M:%%S', %s)", col), nil
	}
	return "", fmt.Errorf("sqlite3: unsupported date level %s", level)
}

type postgres struct{}

var Postgres Dialect = postgres{}

func (postgres) Name() string                      { return "postgres" }
func (postgres) Placeholder() sq.PlaceholderFormat { return sq.Dollar }
func (postgres) Quote(ident string) string         { return quoteDouble(ident) }

func (postgres) Bucket(level query.DateLevel, col string) (string, error) {
	switch level {
	case query.LevelWeek:
		return fmt.Sprintf("(date_trunc('week', %s + interval '1 day') - interval '1 day')", col), nil
	case query.LevelYear, query.LevelQuarter, query.LevelMonth, query.LevelDay,
		query.LevelHour, query.LevelMinute, query.LevelSecond:
		return fmt.Sprintf("date_trunc('%s', %s)", level, col), nil
	}
	return "", fmt.Errorf("postgres: unsupported date level %s", level)
}

func DialectOf(driver string) (Dialect, error) {
	switch driver {
	case "sqlite3", "sqlite":
		return SQLite, nil
	case "postgres", "pgx":
		return Postgres, nil
	}
	return nil, fmt.Errorf("no sql dialect for driver %q", driver)
}
