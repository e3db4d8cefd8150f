// Package sqlsrc serves a table of a SQL database. Raw scans select the
// physical columns of the node, pushed down scans are compiled into a single
// grouped SELECT.
package sqlsrc

import (
	"context"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/dianpeng/xtab/query"
	"github.com/dianpeng/xtab/source"
	"github.com/dianpeng/xtab/table"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	_ "github.com/mattn/go-sqlite3"
)

type Source struct {
	name    string
	table   string
	db      *sqlx.DB
	dialect Dialect
	log     *zap.Logger
}

func New(name, table string, db *sqlx.DB, dialect Dialect, log *zap.Logger) *Source {
	if log == nil {
		log = zap.NewNop()
	}
	return &Source{
		name:    name,
		table:   table,
		db:      db,
		dialect: dialect,
		log:     log.With(zap.String("source", name)),
	}
}

// Open connects to the database with one of the registered sql drivers
func Open(name, driver, dsn, table string, log *zap.Logger) (*Source, error) {
	d, err := DialectOf(driver)
	if err != nil {
		return nil, err
	}
	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, errors.Wrapf(err, "source %q", name)
	}
	return New(name, table, db, d, log), nil
}

func (self *Source) Name() string { return self.name }
func (self *Source) DB() *sqlx.DB { return self.db }
func (self *Source) Close() error { return self.db.Close() }

func (self *Source) Capabilities() source.Capabilities {
	return source.Capabilities{
		Where:      true,
		GroupBy:    true,
		OrderBy:    true,
		Distinct:   true,
		DateLevels: true,
		Formulas:   source.SQLFormulas(),
	}
}

func (self *Source) builder() sq.StatementBuilderType {
	return sq.StatementBuilder.PlaceholderFormat(self.dialect.Placeholder())
}

func (self *Source) from() string {
	return self.dialect.Quote(self.table)
}

// physical lists the physical columns a raw scan selects
func physical(scan *query.Scan) []string {
	out := []string{}
	for _, c := range scan.Columns.Columns() {
		if c.Kind == query.ColumnPhysical {
			out = append(out, c.Name)
		}
	}
	return out
}

func (self *Source) Scan(ctx context.Context, scan *query.Scan, vars map[string]interface{}) (table.Stream, error) {
	cols := physical(scan)
	sel := []string{}
	for _, c := range cols {
		sel = append(sel, self.dialect.Quote(c))
	}
	if len(sel) == 0 {
		sel = append(sel, "*")
	}
	b := self.builder().Select(sel...).From(self.from())

	if p := scan.Pushed; p != nil {
		if len(p.Conditions) > 0 {
			w, err := Where(self.dialect, p.Conditions, vars)
			if err != nil {
				return nil, err
			}
			b = b.Where(w)
		}
		if p.Distinct {
			b = b.Distinct()
		}
	}
	return self.run(ctx, b, nil)
}

func (self *Source) aggregate(p query.PushedAggregate) (string, error) {
	col := self.dialect.Quote(p.Column)
	switch p.Formula.Kind {
	case query.FormulaSum:
		return fmt.Sprintf("SUM(%s)", col), nil
	case query.FormulaCount:
		return fmt.Sprintf("COUNT(%s)", col), nil
	case query.FormulaDistinctCount:
		return fmt.Sprintf("COUNT(DISTINCT %s)", col), nil
	case query.FormulaAvg:
		return fmt.Sprintf("AVG(%s)", col), nil
	case query.FormulaMin:
		return fmt.Sprintf("MIN(%s)", col), nil
	case query.FormulaMax:
		return fmt.Sprintf("MAX(%s)", col), nil
	}
	return "", fmt.Errorf("source %q cannot compute %s", self.name, p.Formula)
}

// Statement compiles the pushed spec of a scan
func (self *Source) Statement(scan *query.Scan, vars map[string]interface{}) (sq.SelectBuilder, error) {
	p := scan.Pushed
	if p == nil {
		return sq.SelectBuilder{}, fmt.Errorf("scan %q has nothing pushed down", scan.Name)
	}

	var where sq.Sqlizer
	if len(p.Conditions) > 0 {
		w, err := Where(self.dialect, p.Conditions, vars)
		if err != nil {
			return sq.SelectBuilder{}, err
		}
		where = w
	}

	var inner *sq.SelectBuilder
	if p.Distinct {
		// distinct rows of the base table, grouped afterwards
		cols := []string{}
		for _, c := range physical(scan) {
			cols = append(cols, self.dialect.Quote(c))
		}
		for _, g := range p.Groups {
			cols = appendUnique(cols, self.dialect.Quote(g.Column))
		}
		for _, a := range p.Aggregates {
			cols = appendUnique(cols, self.dialect.Quote(a.Column))
		}
		b := sq.Select(cols...).Distinct().From(self.from())
		if where != nil {
			b = b.Where(where)
			where = nil
		}
		inner = &b
	}

	sel := []string{}
	groups := []string{}
	for _, g := range p.Groups {
		expr := self.dialect.Quote(g.Column)
		if g.Level != query.LevelNone {
			e, err := self.dialect.Bucket(g.Level, expr)
			if err != nil {
				return sq.SelectBuilder{}, err
			}
			expr = e
		}
		sel = append(sel, fmt.Sprintf("%s AS %s", expr, self.dialect.Quote(g.Name)))
		groups = append(groups, expr)
	}
	for _, a := range p.Aggregates {
		expr, err := self.aggregate(a)
		if err != nil {
			return sq.SelectBuilder{}, err
		}
		sel = append(sel, fmt.Sprintf("%s AS %s", expr, self.dialect.Quote(a.Name)))
	}

	b := self.builder().Select(sel...)
	if inner != nil {
		b = b.FromSelect(*inner, "t")
	} else {
		b = b.From(self.from())
	}
	if where != nil {
		b = b.Where(where)
	}
	if len(groups) > 0 {
		b = b.GroupBy(groups...).OrderBy(groups...)
	}
	return b, nil
}

func appendUnique(list []string, s string) []string {
	for _, x := range list {
		if x == s {
			return list
		}
	}
	return append(list, s)
}

func (self *Source) Pushdown(ctx context.Context, scan *query.Scan, vars map[string]interface{}, timeout time.Duration) (table.Stream, error) {
	b, err := self.Statement(scan, vars)
	if err != nil {
		return nil, err
	}
	var cancel context.CancelFunc
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, timeout)
	}
	return self.run(ctx, b, cancel)
}

func (self *Source) run(ctx context.Context, b sq.SelectBuilder, cancel context.CancelFunc) (table.Stream, error) {
	text, args, err := b.ToSql()
	if err != nil {
		if cancel != nil {
			cancel()
		}
		return nil, errors.Wrapf(err, "source %q", self.name)
	}
	self.log.Debug("query", zap.String("sql", text), zap.Int("args", len(args)))

	rows, err := self.db.QueryxContext(ctx, text, args...)
	if err != nil {
		if cancel != nil {
			cancel()
		}
		if ctx.Err() == context.DeadlineExceeded {
			return nil, errors.Wrapf(ctx.Err(), "source %q", self.name)
		}
		return nil, errors.Wrapf(err, "source %q: %s", self.name, text)
	}
	schema, err := schemaOf(rows)
	if err != nil {
		rows.Close()
		if cancel != nil {
			cancel()
		}
		return nil, err
	}
	return &rowStream{
		rows:   rows,
		schema: schema,
		cancel: cancel,
	}, nil
}

func schemaOf(rows *sqlx.Rows) (table.Schema, error) {
	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, err
	}
	out := table.Schema{}
	for _, t := range types {
		out = append(out, table.Column{Name: t.Name(), Type: typeOf(t.DatabaseTypeName())})
	}
	return out, nil
}

func typeOf(dbType string) int {
	t := strings.ToUpper(dbType)
	switch {
	case strings.Contains(t, "INT"):
		return table.TypeInt
	case strings.Contains(t, "REAL"), strings.Contains(t, "FLOA"), strings.Contains(t, "DOUB"),
		strings.Contains(t, "NUMERIC"), strings.Contains(t, "DECIMAL"):
		return table.TypeFloat
	case strings.Contains(t, "BOOL"):
		return table.TypeBool
	case strings.Contains(t, "DATE"), strings.Contains(t, "TIME"):
		return table.TypeTime
	case strings.Contains(t, "CHAR"), strings.Contains(t, "TEXT"), strings.Contains(t, "CLOB"):
		return table.TypeString
	}
	return table.TypeUnknown
}

type rowStream struct {
	rows   *sqlx.Rows
	schema table.Schema
	cancel context.CancelFunc
	cnt    table.Counter
}

func (self *rowStream) Schema() table.Schema { return self.schema }
func (self *rowStream) RowCount() int        { return self.cnt.RowCount() }

func (self *rowStream) Next() (table.Row, error) {
	if !self.rows.Next() {
		self.cnt.Finish()
		return nil, self.rows.Err()
	}
	cells, err := self.rows.SliceScan()
	if err != nil {
		return nil, err
	}
	row := make(table.Row, len(cells))
	for i, c := range cells {
		row[i] = table.Normalize(c)
	}
	self.cnt.Inc()
	return row, nil
}

func (self *rowStream) Close() error {
	err := self.rows.Close()
	if self.cancel != nil {
		self.cancel()
	}
	return err
}
