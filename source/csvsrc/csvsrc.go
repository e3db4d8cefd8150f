// Package csvsrc serves a CSV file with a header row. Every cell is read as a
// string, the coerce stage infers the column types.
package csvsrc

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dianpeng/xtab/query"
	"github.com/dianpeng/xtab/source"
	"github.com/dianpeng/xtab/table"
	"github.com/pkg/errors"
)

type Source struct {
	name  string
	path  string
	comma rune
}

func New(name, path string) *Source {
	return &Source{name: name, path: path, comma: ','}
}

// WithComma changes the field delimiter
func (self *Source) WithComma(c rune) *Source {
	self.comma = c
	return self
}

func (self *Source) Name() string                      { return self.name }
func (self *Source) Capabilities() source.Capabilities { return source.Capabilities{} }

func (self *Source) Scan(ctx context.Context, _ *query.Scan, _ map[string]interface{}) (table.Stream, error) {
	f, err := os.Open(self.path)
	if err != nil {
		return nil, errors.Wrapf(err, "source %q", self.name)
	}
	r := csv.NewReader(f)
	r.Comma = self.comma
	r.ReuseRecord = true
	// short rows are padded with nulls
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		f.Close()
		if err == io.EOF {
			return nil, fmt.Errorf("source %q: %s has no header row", self.name, self.path)
		}
		return nil, errors.Wrapf(err, "source %q: reading header", self.name)
	}
	schema := table.Schema{}
	for _, h := range header {
		schema = append(schema, table.Column{Name: h})
	}
	return &reader{
		ctx:    ctx,
		name:   self.name,
		file:   f,
		csv:    r,
		schema: schema,
	}, nil
}

func (self *Source) Pushdown(context.Context, *query.Scan, map[string]interface{}, time.Duration) (table.Stream, error) {
	return nil, fmt.Errorf("source %q does not support pushdown", self.name)
}

type reader struct {
	ctx    context.Context
	name   string
	file   *os.File
	csv    *csv.Reader
	schema table.Schema
	cnt    table.Counter
}

func (self *reader) Schema() table.Schema { return self.schema }
func (self *reader) RowCount() int        { return self.cnt.RowCount() }
func (self *reader) Close() error         { return self.file.Close() }

func (self *reader) Next() (table.Row, error) {
	if err := self.ctx.Err(); err != nil {
		return nil, err
	}
	rec, err := self.csv.Read()
	if err == io.EOF {
		self.cnt.Finish()
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "source %q", self.name)
	}
	row := make(table.Row, len(self.schema))
	for i := range row {
		if i < len(rec) {
			row[i] = rec[i]
		}
	}
	self.cnt.Inc()
	return row, nil
}
