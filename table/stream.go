package table

import (
	"context"
)

type Column struct {
	Name string
	Type int
}

type Schema []Column

func (self Schema) Index(name string) int {
	for idx, c := range self {
		if c.Name == name {
			return idx
		}
	}
	return -1
}

func (self Schema) Has(name string) bool {
	return self.Index(name) >= 0
}

func (self Schema) Names() []string {
	out := make([]string, 0, len(self))
	for _, c := range self {
		out = append(out, c.Name)
	}
	return out
}

func (self Schema) Clone() Schema {
	return append(Schema{}, self...)
}

type Row []interface{}

func (self Row) Clone() Row {
	return append(Row{}, self...)
}

// Stream is the value flowing between stages. It is read once, row at a time,
// and has a stable column count.
//
// Next returns a nil row once the stream is exhausted. RowCount is populated
// lazily: while the stream still has rows to produce it returns -(n+1) where n
// is the number of rows produced so far, and the exact count once exhausted.
type Stream interface {
	Schema() Schema
	Next() (Row, error)
	RowCount() int
	Close() error
}

// Counter tracks the lazily populated row count of a stream.
type Counter struct {
	n    int
	done bool
}

func (self *Counter) Inc()          { self.n++ }
func (self *Counter) Finish()       { self.done = true }
func (self *Counter) Produced() int { return self.n }

func (self *Counter) RowCount() int {
	if self.done {
		return self.n
	}
	return -(self.n + 1)
}

// Loading tells whether a RowCount result means the stream is still producing.
func Loading(count int) bool {
	return count < 0
}

/* ----------------------------------------------------------------------------
 * Memory
 * ---------------------------------------------------------------------------*/

// Memory is a fully buffered table. A Memory itself is not a stream, Reader
// returns a fresh cursor over it. This is what makes buffered results
// restartable, ie cached results can be served many times.
type Memory struct {
	schema Schema
	rows   []Row
}

func NewMemory(schema Schema, rows []Row) *Memory {
	return &Memory{
		schema: schema,
		rows:   rows,
	}
}

func (self *Memory) Schema() Schema { return self.schema }
func (self *Memory) Rows() []Row    { return self.rows }
func (self *Memory) Len() int       { return len(self.rows) }

func (self *Memory) Append(r Row) {
	self.rows = append(self.rows, r)
}

func (self *Memory) Reader() Stream {
	return &memReader{
		mem: self,
	}
}

// Column returns all values of a named column, nil when the column is absent
func (self *Memory) Column(name string) []interface{} {
	idx := self.schema.Index(name)
	if idx < 0 {
		return nil
	}
	out := make([]interface{}, 0, len(self.rows))
	for _, r := range self.rows {
		out = append(out, r[idx])
	}
	return out
}

type memReader struct {
	mem    *Memory
	cursor int
}

func (self *memReader) Schema() Schema { return self.mem.schema }

func (self *memReader) Next() (Row, error) {
	if self.cursor >= len(self.mem.rows) {
		return nil, nil
	}
	r := self.mem.rows[self.cursor]
	self.cursor++
	return r, nil
}

func (self *memReader) RowCount() int {
	return len(self.mem.rows)
}

func (self *memReader) Close() error { return nil }

// Empty returns a stream with a schema but no rows. This is the metadata stream
// returned in place of a failed execution while a query is being designed.
func Empty(schema Schema) Stream {
	return NewMemory(schema, nil).Reader()
}

/* ----------------------------------------------------------------------------
 * Materialize
 * ---------------------------------------------------------------------------*/

// BatchSize is the number of rows processed between two cancellation checks
const BatchSize = 1024

// Materialize drains the stream into a Memory. Cancellation is checked every
// BatchSize rows and the partial result is dropped on cancel.
func Materialize(ctx context.Context, s Stream) (*Memory, error) {
	out := &Memory{
		schema: s.Schema(),
	}
	err := Drain(ctx, s, func(r Row) error {
		out.rows = append(out.rows, r)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Drain calls fn for every row of the stream and closes it afterwards.
func Drain(ctx context.Context, s Stream, fn func(Row) error) error {
	defer s.Close()

	for n := 0; ; n++ {
		if n%BatchSize == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		r, err := s.Next()
		if err != nil {
			return err
		}
		if r == nil {
			return nil
		}
		if err := fn(r); err != nil {
			return err
		}
	}
}
