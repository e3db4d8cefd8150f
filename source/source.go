// Package source defines what the engine needs from a data source: a raw
// scan of a table and, when the source advertises the capabilities, the
// execution of a pushed down scan (conditions, grouping and aggregation done
// by the source itself).
package source

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dianpeng/xtab/query"
	"github.com/dianpeng/xtab/table"
)

// Capabilities lists the clauses a source can express
type Capabilities struct {
	Where      bool
	GroupBy    bool
	OrderBy    bool
	Distinct   bool
	DateLevels bool
	// AOA is aggregate on aggregate: the source can compute totals,
	// subtotals and top-N over its own grouped result
	AOA      bool
	Formulas map[query.FormulaKind]bool
}

func (self Capabilities) Supports(k query.FormulaKind) bool {
	return self.Formulas[k]
}

// SQLFormulas is the formula set of a plain SQL database
func SQLFormulas() map[query.FormulaKind]bool {
	return map[query.FormulaKind]bool{
		query.FormulaSum:           true,
		query.FormulaCount:         true,
		query.FormulaDistinctCount: true,
		query.FormulaAvg:           true,
		query.FormulaMin:           true,
		query.FormulaMax:           true,
	}
}

type Source interface {
	Name() string
	Capabilities() Capabilities

	// Scan returns the rows of the scanned table. When the scan carries a
	// pushed spec without grouping, its conditions are applied by the source.
	Scan(ctx context.Context, scan *query.Scan, vars map[string]interface{}) (table.Stream, error)

	// Pushdown runs the pushed spec of the scan. The result has one column
	// per pushed group followed by one column per pushed aggregate, named
	// after them.
	Pushdown(ctx context.Context, scan *query.Scan, vars map[string]interface{}, timeout time.Duration) (table.Stream, error)
}

/* ----------------------------------------------------------------------------
 * Catalog
 * ---------------------------------------------------------------------------*/

// Catalog resolves the Source named by a Scan node
type Catalog struct {
	sync.RWMutex
	sources map[string]Source
}

func NewCatalog(sources ...Source) *Catalog {
	c := &Catalog{sources: map[string]Source{}}
	for _, s := range sources {
		c.Register(s)
	}
	return c
}

func (self *Catalog) Register(s Source) {
	self.Lock()
	defer self.Unlock()
	self.sources[s.Name()] = s
}

func (self *Catalog) Get(name string) (Source, error) {
	self.RLock()
	defer self.RUnlock()
	s, ok := self.sources[name]
	if !ok {
		return nil, fmt.Errorf("source %q is not registered", name)
	}
	return s, nil
}

func (self *Catalog) Names() []string {
	self.RLock()
	defer self.RUnlock()
	out := []string{}
	for n := range self.sources {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

/* ----------------------------------------------------------------------------
 * Memory
 * ---------------------------------------------------------------------------*/

// Memory serves a buffered table. It has no capability, every query over it
// is computed by the engine.
type Memory struct {
	name string
	data *table.Memory
}

func NewMemory(name string, data *table.Memory) *Memory {
	return &Memory{name: name, data: data}
}

func (self *Memory) Name() string               { return self.name }
func (self *Memory) Capabilities() Capabilities { return Capabilities{} }

func (self *Memory) Scan(context.Context, *query.Scan, map[string]interface{}) (table.Stream, error) {
	return self.data.Reader(), nil
}

func (self *Memory) Pushdown(context.Context, *query.Scan, map[string]interface{}, time.Duration) (table.Stream, error) {
	return nil, fmt.Errorf("source %q does not support pushdown", self.name)
}
