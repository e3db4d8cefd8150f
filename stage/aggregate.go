package stage

import (
	"context"

	"github.com/dianpeng/xtab/crosstab"
	"github.com/dianpeng/xtab/query"
	"github.com/dianpeng/xtab/sql"
	"github.com/dianpeng/xtab/summary"
	"github.com/dianpeng/xtab/table"
)

/* ----------------------------------------------------------------------------
 * Summary
 *
 * The flat aggregate configuration keeps a concrete *summary.Table between
 * grouping and ranking, the table stages work on the grouped result instead
 * of a row stream so that ranking can still merge reducer states.
 * ---------------------------------------------------------------------------*/

type TableStage interface {
	Name() string
	ApplyTable(context.Context, *summary.Table) error
}

type Summary struct {
	Spec    *query.AggregateSpec
	Options summary.Options
	Then    []TableStage
}

func (self *Summary) Name() string { return NameSummary }

func (self *Summary) Names() []string {
	out := []string{NameSummary}
	for _, s := range self.Then {
		out = append(out, s.Name())
	}
	return out
}

func (self *Summary) Apply(ctx context.Context, in table.Stream) (table.Stream, error) {
	t, err := summary.Summarize(ctx, in, self.Spec, self.Options)
	if err != nil {
		return nil, err
	}
	for _, s := range self.Then {
		if err := ctx.Err(); err != nil {
			return nil, query.Cancelled(err)
		}
		if err := s.ApplyTable(ctx, t); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// PostSort orders the groups by output columns
type PostSort struct {
	Spec query.SortSpec
}

func (self *PostSort) Name() string { return NamePostSort }

func (self *PostSort) ApplyTable(_ context.Context, t *summary.Table) error {
	return t.Sort(self.Spec)
}

// PostFilter drops the groups failing the condition. Variables are the ones
// of the summary options.
type PostFilter struct {
	Cond string
}

func (self *PostFilter) Name() string { return NamePostFilter }

func (self *PostFilter) ApplyTable(_ context.Context, t *summary.Table) error {
	e, err := sql.ParseExpr(self.Cond)
	if err != nil {
		return &query.ExpressionError{Expr: self.Cond, Err: err}
	}
	return t.Filter(e)
}

type Ranking struct{}

func (self *Ranking) Name() string { return NameRanking }

func (self *Ranking) ApplyTable(_ context.Context, t *summary.Table) error {
	return t.Rank()
}

/* ----------------------------------------------------------------------------
 * Crosstab
 * ---------------------------------------------------------------------------*/

// Crosstab pivots the input, ranking happens inside the pivot
type Crosstab struct {
	Spec    *query.AggregateSpec
	Options crosstab.Options
}

func (self *Crosstab) Name() string { return NameCrosstab }

func (self *Crosstab) Apply(ctx context.Context, in table.Stream) (table.Stream, error) {
	t, err := crosstab.Build(ctx, in, self.Spec, self.Options)
	if err != nil {
		return nil, err
	}
	return t, nil
}
