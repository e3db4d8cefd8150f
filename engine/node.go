package engine

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dianpeng/xtab/crosstab"
	"github.com/dianpeng/xtab/mv"
	"github.com/dianpeng/xtab/plan"
	"github.com/dianpeng/xtab/query"
	"github.com/dianpeng/xtab/stage"
	"github.com/dianpeng/xtab/summary"
	"github.com/dianpeng/xtab/table"
)

// execution is one run of a query
type execution struct {
	*Engine
	ectx *Context
	log  *zap.Logger
}

// acquired is the base stream of a node with the node info its stages are
// built from. A partial base holds grouped rows of the node, its info is the
// combined form of the original one.
type acquired struct {
	in      table.Stream
	info    *query.NodeInfo
	partial bool
}

// acquisitionError is a failure of a source or a view, it is never degraded
// to a metadata result
type acquisitionError struct {
	source string
	err    error
}

func (self *acquisitionError) Error() string {
	return fmt.Sprintf("stage(scan): source %q: %s", self.source, self.err)
}

func (self *acquisitionError) Unwrap() error { return self.err }

func isAcquisition(err error) bool {
	var a *acquisitionError
	return errors.As(err, &a)
}

func grouped(p *query.PushdownSpec) bool {
	return p != nil && (len(p.Groups) > 0 || len(p.Aggregates) > 0)
}

func (self *execution) run(ctx context.Context, n query.Node) (table.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, query.Cancelled(err)
	}
	base, err := self.base(ctx, n)
	if err != nil {
		return nil, err
	}
	chain := self.stages(base.info, base.partial)
	self.log.Debug("node planned",
		zap.String("node", query.Kind(n)+" "+base.info.Name),
		zap.Bool("partial", base.partial),
		zap.Strings("stages", chain.Names()),
	)
	return chain.Apply(ctx, base.in)
}

/* ----------------------------------------------------------------------------
 * Base acquisition
 * ---------------------------------------------------------------------------*/

func (self *execution) base(ctx context.Context, n query.Node) (*acquired, error) {
	switch x := n.(type) {
	case *query.Scan:
		return self.scan(ctx, x)

	case *query.Mirror:
		in, err := self.run(ctx, x.Child)
		if err != nil {
			return nil, err
		}
		return self.composed(&x.NodeInfo, []table.Stream{in}, func(in []table.Stream) (table.Stream, error) {
			return (&stage.Mirror{Renames: x.Renames}).Apply(ctx, in[0])
		})

	case *query.Join:
		in, err := self.children(ctx, x.Left, x.Right)
		if err != nil {
			return nil, err
		}
		j := &stage.Join{Kind: x.Kind, Keys: x.Keys, RightName: x.Right.Info().Name}
		return self.composed(&x.NodeInfo, in, func(in []table.Stream) (table.Stream, error) {
			return j.Apply(ctx, in[0], in[1])
		})

	case *query.Concatenate:
		in, err := self.children(ctx, x.Inputs...)
		if err != nil {
			return nil, err
		}
		return self.composed(&x.NodeInfo, in, func(in []table.Stream) (table.Stream, error) {
			return (&stage.Concat{All: x.All}).Apply(ctx, in)
		})

	case *query.Rotate:
		in, err := self.run(ctx, x.Child)
		if err != nil {
			return nil, err
		}
		return self.composed(&x.NodeInfo, []table.Stream{in}, func(in []table.Stream) (table.Stream, error) {
			return (&stage.Rotate{}).Apply(ctx, in[0])
		})

	case *query.CrosstabBound:
		in, err := self.run(ctx, x.Child)
		if err != nil {
			return nil, err
		}
		return &acquired{in: in, info: &x.NodeInfo}, nil
	}
	return nil, fmt.Errorf("unknown node kind %T", n)
}

func (self *execution) composed(info *query.NodeInfo, in []table.Stream, fn func([]table.Stream) (table.Stream, error)) (*acquired, error) {
	out, err := fn(in)
	if err != nil {
		for _, s := range in {
			s.Close()
		}
		return nil, err
	}
	return &acquired{in: out, info: info}, nil
}

// children executes the nodes concurrently. Each child gets the caller's
// context, the streams outlive the acquisition.
func (self *execution) children(ctx context.Context, nodes ...query.Node) ([]table.Stream, error) {
	out := make([]table.Stream, len(nodes))
	g := errgroup.Group{}
	for i, n := range nodes {
		i, n := i, n
		g.Go(func() error {
			s, err := self.run(ctx, n)
			out[i] = s
			return err
		})
	}
	if err := g.Wait(); err != nil {
		for _, s := range out {
			if s != nil {
				s.Close()
			}
		}
		return nil, err
	}
	return out, nil
}

func (self *execution) scan(ctx context.Context, s *query.Scan) (*acquired, error) {
	src, err := self.catalog.Get(s.Source)
	if err != nil {
		return nil, &acquisitionError{source: s.Source, err: err}
	}

	if s.Pushed == nil {
		got, err := self.view(ctx, s)
		if err != nil {
			return nil, &acquisitionError{source: s.Source, err: err}
		}
		if got != nil {
			return got, nil
		}

		d := plan.Classify(&query.LogicalQuery{Name: s.Name, Root: s}, src.Capabilities())
		self.log.Debug("scan classified", zap.String("source", s.Source), zap.Stringer("decision", &d))
		if d.Pushdown() {
			s = d.Query.Root.(*query.Scan)
		}
	}

	var in table.Stream
	if grouped(s.Pushed) {
		in, err = src.Pushdown(ctx, s, self.ectx.Vars, self.cfg.PushdownTimeout)
	} else {
		in, err = src.Scan(ctx, s, self.ectx.Vars)
	}
	if err != nil {
		return nil, &acquisitionError{source: s.Source, err: err}
	}
	return &acquired{in: in, info: &s.NodeInfo, partial: grouped(s.Pushed)}, nil
}

// view answers the scan from a materialized view. A combinable view covering
// the combined scan replaces the source, any other view feeds its detail
// rows to the full pipeline. It returns nil when no view can serve.
func (self *execution) view(ctx context.Context, s *query.Scan) (*acquired, error) {
	if self.views == nil {
		return nil, nil
	}
	ref, err := self.views.Find(mv.Identity(s, self.ectx.Vars), self.ectx.Principal)
	if err != nil {
		return nil, self.unavailable(s, err)
	}

	if self.views.IsCombinable(ref) && !s.Aggregate.Empty() {
		combined := plan.Combined(s)
		in, err := self.views.Rows(ctx, ref)
		if err != nil {
			if err = self.unavailable(s, err); err != nil {
				return nil, err
			}
		} else if covers(in.Schema(), combined.Columns) {
			self.log.Debug("scan answered by a view", zap.String("view", ref.Name), zap.Bool("combined", true))
			return &acquired{in: in, info: &combined.NodeInfo, partial: true}, nil
		} else {
			in.Close()
		}
	}

	in, err := self.views.Detail(ctx, ref)
	if err != nil {
		return nil, self.unavailable(s, err)
	}
	self.log.Debug("scan answered by a view", zap.String("view", ref.Name), zap.Bool("combined", false))
	return &acquired{in: in, info: &s.NodeInfo}, nil
}

// unavailable drops a view error unless views are required
func (self *execution) unavailable(s *query.Scan, err error) error {
	var mvErr *query.MVUnavailableError
	if !errors.As(err, &mvErr) || self.cfg.MVRequired {
		return err
	}
	self.log.Debug("view unavailable", zap.String("source", s.Source), zap.Error(err))
	return nil
}

func covers(schema table.Schema, cols *query.ColumnSet) bool {
	for _, c := range cols.Columns() {
		if c.Kind == query.ColumnPhysical && !schema.Has(c.Name) {
			return false
		}
	}
	return true
}

/* ----------------------------------------------------------------------------
 * Stages
 * ---------------------------------------------------------------------------*/

func derived(cols *query.ColumnSet) bool {
	for _, c := range cols.Columns() {
		if c.Derived() {
			return true
		}
	}
	return false
}

// splitSort separates the keys ordering the base rows from the keys ordering
// the aggregated result, ie the keys naming an output column
func splitSort(info *query.NodeInfo) (query.SortSpec, query.SortSpec) {
	spec := info.Aggregate
	if spec.Empty() {
		return info.Sort, nil
	}
	outputs := map[string]bool{}
	for _, n := range spec.OutputNames() {
		outputs[n] = true
	}
	var pre, post query.SortSpec
	for _, s := range info.Sort {
		if outputs[s.Column] {
			post = append(post, s)
		} else {
			pre = append(pre, s)
		}
	}
	return pre, post
}

func (self *execution) maxRows(info *query.NodeInfo) int {
	if info.MaxRows > 0 {
		return info.MaxRows
	}
	return self.cfg.MaxRows(self.ectx.Mode)
}

// stages builds the canonical stage list of a node
func (self *execution) stages(info *query.NodeInfo, partial bool) stage.Chain {
	vars := self.ectx.Vars
	cols := info.Columns
	spec := info.Aggregate
	pivot := !spec.Empty() && spec.Crosstab
	pre, post := splitSort(info)

	// derived columns are computed from typed base values
	chain := stage.Chain{&stage.Coerce{Columns: cols, Lookahead: self.cfg.Lookahead}}
	if derived(cols) {
		chain = append(chain, &stage.Derive{Columns: cols, Vars: vars})
	}
	if len(info.Pre) > 0 {
		chain = append(chain, &stage.Filter{Stage: stage.NamePreFilter, Cond: info.Pre.Expr(), Vars: vars})
	}
	if info.Distinct {
		chain = append(chain, &stage.Distinct{})
	}
	// grouped rows arrive in group order, base sort keys are gone
	if len(pre) > 0 && !pivot && !partial {
		chain = append(chain, &stage.Sort{Spec: pre})
	}

	switch {
	case spec.Empty():
		if len(info.Post) > 0 {
			chain = append(chain, &stage.Filter{Stage: stage.NamePostFilter, Cond: info.Post.Expr(), Vars: vars})
		}
		if cols.Len() > 0 {
			chain = append(chain, &stage.Project{Columns: cols.Visible()})
		}

	case pivot:
		chain = append(chain, &stage.Crosstab{
			Spec: spec,
			Options: crosstab.Options{
				Script: self.script,
				Mode:   self.ectx.Mode,
				Levels: stage.DateLevels(cols),
			},
		})
		if len(info.Post) > 0 {
			chain = append(chain, &stage.Filter{Stage: stage.NamePostFilter, Cond: info.Post.Expr(), Vars: vars})
		}

	default:
		s := &stage.Summary{
			Spec:    spec,
			Options: summary.Options{Script: self.script, Vars: vars},
		}
		if len(post) > 0 {
			s.Then = append(s.Then, &stage.PostSort{Spec: post})
		}
		if len(info.Post) > 0 {
			s.Then = append(s.Then, &stage.PostFilter{Cond: info.Post.Expr()})
		}
		if spec.HasRanking() {
			s.Then = append(s.Then, &stage.Ranking{})
		}
		chain = append(chain, s, &stage.Project{Columns: summaryOutputs(info)})
	}

	if n := self.maxRows(info); n > 0 {
		chain = append(chain, &stage.MaxRows{N: n})
	}
	if cols.Len() > 0 {
		chain = append(chain, &stage.Format{Columns: cols})
	}
	return chain
}

// summaryOutputs are the visible columns of a flat summary, a group over a
// hidden column is not shown
func summaryOutputs(info *query.NodeInfo) []string {
	out := []string{}
	for _, g := range info.Aggregate.Groups {
		if c := info.Columns.Get(g.Column); c != nil && !c.Visible {
			continue
		}
		out = append(out, g.OutName())
	}
	for _, a := range info.Aggregate.Aggregates {
		out = append(out, a.OutName())
	}
	return out
}

// metadata is the schema of the empty result standing for a failed node.
// The columns of a crosstab depend on its data, only the row keys are known.
func metadata(n query.Node) table.Schema {
	info := n.Info()
	cols := info.Columns
	column := func(name string) table.Column {
		c := table.Column{Name: name}
		if ref := cols.Get(name); ref != nil {
			c.Type = ref.Type
		}
		return c
	}

	names := []string{}
	spec := info.Aggregate
	switch {
	case spec.Empty():
		names = cols.Visible()
	case spec.Crosstab:
		for i := 0; i < len(spec.Groups)-1; i++ {
			names = append(names, spec.Groups[i].OutName())
		}
	default:
		names = summaryOutputs(info)
	}
	s := table.Schema{}
	for _, n := range names {
		s = append(s, column(n))
	}
	return s
}
