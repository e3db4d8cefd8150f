// Package engine runs logical queries.
//
// Every node of a query is executed by the same canonical list of stages on
// top of its base stream: coerce, derive, pre_filter, distinct, sort, summary
// or crosstab, post_sort, post_filter, ranking, project, max_rows and
// format, each one skipped when the node doesn't ask for it. The base stream
// of a Scan comes, in order of preference, from a materialized view, from
// the source running the pushed down part of the node, or from a plain scan
// of the source. Other nodes compose the results of their children.
//
// Design and live executions that fail on a column or an expression degrade
// to a metadata result: the visible schema of the root without rows, with
// the failure reported as a warning. Runtime executions propagate every
// failure, cancellation always propagates.
package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/dianpeng/xtab/cache"
	"github.com/dianpeng/xtab/mv"
	"github.com/dianpeng/xtab/plan"
	"github.com/dianpeng/xtab/query"
	"github.com/dianpeng/xtab/script"
	"github.com/dianpeng/xtab/source"
	"github.com/dianpeng/xtab/table"
)

type Engine struct {
	cfg     Config
	catalog *source.Catalog
	cache   *cache.Cache
	views   mv.Registry
	script  script.Engine
	log     *zap.Logger
	metrics *engineMetrics
}

type Option func(*Engine)

func WithCache(c *cache.Cache) Option {
	return func(e *Engine) { e.cache = c }
}

func WithViews(r mv.Registry) Option {
	return func(e *Engine) { e.views = r }
}

func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithScript overrides the script engine named by the configuration
func WithScript(s script.Engine) Option {
	return func(e *Engine) { e.script = s }
}

func New(cfg Config, catalog *source.Catalog, opts ...Option) (*Engine, error) {
	e := &Engine{
		cfg:     cfg,
		catalog: catalog,
		log:     zap.NewNop(),
		metrics: newEngineMetrics(),
	}
	for _, o := range opts {
		o(e)
	}
	if e.script == nil {
		s, err := script.New(cfg.Script)
		if err != nil {
			return nil, err
		}
		e.script = s
	}
	return e, nil
}

func (self *Engine) PrometheusCollectors() []prometheus.Collector {
	out := self.metrics.collectors()
	if self.cache != nil {
		out = append(out, self.cache.PrometheusCollectors()...)
	}
	return out
}

// Execute runs the query and returns its result stream
func (self *Engine) Execute(ctx context.Context, q *query.LogicalQuery, mode int, vars map[string]interface{}) (table.Stream, error) {
	res, err := self.Run(ctx, q, &Context{Mode: mode, Vars: vars})
	if err != nil {
		return nil, err
	}
	return res.Stream, nil
}

// Run is Execute with the full execution context and result
func (self *Engine) Run(ctx context.Context, q *query.LogicalQuery, ectx *Context) (*Result, error) {
	if q == nil {
		return nil, fmt.Errorf("query is nil")
	}
	if ectx == nil {
		ectx = &Context{Mode: query.ModeRuntime}
	}
	start := time.Now()
	mode := query.ModeName(ectx.Mode)
	log := self.log.With(zap.String("query", q.Name), zap.String("mode", mode))

	res, err := self.run(ctx, q, ectx, log)
	if err != nil {
		err = query.Cancelled(err)
		self.metrics.errors.WithLabelValues(errorKind(err)).Inc()
		log.Debug("query failed", zap.Error(err))
		return nil, err
	}

	self.metrics.queries.WithLabelValues(mode, plan.DecisionName(res.Decision.Kind)).Inc()
	self.metrics.duration.WithLabelValues(mode).Observe(time.Since(start).Seconds())
	log.Debug("query executed",
		zap.Stringer("decision", &res.Decision),
		zap.Bool("cached", res.Cached),
		zap.Int("warnings", len(res.Warnings)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return res, nil
}

func (self *Engine) run(ctx context.Context, q *query.LogicalQuery, ectx *Context, log *zap.Logger) (*Result, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	d, err := self.Classify(q)
	if err != nil {
		return nil, err
	}
	res := &Result{Decision: d}

	if self.cache == nil || ectx.NoCache {
		s, err := self.execute(ctx, q, ectx, res, log)
		if err != nil {
			return nil, err
		}
		res.Stream = s
		return res, nil
	}

	key := cache.Key{Query: q.Identity(), Mode: ectx.Mode, Vars: ectx.Vars}
	tok, mem, err := self.cache.MarkExecuting(ctx, key)
	if err != nil {
		return nil, err
	}
	if mem != nil {
		res.Cached = true
		res.Stream = mem.Reader()
		return res, nil
	}

	s, err := self.execute(ctx, q, ectx, res, log)
	if err == nil {
		mem, err = table.Materialize(ctx, s)
	}
	if err != nil {
		self.cache.Abandon(tok)
		return nil, err
	}
	// a metadata result stands for a failure, it is not kept
	if res.Recovered() {
		self.cache.Abandon(tok)
	} else {
		self.cache.Publish(tok, mem)
	}
	res.Stream = mem.Reader()
	return res, nil
}

func (self *Engine) recovers(ectx *Context) bool {
	return self.cfg.Recover && !ectx.Strict && ectx.Mode != query.ModeRuntime
}

func (self *Engine) execute(ctx context.Context, q *query.LogicalQuery, ectx *Context, res *Result, log *zap.Logger) (table.Stream, error) {
	x := &execution{Engine: self, ectx: ectx, log: log}
	s, err := x.run(ctx, q.Root)

	recovers := self.recovers(ectx)
	// lazy stages fail while reading, a recovering execution reads the
	// result here so that they are recovered as well
	if err == nil && recovers {
		var mem *table.Memory
		if mem, err = table.Materialize(ctx, s); err == nil {
			s = mem.Reader()
		}
	}
	if err == nil {
		return s, nil
	}

	err = query.Cancelled(err)
	if !recovers || !query.IsRecoverable(err, ectx.Mode) || isAcquisition(err) {
		return nil, err
	}
	self.metrics.errors.WithLabelValues(errorKind(err)).Inc()
	log.Warn("execution degraded to a metadata result", zap.Error(err))
	res.Warnings = append(res.Warnings, err)
	return table.Empty(metadata(q.Root)), nil
}

// Classify tells whether the query is delegated to the source of its root
func (self *Engine) Classify(q *query.LogicalQuery) (plan.Decision, error) {
	if q == nil || q.Root == nil {
		return plan.Decision{}, fmt.Errorf("query has no root")
	}
	caps := source.Capabilities{}
	if scan, ok := q.Root.(*query.Scan); ok {
		src, err := self.catalog.Get(scan.Source)
		if err != nil {
			return plan.Decision{}, err
		}
		caps = src.Capabilities()
	}
	return plan.Classify(q, caps), nil
}

// Explain describes how the query would run in the mode: one line per node
// with its acquisition, followed by the stages run on top of it. Views are
// not looked up.
func (self *Engine) Explain(q *query.LogicalQuery, mode int) ([]string, error) {
	if q == nil {
		return nil, fmt.Errorf("query is nil")
	}
	if err := q.Validate(); err != nil {
		return nil, err
	}
	x := &execution{Engine: self, ectx: &Context{Mode: mode}, log: self.log}
	lines := []string{fmt.Sprintf("query %s (%s)", q.Name, query.ModeName(mode))}
	if err := x.explain(q.Root, 1, &lines); err != nil {
		return nil, err
	}
	return lines, nil
}

func (self *execution) explain(n query.Node, lvl int, lines *[]string) error {
	pad := strings.Repeat("  ", lvl)
	info := n.Info()
	head := pad + query.Kind(n)
	if info.Name != "" {
		head += " " + info.Name
	}
	partial := false

	if s, ok := n.(*query.Scan); ok {
		src, err := self.catalog.Get(s.Source)
		if err != nil {
			return err
		}
		head += " source=" + s.Source
		if s.Pushed == nil {
			d := plan.Classify(&query.LogicalQuery{Name: info.Name, Root: s}, src.Capabilities())
			head += " [" + d.String() + "]"
			if d.Pushdown() {
				s = d.Query.Root.(*query.Scan)
			}
		} else {
			head += " [pushed]"
		}
		info = &s.NodeInfo
		partial = grouped(s.Pushed)
	}

	*lines = append(*lines, head, pad+"  stages: "+strings.Join(self.stages(info, partial).Names(), ", "))
	for _, c := range n.Children() {
		if err := self.explain(c, lvl+1, lines); err != nil {
			return err
		}
	}
	return nil
}
