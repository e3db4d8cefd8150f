// Package mv is the lookup side of materialized views. A view is a prebuilt
// result of one Scan node: its grouped rows, named the way a pushed down
// result is, and optionally the detail rows it was built from.
package mv

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dianpeng/xtab/query"
	"github.com/dianpeng/xtab/sql"
	"github.com/dianpeng/xtab/table"
)

type Ref struct {
	Name      string
	Identity  string // identity of the scan node the view answers
	Principal string // empty when every principal may read the view
	Built     time.Time
	// Combinable views hold one row per group with the aggregate on
	// aggregate columns, see plan.Combined
	Combinable bool
}

type Registry interface {
	// Find returns the view answering the identity for the principal, a
	// missing or stale view is a *query.MVUnavailableError
	Find(identity, principal string) (*Ref, error)
	IsCombinable(ref *Ref) bool
	Rows(ctx context.Context, ref *Ref) (table.Stream, error)
	Detail(ctx context.Context, ref *Ref) (table.Stream, error)
}

// View is what a builder hands to a registry
type View struct {
	Ref
	Rows   *table.Memory
	Detail *table.Memory // may be nil
}

// Identity is the key a view answering the scan is registered under. It covers
// what decides the grouped rows of the scan: source, pre conditions with the
// values of their variables, distinct, groups and aggregates. Presentation,
// sorting and post conditions are left out since they are computed on top of
// the view.
func Identity(scan *query.Scan, vars map[string]interface{}) string {
	b := &strings.Builder{}
	fmt.Fprintf(b, "scan %s", scan.Source)
	if len(scan.Pre) > 0 {
		fmt.Fprintf(b, " where %s", scan.Pre.Expr())
		if bound := boundVars(scan.Pre, vars); bound != "" {
			fmt.Fprintf(b, " with %s", bound)
		}
	}
	if scan.Distinct {
		b.WriteString(" distinct")
	}
	if spec := scan.Aggregate; !spec.Empty() {
		groups := []string{}
		for _, g := range spec.Groups {
			name := g.Column
			if c := scan.Columns.Resolve(g.Column); c != nil {
				name = c.String()
			}
			groups = append(groups, name)
		}
		aggs := []string{}
		for _, a := range spec.Aggregates {
			col := a.Column
			if a.Secondary != "" {
				col += "," + a.Secondary
			}
			aggs = append(aggs, a.OutName()+"="+a.Formula.String()+"("+col+")")
		}
		fmt.Fprintf(b, " group %s aggregate %s", strings.Join(groups, ","), strings.Join(aggs, ","))
	}
	return b.String()
}

// boundVars renders the variables of the conditions with their values, in
// name order
func boundVars(conds query.ConditionList, vars map[string]interface{}) string {
	e, err := sql.ParseExpr(conds.Expr())
	if err != nil {
		return ""
	}
	names := sql.Vars(e)
	sort.Strings(names)
	out := []string{}
	for i, n := range names {
		if i > 0 && names[i-1] == n {
			continue
		}
		out = append(out, fmt.Sprintf("$%s=%s", n, table.Key(table.Normalize(vars[n]))))
	}
	return strings.Join(out, ",")
}
