package plan

// The following documentation describes how a logical query is classified for
// pushdown.
//
// Classification only looks at the root node. A root that is not a Scan is
// composed by the engine (mirror, join, concatenate, rotate, crosstab bound),
// its Scan children are classified again when they are executed. For a Scan,
// the analyzer walks the aggregate spec once and records a reason for every
// rule that fails, so the caller can show why a query was not pushed.
//
// 1) Formulas
//    None, First and Last depend on the row order of the source and are never
//    pushed. Every other formula must be in the capability set of the source.
//    A calculated aggregate is not pushed itself, it is evaluated locally over
//    the pushed columns, which requires every aggregate it references to be
//    pushable.
//
// 2) Totals
//    Group percentages, subtotals, grand totals, crosstab totals and rankings
//    of a non terminal group all need aggregate on aggregate. Without AOA the
//    source can't produce them.
//
// 3) Re-aggregation
//    Whatever is pushed, the engine runs the combine spec over the pushed
//    result. Every pushed group arrives as a single row, so combining is exact
//    for every formula. Totals, percentages and the Others bucket of a ranking
//    aggregate several pushed rows, which is exact only for combinable
//    formulas: Sum, Count (summed), Min, Max and Avg (weighted by a pushed
//    auxiliary count). Avg combined with a ranking is always local.
//
// 4) Conditions and groups
//    Pre conditions must be expressible by the source and use physical
//    columns only. Grouping needs GROUP BY, date range groups need date level
//    support and expression groups are never pushed.
//
// The rewrite is pure. A pushed query is a clone of the input whose root Scan
// carries the PushdownSpec and a column set describing the pushed result. A
// local query is returned untouched.
