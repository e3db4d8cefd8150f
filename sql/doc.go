// Package sql implements the small expression language shared by pre/post
// conditions, expression columns and calculated fields.
//
// It is not a query language, a condition is just an expression like
//
//   region = 'East' and amount between 10 and $max
//
// which is parsed once and then either evaluated row by row (Eval), rendered
// back to text (PrintExpr) or translated into the dialect of a source that
// accepts pushed down predicates.
package sql
