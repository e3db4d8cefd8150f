package query

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

const (
	ModeDesign  = iota // query is being edited, failures degrade to metadata results
	ModeLive           // interactive preview, same recovery as design
	ModeRuntime        // served or scheduled, failures propagate
)

var modeNames = []string{"design", "live", "runtime"}

func ModeName(m int) string {
	if m < 0 || m >= len(modeNames) {
		return "unknown"
	}
	return modeNames[m]
}

func ParseMode(n string) (int, error) {
	for i, x := range modeNames {
		if strings.EqualFold(x, n) {
			return i, nil
		}
	}
	return ModeRuntime, fmt.Errorf("unknown execution mode %q", n)
}

// ColumnNotFoundError is raised when a named column is absent from a stream at
// a stage boundary.
type ColumnNotFoundError struct {
	Stage  string
	Column string
}

func (self *ColumnNotFoundError) Error() string {
	return fmt.Sprintf("stage(%s): column %q does not exist", self.Stage, self.Column)
}

func ColumnNotFound(stage, column string) error {
	return &ColumnNotFoundError{Stage: stage, Column: column}
}

// FormulaArityError is raised for a two column formula without its secondary
// column, or a calculated aggregate with unresolved or cyclic references.
type FormulaArityError struct {
	Aggregate string
	Reason    string
}

func (self *FormulaArityError) Error() string {
	return fmt.Sprintf("aggregate %q: %s", self.Aggregate, self.Reason)
}

func FormulaArity(aggregate, format string, args ...interface{}) error {
	return &FormulaArityError{Aggregate: aggregate, Reason: fmt.Sprintf(format, args...)}
}

// ExpressionError is a failure while evaluating a scripted expression.
type ExpressionError struct {
	Expr   string
	Column string
	Table  string
	Err    error
}

func (self *ExpressionError) Error() string {
	b := strings.Builder{}
	b.WriteString("expression")
	if self.Table != "" {
		fmt.Fprintf(&b, " in table %q", self.Table)
	}
	if self.Column != "" {
		fmt.Fprintf(&b, " of column %q", self.Column)
	}
	fmt.Fprintf(&b, " (%s): %s", self.Expr, self.Err)
	return b.String()
}

func (self *ExpressionError) Unwrap() error { return self.Err }

// MVUnavailableError is reported when a materialized view is missing or stale.
type MVUnavailableError struct {
	View   string
	Reason string
}

func (self *MVUnavailableError) Error() string {
	return fmt.Sprintf("materialized view %q unavailable: %s", self.View, self.Reason)
}

var ErrCancelled = errors.New("query cancelled")

// Cancelled folds context errors into ErrCancelled, other errors are returned
// unchanged.
func Cancelled(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ErrCancelled
	}
	return err
}

func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled) || errors.Is(err, context.Canceled)
}

// IsRecoverable tells whether an execution failure may be replaced by a
// metadata stream in the given mode. Cancellation and formula arity errors
// never are, the others only outside of runtime mode.
func IsRecoverable(err error, mode int) bool {
	if err == nil || mode == ModeRuntime || IsCancelled(err) {
		return false
	}
	var arity *FormulaArityError
	if errors.As(err, &arity) {
		return false
	}
	var cnf *ColumnNotFoundError
	var expr *ExpressionError
	return errors.As(err, &cnf) || errors.As(err, &expr)
}
