package engine

import (
	"github.com/dianpeng/xtab/plan"
	"github.com/dianpeng/xtab/table"
)

// Context carries the flags of one execution. It is passed down the
// pipeline, nothing of it is kept by the engine.
type Context struct {
	Mode      int
	Vars      map[string]interface{}
	Principal string // reader of materialized views, empty for public views

	// Strict propagates every failure, whatever the mode
	Strict bool
	// NoCache bypasses the result cache
	NoCache bool
}

// Result is the outcome of Run
type Result struct {
	Stream   table.Stream
	Decision plan.Decision
	// Warnings are the failures recovered from, a recovered result is a
	// metadata stream with no rows
	Warnings []error
	Cached   bool
}

func (self *Result) Recovered() bool {
	return len(self.Warnings) > 0
}
