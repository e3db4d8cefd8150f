package query

import (
	"time"

	"github.com/dianpeng/xtab/table"
)

// NamedRank is the rank of a key in named mode: the index of its named group,
// len(Named) for a value outside every named group and len(Named)+1 for the
// others bucket.
func (self *SortOrder) NamedRank(v interface{}) int {
	if s, ok := v.(string); ok {
		for i, ng := range self.Named {
			if ng.Label == s {
				return i
			}
		}
		if self.Others && s == self.OthersName() {
			return len(self.Named) + 1
		}
	}
	return len(self.Named)
}

// CompareKey compares two key values, keys of an interval compare by the date
// bucket they fall into.
func (self *SortOrder) CompareKey(a, b interface{}) int {
	if self.Interval != LevelNone {
		ta, oka := AsTime(a)
		tb, okb := AsTime(b)
		if oka && okb {
			return table.Compare(self.Interval.Bucket(ta), self.Interval.Bucket(tb))
		}
	}
	return table.Compare(a, b)
}

// Less orders two distinct keys of a group level. oa and ob are the first seen
// ordinals of the keys, used for the original order and as the tie breaker.
func (self *SortOrder) Less(a, b interface{}, oa, ob int) bool {
	if len(self.Named) > 0 {
		ra, rb := self.NamedRank(a), self.NamedRank(b)
		if ra != rb {
			return ra < rb
		}
	}
	switch self.Dir {
	case SortAsc, SortDesc:
		c := self.CompareKey(a, b)
		if self.Dir == SortDesc {
			c = -c
		}
		if c != 0 {
			return c < 0
		}
	}
	return oa < ob
}

func AsTime(v interface{}) (time.Time, bool) {
	if v == nil {
		return time.Time{}, false
	}
	x, err := table.Coerce(v, table.TypeTime)
	if err != nil {
		return time.Time{}, false
	}
	t, ok := x.(time.Time)
	return t, ok
}
