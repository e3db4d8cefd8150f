package query

import (
	"fmt"
	"strings"
	"time"
)

// DateLevel is the bucket size of a date range column, or the interval used to
// order a date group key chronologically.
type DateLevel int

const (
	LevelNone DateLevel = iota
	LevelYear
	LevelQuarter
	LevelMonth
	LevelWeek
	LevelDay
	LevelHour
	LevelMinute
	LevelSecond
)

var levelNames = []string{"none", "year", "quarter", "month", "week", "day", "hour", "minute", "second"}

func (self DateLevel) String() string {
	if self < 0 || int(self) >= len(levelNames) {
		return "none"
	}
	return levelNames[self]
}

func ParseDateLevel(n string) (DateLevel, error) {
	n = strings.ToLower(strings.TrimSpace(n))
	if n == "" {
		return LevelNone, nil
	}
	for i, x := range levelNames {
		if x == n {
			return DateLevel(i), nil
		}
	}
	return LevelNone, fmt.Errorf("unknown date level %q", n)
}

func (self DateLevel) MarshalText() ([]byte, error) {
	return []byte(self.String()), nil
}

func (self *DateLevel) UnmarshalText(b []byte) error {
	l, err := ParseDateLevel(string(b))
	if err != nil {
		return err
	}
	*self = l
	return nil
}

// Bucket truncates t to the start of the bucket it belongs to. Weeks start on
// Sunday.
func (self DateLevel) Bucket(t time.Time) time.Time {
	y, m, d := t.Date()
	loc := t.Location()

	switch self {
	case LevelYear:
		return time.Date(y, 1, 1, 0, 0, 0, 0, loc)
	case LevelQuarter:
		return time.Date(y, ((m-1)/3)*3+1, 1, 0, 0, 0, 0, loc)
	case LevelMonth:
		return time.Date(y, m, 1, 0, 0, 0, 0, loc)
	case LevelWeek:
		return time.Date(y, m, d-int(t.Weekday()), 0, 0, 0, 0, loc)
	case LevelDay:
		return time.Date(y, m, d, 0, 0, 0, 0, loc)
	case LevelHour:
		return time.Date(y, m, d, t.Hour(), 0, 0, 0, loc)
	case LevelMinute:
		return time.Date(y, m, d, t.Hour(), t.Minute(), 0, 0, loc)
	case LevelSecond:
		return time.Date(y, m, d, t.Hour(), t.Minute(), t.Second(), 0, loc)
	default:
		return t
	}
}

// Next returns the start of the bucket following the one t belongs to
func (self DateLevel) Next(t time.Time) time.Time {
	b := self.Bucket(t)
	switch self {
	case LevelYear:
		return b.AddDate(1, 0, 0)
	case LevelQuarter:
		return b.AddDate(0, 3, 0)
	case LevelMonth:
		return b.AddDate(0, 1, 0)
	case LevelWeek:
		return b.AddDate(0, 0, 7)
	case LevelDay:
		return b.AddDate(0, 0, 1)
	case LevelHour:
		return b.Add(time.Hour)
	case LevelMinute:
		return b.Add(time.Minute)
	case LevelSecond:
		return b.Add(time.Second)
	default:
		return t
	}
}

// Display renders the bucket label shown to the user
func (self DateLevel) Display(t time.Time) string {
	b := self.Bucket(t)
	switch self {
	case LevelYear:
		return b.Format("2006")
	case LevelQuarter:
		return fmt.Sprintf("%d Q%d", b.Year(), (int(b.Month())-1)/3+1)
	case LevelMonth:
		return b.Format("2006-01")
	case LevelWeek, LevelDay:
		return b.Format("2006-01-02")
	case LevelHour:
		return b.Format("2006-01-02 15:00")
	case LevelMinute:
		return b.Format("2006-01-02 15:04")
	case LevelSecond:
		return b.Format("2006-01-02 15:04:05")
	default:
		return t.Format(time.RFC3339)
	}
}
