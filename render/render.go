// Package render writes a result stream as an aligned text table for the
// terminal.
package render

import (
	"context"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"

	"github.com/dianpeng/xtab/table"
)

const (
	ColorNone = iota
	ColorBlack
	ColorRed
	ColorGreen
	ColorYellow
	ColorBlue
	ColorMagenta
	ColorCyan
	ColorWhite
)

var colorNames = []string{"none", "black", "red", "green", "yellow", "blue", "magenta", "cyan", "white"}

func ParseColor(n string) (int, error) {
	for i, x := range colorNames {
		if strings.EqualFold(x, n) {
			return i, nil
		}
	}
	return ColorNone, fmt.Errorf("unknown color %q", n)
}

func mapcolor(c int) color.Attribute {
	switch c {
	default:
		return color.Reset
	case ColorBlack:
		return color.FgBlack
	case ColorRed:
		return color.FgRed
	case ColorGreen:
		return color.FgGreen
	case ColorYellow:
		return color.FgYellow
	case ColorBlue:
		return color.FgBlue
	case ColorMagenta:
		return color.FgMagenta
	case ColorCyan:
		return color.FgCyan
	case ColorWhite:
		return color.FgWhite
	}
}

type Style struct {
	Color     int
	Bold      bool
	Underline bool
	Italic    bool
}

func (self *Style) sprint(plain bool, s string) string {
	cobj := color.New(mapcolor(self.Color))
	if self.Bold {
		cobj.Add(color.Bold)
	}
	if self.Underline {
		cobj.Add(color.Underline)
	}
	if self.Italic {
		cobj.Add(color.Italic)
	}
	if plain {
		cobj.DisableColor()
	}
	return cobj.Sprint(s)
}

type Options struct {
	Title Style
	Null  Style
	// MaxWidth truncates wider cells, 0 never truncates
	MaxWidth  int
	Separator string
	// Plain disables the terminal escapes
	Plain bool
}

func NewOptions() Options {
	return Options{
		Title:     Style{Color: ColorCyan, Bold: true},
		Null:      Style{Color: ColorBlack},
		MaxWidth:  40,
		Separator: "  ",
	}
}

func (self *Options) cell(v interface{}) string {
	if v == nil {
		return "null"
	}
	s := table.String(v)
	if self.MaxWidth > 0 && utf8.RuneCountInString(s) > self.MaxWidth {
		r := []rune(s)
		s = string(r[:self.MaxWidth-1]) + "~"
	}
	return s
}

func pad(s string, w int) string {
	if n := utf8.RuneCountInString(s); n < w {
		return s + strings.Repeat(" ", w-n)
	}
	return s
}

// Write reads the whole stream and prints it followed by the row count. It
// returns the number of rows written.
func Write(ctx context.Context, w io.Writer, s table.Stream, opts Options) (int, error) {
	mem, err := table.Materialize(ctx, s)
	if err != nil {
		return 0, err
	}
	schema := mem.Schema()
	rows := make([][]string, 0, mem.Len())
	width := make([]int, len(schema))
	for i, c := range schema {
		width[i] = utf8.RuneCountInString(c.Name)
	}
	for _, r := range mem.Rows() {
		cells := make([]string, len(schema))
		for i := range schema {
			var v interface{}
			if i < len(r) {
				v = r[i]
			}
			cells[i] = opts.cell(v)
			if n := utf8.RuneCountInString(cells[i]); n > width[i] {
				width[i] = n
			}
		}
		rows = append(rows, cells)
	}

	line := func(cells []string, style func(int, string) string) string {
		buf := []string{}
		for i, c := range cells {
			buf = append(buf, style(i, pad(c, width[i])))
		}
		return strings.TrimRight(strings.Join(buf, opts.Separator), " ") + "\n"
	}

	b := &strings.Builder{}
	b.WriteString(line(schema.Names(), func(_ int, s string) string {
		return opts.Title.sprint(opts.Plain, s)
	}))
	rules := make([]string, len(schema))
	for i := range rules {
		rules[i] = strings.Repeat("-", width[i])
	}
	b.WriteString(line(rules, func(_ int, s string) string { return s }))
	for ri, r := range rows {
		raw := mem.Rows()[ri]
		b.WriteString(line(r, func(i int, s string) string {
			if i >= len(raw) || raw[i] == nil {
				return opts.Null.sprint(opts.Plain, s)
			}
			return s
		}))
	}
	fmt.Fprintf(b, "(%s rows)\n", humanize.Comma(int64(len(rows))))

	if _, err := io.WriteString(w, b.String()); err != nil {
		return 0, err
	}
	return len(rows), nil
}
