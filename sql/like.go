package sql

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// ----------------------------------------------------------------------------
//
// LIKE operator. The pattern is translated into an anchored regex
//
// The wildcard set is the usual one
//
// 1. %, represents zero, one or more sequnces of any characters
// 2. _, represents exactly one character
// 3. %[x] escapes x, ie %[%] matches a literal percent sign
//
// The translated regex is cached by the evaluator, patterns are almost always
// literals so each distinct pattern is compiled once.
//
// ----------------------------------------------------------------------------

func LikeToRegex(
	input string,
) string {
	buf := strings.Builder{}
	buf.WriteString("(?s)^")

	l := len(input)

	for i := 0; i < l; {
		c, sz := utf8.DecodeRuneInString(input[i:])
		if c == utf8.RuneError {
			i++
			continue
		}

		switch c {
		case '%':
			if i+1 < l && input[i+1] == '[' {
				inner, isz := utf8.DecodeRuneInString(input[i+2:])
				if inner != utf8.RuneError && i+2+isz < l && input[i+2+isz] == ']' {
					buf.WriteString(regexp.QuoteMeta(string(inner)))
					i += 3 + isz
					continue
				}
			}
			buf.WriteString(".*")

		case '_':
			buf.WriteString(".")

		default:
			buf.WriteString(regexp.QuoteMeta(string(c)))
		}

		i += sz
	}

	buf.WriteString("$")
	return buf.String()
}
