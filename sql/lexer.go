package sql

import (
	"bytes"
	"fmt"
	"strconv"
	"unicode"
	"unicode/utf8"
)

const (
	// Literal
	TkTrue = iota
	TkFalse
	TkInt
	TkReal
	TkNull
	TkStr
	TkId
	TkVar

	// Keywords
	TkIn
	TkBetween
	TkLike
	TkIs
	TkCase
	TkWhen
	TkThen
	TkElse
	TkEnd

	// Punctuation
	TkComma
	TkColon
	TkQuestion

	TkLPar
	TkRPar

	TkAdd
	TkSub
	TkMul
	TkDiv
	TkMod

	TkLt
	TkLe
	TkGt
	TkGe
	TkEq
	TkNe

	TkAnd
	TkOr
	TkNot

	TkError
	TkEof

	// Special hidden tokens that will never showsup during lexing, used inside
	// of parser for preprocessing/desugar purpose
	tkNotBetween
	tkNotIn
	tkNotLike
	tkStart
)

type Lexeme struct {
	Text string
	Int  int64
	Real float64
}

// Lexer of the condition/formula language. Keywords are case insensitive but
// identifiers keep their case since they name columns of a ColumnSet. A column
// whose name is not a plain identifier can be quoted by backtick, ie `Order Date`.
// Variables are written as $name and resolved by the variable table before the
// expression is evaluated.
type Lexer struct {
	Source string
	Cursor int
	Token  int
	Lexeme Lexeme
}

func (self *Lexer) nextRune() (rune, int) {
	if self.Cursor == len(self.Source) {
		return utf8.RuneError, 0
	}
	return utf8.DecodeRuneInString(self.Source[self.Cursor:])
}

func (self *Lexer) nextRune2() rune {
	if self.Cursor+1 >= len(self.Source) {
		return utf8.RuneError
	}
	r, _ := utf8.DecodeRuneInString(self.Source[self.Cursor+1:])
	return r
}

func (self *Lexer) yield(tk int, sz int) int {
	self.Token = tk
	self.Cursor += sz
	return tk
}

func (self *Lexer) eof() int {
	self.Token = TkEof
	return TkEof
}

// generate a debug position for diagnostic information output
func (self *Lexer) pos(where int) (int, int) {
	line := 1
	col := 1

	for idx := 0; idx < where && idx < len(self.Source); {
		r, sz := utf8.DecodeRuneInString(self.Source[idx:])
		if r == '\n' {
			line++
			col = 1
		} else {
			col++
		}
		idx += sz
	}

	return line, col
}

func (self *Lexer) dinfo() string {
	line, col := self.pos(self.Cursor)
	return fmt.Sprintf("around position(%d: %d)", line, col)
}

func (self *Lexer) err(msg string) int {
	self.Lexeme.Text = fmt.Sprintf("%s: %s", self.dinfo(), msg)
	self.Token = TkError
	return TkError
}

func (self *Lexer) errE(err error) int {
	return self.err(err.Error())
}

func (self *Lexer) errUtf8() int {
	return self.err("invalid utf8 character")
}

// 1) dot digit or exponential sign indicates a real number
// 2) otherwise treated as 64 bits number
func (self *Lexer) lexNum(c rune) int {
	hasDot := false
	hasE := false

	buf := &bytes.Buffer{}
	buf.WriteRune(c)
	self.Cursor++

loop:
	for {
		r, sz := self.nextRune()
		if r == utf8.RuneError {
			if sz == 0 {
				break
			}
			return self.errUtf8()
		}

		switch r {
		case '.':
			if hasDot || hasE {
				break loop
			}
			hasDot = true

		case 'e', 'E':
			if hasE {
				break loop
			}
			hasE = true
			if n := self.nextRune2(); n == '-' || n == '+' {
				buf.WriteRune(r)
				self.Cursor += sz
				r = n
			}

		case '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
			break

		default:
			break loop
		}

		buf.WriteRune(r)
		self.Cursor += sz
	}

	if hasDot || hasE {
		f, err := strconv.ParseFloat(buf.String(), 64)
		if err != nil {
			return self.errE(err)
		}
		self.Lexeme.Real = f
		self.Token = TkReal
		return TkReal
	}

	i, err := strconv.ParseInt(buf.String(), 10, 64)
	if err != nil {
		return self.errE(err)
	}
	self.Lexeme.Int = i
	self.Token = TkInt
	return TkInt
}

func (self *Lexer) lexStr(quote rune) int {
	buf := &bytes.Buffer{}
	self.Cursor++

	for {
		c, sz := self.nextRune()

		if c == utf8.RuneError {
			if sz == 0 {
				return self.err("string literal is not closed by quote properly")
			}
			return self.errUtf8()
		}

		if c == quote {
			self.Cursor += sz
			break
		}

		if c == '\\' {
			switch self.nextRune2() {
			case 't':
				buf.WriteRune('\t')
			case 'n':
				buf.WriteRune('\n')
			case 'r':
				buf.WriteRune('\r')
			case '\'':
				buf.WriteRune('\'')
			case '"':
				buf.WriteRune('"')
			case '\\':
				buf.WriteRune('\\')
			default:
				return self.err("unknown escape sequences inside of string literal")
			}
			self.Cursor += 2
			continue
		}

		buf.WriteRune(c)
		self.Cursor += sz
	}

	self.Lexeme.Text = buf.String()
	self.Token = TkStr
	return TkStr
}

// backtick quoted identifier, no escape is allowed inside
func (self *Lexer) lexQuotedId() int {
	self.Cursor++
	start := self.Cursor

	for {
		c, sz := self.nextRune()
		if c == utf8.RuneError {
			if sz == 0 {
				return self.err("quoted identifier is not closed by '`'")
			}
			return self.errUtf8()
		}
		if c == '`' {
			break
		}
		self.Cursor += sz
	}

	if self.Cursor == start {
		return self.err("empty quoted identifier")
	}

	self.Lexeme.Text = self.Source[start:self.Cursor]
	self.Cursor++
	self.Token = TkId
	return TkId
}

func (self *Lexer) isIdChar(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

func (self *Lexer) isIdLeadingChar(r rune) bool {
	return r == '_' || unicode.IsLetter(r)
}

func (self *Lexer) scanWord() string {
	start := self.Cursor
	for {
		c, sz := self.nextRune()
		if c == utf8.RuneError || !self.isIdChar(c) {
			break
		}
		self.Cursor += sz
	}
	return self.Source[start:self.Cursor]
}

var keywords = map[string]int{
	"and":     TkAnd,
	"or":      TkOr,
	"not":     TkNot,
	"in":      TkIn,
	"between": TkBetween,
	"like":    TkLike,
	"is":      TkIs,
	"case":    TkCase,
	"when":    TkWhen,
	"then":    TkThen,
	"else":    TkElse,
	"end":     TkEnd,
	"true":    TkTrue,
	"false":   TkFalse,
	"null":    TkNull,
}

func (self *Lexer) lexKeywordOrId(c rune) int {
	if !self.isIdLeadingChar(c) {
		return self.err(fmt.Sprintf("unexpected character %q", c))
	}

	word := self.scanWord()
	if tk, ok := keywords[toLowerASCII(word)]; ok {
		self.Token = tk
		return tk
	}

	self.Lexeme.Text = word
	self.Token = TkId
	return TkId
}

func (self *Lexer) lexVar() int {
	self.Cursor++
	c, _ := self.nextRune()
	if !self.isIdLeadingChar(c) {
		return self.err("expect a variable name after '$'")
	}
	self.Lexeme.Text = self.scanWord()
	self.Token = TkVar
	return TkVar
}

func (self *Lexer) Next() int {
	if self.Token == TkEof || self.Token == TkError {
		return self.Token
	}
	return self.next()
}

func (self *Lexer) next() int {
	for {
		c, sz := self.nextRune()
		if c == utf8.RuneError {
			if sz == 0 {
				return self.eof()
			}
			return self.errUtf8()
		}

		switch c {
		case ',':
			return self.yield(TkComma, 1)
		case ':':
			return self.yield(TkColon, 1)
		case '?':
			return self.yield(TkQuestion, 1)
		case '(':
			return self.yield(TkLPar, 1)
		case ')':
			return self.yield(TkRPar, 1)
		case '+':
			return self.yield(TkAdd, 1)
		case '-':
			return self.yield(TkSub, 1)
		case '*':
			return self.yield(TkMul, 1)
		case '/':
			return self.yield(TkDiv, 1)
		case '%':
			return self.yield(TkMod, 1)

		case '&':
			if self.nextRune2() == '&' {
				return self.yield(TkAnd, 2)
			}
			return self.err("are you missing '&' for and operator?")

		case '|':
			if self.nextRune2() == '|' {
				return self.yield(TkOr, 2)
			}
			return self.err("are you missing '|' for or operator?")

		case '=':
			if self.nextRune2() == '=' {
				return self.yield(TkEq, 2)
			}
			return self.yield(TkEq, 1)

		case '>':
			if self.nextRune2() == '=' {
				return self.yield(TkGe, 2)
			}
			return self.yield(TkGt, 1)

		case '<':
			switch self.nextRune2() {
			case '=':
				return self.yield(TkLe, 2)
			case '>':
				return self.yield(TkNe, 2)
			default:
				return self.yield(TkLt, 1)
			}

		case '!':
			if self.nextRune2() == '=' {
				return self.yield(TkNe, 2)
			}
			return self.yield(TkNot, 1)

		case ' ', '\r', '\t', '\n', '\v':
			self.Cursor++

		case '\'', '"':
			return self.lexStr(c)

		case '`':
			return self.lexQuotedId()

		case '$':
			return self.lexVar()

		case '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
			return self.lexNum(c)

		default:
			return self.lexKeywordOrId(c)
		}
	}
}

func toLowerASCII(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

func newLexer(source string) *Lexer {
	return &Lexer{
		Source: source,
		Cursor: 0,
		Token:  tkStart,
	}
}
