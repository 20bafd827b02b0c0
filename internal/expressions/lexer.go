package expressions

import (
	"fmt"
	"strconv"
	"strings"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokNumber
	tokString
	tokTrue
	tokFalse
	tokNull
	tokAnd
	tokOr
	tokNot
	tokIn
	tokEq
	tokNeq
	tokLt
	tokLte
	tokGt
	tokGte
	tokLParen
	tokRParen
	tokLBracket
	tokRBracket
	tokComma
	tokMinus
)

var tokenNames = map[tokenKind]string{
	tokEOF: "end of input", tokIdent: "identifier", tokNumber: "number",
	tokString: "string", tokTrue: "true", tokFalse: "false", tokNull: "null",
	tokAnd: "&&", tokOr: "||", tokNot: "!", tokIn: "in",
	tokEq: "==", tokNeq: "!=", tokLt: "<", tokLte: "<=", tokGt: ">", tokGte: ">=",
	tokLParen: "(", tokRParen: ")", tokLBracket: "[", tokRBracket: "]",
	tokComma: ",", tokMinus: "-",
}

func (k tokenKind) String() string {
	if s, ok := tokenNames[k]; ok {
		return s
	}
	return fmt.Sprintf("token(%d)", int(k))
}

type token struct {
	kind tokenKind
	text string
	num  float64
	pos  int
}

var keywords = map[string]tokenKind{
	"true":  tokTrue,
	"false": tokFalse,
	"null":  tokNull,
	"nil":   tokNull,
	"and":   tokAnd,
	"or":    tokOr,
	"not":   tokNot,
	"in":    tokIn,
}

// tokenize splits a condition into tokens. "===" and "!==" are accepted as
// aliases of "==" and "!=", and "${name}" as an alias of the bare name.
func tokenize(src string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(src) {
		c := src[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c == '$' && i+1 < len(src) && src[i+1] == '{':
			end := strings.IndexByte(src[i:], '}')
			if end == -1 {
				return nil, fmt.Errorf("unclosed ${ at %d", i)
			}
			name := strings.TrimSpace(src[i+2 : i+end])
			if name == "" {
				return nil, fmt.Errorf("empty ${} at %d", i)
			}
			toks = append(toks, token{kind: tokIdent, text: name, pos: i})
			i += end + 1
		case isIdentStart(c):
			start := i
			for i < len(src) && isIdentPart(src[i]) {
				i++
			}
			word := src[start:i]
			if kind, ok := keywords[word]; ok {
				toks = append(toks, token{kind: kind, text: word, pos: start})
			} else {
				toks = append(toks, token{kind: tokIdent, text: word, pos: start})
			}
		case isDigit(c) || (c == '.' && i+1 < len(src) && isDigit(src[i+1])):
			start := i
			for i < len(src) && (isDigit(src[i]) || src[i] == '.' || src[i] == '_') {
				i++
			}
			if i < len(src) && (src[i] == 'e' || src[i] == 'E') {
				i++
				if i < len(src) && (src[i] == '+' || src[i] == '-') {
					i++
				}
				for i < len(src) && isDigit(src[i]) {
					i++
				}
			}
			text := src[start:i]
			n, err := strconv.ParseFloat(strings.ReplaceAll(text, "_", ""), 64)
			if err != nil {
				return nil, fmt.Errorf("invalid number %q at %d", text, start)
			}
			toks = append(toks, token{kind: tokNumber, text: text, num: n, pos: start})
		case c == '"' || c == '\'':
			s, next, err := scanString(src, i)
			if err != nil {
				return nil, err
			}
			toks = append(toks, token{kind: tokString, text: s, pos: i})
			i = next
		default:
			kind, width, ok := scanOperator(src[i:])
			if !ok {
				return nil, fmt.Errorf("unexpected character %q at %d", c, i)
			}
			toks = append(toks, token{kind: kind, text: src[i : i+width], pos: i})
			i += width
		}
	}
	toks = append(toks, token{kind: tokEOF, pos: len(src)})
	return toks, nil
}

func scanOperator(s string) (tokenKind, int, bool) {
	three := []struct {
		op   string
		kind tokenKind
	}{{"===", tokEq}, {"!==", tokNeq}}
	for _, o := range three {
		if strings.HasPrefix(s, o.op) {
			return o.kind, 3, true
		}
	}
	two := []struct {
		op   string
		kind tokenKind
	}{{"==", tokEq}, {"!=", tokNeq}, {"<=", tokLte}, {">=", tokGte}, {"&&", tokAnd}, {"||", tokOr}}
	for _, o := range two {
		if strings.HasPrefix(s, o.op) {
			return o.kind, 2, true
		}
	}
	switch s[0] {
	case '<':
		return tokLt, 1, true
	case '>':
		return tokGt, 1, true
	case '!':
		return tokNot, 1, true
	case '(':
		return tokLParen, 1, true
	case ')':
		return tokRParen, 1, true
	case '[':
		return tokLBracket, 1, true
	case ']':
		return tokRBracket, 1, true
	case ',':
		return tokComma, 1, true
	case '-':
		return tokMinus, 1, true
	}
	return tokEOF, 0, false
}

// scanString reads a quoted literal starting at src[start]. Supported escapes:
// \\ \' \" \n \t.
func scanString(src string, start int) (string, int, error) {
	quote := src[start]
	var b strings.Builder
	i := start + 1
	for i < len(src) {
		c := src[i]
		switch {
		case c == quote:
			return b.String(), i + 1, nil
		case c == '\\' && i+1 < len(src):
			i++
			switch src[i] {
			case 'n':
				b.WriteByte('\n')
			case 't':
				b.WriteByte('\t')
			default:
				b.WriteByte(src[i])
			}
		default:
			b.WriteByte(c)
		}
		i++
	}
	return "", 0, fmt.Errorf("unterminated string starting at %d", start)
}

func isIdentStart(c byte) bool {
	return c == '_' || c == '$' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || isDigit(c) || c == '.'
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}
