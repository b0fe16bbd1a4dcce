// Package expr implements the Experiment Profile DSL: a hand-written
// recursive-descent lexer/parser/evaluator for the arithmetic/boolean/
// MQTT-fetch expression language used in `if`/`while` conditions and
// `${{ ... }}` option substitutions (spec.md §4.H). No parser-generator
// dependency is used, matching spec.md §9's explicit guidance.
package expr

import (
	"fmt"
	"strings"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokNumber
	tokIdent
	tokMQTTFetch // UNIT:JOB:SETTING[.path...] or ::JOB:SETTING[.path...]
	tokString
	tokPlus
	tokMinus
	tokStar
	tokSlash
	tokPow
	tokEq
	tokLt
	tokGt
	tokLe
	tokGe
	tokLParen
	tokRParen
	tokAnd
	tokOr
	tokNot
	tokTrue
	tokFalse
	tokComma
)

type token struct {
	kind tokenKind
	text string
	num  float64
}

type lexer struct {
	src []rune
	pos int
}

func newLexer(src string) *lexer { return &lexer{src: []rune(src)} }

func (l *lexer) peekRune() rune {
	if l.pos >= len(l.src) {
		return 0
	}
	return l.src[l.pos]
}

func (l *lexer) tokens() ([]token, error) {
	var toks []token
	for {
		tok, err := l.next()
		if err != nil {
			return nil, err
		}
		toks = append(toks, tok)
		if tok.kind == tokEOF {
			return toks, nil
		}
	}
}

func isIdentStart(r rune) bool {
	return r == '_' || r == '$' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}
func isIdentCont(r rune) bool {
	return isIdentStart(r) || (r >= '0' && r <= '9')
}
func isDigit(r rune) bool { return r >= '0' && r <= '9' }

func (l *lexer) next() (token, error) {
	for l.pos < len(l.src) && (l.src[l.pos] == ' ' || l.src[l.pos] == '\t' || l.src[l.pos] == '\n') {
		l.pos++
	}
	if l.pos >= len(l.src) {
		return token{kind: tokEOF}, nil
	}

	r := l.src[l.pos]

	switch {
	case r == ':' && l.pos+1 < len(l.src) && l.src[l.pos+1] == ':':
		return l.lexMQTTFetch(true)
	case isIdentStart(r):
		return l.lexIdentOrMQTT()
	case isDigit(r):
		return l.lexNumber()
	case r == '"' || r == '\'':
		return l.lexString(r)
	}

	single := map[rune]tokenKind{
		'+': tokPlus, '-': tokMinus, '/': tokSlash, '(': tokLParen, ')': tokRParen, ',': tokComma,
	}

	switch r {
	case '*':
		if l.pos+1 < len(l.src) && l.src[l.pos+1] == '*' {
			l.pos += 2
			return token{kind: tokPow, text: "**"}, nil
		}
		l.pos++
		return token{kind: tokStar, text: "*"}, nil
	case '=':
		if l.pos+1 < len(l.src) && l.src[l.pos+1] == '=' {
			l.pos += 2
			return token{kind: tokEq, text: "=="}, nil
		}
		return token{}, fmt.Errorf("%w: bare '=' at %d", errSyntax, l.pos)
	case '<':
		l.pos++
		if l.peekRune() == '=' {
			l.pos++
			return token{kind: tokLe, text: "<="}, nil
		}
		return token{kind: tokLt, text: "<"}, nil
	case '>':
		l.pos++
		if l.peekRune() == '=' {
			l.pos++
			return token{kind: tokGe, text: ">="}, nil
		}
		return token{kind: tokGt, text: ">"}, nil
	}

	if kind, ok := single[r]; ok {
		l.pos++
		return token{kind: kind, text: string(r)}, nil
	}

	return token{}, fmt.Errorf("%w: unexpected character %q at %d", errSyntax, r, l.pos)
}

func (l *lexer) lexNumber() (token, error) {
	start := l.pos
	for l.pos < len(l.src) && isDigit(l.src[l.pos]) {
		l.pos++
	}
	if l.pos < len(l.src) && l.src[l.pos] == '.' {
		l.pos++
		for l.pos < len(l.src) && isDigit(l.src[l.pos]) {
			l.pos++
		}
	}
	text := string(l.src[start:l.pos])
	var f float64
	if _, err := fmt.Sscanf(text, "%g", &f); err != nil {
		return token{}, fmt.Errorf("%w: bad number %q", errSyntax, text)
	}
	return token{kind: tokNumber, text: text, num: f}, nil
}

func (l *lexer) lexString(quote rune) (token, error) {
	l.pos++ // skip opening quote
	start := l.pos
	for l.pos < len(l.src) && l.src[l.pos] != quote {
		l.pos++
	}
	if l.pos >= len(l.src) {
		return token{}, fmt.Errorf("%w: unterminated string", errSyntax)
	}
	text := string(l.src[start:l.pos])
	l.pos++ // skip closing quote
	return token{kind: tokString, text: text}, nil
}

// lexIdentOrMQTT consumes an identifier, then checks whether it is
// actually the UNIT:JOB:SETTING form of an MQTT fetch token.
func (l *lexer) lexIdentOrMQTT() (token, error) {
	start := l.pos
	for l.pos < len(l.src) && isIdentCont(l.src[l.pos]) {
		l.pos++
	}
	word := string(l.src[start:l.pos])

	if l.pos < len(l.src) && l.src[l.pos] == ':' {
		l.pos = start
		return l.lexMQTTFetch(false)
	}

	switch strings.ToLower(word) {
	case "and":
		return token{kind: tokAnd, text: word}, nil
	case "or":
		return token{kind: tokOr, text: word}, nil
	case "not":
		return token{kind: tokNot, text: word}, nil
	case "true":
		return token{kind: tokTrue, text: word}, nil
	case "false":
		return token{kind: tokFalse, text: word}, nil
	}
	return token{kind: tokIdent, text: word}, nil
}

// lexMQTTFetch consumes a full `UNIT:JOB:SETTING.path` or
// `::JOB:SETTING.path` token up to the next whitespace/operator/paren.
func (l *lexer) lexMQTTFetch(leadingColons bool) (token, error) {
	start := l.pos
	for l.pos < len(l.src) {
		r := l.src[l.pos]
		if r == ' ' || r == '\t' || r == '\n' || r == '(' || r == ')' || r == ',' {
			break
		}
		l.pos++
	}
	text := string(l.src[start:l.pos])
	if strings.Count(text, ":") < 2 {
		return token{}, fmt.Errorf("%w: malformed mqtt fetch token %q", errSyntax, text)
	}
	return token{kind: tokMQTTFetch, text: text}, nil
}
