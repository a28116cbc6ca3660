package plan

import (
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/systemstart/browser-build/pkg/buildctx"
)

// Op is a predicate operator.
type Op string

const (
	OpEqual Op = "=="
	OpIn    Op = "in"
	OpNotIn Op = "not in"
)

// Predicate is a parsed when expression: field == 'v', field in [...] or
// field not in [...].
type Predicate struct {
	Field  string
	Op     Op
	Values []string
}

// fieldValue returns the context value a predicate field names.
func fieldValue(field string, p buildctx.Params) (string, bool) {
	switch field {
	case "arch", "architecture":
		return string(p.Arch), true
	case "build_type":
		return string(p.BuildType), true
	case "platform", "os":
		return string(p.Platform), true
	}
	return "", false
}

// canonical maps value aliases ("darwin", "amd64", ...) to the names used
// in the build context so predicates may use either.
func canonical(field, value string) string {
	switch field {
	case "arch", "architecture":
		if a, err := buildctx.ParseArch(value); err == nil {
			return string(a)
		}
	case "platform", "os":
		if pl, err := buildctx.ParsePlatform(value); err == nil {
			return string(pl)
		}
	}
	return value
}

// Eval reports whether p satisfies the predicate.
func (pr Predicate) Eval(p buildctx.Params) bool {
	actual, _ := fieldValue(pr.Field, p)
	matched := slices.ContainsFunc(pr.Values, func(v string) bool {
		return canonical(pr.Field, v) == actual
	})
	if pr.Op == OpNotIn {
		return !matched
	}
	return matched
}

// EvalWhen evaluates a when expression against p. An empty expression is
// true. An expression that does not parse, or names an unknown field, is
// also true: the step is kept and a warning is logged.
func EvalWhen(expr string, p buildctx.Params) bool {
	if strings.TrimSpace(expr) == "" {
		return true
	}
	pr, err := ParsePredicate(expr)
	if err != nil {
		slog.Warn("unrecognized when expression, including step", "when", expr, "error", err)
		return true
	}
	return pr.Eval(p)
}

// ParsePredicate parses a when expression.
func ParsePredicate(expr string) (Predicate, error) {
	toks, err := tokenize(expr)
	if err != nil {
		return Predicate{}, err
	}
	ps := &parser{toks: toks}

	field := ps.next()
	if field.kind != tokIdent {
		return Predicate{}, fmt.Errorf("expected field name, got %s", field)
	}
	if _, ok := fieldValue(field.text, buildctx.Params{}); !ok {
		return Predicate{}, fmt.Errorf("unknown field %q (valid: arch, architecture, build_type, platform, os)", field.text)
	}

	pr := Predicate{Field: field.text}
	switch op := ps.next(); {
	case op.kind == tokEq:
		v := ps.next()
		if v.kind != tokString && v.kind != tokIdent {
			return Predicate{}, fmt.Errorf("expected value after ==, got %s", v)
		}
		pr.Op, pr.Values = OpEqual, []string{v.text}
	case op.is("in"):
		pr.Op = OpIn
		if pr.Values, err = ps.list(); err != nil {
			return Predicate{}, err
		}
	case op.is("not"):
		if in := ps.next(); !in.is("in") {
			return Predicate{}, fmt.Errorf("expected in after not, got %s", in)
		}
		pr.Op = OpNotIn
		if pr.Values, err = ps.list(); err != nil {
			return Predicate{}, err
		}
	default:
		return Predicate{}, fmt.Errorf("expected ==, in or not in, got %s", op)
	}

	if rest := ps.next(); rest.kind != tokEOF {
		return Predicate{}, fmt.Errorf("unexpected %s after expression", rest)
	}
	return pr, nil
}

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokString
	tokEq
	tokLBracket
	tokRBracket
	tokComma
)

type token struct {
	kind tokenKind
	text string
}

func (t token) is(word string) bool {
	return t.kind == tokIdent && t.text == word
}

func (t token) String() string {
	switch t.kind {
	case tokEOF:
		return "end of expression"
	case tokString:
		return fmt.Sprintf("string %q", t.text)
	}
	return fmt.Sprintf("%q", t.text)
}

func isIdentByte(c byte) bool {
	return c == '_' || c == '-' || c == '.' ||
		'a' <= c && c <= 'z' || 'A' <= c && c <= 'Z' || '0' <= c && c <= '9'
}

func tokenize(s string) ([]token, error) {
	var toks []token
	for i := 0; i < len(s); {
		c := s[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c == '[':
			toks = append(toks, token{tokLBracket, "["})
			i++
		case c == ']':
			toks = append(toks, token{tokRBracket, "]"})
			i++
		case c == ',':
			toks = append(toks, token{tokComma, ","})
			i++
		case c == '=':
			if i+1 >= len(s) || s[i+1] != '=' {
				return nil, fmt.Errorf("offset %d: expected ==", i)
			}
			toks = append(toks, token{tokEq, "=="})
			i += 2
		case c == '\'' || c == '"':
			end := strings.IndexByte(s[i+1:], c)
			if end < 0 {
				return nil, fmt.Errorf("offset %d: unterminated string", i)
			}
			toks = append(toks, token{tokString, s[i+1 : i+1+end]})
			i += end + 2
		case isIdentByte(c):
			start := i
			for i < len(s) && isIdentByte(s[i]) {
				i++
			}
			toks = append(toks, token{tokIdent, s[start:i]})
		default:
			return nil, fmt.Errorf("offset %d: unexpected character %q", i, c)
		}
	}
	return toks, nil
}

type parser struct {
	toks []token
	pos  int
}

func (p *parser) next() token {
	if p.pos >= len(p.toks) {
		return token{kind: tokEOF}
	}
	t := p.toks[p.pos]
	p.pos++
	return t
}

// list parses [v1, v2, ...]. A trailing comma is allowed.
func (p *parser) list() ([]string, error) {
	if open := p.next(); open.kind != tokLBracket {
		return nil, fmt.Errorf("expected [, got %s", open)
	}
	var values []string
	for {
		t := p.next()
		switch t.kind {
		case tokRBracket:
			return values, nil
		case tokString, tokIdent:
			values = append(values, t.text)
		default:
			return nil, fmt.Errorf("expected value or ], got %s", t)
		}

		switch sep := p.next(); sep.kind {
		case tokComma:
		case tokRBracket:
			return values, nil
		default:
			return nil, fmt.Errorf("expected , or ], got %s", sep)
		}
	}
}
