package traversal

import (
	"fmt"
	"strconv"
	"strings"
	"text/scanner"
)

// compareOp is a T.xx token in has() arguments
type compareOp string

const (
	opEq  compareOp = "eq"
	opNeq compareOp = "neq"
	opGt  compareOp = "gt"
	opGte compareOp = "gte"
	opLt  compareOp = "lt"
	opLte compareOp = "lte"
)

func (op compareOp) valid() bool {
	switch op {
	case opEq, opNeq, opGt, opGte, opLt, opLte:
		return true
	}
	return false
}

// Compile parses query into a Program.
//
//	_().out('knows').has('age', T.gt, 30).name
//
// Steps are separated by dots; parentheses are optional for steps without
// arguments, and a bare name that is not a step projects that property.
func Compile(query string) (*Program, error) {
	p := &parser{query: query}
	p.s.Init(strings.NewReader(query))
	p.s.Mode = scanner.ScanIdents | scanner.ScanInts | scanner.ScanFloats |
		scanner.ScanStrings | scanner.ScanRawStrings | scanner.SkipComments
	p.s.Error = func(s *scanner.Scanner, msg string) {
		if p.err == nil {
			p.err = p.errorf("%s", msg)
		}
	}

	steps, err := p.parse()
	if err != nil {
		return nil, err
	}
	return &Program{source: query, steps: steps}, nil
}

type parser struct {
	query string
	s     scanner.Scanner
	tok   rune
	err   error
}

func (p *parser) next() {
	p.tok = p.s.Scan()
}

func (p *parser) errorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s at offset %d in %q", ErrSyntax, fmt.Sprintf(format, args...), p.s.Position.Offset, p.query)
}

func (p *parser) parse() ([]step, error) {
	p.next()
	if p.tok == scanner.EOF {
		return nil, p.errorf("empty query")
	}

	var steps []step
	for {
		if p.err != nil {
			return nil, p.err
		}
		if p.tok != scanner.Ident {
			return nil, p.errorf("expected step name, got %s", scanner.TokenString(p.tok))
		}
		name := p.s.TokenText()
		p.next()

		var args []any
		hasParens := false
		if p.tok == '(' {
			hasParens = true
			var err error
			if args, err = p.parseArgs(); err != nil {
				return nil, err
			}
		}

		st, err := buildStep(name, args, hasParens)
		if err != nil {
			return nil, p.errorf("%v", err)
		}
		steps = append(steps, st)

		if p.err != nil {
			return nil, p.err
		}
		if p.tok == scanner.EOF {
			return steps, nil
		}
		if p.tok != '.' {
			return nil, p.errorf("expected '.', got %s", scanner.TokenString(p.tok))
		}
		p.next()
	}
}

func (p *parser) parseArgs() ([]any, error) {
	p.next()
	if p.tok == ')' {
		p.next()
		return nil, nil
	}

	var args []any
	for {
		arg, err := p.parseArg()
		if err != nil {
			return nil, err
		}
		args = append(args, arg)

		switch p.tok {
		case ',':
			p.next()
		case ')':
			p.next()
			return args, nil
		default:
			return nil, p.errorf("expected ',' or ')', got %s", scanner.TokenString(p.tok))
		}
	}
}

// parseArg consumes one argument and advances past it.
func (p *parser) parseArg() (any, error) {
	switch p.tok {
	case scanner.String, scanner.RawString:
		v, err := strconv.Unquote(p.s.TokenText())
		if err != nil {
			return nil, p.errorf("bad string literal %s", p.s.TokenText())
		}
		p.next()
		return v, nil
	case '\'':
		v, err := p.readSingleQuoted()
		if err != nil {
			return nil, err
		}
		p.next()
		return v, nil
	case scanner.Int, scanner.Float:
		return p.parseNumber(false)
	case '-':
		p.next()
		if p.tok != scanner.Int && p.tok != scanner.Float {
			return nil, p.errorf("expected number after '-'")
		}
		return p.parseNumber(true)
	case scanner.Ident:
		text := p.s.TokenText()
		p.next()
		switch text {
		case "true":
			return true, nil
		case "false":
			return false, nil
		case "null":
			return nil, nil
		case "T":
			if p.tok != '.' {
				return nil, p.errorf("expected T.<op>")
			}
			p.next()
			if p.tok != scanner.Ident {
				return nil, p.errorf("expected comparison after T.")
			}
			op := compareOp(p.s.TokenText())
			if !op.valid() {
				return nil, p.errorf("unknown comparison T.%s", op)
			}
			p.next()
			return op, nil
		}
		return nil, p.errorf("unexpected identifier %s", text)
	default:
		return nil, p.errorf("unexpected %s in arguments", scanner.TokenString(p.tok))
	}
}

func (p *parser) parseNumber(negative bool) (any, error) {
	text := p.s.TokenText()
	if negative {
		text = "-" + text
	}
	tok := p.tok
	p.next()
	if tok == scanner.Int {
		v, err := strconv.ParseInt(text, 0, 64)
		if err != nil {
			return nil, p.errorf("bad integer %s", text)
		}
		return v, nil
	}
	v, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return nil, p.errorf("bad number %s", text)
	}
	return v, nil
}

// readSingleQuoted reads raw characters up to the closing quote. The opening
// quote has already been scanned.
func (p *parser) readSingleQuoted() (string, error) {
	var b strings.Builder
	for {
		ch := p.s.Next()
		switch ch {
		case scanner.EOF, '\n':
			return "", p.errorf("unterminated string")
		case '\'':
			return b.String(), nil
		case '\\':
			esc := p.s.Next()
			if esc == scanner.EOF {
				return "", p.errorf("unterminated string")
			}
			b.WriteRune(esc)
		default:
			b.WriteRune(ch)
		}
	}
}
