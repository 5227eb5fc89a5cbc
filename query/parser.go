package query

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/nightscape/holon/value"
)

type parser struct {
	toks []token
	pos  int
}

func (p *parser) peek() token  { return p.toks[p.pos] }
func (p *parser) advance() token {
	t := p.toks[p.pos]
	if p.pos < len(p.toks)-1 {
		p.pos++
	}
	return t
}

func (p *parser) expect(k tokenKind, what string) (token, error) {
	if p.peek().kind != k {
		return token{}, fmt.Errorf("query: expected %s, got %q", what, p.peek().text)
	}
	return p.advance(), nil
}

// Split separates the tail `render(...)` form from the data pipeline
// steps that precede it (spec.md §4.9 step 1): the last top-level
// pipe-separated segment must be a `render(...)` call.
func Split(source string) (pipeline string, render Expr, err error) {
	toks, err := lex(source)
	if err != nil {
		return "", nil, err
	}
	segments, err := splitTopLevel(toks)
	if err != nil {
		return "", nil, err
	}
	if len(segments) == 0 {
		return "", nil, fmt.Errorf("query: empty pipeline")
	}
	last := segments[len(segments)-1]
	p := &parser{toks: last}
	renderCall, err := p.parseCall()
	if err != nil {
		return "", nil, fmt.Errorf("query: pipeline must end in render(...): %w", err)
	}
	call, ok := renderCall.(Call)
	if !ok || call.Name != "render" {
		return "", nil, fmt.Errorf("query: pipeline must end in render(...)")
	}
	if len(call.Args) != 1 {
		return "", nil, fmt.Errorf("query: render() takes exactly one argument")
	}
	pipelineToks := flatten(segments[:len(segments)-1])
	return tokensToText(pipelineToks), call.Args[0].Value, nil
}

// splitTopLevel splits on tokPipe at paren-depth 0.
func splitTopLevel(toks []token) ([][]token, error) {
	var segments [][]token
	var current []token
	depth := 0
	for _, t := range toks {
		switch t.kind {
		case tokLParen:
			depth++
		case tokRParen:
			depth--
			if depth < 0 {
				return nil, fmt.Errorf("query: unbalanced parentheses")
			}
		case tokPipe:
			if depth == 0 {
				segments = append(segments, current)
				current = nil
				continue
			}
		case tokEOF:
			continue
		}
		current = append(current, t)
	}
	if depth != 0 {
		return nil, fmt.Errorf("query: unbalanced parentheses")
	}
	segments = append(segments, current)
	return segments, nil
}

func flatten(segs [][]token) []token {
	var out []token
	for i, s := range segs {
		if i > 0 {
			out = append(out, token{tokPipe, "|"})
		}
		out = append(out, s...)
	}
	return out
}

// tokensToText renders toks back into pipeline text that lex accepts,
// re-quoting string literals and writing calls as `where(done == false)`.
func tokensToText(toks []token) string {
	s := ""
	prev := tokLParen
	for _, t := range toks {
		if t.kind == tokEOF {
			continue
		}
		if prev != tokLParen && prev != tokDot && t.kind != tokLParen && t.kind != tokRParen && t.kind != tokComma && t.kind != tokDot {
			s += " "
		}
		text := t.text
		if t.kind == tokString && strings.ContainsRune(text, '"') {
			text = "'" + text + "'"
		} else if t.kind == tokString {
			text = `"` + text + `"`
		}
		s += text
		prev = t.kind
	}
	return s
}

// ParsePipeline parses the data-pipeline half of a query (post-Split)
// into an ordered Step list.
func ParsePipeline(source string) ([]Step, error) {
	toks, err := lex(source)
	if err != nil {
		return nil, err
	}
	segments, err := splitTopLevel(toks)
	if err != nil {
		return nil, err
	}
	steps := make([]Step, 0, len(segments))
	for _, seg := range segments {
		p := &parser{toks: append(append([]token{}, seg...), token{tokEOF, ""})}
		call, err := p.parseCall()
		if err != nil {
			return nil, err
		}
		c, ok := call.(Call)
		if !ok {
			return nil, fmt.Errorf("query: pipeline step must be a function call")
		}
		step, err := stepFromCall(c)
		if err != nil {
			return nil, err
		}
		steps = append(steps, step)
	}
	return steps, nil
}

func stepFromCall(c Call) (Step, error) {
	switch c.Name {
	case "from":
		if len(c.Args) != 1 {
			return nil, fmt.Errorf("query: from() takes exactly one argument")
		}
		ref, ok := c.Args[0].Value.(ColumnRef)
		if !ok {
			return nil, fmt.Errorf("query: from() argument must be a table name")
		}
		return FromStep{Table: ref.Name}, nil
	case "where":
		if len(c.Args) != 1 {
			return nil, fmt.Errorf("query: where() takes exactly one argument")
		}
		return WhereStep{Cond: c.Args[0].Value}, nil
	case "select":
		cols := make([]SelectColumn, 0, len(c.Args))
		for _, a := range c.Args {
			alias := a.Name
			if alias == "" {
				if ref, ok := a.Value.(ColumnRef); ok {
					alias = ref.Name
				}
			}
			cols = append(cols, SelectColumn{Alias: alias, Expr: a.Value})
		}
		return SelectStep{Columns: cols}, nil
	case "orderBy":
		if len(c.Args) == 0 {
			return nil, fmt.Errorf("query: orderBy() requires a column")
		}
		ref, ok := c.Args[0].Value.(ColumnRef)
		if !ok {
			return nil, fmt.Errorf("query: orderBy() argument must be a column")
		}
		desc := false
		for _, a := range c.Args[1:] {
			if a.Name == "desc" {
				if lit, ok := a.Value.(Literal); ok {
					b, _ := lit.Value.AsBoolean()
					desc = b
				}
			}
		}
		return OrderByStep{Column: ref.Name, Desc: desc}, nil
	case "limit":
		if len(c.Args) != 1 {
			return nil, fmt.Errorf("query: limit() takes exactly one argument")
		}
		lit, ok := c.Args[0].Value.(Literal)
		if !ok {
			return nil, fmt.Errorf("query: limit() argument must be a number")
		}
		n, err := lit.Value.AsInteger()
		if err != nil {
			return nil, fmt.Errorf("query: limit() argument must be an integer: %w", err)
		}
		return LimitStep{N: n}, nil
	default:
		return nil, fmt.Errorf("query: unknown pipeline step %q", c.Name)
	}
}

// Expression grammar: orExpr := andExpr ('||' andExpr)*
//                      andExpr := equality ('&&' equality)*
//                      equality := comparison (('=='|'!=') comparison)*
//                      comparison := primary (('<'|'<='|'>'|'>=') primary)*
//                      primary := NUMBER | STRING | true|false|null | call | columnRef | '(' orExpr ')'

func (p *parser) parseExpr() (Expr, error) { return p.parseOr() }

func (p *parser) parseOr() (Expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokOr {
		p.advance()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = BinaryOp{Op: "||", Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (Expr, error) {
	left, err := p.parseEquality()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokAnd {
		p.advance()
		right, err := p.parseEquality()
		if err != nil {
			return nil, err
		}
		left = BinaryOp{Op: "&&", Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseEquality() (Expr, error) {
	left, err := p.parseComparison()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokEq || p.peek().kind == tokNeq {
		op := p.advance()
		right, err := p.parseComparison()
		if err != nil {
			return nil, err
		}
		left = BinaryOp{Op: op.text, Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseComparison() (Expr, error) {
	left, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for k := p.peek().kind; k == tokLt || k == tokLe || k == tokGt || k == tokGe; k = p.peek().kind {
		op := p.advance()
		right, err := p.parsePrimary()
		if err != nil {
			return nil, err
		}
		left = BinaryOp{Op: op.text, Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parsePrimary() (Expr, error) {
	t := p.peek()
	switch t.kind {
	case tokNumber:
		p.advance()
		if f, err := strconv.ParseFloat(t.text, 64); err == nil {
			if i, err := strconv.ParseInt(t.text, 10, 64); err == nil {
				return Literal{Value: value.Integer(i)}, nil
			}
			return Literal{Value: value.Float(f)}, nil
		}
		return nil, fmt.Errorf("query: invalid number %q", t.text)
	case tokString:
		p.advance()
		return Literal{Value: value.String(t.text)}, nil
	case tokLParen:
		p.advance()
		inner, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokRParen, ")"); err != nil {
			return nil, err
		}
		return inner, nil
	case tokIdent:
		switch t.text {
		case "true":
			p.advance()
			return Literal{Value: value.Boolean(true)}, nil
		case "false":
			p.advance()
			return Literal{Value: value.Boolean(false)}, nil
		case "null":
			p.advance()
			return Literal{Value: value.Null()}, nil
		case "this":
			p.advance()
			if _, err := p.expect(tokDot, "."); err != nil {
				return nil, err
			}
			name, err := p.expect(tokIdent, "column name")
			if err != nil {
				return nil, err
			}
			return ColumnRef{ThisScoped: true, Name: name.text}, nil
		}
		name := p.advance()
		if p.peek().kind == tokLParen {
			return p.parseCallArgs(name.text)
		}
		return ColumnRef{Name: name.text}, nil
	default:
		return nil, fmt.Errorf("query: unexpected token %q", t.text)
	}
}

// parseCall parses a single top-level `name(args)` form, used for the
// render() wrapper and for each pipeline step.
func (p *parser) parseCall() (Expr, error) {
	name, err := p.expect(tokIdent, "function name")
	if err != nil {
		return nil, err
	}
	return p.parseCallArgs(name.text)
}

func (p *parser) parseCallArgs(name string) (Expr, error) {
	if _, err := p.expect(tokLParen, "("); err != nil {
		return nil, err
	}
	var args []Arg
	for p.peek().kind != tokRParen {
		arg, err := p.parseArg()
		if err != nil {
			return nil, err
		}
		args = append(args, arg)
		if p.peek().kind == tokComma {
			p.advance()
			continue
		}
		break
	}
	if _, err := p.expect(tokRParen, ")"); err != nil {
		return nil, err
	}
	return Call{Name: name, Args: args}, nil
}

func (p *parser) parseArg() (Arg, error) {
	// Named arg lookahead: IDENT ':' expr.
	if p.peek().kind == tokIdent && p.toks[p.pos+1].kind == tokColon {
		name := p.advance()
		p.advance() // ':'
		val, err := p.parseExpr()
		if err != nil {
			return Arg{}, err
		}
		return Arg{Name: name.text, Value: val}, nil
	}
	val, err := p.parseExpr()
	if err != nil {
		return Arg{}, err
	}
	return Arg{Value: val}, nil
}
