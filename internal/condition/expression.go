package condition

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// Value expressions transform a single resolved value for derived-property
// rules. The grammar is deliberately tiny: the only variable is the keyword
// "value", plus literals, arithmetic (+ - * /), comparisons and parentheses.
// There are no function calls and no access to the rest of the event.

// -----------------------------------------------------------------------
// AST nodes
// -----------------------------------------------------------------------

// Expr is the common interface for all AST nodes.
type Expr interface {
	exprNode()
}

// ValueRef is the "value" keyword: the resolved source value.
type ValueRef struct{}

func (*ValueRef) exprNode() {}

// Literal holds a pre-parsed constant.
type Literal struct {
	Value any
}

func (*Literal) exprNode() {}

// ArithExpr represents <expr> (+|-|*|/) <expr>.
type ArithExpr struct {
	Op    string
	Left  Expr
	Right Expr
}

func (*ArithExpr) exprNode() {}

// CompareExpr represents <expr> (==|!=|>|>=|<|<=) <expr>.
type CompareExpr struct {
	Op    string
	Left  Expr
	Right Expr
}

func (*CompareExpr) exprNode() {}

// -----------------------------------------------------------------------
// Tokenizer
// -----------------------------------------------------------------------

type tokenKind int

const (
	tokWord   tokenKind = iota // "value", true, false
	tokOp                      // ==, !=, >=, <=, >, <, +, -, *, /
	tokString                  // "…" or '…'
	tokNumber                  // 42 | 3.14 | -7
	tokLParen
	tokRParen
	tokEOF
)

type token struct {
	kind tokenKind
	val  string
}

func tokenize(expr string) ([]token, error) {
	var tokens []token
	i := 0
	for i < len(expr) {
		ch := expr[i]
		if unicode.IsSpace(rune(ch)) {
			i++
			continue
		}
		if ch == '(' {
			tokens = append(tokens, token{tokLParen, "("})
			i++
			continue
		}
		if ch == ')' {
			tokens = append(tokens, token{tokRParen, ")"})
			i++
			continue
		}
		// Comparison operators.
		if ch == '=' || ch == '!' || ch == '<' || ch == '>' {
			if i+1 < len(expr) && expr[i+1] == '=' {
				tokens = append(tokens, token{tokOp, expr[i : i+2]})
				i += 2
			} else if ch == '<' || ch == '>' {
				tokens = append(tokens, token{tokOp, string(ch)})
				i++
			} else {
				return nil, fmt.Errorf("unexpected character %q at position %d", ch, i)
			}
			continue
		}
		// Arithmetic operators. '-' is only an operator when the previous
		// token can end an operand; otherwise it starts a negative literal.
		if ch == '+' || ch == '*' || ch == '/' {
			tokens = append(tokens, token{tokOp, string(ch)})
			i++
			continue
		}
		if ch == '-' {
			prevIsOperand := false
			if n := len(tokens); n > 0 {
				switch tokens[n-1].kind {
				case tokWord, tokNumber, tokString, tokRParen:
					prevIsOperand = true
				}
			}
			if prevIsOperand || i+1 >= len(expr) || !unicode.IsDigit(rune(expr[i+1])) {
				tokens = append(tokens, token{tokOp, "-"})
				i++
				continue
			}
			// falls through to number scanning below
		}
		// String literals.
		if ch == '"' || ch == '\'' {
			quote := ch
			j := i + 1
			for j < len(expr) && expr[j] != quote {
				if expr[j] == '\\' {
					j++
				}
				j++
			}
			if j >= len(expr) {
				return nil, fmt.Errorf("unterminated string starting at position %d", i)
			}
			inner := expr[i+1 : j]
			inner = strings.ReplaceAll(inner, `\"`, `"`)
			inner = strings.ReplaceAll(inner, `\'`, `'`)
			inner = strings.ReplaceAll(inner, `\\`, `\`)
			tokens = append(tokens, token{tokString, inner})
			i = j + 1
			continue
		}
		// Numbers.
		if unicode.IsDigit(rune(ch)) || ch == '-' {
			j := i
			if expr[j] == '-' {
				j++
			}
			for j < len(expr) && (unicode.IsDigit(rune(expr[j])) || expr[j] == '.') {
				j++
			}
			tokens = append(tokens, token{tokNumber, expr[i:j]})
			i = j
			continue
		}
		// Words: only "value" and the boolean literals are legal.
		if unicode.IsLetter(rune(ch)) || ch == '_' {
			j := i
			for j < len(expr) && (unicode.IsLetter(rune(expr[j])) || unicode.IsDigit(rune(expr[j])) || expr[j] == '_') {
				j++
			}
			tokens = append(tokens, token{tokWord, expr[i:j]})
			i = j
			continue
		}
		return nil, fmt.Errorf("unexpected character %q at position %d", ch, i)
	}
	tokens = append(tokens, token{tokEOF, ""})
	return tokens, nil
}

// -----------------------------------------------------------------------
// Recursive-descent parser
// -----------------------------------------------------------------------

type parser struct {
	tokens []token
	pos    int
}

func (p *parser) peek() token {
	return p.tokens[p.pos]
}

func (p *parser) consume() token {
	t := p.tokens[p.pos]
	p.pos++
	return t
}

// Parse parses a value expression into an AST.
func Parse(expr string) (Expr, error) {
	tokens, err := tokenize(expr)
	if err != nil {
		return nil, err
	}
	p := &parser{tokens: tokens}
	node, err := p.parseComparison()
	if err != nil {
		return nil, err
	}
	if p.peek().kind != tokEOF {
		return nil, fmt.Errorf("unexpected token %q after expression", p.peek().val)
	}
	return node, nil
}

// comparison = sum [ ("=="|"!="|">"|">="|"<"|"<=") sum ]
func (p *parser) parseComparison() (Expr, error) {
	left, err := p.parseSum()
	if err != nil {
		return nil, err
	}
	t := p.peek()
	if t.kind == tokOp && isCompareOp(t.val) {
		p.consume()
		right, err := p.parseSum()
		if err != nil {
			return nil, err
		}
		return &CompareExpr{Op: t.val, Left: left, Right: right}, nil
	}
	return left, nil
}

// sum = term { ("+"|"-") term }
func (p *parser) parseSum() (Expr, error) {
	left, err := p.parseTerm()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokOp && (p.peek().val == "+" || p.peek().val == "-") {
		op := p.consume().val
		right, err := p.parseTerm()
		if err != nil {
			return nil, err
		}
		left = &ArithExpr{Op: op, Left: left, Right: right}
	}
	return left, nil
}

// term = factor { ("*"|"/") factor }
func (p *parser) parseTerm() (Expr, error) {
	left, err := p.parseFactor()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokOp && (p.peek().val == "*" || p.peek().val == "/") {
		op := p.consume().val
		right, err := p.parseFactor()
		if err != nil {
			return nil, err
		}
		left = &ArithExpr{Op: op, Left: left, Right: right}
	}
	return left, nil
}

// factor = "value" | literal | "(" comparison ")"
func (p *parser) parseFactor() (Expr, error) {
	t := p.peek()
	switch t.kind {
	case tokLParen:
		p.consume()
		inner, err := p.parseComparison()
		if err != nil {
			return nil, err
		}
		if p.peek().kind != tokRParen {
			return nil, fmt.Errorf("expected ) but got %q", p.peek().val)
		}
		p.consume()
		return inner, nil
	case tokString:
		p.consume()
		return &Literal{Value: t.val}, nil
	case tokNumber:
		p.consume()
		f, err := strconv.ParseFloat(t.val, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q", t.val)
		}
		return &Literal{Value: f}, nil
	case tokWord:
		p.consume()
		switch strings.ToLower(t.val) {
		case "value":
			return &ValueRef{}, nil
		case "true":
			return &Literal{Value: true}, nil
		case "false":
			return &Literal{Value: false}, nil
		default:
			return nil, fmt.Errorf("unknown identifier %q (only \"value\" is allowed)", t.val)
		}
	default:
		return nil, fmt.Errorf("expected operand, got %q", t.val)
	}
}

func isCompareOp(op string) bool {
	switch op {
	case "==", "!=", ">", ">=", "<", "<=":
		return true
	}
	return false
}
