package expressions

import (
	"fmt"
	"math"
	"reflect"
	"strings"
)

// node is a parsed condition. Evaluation only reads env; there is no way to
// call functions or reach anything outside the supplied values.
type node interface {
	eval(env map[string]any) (any, error)
}

type literalNode struct{ val any }

type identNode struct{ name string }

type listNode struct{ items []node }

type notNode struct{ operand node }

type negNode struct{ operand node }

type binaryNode struct {
	op          tokenKind
	left, right node
}

// parser is a recursive-descent parser over:
//
//	or      = and { ("||" | "or") and }
//	and     = unary { ("&&" | "and") unary }
//	unary   = ("!" | "not") unary | compare
//	compare = operand [ ("==" | "!=" | "<" | "<=" | ">" | ">=" | "in") operand ]
//	operand = "-" operand | number | string | true | false | null
//	        | identifier | "(" or ")" | "[" [ or { "," or } ] "]"
type parser struct {
	toks []token
	pos  int
}

func parseCondition(src string) (node, error) {
	if strings.TrimSpace(src) == "" {
		return nil, fmt.Errorf("empty condition")
	}
	toks, err := tokenize(src)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	n, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if tok := p.peek(); tok.kind != tokEOF {
		return nil, fmt.Errorf("unexpected %s %q at %d", tok.kind, tok.text, tok.pos)
	}
	return n, nil
}

func (p *parser) peek() token {
	return p.toks[p.pos]
}

func (p *parser) next() token {
	tok := p.toks[p.pos]
	if tok.kind != tokEOF {
		p.pos++
	}
	return tok
}

func (p *parser) expect(kind tokenKind) error {
	tok := p.next()
	if tok.kind != kind {
		return fmt.Errorf("expected %s at %d, got %s", kind, tok.pos, tok.kind)
	}
	return nil
}

func (p *parser) parseOr() (node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokOr {
		p.next()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &binaryNode{op: tokOr, left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokAnd {
		p.next()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &binaryNode{op: tokAnd, left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseUnary() (node, error) {
	if p.peek().kind == tokNot {
		p.next()
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &notNode{operand: operand}, nil
	}
	return p.parseCompare()
}

func (p *parser) parseCompare() (node, error) {
	left, err := p.parseOperand()
	if err != nil {
		return nil, err
	}
	switch op := p.peek().kind; op {
	case tokEq, tokNeq, tokLt, tokLte, tokGt, tokGte, tokIn:
		p.next()
		right, err := p.parseOperand()
		if err != nil {
			return nil, err
		}
		return &binaryNode{op: op, left: left, right: right}, nil
	}
	return left, nil
}

func (p *parser) parseOperand() (node, error) {
	tok := p.next()
	switch tok.kind {
	case tokMinus:
		operand, err := p.parseOperand()
		if err != nil {
			return nil, err
		}
		return &negNode{operand: operand}, nil
	case tokNumber:
		return &literalNode{val: tok.num}, nil
	case tokString:
		return &literalNode{val: tok.text}, nil
	case tokTrue:
		return &literalNode{val: true}, nil
	case tokFalse:
		return &literalNode{val: false}, nil
	case tokNull:
		return &literalNode{val: nil}, nil
	case tokIdent:
		return &identNode{name: tok.text}, nil
	case tokLParen:
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if err := p.expect(tokRParen); err != nil {
			return nil, err
		}
		return inner, nil
	case tokLBracket:
		list := &listNode{}
		if p.peek().kind == tokRBracket {
			p.next()
			return list, nil
		}
		for {
			item, err := p.parseOr()
			if err != nil {
				return nil, err
			}
			list.items = append(list.items, item)
			if p.peek().kind == tokComma {
				p.next()
				continue
			}
			if err := p.expect(tokRBracket); err != nil {
				return nil, err
			}
			return list, nil
		}
	}
	if tok.kind == tokEOF {
		return nil, fmt.Errorf("unexpected end of condition")
	}
	return nil, fmt.Errorf("unexpected %s %q at %d", tok.kind, tok.text, tok.pos)
}

// --- evaluation ---

func (n *literalNode) eval(map[string]any) (any, error) {
	return n.val, nil
}

func (n *identNode) eval(env map[string]any) (any, error) {
	val, ok := Lookup(env, n.name)
	if !ok {
		return nil, fmt.Errorf("unknown identifier %q", n.name)
	}
	return val, nil
}

func (n *listNode) eval(env map[string]any) (any, error) {
	out := make([]any, len(n.items))
	for i, item := range n.items {
		v, err := item.eval(env)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (n *notNode) eval(env map[string]any) (any, error) {
	v, err := n.operand.eval(env)
	if err != nil {
		return nil, err
	}
	return !truthy(v), nil
}

func (n *negNode) eval(env map[string]any) (any, error) {
	v, err := n.operand.eval(env)
	if err != nil {
		return nil, err
	}
	f, ok := toFloat(v)
	if !ok {
		return nil, fmt.Errorf("cannot negate %T", v)
	}
	return -f, nil
}

func (n *binaryNode) eval(env map[string]any) (any, error) {
	left, err := n.left.eval(env)
	if err != nil {
		return nil, err
	}

	switch n.op {
	case tokAnd:
		if !truthy(left) {
			return false, nil
		}
		right, err := n.right.eval(env)
		if err != nil {
			return nil, err
		}
		return truthy(right), nil
	case tokOr:
		if truthy(left) {
			return true, nil
		}
		right, err := n.right.eval(env)
		if err != nil {
			return nil, err
		}
		return truthy(right), nil
	}

	right, err := n.right.eval(env)
	if err != nil {
		return nil, err
	}

	switch n.op {
	case tokEq:
		return valuesEqual(left, right), nil
	case tokNeq:
		return !valuesEqual(left, right), nil
	case tokIn:
		return contains(right, left)
	}

	cmp, err := order(left, right)
	if err != nil {
		return nil, err
	}
	switch n.op {
	case tokLt:
		return cmp < 0, nil
	case tokLte:
		return cmp <= 0, nil
	case tokGt:
		return cmp > 0, nil
	case tokGte:
		return cmp >= 0, nil
	}
	return nil, fmt.Errorf("unsupported operator %s", n.op)
}

// truthy: false, nil, zero numbers, "" and empty collections are false.
func truthy(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case string:
		return val != ""
	case []any:
		return len(val) > 0
	case map[string]any:
		return len(val) > 0
	}
	if f, ok := toFloat(v); ok {
		return f != 0 && !math.IsNaN(f)
	}
	return true
}

// valuesEqual compares numerically across numeric kinds; other kinds must
// match exactly. No string/number coercion.
func valuesEqual(a, b any) bool {
	fa, aNum := toFloat(a)
	fb, bNum := toFloat(b)
	if aNum && bNum {
		return fa == fb
	}
	if aNum != bNum {
		return false
	}
	return reflect.DeepEqual(a, b)
}

func order(a, b any) (int, error) {
	fa, aNum := toFloat(a)
	fb, bNum := toFloat(b)
	if aNum && bNum {
		switch {
		case fa < fb:
			return -1, nil
		case fa > fb:
			return 1, nil
		}
		return 0, nil
	}
	sa, aStr := a.(string)
	sb, bStr := b.(string)
	if aStr && bStr {
		return strings.Compare(sa, sb), nil
	}
	return 0, fmt.Errorf("cannot order %T and %T", a, b)
}

func contains(haystack, needle any) (bool, error) {
	switch h := haystack.(type) {
	case []any:
		for _, item := range h {
			if valuesEqual(item, needle) {
				return true, nil
			}
		}
		return false, nil
	case []string:
		s, ok := needle.(string)
		if !ok {
			return false, nil
		}
		for _, item := range h {
			if item == s {
				return true, nil
			}
		}
		return false, nil
	case map[string]any:
		s, ok := needle.(string)
		if !ok {
			return false, nil
		}
		_, found := h[s]
		return found, nil
	case string:
		s, ok := needle.(string)
		if !ok {
			return false, fmt.Errorf("cannot search string for %T", needle)
		}
		return strings.Contains(h, s), nil
	}
	return false, fmt.Errorf("cannot apply in to %T", haystack)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case interface{ Float64() (float64, error) }:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
