package dynamotest

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// env resolves placeholders for one request.
type env struct {
	names  map[string]string
	values map[string]types.AttributeValue
}

func (e *env) check(cond *string, it item) (bool, error) {
	if cond == nil || *cond == "" {
		return true, nil
	}
	return e.eval(*cond, it)
}

func (e *env) eval(expr string, it item) (bool, error) {
	p := &parser{env: e, item: it, toks: tokenize(expr)}
	ok, err := p.or()
	if err != nil {
		return false, fmt.Errorf("expression %q: %w", expr, err)
	}
	if p.pos != len(p.toks) {
		return false, fmt.Errorf("expression %q: trailing %q", expr, p.toks[p.pos])
	}
	return ok, nil
}

func (e *env) attr(name string) string {
	if strings.HasPrefix(name, "#") {
		if n, ok := e.names[name]; ok {
			return n
		}
	}
	return name
}

func (e *env) operand(tok string, it item) types.AttributeValue {
	if strings.HasPrefix(tok, ":") {
		return e.values[tok]
	}
	return it[e.attr(tok)]
}

// update applies a SET expression to a copy of cur. A missing item starts
// from its key.
func (e *env) update(expr string, cur, key item) (item, error) {
	next := clone(cur)
	if next == nil {
		next = clone(key)
	}
	body, ok := strings.CutPrefix(strings.TrimSpace(expr), "SET ")
	if !ok {
		return nil, fmt.Errorf("unsupported update %q", expr)
	}
	for _, clause := range strings.Split(body, ",") {
		lhs, rhs, ok := strings.Cut(clause, "=")
		if !ok {
			return nil, fmt.Errorf("malformed clause %q", clause)
		}
		name := e.attr(strings.TrimSpace(lhs))
		rhs = strings.TrimSpace(rhs)
		if a, b, sum := strings.Cut(rhs, "+"); sum {
			x, _ := number(e.operand(strings.TrimSpace(a), cur))
			y, _ := number(e.operand(strings.TrimSpace(b), cur))
			next[name] = &types.AttributeValueMemberN{Value: strconv.FormatInt(x+y, 10)}
			continue
		}
		v := e.operand(rhs, cur)
		if v == nil {
			return nil, fmt.Errorf("unbound operand %q", rhs)
		}
		next[name] = v
	}
	return next, nil
}

func tokenize(expr string) []string {
	expr = strings.NewReplacer("(", " ( ", ")", " ) ").Replace(expr)
	return strings.Fields(expr)
}

type parser struct {
	env  *env
	item item
	toks []string
	pos  int
}

func (p *parser) peek() string {
	if p.pos < len(p.toks) {
		return p.toks[p.pos]
	}
	return ""
}

func (p *parser) next() string {
	t := p.peek()
	p.pos++
	return t
}

func (p *parser) expect(tok string) error {
	if got := p.next(); got != tok {
		return fmt.Errorf("expected %q, got %q", tok, got)
	}
	return nil
}

func (p *parser) or() (bool, error) {
	left, err := p.and()
	if err != nil {
		return false, err
	}
	for p.peek() == "OR" {
		p.next()
		right, err := p.and()
		if err != nil {
			return false, err
		}
		left = left || right
	}
	return left, nil
}

func (p *parser) and() (bool, error) {
	left, err := p.unary()
	if err != nil {
		return false, err
	}
	for p.peek() == "AND" {
		p.next()
		right, err := p.unary()
		if err != nil {
			return false, err
		}
		left = left && right
	}
	return left, nil
}

func (p *parser) unary() (bool, error) {
	switch tok := p.next(); tok {
	case "(":
		v, err := p.or()
		if err != nil {
			return false, err
		}
		return v, p.expect(")")
	case "attribute_exists", "attribute_not_exists":
		if err := p.expect("("); err != nil {
			return false, err
		}
		_, exists := p.item[p.env.attr(p.next())]
		if err := p.expect(")"); err != nil {
			return false, err
		}
		return exists == (tok == "attribute_exists"), nil
	case "":
		return false, fmt.Errorf("unexpected end")
	default:
		op := p.next()
		left := p.env.operand(tok, p.item)
		right := p.env.operand(p.next(), p.item)
		return compare(left, op, right)
	}
}

func compare(a types.AttributeValue, op string, b types.AttributeValue) (bool, error) {
	if a == nil || b == nil {
		return false, nil
	}
	x, xn := number(a)
	y, yn := number(b)
	switch op {
	case "=":
		if xn && yn {
			return x == y, nil
		}
		return render(a) == render(b), nil
	case ">":
		if xn && yn {
			return x > y, nil
		}
		return render(a) > render(b), nil
	case "<":
		if xn && yn {
			return x < y, nil
		}
		return render(a) < render(b), nil
	}
	return false, fmt.Errorf("unsupported operator %q", op)
}

func number(v types.AttributeValue) (int64, bool) {
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0, false
	}
	x, err := strconv.ParseInt(n.Value, 10, 64)
	return x, err == nil
}
