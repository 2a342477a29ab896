package transformers

import (
	"fmt"
	"math"

	exprlang "github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/juju/errors"
	"github.com/specialistvlad/mgmtcore/internal/typed"
	"github.com/zclconf/go-cty/cty"
)

// ValueVar is the name the attribute value is bound to in rule expressions.
const ValueVar = "value"

type program struct {
	src string
	p   *vm.Program
}

func compile(src string) (*program, error) {
	p, err := exprlang.Compile(src, exprlang.AllowUndefinedVariables())
	if err != nil {
		return nil, errors.Annotatef(err, "compiling %q", src)
	}
	return &program{src: src, p: p}, nil
}

func (p *program) run(v cty.Value) (any, error) {
	in, err := typed.ToGo(v)
	if err != nil {
		return nil, err
	}
	out, err := exprlang.Run(p.p, map[string]any{ValueVar: in})
	if err != nil {
		return nil, errors.Annotatef(err, "evaluating %q", p.src)
	}
	return out, nil
}

// ExprConverter is a Converter written as a pair of expr programs over
// value.
type ExprConverter struct {
	forward *program
	inverse *program
}

// NewExprConverter compiles forward and inverse.
func NewExprConverter(forward, inverse string) (*ExprConverter, error) {
	f, err := compile(forward)
	if err != nil {
		return nil, err
	}
	i, err := compile(inverse)
	if err != nil {
		return nil, err
	}
	return &ExprConverter{forward: f, inverse: i}, nil
}

// Forward implements Converter.
func (c *ExprConverter) Forward(v cty.Value) (cty.Value, error) { return c.eval(c.forward, v) }

// Inverse implements Converter.
func (c *ExprConverter) Inverse(v cty.Value) (cty.Value, error) { return c.eval(c.inverse, v) }

func (c *ExprConverter) eval(p *program, v cty.Value) (cty.Value, error) {
	if v.IsNull() {
		return v, nil
	}
	out, err := p.run(v)
	if err != nil {
		return cty.NilVal, err
	}
	// expr arithmetic yields float64 even for integral operands.
	if f, ok := out.(float64); ok && f == math.Trunc(f) && math.Abs(f) < 1<<53 {
		out = int64(f)
	}
	return typed.FromGo(out)
}

// ExprPredicate is a Predicate written as a boolean expr program over value.
type ExprPredicate struct {
	p *program
}

// NewExprPredicate compiles src.
func NewExprPredicate(src string) (*ExprPredicate, error) {
	p, err := compile(src)
	if err != nil {
		return nil, err
	}
	return &ExprPredicate{p: p}, nil
}

// Match implements Predicate.
func (e *ExprPredicate) Match(v cty.Value) (bool, error) {
	out, err := e.p.run(v)
	if err != nil {
		return false, err
	}
	b, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("%q evaluated to %T, not bool", e.p.src, out)
	}
	return b, nil
}

// PredicateFunc adapts a function to Predicate.
type PredicateFunc func(v cty.Value) (bool, error)

// Match implements Predicate.
func (f PredicateFunc) Match(v cty.Value) (bool, error) { return f(v) }
