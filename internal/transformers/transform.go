package transformers

import (
	"fmt"

	"github.com/juju/errors"
	"github.com/juju/version/v2"
	"github.com/specialistvlad/mgmtcore/internal/address"
	"github.com/specialistvlad/mgmtcore/internal/controller"
	"github.com/specialistvlad/mgmtcore/internal/expression"
	"github.com/specialistvlad/mgmtcore/internal/failure"
	"github.com/specialistvlad/mgmtcore/internal/operations"
	"github.com/zclconf/go-cty/cty"
)

// SubsystemKey is the address key whose value selects the rule sets.
const SubsystemKey = "subsystem"

// PeerVersions maps subsystem names to the model version a peer runs.
// Subsystems a peer does not list are taken to be current.
type PeerVersions map[string]version.Number

// Canonicalizer maps an address, possibly at or below an alias, to the
// canonical address rules are written for. *registration.Registry is a
// Canonicalizer.
type Canonicalizer interface {
	Canonical(addr address.Address) (address.Address, error)
}

// Transformer applies the rule sets of a Registry.
type Transformer struct {
	reg   *Registry
	canon Canonicalizer
}

// Option configures a Transformer.
type Option func(*Transformer)

// WithCanonicalizer makes the transformer match rules against the canonical
// address of operations sent to an alias.
func WithCanonicalizer(c Canonicalizer) Option {
	return func(t *Transformer) { t.canon = c }
}

// New creates a transformer over reg.
func New(reg *Registry, opts ...Option) *Transformer {
	t := &Transformer{reg: reg}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// canonical returns the canonical address of addr. An address the
// canonicalizer does not know is returned as is; the peer reports it.
func (t *Transformer) canonical(addr address.Address) address.Address {
	if t.canon == nil {
		return addr
	}
	c, err := t.canon.Canonical(addr)
	if err != nil {
		return addr
	}
	return c
}

// Transformed is an operation rewritten for a peer. It carries what is
// needed to map the peer's result back.
type Transformed struct {
	// Operation is what the peer executes. It is meaningless when Discarded.
	Operation controller.Operation
	// Discarded is set when the peer must not see the operation at all.
	Discarded bool

	original      controller.Operation
	addr          address.Address
	chain         []*RuleSet
	discardResult cty.Value
	steps         []*Transformed
	stepIndex     []int
}

// Original returns the operation before transformation.
func (tr *Transformed) Original() controller.Operation { return tr.original }

type rejection struct {
	path   string
	reason string
}

func (r rejection) String() string {
	if r.reason == "" {
		return r.path
	}
	return fmt.Sprintf("%s (%s)", r.path, r.reason)
}

func subsystemOf(addr address.Address) string {
	if addr.Len() == 0 || addr.Element(0).Key != SubsystemKey {
		return ""
	}
	return addr.Element(0).Value
}

// TransformOperation rewrites op for a peer running the given versions. When
// any rule rejects, the returned error is a TransformationRejected failure
// whose details list every offending attribute path.
func (t *Transformer) TransformOperation(op controller.Operation, peer PeerVersions) (*Transformed, error) {
	tr, rejected, err := t.transform(op, peer)
	if err != nil {
		return nil, failure.New(failure.TransformationRejected, op.Name, op.Address.String(), err)
	}
	if len(rejected) > 0 {
		// Several rule sets of a chain may reject the same path.
		details := make([]string, 0, len(rejected))
		seen := make(map[string]bool, len(rejected))
		for _, r := range rejected {
			if seen[r.path] {
				continue
			}
			seen[r.path] = true
			details = append(details, r.String())
		}
		return nil, failure.Newf(failure.TransformationRejected, op.Name, op.Address.String(),
			"%d item(s) cannot be represented by the peer's model version", len(details)).WithDetails(details...)
	}
	return tr, nil
}

func (t *Transformer) transform(op controller.Operation, peer PeerVersions) (*Transformed, []rejection, error) {
	if op.Name == operations.Composite && op.Address.IsRoot() {
		return t.transformComposite(op, peer)
	}
	tr := &Transformed{Operation: op, original: op, addr: op.Address}
	addr := t.canonical(op.Address)
	v, ok := peer[subsystemOf(addr)]
	if !ok {
		return tr, nil, nil
	}
	tr.chain = t.reg.Chain(subsystemOf(addr), v)
	if len(tr.chain) == 0 {
		return tr, nil, nil
	}

	// The peer gets the canonical address; it may predate the alias.
	tr.addr = addr
	var rejected []rejection
	cur := op.WithAddress(addr)
	for _, rs := range tr.chain {
		out, err := applySet(rs, cur)
		if err != nil {
			return nil, nil, errors.Annotatef(err, "rules for %s %s", rs.Subsystem, rs.Version)
		}
		rejected = append(rejected, out.rejected...)
		if out.discarded {
			tr.Discarded = true
			tr.discardResult = out.result
			break
		}
		cur = out.op
	}
	tr.Operation = cur
	return tr, rejected, nil
}

func (t *Transformer) transformComposite(op controller.Operation, peer PeerVersions) (*Transformed, []rejection, error) {
	steps, err := operations.Steps(op)
	if err != nil {
		return nil, nil, err
	}
	tr := &Transformed{original: op, stepIndex: make([]int, len(steps))}
	var rejected []rejection
	var kept []controller.Operation
	for i, s := range steps {
		st, rej, err := t.transform(s, peer)
		if err != nil {
			return nil, nil, errors.Annotatef(err, "%s", operations.StepKey(i))
		}
		rejected = append(rejected, rej...)
		tr.steps = append(tr.steps, st)
		if st.Discarded {
			tr.stepIndex[i] = -1
			continue
		}
		tr.stepIndex[i] = len(kept)
		kept = append(kept, st.Operation)
	}
	tr.Discarded = len(kept) == 0
	tr.Operation = operations.NewComposite(kept...)
	return tr, rejected, nil
}

type setResult struct {
	op        controller.Operation
	discarded bool
	result    cty.Value
	rejected  []rejection
}

func applySet(rs *RuleSet, op controller.Operation) (setResult, error) {
	out := setResult{op: op}
	rules := rs.match(op.Address)
	if len(rules) == 0 {
		return out, nil
	}
	for _, rr := range rules {
		o, ok := rr.operation(op.Name)
		if !ok {
			continue
		}
		if o.Discard {
			out.discarded = true
			return out, nil
		}
		out.rejected = append(out.rejected, rejection{path: op.Address.String() + ":" + op.Name, reason: o.Reason})
	}

	switch op.Name {
	case operations.Add:
		return applyAdd(rules, op, out)
	case operations.WriteAttribute, operations.UndefineAttribute, operations.ReadAttribute:
		return applyNamed(rules, op, out)
	}
	return out, nil
}

func applyAdd(rules []*ResourceRules, op controller.Operation, out setResult) (setResult, error) {
	names := op.ParamNames()
	seen := make(map[string]bool, len(names))
	for _, n := range names {
		seen[n] = true
	}
	for _, rr := range rules {
		for _, r := range rr.Attributes {
			if r.Kind == AddDefaultKind && !seen[r.Attribute] {
				seen[r.Attribute] = true
				names = append(names, r.Attribute)
			}
		}
	}

	params := make(map[string]cty.Value, len(op.Params))
	for _, name := range names {
		v, has := op.Params[name]
		a, err := applyAttribute(rules, op.Address, name, v, has, true)
		if err != nil {
			return out, err
		}
		out.rejected = append(out.rejected, a.rejected...)
		if a.keep {
			params[a.name] = a.value
		}
	}
	out.op = controller.Operation{Address: op.Address, Name: op.Name, Params: params}
	return out, nil
}

func applyNamed(rules []*ResourceRules, op controller.Operation, out setResult) (setResult, error) {
	nv, ok := op.Param(operations.ParamName)
	if !ok || !nv.Type().Equals(cty.String) {
		// Malformed; the peer reports it.
		return out, nil
	}
	name := nv.AsString()
	v, has := cty.NilVal, false
	if op.Name == operations.WriteAttribute {
		v, has = op.Param(operations.ParamValue)
	}
	a, err := applyAttribute(rules, op.Address, name, v, has, false)
	if err != nil {
		return out, err
	}
	out.rejected = append(out.rejected, a.rejected...)
	if !a.keep {
		out.discarded = true
		out.result = cty.NullVal(cty.DynamicPseudoType)
		if op.Name == operations.ReadAttribute && a.def != cty.NilVal {
			out.result = a.def
		}
		return out, nil
	}
	next := op.WithParam(operations.ParamName, cty.StringVal(a.name))
	if has {
		next = next.WithParam(operations.ParamValue, a.value)
	}
	out.op = next
	return out, nil
}

type attributeResult struct {
	name     string
	value    cty.Value
	keep     bool
	def      cty.Value
	rejected []rejection
}

// applyAttribute runs the rules for one attribute: rejections first, then
// discards, defaults, conversions and renames.
func applyAttribute(rules []*ResourceRules, addr address.Address, name string, v cty.Value, has, adding bool) (attributeResult, error) {
	out := attributeResult{name: name, value: v, keep: has || !adding}
	isDefined := defined(v, has)
	literal := isDefined && !expression.IsExpression(v)

	for _, rr := range rules {
		for _, r := range rr.Attributes {
			if r.Attribute != name {
				continue
			}
			switch r.Kind {
			case RejectIfDefinedKind:
				if isDefined && !equalTo(v, r.Default) {
					out.rejected = append(out.rejected, rejection{path: AttributePath(addr, name), reason: r.Reason})
				}
			case RejectIfKind:
				if !literal {
					continue
				}
				match, err := r.Predicate.Match(v)
				if err != nil {
					return out, errors.Annotatef(err, "reject-if on %s", AttributePath(addr, name))
				}
				if match {
					out.rejected = append(out.rejected, rejection{path: AttributePath(addr, name), reason: r.Reason})
				}
			}
		}
	}
	if len(out.rejected) > 0 {
		return out, nil
	}

	for _, rr := range rules {
		for _, r := range rr.Attributes {
			if r.Attribute != name {
				continue
			}
			discard := false
			switch r.Kind {
			case RejectIfDefinedKind:
				// Not rejected, so undefined or default.
				discard = true
			case DiscardIfDefaultKind:
				discard = !isDefined || equalTo(v, r.Default)
			}
			if discard {
				out.keep = false
				out.def = r.Default
				return out, nil
			}
		}
	}

	for _, rr := range rules {
		for _, r := range rr.Attributes {
			if r.Attribute != name || r.Kind != AddDefaultKind {
				continue
			}
			if adding && !isDefined {
				out.value = r.Default
				out.keep = true
				isDefined, literal = true, true
			}
		}
	}

	for _, rr := range rules {
		for _, r := range rr.Attributes {
			if r.Attribute != name || r.Kind != ConvertKind || !literal {
				continue
			}
			cv, err := r.Converter.Forward(out.value)
			if err != nil {
				return out, errors.Annotatef(err, "converting %s", AttributePath(addr, name))
			}
			out.value = cv
		}
	}

	for _, rr := range rules {
		out.name = rr.renamed(out.name)
	}
	return out, nil
}

// TransformResult maps a result value returned by the peer for
// tr.Operation back to the current model.
func (t *Transformer) TransformResult(tr *Transformed, res cty.Value) (cty.Value, error) {
	if tr.steps != nil {
		return t.compositeResult(tr, res)
	}
	if tr.Discarded {
		if tr.discardResult == cty.NilVal {
			return cty.NullVal(cty.DynamicPseudoType), nil
		}
		return tr.discardResult, nil
	}
	if len(tr.chain) == 0 || res == cty.NilVal || res.IsNull() || !res.IsKnown() {
		return res, nil
	}
	addr := tr.addr
	switch tr.original.Name {
	case operations.ReadResource:
		var err error
		for i := len(tr.chain) - 1; i >= 0; i-- {
			if res, err = inverseResource(tr.chain[i], addr, res); err != nil {
				return cty.NilVal, err
			}
		}
	case operations.ReadAttribute:
		nv, _ := tr.original.Param(operations.ParamName)
		names := make([]string, len(tr.chain))
		name := nv.AsString()
		for i, rs := range tr.chain {
			names[i] = name
			for _, rr := range rs.match(addr) {
				name = rr.renamed(name)
			}
		}
		for i := len(tr.chain) - 1; i >= 0; i-- {
			var err error
			if res, err = inverseValue(tr.chain[i].match(addr), addr, names[i], res); err != nil {
				return cty.NilVal, err
			}
		}
	}
	return res, nil
}

func (t *Transformer) compositeResult(tr *Transformed, res cty.Value) (cty.Value, error) {
	out := make(map[string]cty.Value, len(tr.steps))
	for i, st := range tr.steps {
		var r cty.Value
		if j := tr.stepIndex[i]; j >= 0 {
			r = cty.NullVal(cty.DynamicPseudoType)
			key := operations.StepKey(j)
			if res != cty.NilVal && !res.IsNull() && res.Type().IsObjectType() && res.Type().HasAttribute(key) {
				step := res.GetAttr(key)
				if step.Type().IsObjectType() && step.Type().HasAttribute("result") {
					r = step.GetAttr("result")
				}
			}
		}
		r, err := t.TransformResult(st, r)
		if err != nil {
			return cty.NilVal, errors.Annotatef(err, "%s", operations.StepKey(i))
		}
		out[operations.StepKey(i)] = cty.ObjectVal(map[string]cty.Value{
			"outcome": cty.StringVal(string(controller.Success)),
			"result":  r,
		})
	}
	if len(out) == 0 {
		return cty.EmptyObjectVal, nil
	}
	return cty.ObjectVal(out), nil
}

func inverseValue(rules []*ResourceRules, addr address.Address, name string, v cty.Value) (cty.Value, error) {
	if v.IsNull() || expression.IsExpression(v) {
		return v, nil
	}
	for i := len(rules) - 1; i >= 0; i-- {
		for _, r := range rules[i].Attributes {
			if r.Attribute != name || r.Kind != ConvertKind {
				continue
			}
			cv, err := r.Converter.Inverse(v)
			if err != nil {
				return cty.NilVal, errors.Annotatef(err, "converting %s back", AttributePath(addr, name))
			}
			v = cv
		}
	}
	return v, nil
}

// inverseResource maps a read-resource result of the resource at addr from
// the model of rs to the next newer model.
func inverseResource(rs *RuleSet, addr address.Address, v cty.Value) (cty.Value, error) {
	if v.IsNull() || !v.IsKnown() || !v.Type().IsObjectType() {
		return v, nil
	}
	attrs := v.AsValueMap()
	if attrs == nil {
		attrs = make(map[string]cty.Value)
	}
	rules := rs.match(addr)
	for _, rr := range rules {
		for _, r := range rr.Attributes {
			if r.Kind != RenameKind {
				continue
			}
			if val, ok := attrs[r.NewName]; ok {
				delete(attrs, r.NewName)
				attrs[r.Attribute] = val
			}
		}
	}
	for _, rr := range rules {
		for _, r := range rr.Attributes {
			val, ok := attrs[r.Attribute]
			switch r.Kind {
			case ConvertKind:
				if ok {
					cv, err := inverseValue([]*ResourceRules{{Attributes: []AttributeRule{r}}}, addr, r.Attribute, val)
					if err != nil {
						return cty.NilVal, err
					}
					attrs[r.Attribute] = cv
				}
			case DiscardIfDefaultKind, RejectIfDefinedKind:
				if !ok {
					if r.Default == cty.NilVal {
						attrs[r.Attribute] = cty.NullVal(cty.DynamicPseudoType)
					} else {
						attrs[r.Attribute] = r.Default
					}
				}
			}
		}
	}

	for key, children := range attrs {
		if !children.IsKnown() || children.IsNull() || !children.Type().IsObjectType() {
			continue
		}
		if !descends(rs, addr.Append(address.WildcardElement(key))) {
			continue
		}
		mapped := children.AsValueMap()
		for name, child := range mapped {
			cv, err := inverseResource(rs, addr.Append(address.NewElement(key, name)), child)
			if err != nil {
				return cty.NilVal, err
			}
			mapped[name] = cv
		}
		if len(mapped) > 0 {
			attrs[key] = cty.ObjectVal(mapped)
		}
	}
	if len(attrs) == 0 {
		return cty.EmptyObjectVal, nil
	}
	return cty.ObjectVal(attrs), nil
}

// descends reports whether some rule pattern of rs applies at or below
// pattern, whose last element is a wildcard.
func descends(rs *RuleSet, pattern address.Address) bool {
	n := pattern.Len()
	last := pattern.Last()
	for _, rr := range rs.Resources {
		if rr.Pattern.Len() < n {
			continue
		}
		p := rr.Pattern.SubAddress(0, n)
		if p.Last().Key != last.Key {
			continue
		}
		if pattern.Parent().Matches(p.Parent()) {
			return true
		}
	}
	return false
}
