// Package transformers rewrites operations and results for peers that run an
// older model version.
//
// Rules are declared per subsystem and per legacy model version. A RuleSet
// for version 1.1.0 turns an operation of the next newer model into one a
// 1.1.0 peer understands; for a peer at version V every rule set of the
// subsystem whose version is V or newer is applied, newest first. Results
// travel the chain the other way with every rule inverted.
//
// Rejections are collected, never short-circuited: a rejected operation
// fails with a failure.TransformationRejected that lists every offending
// attribute path.
package transformers

import (
	"fmt"

	"github.com/juju/errors"
	"github.com/juju/version/v2"
	"github.com/specialistvlad/mgmtcore/internal/address"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
)

// Kind is the kind of an attribute rule.
type Kind int

const (
	// RejectIfDefinedKind rejects the operation when the attribute is set to
	// anything but its default.
	RejectIfDefinedKind Kind = iota
	// RejectIfKind rejects the operation when a predicate on the value holds.
	RejectIfKind
	// DiscardIfDefaultKind drops the attribute when it is undefined or equal to
	// its default.
	DiscardIfDefaultKind
	// AddDefaultKind sets an attribute the legacy peer requires.
	AddDefaultKind
	// ConvertKind changes the value representation.
	ConvertKind
	// RenameKind changes the attribute name.
	RenameKind
)

// String implements fmt.Stringer.
func (k Kind) String() string {
	switch k {
	case RejectIfDefinedKind:
		return "reject-if-defined"
	case RejectIfKind:
		return "reject-if"
	case DiscardIfDefaultKind:
		return "discard-if-default"
	case AddDefaultKind:
		return "add-default"
	case ConvertKind:
		return "convert"
	case RenameKind:
		return "rename"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Converter changes the representation of a value. Inverse must undo
// Forward for every value Forward accepts.
type Converter interface {
	Forward(v cty.Value) (cty.Value, error)
	Inverse(v cty.Value) (cty.Value, error)
}

// ConvertFuncs adapts a pair of functions to Converter.
type ConvertFuncs struct {
	ForwardFunc func(cty.Value) (cty.Value, error)
	InverseFunc func(cty.Value) (cty.Value, error)
}

// Forward implements Converter.
func (c ConvertFuncs) Forward(v cty.Value) (cty.Value, error) { return c.ForwardFunc(v) }

// Inverse implements Converter.
func (c ConvertFuncs) Inverse(v cty.Value) (cty.Value, error) { return c.InverseFunc(v) }

// Predicate decides whether a value is rejected.
type Predicate interface {
	Match(v cty.Value) (bool, error)
}

// AttributeRule is one rule on one attribute.
type AttributeRule struct {
	Kind      Kind
	Attribute string
	// Default is the value the legacy peer assumes. For RejectIfDefined a
	// value equal to Default is not rejected; cty.NilVal rejects any value.
	Default   cty.Value
	NewName   string
	Converter Converter
	Predicate Predicate
	Reason    string
}

// RejectIfDefined rejects any value of attr but def, which may be cty.NilVal.
func RejectIfDefined(attr string, def cty.Value, reason string) AttributeRule {
	return AttributeRule{Kind: RejectIfDefinedKind, Attribute: attr, Default: def, Reason: reason}
}

// RejectIf rejects values of attr that p matches.
func RejectIf(attr string, p Predicate, reason string) AttributeRule {
	return AttributeRule{Kind: RejectIfKind, Attribute: attr, Predicate: p, Reason: reason}
}

// DiscardIfDefault drops attr when it is undefined or equal to def.
func DiscardIfDefault(attr string, def cty.Value) AttributeRule {
	return AttributeRule{Kind: DiscardIfDefaultKind, Attribute: attr, Default: def}
}

// AddDefault sets attr to v when an add leaves it undefined.
func AddDefault(attr string, v cty.Value) AttributeRule {
	return AttributeRule{Kind: AddDefaultKind, Attribute: attr, Default: v}
}

// Convert changes the representation of attr's value.
func Convert(attr string, c Converter) AttributeRule {
	return AttributeRule{Kind: ConvertKind, Attribute: attr, Converter: c}
}

// Rename renames attr to newName.
func Rename(attr, newName string) AttributeRule {
	return AttributeRule{Kind: RenameKind, Attribute: attr, NewName: newName}
}

func (r AttributeRule) validate() error {
	if r.Attribute == "" {
		return errors.NotValidf("%s rule without attribute", r.Kind)
	}
	switch r.Kind {
	case DiscardIfDefaultKind, AddDefaultKind:
		if r.Default == cty.NilVal || r.Default.IsNull() {
			return errors.NotValidf("%s rule for %q without default", r.Kind, r.Attribute)
		}
	case ConvertKind:
		if r.Converter == nil {
			return errors.NotValidf("convert rule for %q without converter", r.Attribute)
		}
	case RejectIfKind:
		if r.Predicate == nil {
			return errors.NotValidf("reject-if rule for %q without predicate", r.Attribute)
		}
	case RenameKind:
		if r.NewName == "" || r.NewName == r.Attribute {
			return errors.NotValidf("rename rule for %q", r.Attribute)
		}
	}
	return nil
}

// OperationRule rejects or discards a whole operation.
type OperationRule struct {
	Name string
	// Reject fails the operation; Discard silently skips it for the peer.
	Reject  bool
	Discard bool
	Reason  string
}

// ResourceRules are the rules for one address pattern.
type ResourceRules struct {
	Pattern    address.Address
	Attributes []AttributeRule
	Operations []OperationRule
}

func (rr *ResourceRules) operation(name string) (OperationRule, bool) {
	for _, o := range rr.Operations {
		if o.Name == name {
			return o, true
		}
	}
	return OperationRule{}, false
}

// renamed returns the legacy name of attr.
func (rr *ResourceRules) renamed(attr string) string {
	for _, r := range rr.Attributes {
		if r.Kind == RenameKind && r.Attribute == attr {
			attr = r.NewName
		}
	}
	return attr
}

// RuleSet transforms one subsystem's operations for peers at Version.
type RuleSet struct {
	Subsystem string
	Version   version.Number
	Resources []*ResourceRules
}

// Validate checks the rule set for incomplete rules.
func (rs *RuleSet) Validate() error {
	if rs.Subsystem == "" {
		return errors.NotValidf("rule set without subsystem")
	}
	for _, rr := range rs.Resources {
		for _, r := range rr.Attributes {
			if err := r.validate(); err != nil {
				return errors.Annotatef(err, "rules for %s", rr.Pattern)
			}
		}
		for _, o := range rr.Operations {
			if o.Reject == o.Discard {
				return errors.NotValidf("operation rule %q for %s must either reject or discard", o.Name, rr.Pattern)
			}
		}
	}
	return nil
}

func (rs *RuleSet) match(addr address.Address) []*ResourceRules {
	var out []*ResourceRules
	for _, rr := range rs.Resources {
		if addr.Matches(rr.Pattern) {
			out = append(out, rr)
		}
	}
	return out
}

// AttributePath names an attribute of the resource at addr in rejections.
func AttributePath(addr address.Address, attr string) string {
	return addr.String() + "@" + attr
}

// equalTo reports whether v converted to def's type equals def.
func equalTo(v, def cty.Value) bool {
	if def == cty.NilVal || def.IsNull() {
		return false
	}
	cv, err := convert.Convert(v, def.Type())
	if err != nil || !cv.IsKnown() {
		return false
	}
	return cv.RawEquals(def)
}

func defined(v cty.Value, ok bool) bool {
	return ok && v != cty.NilVal && !v.IsNull()
}
