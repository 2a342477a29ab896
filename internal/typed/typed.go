// Package typed converts between the cty values used throughout the model and
// plain Go values used by YAML rule files, expr programs and log output.
package typed

import (
	"fmt"
	"math/big"
	"sort"

	"github.com/specialistvlad/mgmtcore/internal/expression"
	"github.com/zclconf/go-cty/cty"
	ctyjson "github.com/zclconf/go-cty/cty/json"
)

// ToGo converts a cty.Value to a Go value. Integral numbers become int64,
// other numbers float64, expressions their raw template string.
func ToGo(val cty.Value) (any, error) {
	if val == cty.NilVal || !val.IsKnown() || val.IsNull() {
		return nil, nil
	}
	if expression.IsExpression(val) {
		return expression.Template(val), nil
	}
	ty := val.Type()
	if ty.IsPrimitiveType() {
		switch ty {
		case cty.String:
			return val.AsString(), nil
		case cty.Number:
			bf := val.AsBigFloat()
			if bf.IsInt() {
				if i, acc := bf.Int64(); acc == big.Exact {
					return i, nil
				}
			}
			f, _ := bf.Float64()
			return f, nil
		case cty.Bool:
			return val.True(), nil
		default:
			return nil, fmt.Errorf("unsupported primitive type: %s", ty.FriendlyName())
		}
	}
	if ty.IsObjectType() || ty.IsMapType() {
		out := make(map[string]any)
		for it := val.ElementIterator(); it.Next(); {
			k, v := it.Element()
			gv, err := ToGo(v)
			if err != nil {
				return nil, err
			}
			out[k.AsString()] = gv
		}
		return out, nil
	}
	if ty.IsTupleType() || ty.IsListType() || ty.IsSetType() {
		out := make([]any, 0, val.LengthInt())
		for it := val.ElementIterator(); it.Next(); {
			_, v := it.Element()
			gv, err := ToGo(v)
			if err != nil {
				return nil, err
			}
			out = append(out, gv)
		}
		return out, nil
	}
	return nil, fmt.Errorf("unsupported cty.Type for conversion: %s", ty.FriendlyName())
}

// FromGo converts a Go value as produced by YAML decoding or an expr program
// into a cty.Value. Maps become objects and slices become tuples.
func FromGo(v any) (cty.Value, error) {
	switch x := v.(type) {
	case nil:
		return cty.NullVal(cty.DynamicPseudoType), nil
	case cty.Value:
		return x, nil
	case string:
		return cty.StringVal(x), nil
	case bool:
		return cty.BoolVal(x), nil
	case int:
		return cty.NumberIntVal(int64(x)), nil
	case int32:
		return cty.NumberIntVal(int64(x)), nil
	case int64:
		return cty.NumberIntVal(x), nil
	case uint:
		return cty.NumberUIntVal(uint64(x)), nil
	case uint64:
		return cty.NumberUIntVal(x), nil
	case float32:
		return cty.NumberFloatVal(float64(x)), nil
	case float64:
		return cty.NumberFloatVal(x), nil
	case []any:
		if len(x) == 0 {
			return cty.EmptyTupleVal, nil
		}
		elems := make([]cty.Value, 0, len(x))
		for _, e := range x {
			cv, err := FromGo(e)
			if err != nil {
				return cty.NilVal, err
			}
			elems = append(elems, cv)
		}
		return cty.TupleVal(elems), nil
	case map[string]any:
		if len(x) == 0 {
			return cty.EmptyObjectVal, nil
		}
		attrs := make(map[string]cty.Value, len(x))
		for k, e := range x {
			cv, err := FromGo(e)
			if err != nil {
				return cty.NilVal, err
			}
			attrs[k] = cv
		}
		return cty.ObjectVal(attrs), nil
	case map[any]any:
		conv := make(map[string]any, len(x))
		for k, e := range x {
			conv[fmt.Sprint(k)] = e
		}
		return FromGo(conv)
	default:
		return cty.NilVal, fmt.Errorf("unsupported Go type %T", v)
	}
}

// Printable returns v with every expression replaced by its template string
// and untyped nulls typed as strings, so that it can be serialized by
// cty/json.
func Printable(v cty.Value) cty.Value {
	if v == cty.NilVal {
		return cty.NullVal(cty.DynamicPseudoType)
	}
	if expression.IsExpression(v) {
		return cty.StringVal(expression.Template(v))
	}
	if !v.IsKnown() || v.IsNull() {
		if v.Type().Equals(expression.Type) || v.Type().Equals(cty.DynamicPseudoType) {
			return cty.NullVal(cty.String)
		}
		return v
	}
	ty := v.Type()
	switch {
	case ty.IsObjectType() || ty.IsMapType():
		if v.LengthInt() == 0 {
			return v
		}
		attrs := make(map[string]cty.Value, v.LengthInt())
		for it := v.ElementIterator(); it.Next(); {
			k, ev := it.Element()
			attrs[k.AsString()] = Printable(ev)
		}
		return cty.ObjectVal(attrs)
	case ty.IsListType() || ty.IsTupleType() || ty.IsSetType():
		if v.LengthInt() == 0 {
			return v
		}
		elems := make([]cty.Value, 0, v.LengthInt())
		for it := v.ElementIterator(); it.Next(); {
			_, ev := it.Element()
			elems = append(elems, Printable(ev))
		}
		return cty.TupleVal(elems)
	}
	return v
}

// MarshalJSON serializes v with cty/json after making it printable.
func MarshalJSON(v cty.Value) ([]byte, error) {
	p := Printable(v)
	return ctyjson.Marshal(p, p.Type())
}

// UnmarshalJSON decodes arbitrary JSON into a cty value using its implied type.
func UnmarshalJSON(data []byte) (cty.Value, error) {
	ty, err := ctyjson.ImpliedType(data)
	if err != nil {
		return cty.NilVal, fmt.Errorf("cannot infer type of JSON value: %w", err)
	}
	return ctyjson.Unmarshal(data, ty)
}

// Format converts a value to its loggable representation. cty values become
// Go values; other types are passed through.
func Format(v any) any {
	if ctyVal, ok := v.(cty.Value); ok {
		converted, err := ToGo(ctyVal)
		if err != nil {
			return fmt.Sprintf("[unloggable cty.Value: %v]", err)
		}
		return converted
	}
	return v
}

// SortedKeys returns the attribute names of an object or map value in order.
func SortedKeys(v cty.Value) []string {
	if v == cty.NilVal || !v.IsKnown() || v.IsNull() {
		return nil
	}
	ty := v.Type()
	if !ty.IsObjectType() && !ty.IsMapType() {
		return nil
	}
	keys := make([]string, 0, v.LengthInt())
	for it := v.ElementIterator(); it.Next(); {
		k, _ := it.Element()
		keys = append(keys, k.AsString())
	}
	sort.Strings(keys)
	return keys
}
