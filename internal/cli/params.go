package cli

import (
	"encoding/json"
	"strings"

	"github.com/specialistvlad/mgmtcore/internal/address"
	"github.com/specialistvlad/mgmtcore/internal/controller"
	"github.com/specialistvlad/mgmtcore/internal/expression"
	"github.com/specialistvlad/mgmtcore/internal/typed"
	"github.com/zclconf/go-cty/cty"
)

// parseOperation builds an operation from OPERATION ADDRESS [NAME=VALUE...].
func parseOperation(args []string) (controller.Operation, error) {
	addr, err := address.Parse(args[1])
	if err != nil {
		return controller.Operation{}, usageError("%v", err)
	}
	params := make(map[string]cty.Value, len(args)-2)
	for _, arg := range args[2:] {
		name, raw, ok := strings.Cut(arg, "=")
		if !ok || name == "" {
			return controller.Operation{}, usageError("parameter %q is not in name=value form", arg)
		}
		params[name] = parseValue(raw)
	}
	return controller.NewOperation(args[0], addr, params), nil
}

// parseValue reads raw as JSON when it is valid JSON and as a string
// otherwise.
func parseValue(raw string) cty.Value {
	if json.Valid([]byte(raw)) {
		if v, err := typed.UnmarshalJSON([]byte(raw)); err == nil {
			return v
		}
	}
	return expression.FromString(cty.StringVal(raw))
}
