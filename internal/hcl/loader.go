// Package hcl loads boot files: HCL files listing the operations that build
// the initial model, plus system properties for expression resolution.
//
//	properties = {
//	  "http.port" = "8080"
//	}
//
//	operation "add" {
//	  address = "/subsystem=web/listener=default"
//	  params = {
//	    port   = "$${http.port:8080}"
//	    http2  = true
//	  }
//	}
//
// Strings that still contain a ${...} reference after HCL evaluation (written
// as $${...} in the file) become expression values.
package hcl

import (
	"context"
	"fmt"
	"os"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/specialistvlad/mgmtcore/internal/address"
	"github.com/specialistvlad/mgmtcore/internal/controller"
	"github.com/specialistvlad/mgmtcore/internal/ctxlog"
	"github.com/specialistvlad/mgmtcore/internal/expression"
	"github.com/specialistvlad/mgmtcore/internal/fsutil"
	"github.com/specialistvlad/mgmtcore/internal/operations"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
)

// FileExtension is the extension of boot files.
const FileExtension = ".hcl"

// Boot is the merged content of boot files.
type Boot struct {
	Properties map[string]string
	Operations []controller.Operation
}

// Composite returns all boot operations as one composite operation, so that
// boot succeeds or fails as a single batch.
func (b *Boot) Composite() controller.Operation {
	return operations.NewComposite(b.Operations...)
}

// fileRoot is the schema of one boot file.
type fileRoot struct {
	Properties hcl.Expression    `hcl:"properties,optional"`
	Operations []*operationBlock `hcl:"operation,block"`
}

type operationBlock struct {
	Name    string         `hcl:"name,label"`
	Address string         `hcl:"address,optional"`
	Params  hcl.Expression `hcl:"params,optional"`
}

// Loader reads boot files.
type Loader struct {
	parser *hclparse.Parser
}

// NewLoader creates a boot file loader.
func NewLoader() *Loader {
	return &Loader{parser: hclparse.NewParser()}
}

// Load reads every boot file in paths. Directories are searched recursively
// and their files read in lexical order; operations keep file order.
func (l *Loader) Load(ctx context.Context, paths ...string) (*Boot, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Boot loader started.", "path_count", len(paths))

	files, err := findFiles(paths)
	if err != nil {
		return nil, err
	}
	logger.Debug("Discovered boot files.", "count", len(files))

	boot := &Boot{Properties: make(map[string]string)}
	for _, f := range files {
		src, err := os.ReadFile(f)
		if err != nil {
			return nil, fmt.Errorf("failed to read boot file %s: %w", f, err)
		}
		if err := l.parse(ctx, boot, src, f); err != nil {
			return nil, err
		}
	}
	logger.Debug("Boot loading complete.", "operations", len(boot.Operations), "properties", len(boot.Properties))
	return boot, nil
}

// Parse reads one boot file held in memory.
func (l *Loader) Parse(ctx context.Context, src []byte, filename string) (*Boot, error) {
	boot := &Boot{Properties: make(map[string]string)}
	if err := l.parse(ctx, boot, src, filename); err != nil {
		return nil, err
	}
	return boot, nil
}

func (l *Loader) parse(ctx context.Context, boot *Boot, src []byte, filename string) error {
	file, diags := l.parser.ParseHCL(src, filename)
	if diags.HasErrors() {
		return fmt.Errorf("failed to parse boot file %s: %w", filename, diags)
	}
	var root fileRoot
	if diags := gohcl.DecodeBody(file.Body, nil, &root); diags.HasErrors() {
		return fmt.Errorf("failed to decode boot file %s: %w", filename, diags)
	}

	if isExprDefined(root.Properties) {
		props, err := evalProperties(root.Properties)
		if err != nil {
			return fmt.Errorf("%s: properties: %w", filename, err)
		}
		for k, v := range props {
			boot.Properties[k] = v
		}
	}
	for _, b := range root.Operations {
		op, err := translateOperation(b)
		if err != nil {
			return fmt.Errorf("%s: operation %q: %w", filename, b.Name, err)
		}
		ctxlog.FromContext(ctx).Debug("Boot operation loaded.", "operation", op.String())
		boot.Operations = append(boot.Operations, op)
	}
	return nil
}

func translateOperation(b *operationBlock) (controller.Operation, error) {
	addr := address.Root()
	if b.Address != "" {
		var err error
		if addr, err = address.Parse(b.Address); err != nil {
			return controller.Operation{}, err
		}
	}
	params := make(map[string]cty.Value)
	if isExprDefined(b.Params) {
		v, diags := b.Params.Value(nil)
		if diags.HasErrors() {
			return controller.Operation{}, diags
		}
		if !v.Type().IsObjectType() && !v.Type().IsMapType() {
			return controller.Operation{}, fmt.Errorf("params must be an object, got %s", v.Type().FriendlyName())
		}
		for it := v.ElementIterator(); it.Next(); {
			k, ev := it.Element()
			params[k.AsString()] = toModel(ev)
		}
	}
	return controller.NewOperation(b.Name, addr, params), nil
}

// toModel turns strings that carry references into expression values,
// recursively.
func toModel(v cty.Value) cty.Value {
	if !v.IsKnown() || v.IsNull() {
		return v
	}
	ty := v.Type()
	switch {
	case ty.Equals(cty.String):
		return expression.FromString(v)
	case ty.IsObjectType() || ty.IsMapType():
		if v.LengthInt() == 0 {
			return v
		}
		attrs := make(map[string]cty.Value, v.LengthInt())
		for it := v.ElementIterator(); it.Next(); {
			k, ev := it.Element()
			attrs[k.AsString()] = toModel(ev)
		}
		return cty.ObjectVal(attrs)
	case ty.IsTupleType() || ty.IsListType():
		if v.LengthInt() == 0 {
			return v
		}
		elems := make([]cty.Value, 0, v.LengthInt())
		for it := v.ElementIterator(); it.Next(); {
			_, ev := it.Element()
			elems = append(elems, toModel(ev))
		}
		return cty.TupleVal(elems)
	}
	return v
}

func evalProperties(expr hcl.Expression) (map[string]string, error) {
	v, diags := expr.Value(nil)
	if diags.HasErrors() {
		return nil, diags
	}
	if !v.Type().IsObjectType() && !v.Type().IsMapType() {
		return nil, fmt.Errorf("must be an object, got %s", v.Type().FriendlyName())
	}
	out := make(map[string]string, v.LengthInt())
	for it := v.ElementIterator(); it.Next(); {
		k, ev := it.Element()
		sv, err := convert.Convert(ev, cty.String)
		if err != nil || sv.IsNull() {
			return nil, fmt.Errorf("property %q must be a string", k.AsString())
		}
		out[k.AsString()] = sv.AsString()
	}
	return out, nil
}

// isExprDefined checks if an optional attribute was present in the source.
// The decoder fills omitted optional attributes with zero-width expressions.
func isExprDefined(expr hcl.Expression) bool {
	if expr == nil {
		return false
	}
	r := expr.Range()
	return r.End.Byte > r.Start.Byte
}

// findFiles returns the boot files named by paths. A missing path is not an
// error.
func findFiles(paths []string) ([]string, error) {
	var out []string
	seen := make(map[string]struct{})
	add := func(p string) {
		if _, ok := seen[p]; !ok {
			seen[p] = struct{}{}
			out = append(out, p)
		}
	}
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("error accessing path %s: %w", p, err)
		}
		if !info.IsDir() {
			add(p)
			continue
		}
		found, err := fsutil.FindFiles(p, FileExtension)
		if err != nil {
			return nil, err
		}
		for _, f := range found {
			add(f)
		}
	}
	return out, nil
}
