package transformers

import (
	"bytes"
	"fmt"
	"os"

	"github.com/juju/errors"
	"github.com/juju/version/v2"
	"github.com/specialistvlad/mgmtcore/internal/address"
	"github.com/specialistvlad/mgmtcore/internal/fsutil"
	"github.com/specialistvlad/mgmtcore/internal/typed"
	"github.com/zclconf/go-cty/cty"
	"gopkg.in/yaml.v3"
)

// RuleFileExtension is the extension of rule files LoadDir picks up.
const RuleFileExtension = ".rules.yaml"

type ruleFile struct {
	Subsystem string         `yaml:"subsystem"`
	Version   string         `yaml:"version"`
	Resources []resourceFile `yaml:"resources"`
}

type resourceFile struct {
	Address    string          `yaml:"address"`
	Attributes []attributeFile `yaml:"attributes"`
	Operations []operationFile `yaml:"operations"`
}

type attributeFile struct {
	Name             string       `yaml:"name"`
	RejectIfDefined  bool         `yaml:"reject-if-defined"`
	RejectIf         string       `yaml:"reject-if"`
	DiscardIfDefault bool         `yaml:"discard-if-default"`
	Default          any          `yaml:"default"`
	AddDefault       any          `yaml:"add-default"`
	Rename           string       `yaml:"rename"`
	Convert          *convertFile `yaml:"convert"`
	Reason           string       `yaml:"reason"`
}

type convertFile struct {
	Forward string `yaml:"forward"`
	Inverse string `yaml:"inverse"`
}

type operationFile struct {
	Name    string `yaml:"name"`
	Reject  bool   `yaml:"reject"`
	Discard bool   `yaml:"discard"`
	Reason  string `yaml:"reason"`
}

// Parse decodes one rule file. Unknown fields are errors.
func Parse(data []byte) (*RuleSet, error) {
	var f ruleFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, errors.NewNotValid(err, "parsing rule file")
	}
	v, err := version.Parse(f.Version)
	if err != nil {
		return nil, errors.NewNotValid(err, fmt.Sprintf("rule file for %q", f.Subsystem))
	}
	rs := &RuleSet{Subsystem: f.Subsystem, Version: v}
	for _, r := range f.Resources {
		rr, err := r.build()
		if err != nil {
			return nil, errors.Annotatef(err, "resource %q", r.Address)
		}
		rs.Resources = append(rs.Resources, rr)
	}
	if err := rs.Validate(); err != nil {
		return nil, err
	}
	return rs, nil
}

func (r resourceFile) build() (*ResourceRules, error) {
	pattern, err := address.Parse(r.Address)
	if err != nil {
		return nil, err
	}
	rr := &ResourceRules{Pattern: pattern}
	for _, a := range r.Attributes {
		rules, err := a.build()
		if err != nil {
			return nil, errors.Annotatef(err, "attribute %q", a.Name)
		}
		rr.Attributes = append(rr.Attributes, rules...)
	}
	for _, o := range r.Operations {
		rr.Operations = append(rr.Operations, OperationRule(o))
	}
	return rr, nil
}

func (a attributeFile) build() ([]AttributeRule, error) {
	def := cty.NilVal
	if a.Default != nil {
		v, err := typed.FromGo(a.Default)
		if err != nil {
			return nil, err
		}
		def = v
	}
	var out []AttributeRule
	if a.RejectIfDefined {
		out = append(out, RejectIfDefined(a.Name, def, a.Reason))
	}
	if a.RejectIf != "" {
		p, err := NewExprPredicate(a.RejectIf)
		if err != nil {
			return nil, err
		}
		out = append(out, RejectIf(a.Name, p, a.Reason))
	}
	if a.DiscardIfDefault {
		out = append(out, DiscardIfDefault(a.Name, def))
	}
	if a.AddDefault != nil {
		v, err := typed.FromGo(a.AddDefault)
		if err != nil {
			return nil, err
		}
		out = append(out, AddDefault(a.Name, v))
	}
	if a.Convert != nil {
		c, err := NewExprConverter(a.Convert.Forward, a.Convert.Inverse)
		if err != nil {
			return nil, err
		}
		out = append(out, Convert(a.Name, c))
	}
	if a.Rename != "" {
		out = append(out, Rename(a.Name, a.Rename))
	}
	if len(out) == 0 {
		return nil, errors.NotValidf("attribute entry without rules")
	}
	return out, nil
}

// LoadFile reads and parses one rule file.
func LoadFile(path string) (*RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Trace(err)
	}
	rs, err := Parse(data)
	if err != nil {
		return nil, errors.Annotatef(err, "loading %s", path)
	}
	return rs, nil
}

// LoadDir loads every rule file below dir into reg, in lexical path order.
func LoadDir(reg *Registry, dir string) (int, error) {
	paths, err := fsutil.FindFiles(dir, RuleFileExtension)
	if err != nil {
		return 0, errors.Annotatef(err, "scanning %s", dir)
	}
	for i, p := range paths {
		rs, err := LoadFile(p)
		if err != nil {
			return i, err
		}
		if err := reg.Add(rs); err != nil {
			return i, errors.Annotatef(err, "loading %s", p)
		}
	}
	return len(paths), nil
}
