package defs

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// StaticProvider serves definitions from an in-memory table keyed by
// internal type key. It backs the CLI (definitions loaded from a YAML
// file) and tests.
type StaticProvider struct {
	definitions map[string]*Definition
}

// NewStaticProvider builds a provider from definitions keyed by CodeRef.
func NewStaticProvider(definitions map[CodeRef]*Definition) *StaticProvider {
	table := make(map[string]*Definition, len(definitions))
	for ref, def := range definitions {
		key := InternalKeyFor(ref)
		if def.Key == "" {
			def.Key = key
		}
		table[key] = def
	}
	return &StaticProvider{definitions: table}
}

// LookupDefinition implements Provider.
func (p *StaticProvider) LookupDefinition(_ context.Context, ref CodeRef) (*Definition, error) {
	def, ok := p.definitions[InternalKeyFor(ref)]
	if !ok {
		return nil, &NotFoundError{Ref: ref}
	}
	return def, nil
}

// definitionsFile is the YAML shape of a definitions fixture file:
//
//	types:
//	  - module: https://realm.example/person
//	    name: Person
//	    fields:
//	      name: {arity: contains, isPrimitive: true}
//	      friends:
//	        arity: containsMany
//	        fieldOrCard: {module: https://realm.example/person, name: Friend}
type definitionsFile struct {
	Types []struct {
		Module string           `yaml:"module"`
		Name   string           `yaml:"name"`
		Fields map[string]Field `yaml:"fields"`
	} `yaml:"types"`
}

// LoadStaticProvider reads a YAML definitions file into a StaticProvider.
func LoadStaticProvider(path string) (*StaticProvider, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read definitions file: %w", err)
	}
	var file definitionsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse definitions file %s: %w", path, err)
	}
	definitions := make(map[CodeRef]*Definition, len(file.Types))
	for _, t := range file.Types {
		if t.Module == "" || t.Name == "" {
			return nil, fmt.Errorf("definitions file %s: every type needs module and name", path)
		}
		ref := CodeRef{Module: t.Module, Name: t.Name}
		definitions[ref] = &Definition{Fields: t.Fields}
	}
	return NewStaticProvider(definitions), nil
}
