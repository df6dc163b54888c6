// ABOUTME: Open type registry for entity, relationship and classification types
// ABOUTME: Resolves supertype chains, inherited attributes and end-type rules

package typedef

import (
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"slices"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/nainya/anchorstore/pkg/apperror"
	"github.com/nainya/anchorstore/pkg/property"
)

// Category separates the three kinds of type.
type Category string

const (
	CategoryEntity         Category = "entity"
	CategoryRelationship   Category = "relationship"
	CategoryClassification Category = "classification"
)

// Well-known type names used by the store itself.
const (
	Referenceable      = "Referenceable"
	TemplateClassifier = "Template"
	SourcedFrom        = "SourcedFrom"
	QualifiedName      = "qualifiedName"
)

// DefaultSearchProperties is used for full-text search when no type in the
// supertype chain declares its own set.
var DefaultSearchProperties = []string{"qualifiedName", "displayName", "name", "description"}

// AttributeDef declares one property of a type.
type AttributeDef struct {
	Name      string             `yaml:"name"`
	Type      property.ValueType `yaml:"type"`
	Mandatory bool               `yaml:"mandatory"`
	Unique    bool               `yaml:"unique"`
}

// TypeDef describes a single type.
type TypeDef struct {
	Name        string         `yaml:"name"`
	Category    Category       `yaml:"category"`
	SuperType   string         `yaml:"superType"`
	Description string         `yaml:"description"`
	Attributes  []AttributeDef `yaml:"attributes"`

	// Relationship end types. Subtypes of the declared type are accepted.
	End1 string `yaml:"end1"`
	End2 string `yaml:"end2"`

	// Entity types a classification may be attached to.
	ValidEntityTypes []string `yaml:"validEntityTypes"`

	// Properties searched by full-text find.
	Searchable []string `yaml:"searchable"`
}

type typePack struct {
	Types []TypeDef `yaml:"types"`
}

//go:embed defaults.yaml
var defaultTypes []byte

// Registry holds type definitions. It is safe for concurrent use.
type Registry struct {
	mu   sync.RWMutex
	defs map[string]*TypeDef
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{defs: make(map[string]*TypeDef)}
}

// Default creates a registry loaded with the built-in type pack.
func Default() (*Registry, error) {
	r := NewRegistry()
	if err := r.LoadYAML(bytes.NewReader(defaultTypes)); err != nil {
		return nil, fmt.Errorf("load default types: %w", err)
	}
	return r, nil
}

// MustDefault is Default for callers that cannot recover from a broken
// built-in pack.
func MustDefault() *Registry {
	r, err := Default()
	if err != nil {
		panic(err)
	}
	return r
}

// Register adds a type. The supertype must already be registered and belong
// to the same category.
func (r *Registry) Register(def TypeDef) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.registerNoLock(def)
}

func (r *Registry) registerNoLock(def TypeDef) error {
	if def.Name == "" {
		return fmt.Errorf("type without name")
	}
	switch def.Category {
	case CategoryEntity, CategoryRelationship, CategoryClassification:
	default:
		return fmt.Errorf("type %s: unknown category %q", def.Name, def.Category)
	}
	if _, exists := r.defs[def.Name]; exists {
		return fmt.Errorf("type %s already registered", def.Name)
	}
	if def.SuperType != "" {
		super, ok := r.defs[def.SuperType]
		if !ok {
			return fmt.Errorf("type %s: unknown supertype %s", def.Name, def.SuperType)
		}
		if super.Category != def.Category {
			return fmt.Errorf("type %s: supertype %s is a %s", def.Name, def.SuperType, super.Category)
		}
	}
	if def.Category == CategoryRelationship {
		for _, end := range []string{def.End1, def.End2} {
			if d, ok := r.defs[end]; !ok || d.Category != CategoryEntity {
				return fmt.Errorf("relationship %s: unknown end type %q", def.Name, end)
			}
		}
	}
	for _, valid := range def.ValidEntityTypes {
		if d, ok := r.defs[valid]; !ok || d.Category != CategoryEntity {
			return fmt.Errorf("classification %s: unknown entity type %q", def.Name, valid)
		}
	}

	stored := def
	r.defs[def.Name] = &stored
	return nil
}

// LoadYAML registers every type in a YAML pack. Types may appear in any
// order as long as every supertype and end type is eventually defined.
func (r *Registry) LoadYAML(in io.Reader) error {
	var pack typePack
	if err := yaml.NewDecoder(in).Decode(&pack); err != nil {
		return fmt.Errorf("decode type pack: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	pending := pack.Types
	for len(pending) > 0 {
		var next []TypeDef
		var lastErr error
		for _, def := range pending {
			if err := r.registerNoLock(def); err != nil {
				next = append(next, def)
				lastErr = err
			}
		}
		if len(next) == len(pending) {
			return lastErr
		}
		pending = next
	}
	return nil
}

// Get returns a copy of the named type.
func (r *Registry) Get(name string) (TypeDef, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defs[name]
	if !ok {
		return TypeDef{}, false
	}
	return *def, true
}

// Lookup returns the named type, failing with InvalidParameter when it is
// unknown or of the wrong category.
func (r *Registry) Lookup(name string, category Category) (TypeDef, error) {
	def, ok := r.Get(name)
	if !ok || def.Category != category {
		return TypeDef{}, apperror.InvalidParameter(apperror.CodeUnknownType, "unknown %s type %q", category, name)
	}
	return def, nil
}

// IsSubtypeOf reports whether name equals ancestor or inherits from it.
func (r *Registry) IsSubtypeOf(name, ancestor string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for current := name; current != ""; {
		if current == ancestor {
			return true
		}
		def, ok := r.defs[current]
		if !ok {
			return false
		}
		current = def.SuperType
	}
	return false
}

// Subtypes returns name and every type inheriting from it, sorted.
func (r *Registry) Subtypes(name string) []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.defs))
	for n := range r.defs {
		names = append(names, n)
	}
	r.mu.RUnlock()

	var out []string
	for _, n := range names {
		if r.IsSubtypeOf(n, name) {
			out = append(out, n)
		}
	}
	slices.Sort(out)
	return out
}

// chain returns the type followed by its supertypes, nearest first.
func (r *Registry) chain(name string) []*TypeDef {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*TypeDef
	for current := name; current != ""; {
		def, ok := r.defs[current]
		if !ok {
			break
		}
		out = append(out, def)
		current = def.SuperType
	}
	return out
}

// Attributes returns the declared and inherited attributes of a type.
func (r *Registry) Attributes(name string) []AttributeDef {
	var out []AttributeDef
	seen := make(map[string]bool)
	for _, def := range r.chain(name) {
		for _, a := range def.Attributes {
			if !seen[a.Name] {
				seen[a.Name] = true
				out = append(out, a)
			}
		}
	}
	return out
}

// UniqueAttributes returns the names of attributes whose values must be
// unique across the repository.
func (r *Registry) UniqueAttributes(name string) []string {
	var out []string
	for _, a := range r.Attributes(name) {
		if a.Unique {
			out = append(out, a.Name)
		}
	}
	return out
}

// SearchableProperties returns the full-text search set of a type, falling
// back to DefaultSearchProperties.
func (r *Registry) SearchableProperties(name string) []string {
	for _, def := range r.chain(name) {
		if len(def.Searchable) > 0 {
			return slices.Clone(def.Searchable)
		}
	}
	return slices.Clone(DefaultSearchProperties)
}

// ValidateProperties checks the declared attribute types and, when
// requireMandatory is set, that every mandatory attribute is present.
// Undeclared properties are accepted.
func (r *Registry) ValidateProperties(name string, bag property.Bag, requireMandatory bool) error {
	for _, a := range r.Attributes(name) {
		v, ok := bag[a.Name]
		if !ok {
			if a.Mandatory && requireMandatory {
				return apperror.InvalidParameter(apperror.CodeMissingProperty,
					"%s requires property %s", name, a.Name)
			}
			continue
		}
		if a.Type != "" && v.Type != a.Type {
			return apperror.InvalidParameter(apperror.CodeInvalidProperty,
				"%s.%s must be %s, got %s", name, a.Name, a.Type, v.Type)
		}
		if a.Mandatory && v.Type == property.TypeString && v.Str == "" {
			return apperror.InvalidParameter(apperror.CodeMissingProperty,
				"%s requires a non-empty %s", name, a.Name)
		}
	}
	return nil
}

// CheckClassification verifies that a classification type may be attached
// to an element of entityType.
func (r *Registry) CheckClassification(classification, entityType string) error {
	def, err := r.Lookup(classification, CategoryClassification)
	if err != nil {
		return err
	}
	if len(def.ValidEntityTypes) == 0 {
		return nil
	}
	for _, valid := range def.ValidEntityTypes {
		if r.IsSubtypeOf(entityType, valid) {
			return nil
		}
	}
	return apperror.InvalidParameter(apperror.CodeInvalidClassification,
		"classification %s is not valid for %s", classification, entityType)
}

// CheckEnds verifies that elements of the given types may sit at end1 and
// end2 of a relationship type.
func (r *Registry) CheckEnds(relationship, end1Type, end2Type string) error {
	def, err := r.Lookup(relationship, CategoryRelationship)
	if err != nil {
		return err
	}
	if !r.IsSubtypeOf(end1Type, def.End1) {
		return apperror.InvalidParameter(apperror.CodeInvalidEnd,
			"%s end1 must be %s, got %s", relationship, def.End1, end1Type)
	}
	if !r.IsSubtypeOf(end2Type, def.End2) {
		return apperror.InvalidParameter(apperror.CodeInvalidEnd,
			"%s end2 must be %s, got %s", relationship, def.End2, end2Type)
	}
	return nil
}
