// ABOUTME: Per-type descriptors for the typed entity facade
// ABOUTME: Built-in descriptors cover the glossary, connection, location, actor and data types

package facade

import "slices"

// Descriptor captures what differs between entity handlers.
type Descriptor struct {
	TypeName string

	// NameProperties are compared for exact-name lookups.
	NameProperties []string

	// SearchProperties are matched by full-text find. Empty means the
	// searchable properties declared by the type.
	SearchProperties []string

	// ParentRelationship links a new element to its parent. Elements created
	// with a parent are anchored to it.
	ParentRelationship string
	ParentAtEnd1       bool

	// TemplateType is the type templates must have. Empty means TypeName.
	TemplateType string
}

func (d Descriptor) templateType() string {
	if d.TemplateType != "" {
		return d.TemplateType
	}
	return d.TypeName
}

var (
	Glossary = Descriptor{
		TypeName:       "Glossary",
		NameProperties: []string{"qualifiedName", "displayName"},
	}
	GlossaryTerm = Descriptor{
		TypeName:           "GlossaryTerm",
		NameProperties:     []string{"qualifiedName", "displayName", "abbreviation"},
		ParentRelationship: "TermAnchor",
		ParentAtEnd1:       true,
	}
	GlossaryCategory = Descriptor{
		TypeName:           "GlossaryCategory",
		NameProperties:     []string{"qualifiedName", "displayName"},
		SearchProperties:   []string{"qualifiedName", "displayName", "description"},
		ParentRelationship: "CategoryAnchor",
		ParentAtEnd1:       true,
	}
	Connection = Descriptor{
		TypeName:         "Connection",
		NameProperties:   []string{"qualifiedName", "displayName"},
		SearchProperties: []string{"qualifiedName", "displayName", "description", "connectorType"},
	}
	Endpoint = Descriptor{
		TypeName:       "Endpoint",
		NameProperties: []string{"qualifiedName", "name", "networkAddress"},
	}
	Location = Descriptor{
		TypeName:       "Location",
		NameProperties: []string{"qualifiedName", "identifier", "displayName"},
	}
	ActorRole = Descriptor{
		TypeName:       "ActorRole",
		NameProperties: []string{"qualifiedName", "identifier", "title"},
	}
	SolutionComponent = Descriptor{
		TypeName:           "SolutionComponent",
		NameProperties:     []string{"qualifiedName", "displayName"},
		SearchProperties:   []string{"qualifiedName", "displayName", "description", "componentType"},
		ParentRelationship: "SolutionComposition",
		ParentAtEnd1:       true,
	}
	InformationSupplyChain = Descriptor{
		TypeName:           "InformationSupplyChain",
		NameProperties:     []string{"qualifiedName", "displayName"},
		SearchProperties:   []string{"qualifiedName", "displayName", "description", "scope"},
		ParentRelationship: "InformationSupplyChainComposition",
		ParentAtEnd1:       true,
	}
	ToDo = Descriptor{
		TypeName:       "ToDo",
		NameProperties: []string{"qualifiedName", "name"},
	}
	DataStructure = Descriptor{
		TypeName:         "DataStructure",
		NameProperties:   []string{"qualifiedName", "displayName"},
		SearchProperties: []string{"qualifiedName", "displayName", "description", "namespace"},
	}
	DataField = Descriptor{
		TypeName:           "DataField",
		NameProperties:     []string{"qualifiedName", "displayName"},
		SearchProperties:   []string{"qualifiedName", "displayName", "description", "dataType"},
		ParentRelationship: "MemberDataField",
		ParentAtEnd1:       true,
	}
)

var builtin = []Descriptor{
	Glossary, GlossaryTerm, GlossaryCategory, Connection, Endpoint, Location,
	ActorRole, SolutionComponent, InformationSupplyChain, ToDo, DataStructure, DataField,
}

// Builtin returns the descriptor registered for typeName.
func Builtin(typeName string) (Descriptor, bool) {
	i := slices.IndexFunc(builtin, func(d Descriptor) bool { return d.TypeName == typeName })
	if i < 0 {
		return Descriptor{}, false
	}
	return builtin[i], true
}

// BuiltinTypes lists the type names with built-in descriptors.
func BuiltinTypes() []string {
	names := make([]string, len(builtin))
	for i, d := range builtin {
		names[i] = d.TypeName
	}
	return names
}
