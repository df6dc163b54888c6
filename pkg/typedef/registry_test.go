package typedef

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nainya/anchorstore/pkg/apperror"
	"github.com/nainya/anchorstore/pkg/property"
)

func TestDefaultPackLoads(t *testing.T) {
	r, err := Default()
	require.NoError(t, err)

	for _, name := range []string{"Glossary", "GlossaryTerm", "DataField", "ToDo", "InformationSupplyChain"} {
		def, ok := r.Get(name)
		require.True(t, ok, name)
		assert.Equal(t, CategoryEntity, def.Category)
		assert.True(t, r.IsSubtypeOf(name, Referenceable))
	}

	_, err = r.Lookup("TermAnchor", CategoryRelationship)
	assert.NoError(t, err)
	_, err = r.Lookup(TemplateClassifier, CategoryClassification)
	assert.NoError(t, err)
}

func TestLookupUnknownType(t *testing.T) {
	r := MustDefault()

	_, err := r.Lookup("Spaceship", CategoryEntity)
	assert.True(t, apperror.IsInvalidParameter(err))

	_, err = r.Lookup("Synonym", CategoryEntity)
	assert.True(t, apperror.IsInvalidParameter(err), "relationship type is not an entity type")
}

func TestInheritedAttributes(t *testing.T) {
	r := MustDefault()

	assert.Equal(t, []string{QualifiedName}, r.UniqueAttributes("GlossaryTerm"))

	names := make([]string, 0)
	for _, a := range r.Attributes("DataField") {
		names = append(names, a.Name)
	}
	assert.Contains(t, names, "dataType")
	assert.Contains(t, names, QualifiedName)
}

func TestValidateProperties(t *testing.T) {
	r := MustDefault()

	err := r.ValidateProperties("Glossary", property.Bag{"displayName": property.String("x")}, true)
	assert.Equal(t, apperror.CodeMissingProperty, apperror.CodeOf(err))

	err = r.ValidateProperties("Glossary", property.Bag{"displayName": property.String("x")}, false)
	assert.NoError(t, err)

	err = r.ValidateProperties("ToDo", property.Bag{
		QualifiedName: property.String("todo-1"),
		"priority":    property.String("high"),
	}, true)
	assert.Equal(t, apperror.CodeInvalidProperty, apperror.CodeOf(err))

	err = r.ValidateProperties("Glossary", property.Bag{
		QualifiedName: property.String("g"),
		"custom":      property.Int(1),
	}, true)
	assert.NoError(t, err, "undeclared properties are accepted")
}

func TestSearchableProperties(t *testing.T) {
	r := MustDefault()

	assert.Equal(t, []string{"qualifiedName", "displayName", "description"}, r.SearchableProperties("Glossary"))
	assert.Equal(t, DefaultSearchProperties, r.SearchableProperties("DataField"))
	assert.Equal(t, DefaultSearchProperties, r.SearchableProperties(""))
}

func TestCheckEndsAndClassification(t *testing.T) {
	r := MustDefault()

	assert.NoError(t, r.CheckEnds("TermAnchor", "Glossary", "GlossaryTerm"))
	assert.Equal(t, apperror.CodeInvalidEnd, apperror.CodeOf(r.CheckEnds("TermAnchor", "GlossaryTerm", "Glossary")))
	assert.NoError(t, r.CheckEnds("ActionTarget", "ToDo", "DataField"), "subtypes of Referenceable are accepted")

	assert.NoError(t, r.CheckClassification("Taxonomy", "Glossary"))
	assert.Equal(t, apperror.CodeInvalidClassification, apperror.CodeOf(r.CheckClassification("Taxonomy", "GlossaryTerm")))
	assert.True(t, apperror.IsInvalidParameter(r.CheckClassification("Nope", "Glossary")))
}

func TestLoadYAMLOutOfOrder(t *testing.T) {
	r := MustDefault()
	pack := `
types:
  - { name: BusinessTerm, category: entity, superType: Term2 }
  - { name: Term2, category: entity, superType: GlossaryTerm }
  - { name: Defines, category: relationship, end1: Glossary, end2: BusinessTerm }
`
	require.NoError(t, r.LoadYAML(strings.NewReader(pack)))
	assert.True(t, r.IsSubtypeOf("BusinessTerm", "GlossaryTerm"))
	assert.Contains(t, r.Subtypes("GlossaryTerm"), "BusinessTerm")
}

func TestLoadYAMLRejectsDanglingSupertype(t *testing.T) {
	r := NewRegistry()
	err := r.LoadYAML(strings.NewReader("types:\n  - { name: A, category: entity, superType: Missing }\n"))
	assert.Error(t, err)
}
