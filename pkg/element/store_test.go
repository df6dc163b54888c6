// ABOUTME: Tests for the element store
// ABOUTME: Covers validation, anchoring, updates, classifications, searches and deletes

package element

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nainya/anchorstore/pkg/apperror"
	"github.com/nainya/anchorstore/pkg/model"
	"github.com/nainya/anchorstore/pkg/property"
	"github.com/nainya/anchorstore/pkg/storage"
	"github.com/nainya/anchorstore/pkg/typedef"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

func newTestStore(t *testing.T) (*Store, *testClock) {
	t.Helper()
	clock := &testClock{now: time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)}
	return NewStore(storage.NewMemoryKV(), typedef.MustDefault(), Config{Clock: clock.Now, MaxPageSize: 50}), clock
}

func named(qn string) property.Bag {
	return property.Bag{typedef.QualifiedName: property.String(qn)}
}

func createGlossary(t *testing.T, s *Store, qn string) string {
	t.Helper()
	guid, err := s.Create(context.Background(), NewElement{TypeName: "Glossary", Properties: named(qn)})
	require.NoError(t, err)
	return guid
}

func createTerm(t *testing.T, s *Store, glossary, qn string) string {
	t.Helper()
	guid, err := s.Create(context.Background(), NewElement{
		TypeName:   "GlossaryTerm",
		Properties: named(qn),
		Anchor: model.AnchorSpec{
			ParentGUID:             glossary,
			ParentRelationshipType: "TermAnchor",
			ParentAtEnd1:           true,
		},
	})
	require.NoError(t, err)
	return guid
}

func TestCreateAndGet(t *testing.T) {
	ctx := model.WithUser(context.Background(), "erin")
	s, _ := newTestStore(t)

	guid, err := s.Create(ctx, NewElement{
		TypeName:        "Glossary",
		Properties:      property.Bag{typedef.QualifiedName: property.String("Glossary:A"), "displayName": property.String("A")},
		Classifications: map[string]property.Bag{"Taxonomy": nil},
	})
	require.NoError(t, err)

	e, err := s.Get(ctx, guid, model.Options{})
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, "Glossary", e.TypeName)
	assert.True(t, e.IsOwnAnchor())
	assert.Equal(t, model.StatusActive, e.Status)
	assert.Equal(t, int64(1), e.Version)
	assert.Equal(t, "erin", e.CreatedBy)
	assert.Contains(t, e.Classifications, "Taxonomy")

	missing, err := s.Get(ctx, "no-such-guid", model.Options{})
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestCreateValidation(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)
	createGlossary(t, s, "Glossary:A")

	tests := []struct {
		name string
		req  NewElement
		code string
	}{
		{"unknown type", NewElement{TypeName: "Spaceship", Properties: named("x")}, apperror.CodeUnknownType},
		{"relationship type", NewElement{TypeName: "TermAnchor", Properties: named("x")}, apperror.CodeUnknownType},
		{"missing qualified name", NewElement{TypeName: "Glossary"}, apperror.CodeMissingProperty},
		{"wrong property type", NewElement{TypeName: "ToDo", Properties: property.Bag{
			typedef.QualifiedName: property.String("todo"), "priority": property.String("high"),
		}}, apperror.CodeInvalidProperty},
		{"duplicate qualified name", NewElement{TypeName: "Glossary", Properties: named("Glossary:A")}, apperror.CodeDuplicateValue},
		{"illegal classification", NewElement{TypeName: "Location", Properties: named("loc"),
			Classifications: map[string]property.Bag{"Taxonomy": nil}}, apperror.CodeInvalidClassification},
		{"missing parent", NewElement{TypeName: "GlossaryTerm", Properties: named("t"), Anchor: model.AnchorSpec{
			ParentGUID: "nope", ParentRelationshipType: "TermAnchor", ParentAtEnd1: true,
		}}, apperror.CodeElementNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Create(ctx, tt.req)
			require.Error(t, err)
			assert.True(t, apperror.IsInvalidParameter(err), "got %v", err)
			assert.Equal(t, tt.code, apperror.CodeOf(err))
		})
	}

	all, err := s.Find(ctx, MatchAll, nil, model.Options{})
	require.NoError(t, err)
	assert.Len(t, all, 1, "failed creates must leave nothing behind")
}

func TestCreateWithParentRollsBackOnBadEnd(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)
	loc, err := s.Create(ctx, NewElement{TypeName: "Location", Properties: named("loc")})
	require.NoError(t, err)

	// TermAnchor needs a Glossary at end1
	_, err = s.Create(ctx, NewElement{TypeName: "GlossaryTerm", Properties: named("term"), Anchor: model.AnchorSpec{
		ParentGUID: loc, ParentRelationshipType: "TermAnchor", ParentAtEnd1: true,
	}})
	require.Error(t, err)
	assert.Equal(t, apperror.CodeInvalidEnd, apperror.CodeOf(err))

	found, err := s.GetByName(ctx, "term", nil, model.Options{})
	require.NoError(t, err)
	assert.Empty(t, found)
}

func TestCreateAnchoredChild(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)
	glossary := createGlossary(t, s, "Glossary:A")
	term := createTerm(t, s, glossary, "Term-1")

	e, err := s.Get(ctx, term, model.Options{})
	require.NoError(t, err)
	assert.Equal(t, glossary, e.AnchorGUID)
	assert.Equal(t, glossary, e.Owner())

	rels, err := s.Relationships().Between(ctx, glossary, term, "TermAnchor", model.Options{})
	require.NoError(t, err)
	require.Len(t, rels, 1)
	assert.Equal(t, glossary, rels[0].End1GUID)
	assert.Equal(t, term, rels[0].End2GUID)

	require.NoError(t, s.KV().View(ctx, func(tx storage.Tx) error {
		anchored, err := AnchoredTx(tx, glossary)
		require.NoError(t, err)
		assert.Equal(t, []string{term}, anchored)
		return nil
	}))

	// Linked but not owned
	peer, err := s.Create(ctx, NewElement{TypeName: "GlossaryTerm", Properties: named("Term-2"), Anchor: model.AnchorSpec{
		ParentGUID: glossary, ParentRelationshipType: "TermAnchor", ParentAtEnd1: true, OwnAnchor: true,
	}})
	require.NoError(t, err)
	e, err = s.Get(ctx, peer, model.Options{})
	require.NoError(t, err)
	assert.True(t, e.IsOwnAnchor())
}

func TestUpdateMergeAndReplace(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)
	guid, err := s.Create(ctx, NewElement{TypeName: "Glossary", Properties: property.Bag{
		typedef.QualifiedName: property.String("Glossary:A"),
		"displayName":         property.String("A"),
		"language":            property.String("en"),
	}})
	require.NoError(t, err)

	changed, err := s.Update(ctx, guid, property.Bag{"displayName": property.String("B")}, model.ModeMerge, "Glossary")
	require.NoError(t, err)
	assert.True(t, changed)

	e, _ := s.Get(ctx, guid, model.Options{})
	assert.Equal(t, "B", e.Properties.GetString("displayName"))
	assert.Equal(t, "en", e.Properties.GetString("language"))
	assert.Equal(t, int64(2), e.Version)

	changed, err = s.Update(ctx, guid, property.Bag{"displayName": property.String("B")}, model.ModeMerge, "")
	require.NoError(t, err)
	assert.False(t, changed, "identical merge is a no-op")

	_, err = s.Update(ctx, guid, property.Bag{"displayName": property.String("C")}, model.ModeReplace, "")
	assert.Equal(t, apperror.CodeMissingProperty, apperror.CodeOf(err), "replace dropping qualifiedName")

	changed, err = s.Update(ctx, guid, named("Glossary:A"), model.ModeReplace, "Referenceable")
	require.NoError(t, err)
	assert.True(t, changed)
	e, _ = s.Get(ctx, guid, model.Options{})
	assert.Len(t, e.Properties, 1)

	_, err = s.Update(ctx, guid, named("x"), model.ModeMerge, "GlossaryTerm")
	assert.Equal(t, apperror.CodeTypeMismatch, apperror.CodeOf(err))

	_, err = s.Update(ctx, "missing", named("x"), model.ModeMerge, "")
	assert.Equal(t, apperror.CodeElementNotFound, apperror.CodeOf(err))
}

func TestUpdateRejectsUnknownMode(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)
	guid := createGlossary(t, s, "Glossary:A")

	for _, mode := range []model.UpdateMode{"", "merge", "PATCH"} {
		changed, err := s.Update(ctx, guid, property.Bag{"displayName": property.String("B")}, mode, "")
		assert.Equal(t, apperror.CodeInvalidOption, apperror.CodeOf(err), "mode %q", mode)
		assert.False(t, changed)
	}

	e, err := s.Get(ctx, guid, model.Options{})
	require.NoError(t, err)
	assert.Empty(t, e.Properties.GetString("displayName"))
}

func TestUpdateKeepsUniqueness(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)
	createGlossary(t, s, "Glossary:A")
	b := createGlossary(t, s, "Glossary:B")

	_, err := s.Update(ctx, b, named("Glossary:A"), model.ModeMerge, "")
	assert.Equal(t, apperror.CodeDuplicateValue, apperror.CodeOf(err))

	_, err = s.Update(ctx, b, named("Glossary:C"), model.ModeMerge, "")
	require.NoError(t, err)
	// The old name is free again
	createGlossary(t, s, "Glossary:B")
}

func TestClassifications(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)
	guid := createGlossary(t, s, "Glossary:A")

	require.NoError(t, s.Classify(ctx, guid, "SubjectArea", property.Bag{"name": property.String("finance")}))
	err := s.Classify(ctx, guid, "SubjectArea", nil)
	assert.Equal(t, apperror.CodeClassificationExists, apperror.CodeOf(err))

	err = s.Classify(ctx, guid, "PrimaryKey", nil)
	assert.Equal(t, apperror.CodeInvalidClassification, apperror.CodeOf(err))

	err = s.Classify(ctx, guid, "Nope", nil)
	assert.Equal(t, apperror.CodeUnknownType, apperror.CodeOf(err))

	require.NoError(t, s.Reclassify(ctx, guid, "SubjectArea", property.Bag{"name": property.String("risk")}, model.ModeMerge))
	e, _ := s.Get(ctx, guid, model.Options{})
	assert.Equal(t, "risk", e.Classifications["SubjectArea"].Properties.GetString("name"))

	err = s.Reclassify(ctx, guid, "Confidentiality", nil, model.ModeMerge)
	assert.Equal(t, apperror.CodeClassificationNotFound, apperror.CodeOf(err))

	err = s.Reclassify(ctx, guid, "SubjectArea", property.Bag{"name": property.String("ops")}, "merge")
	assert.Equal(t, apperror.CodeInvalidOption, apperror.CodeOf(err))

	classified, err := s.Classified(ctx, "SubjectArea", model.Options{})
	require.NoError(t, err)
	require.Len(t, classified, 1)
	assert.Equal(t, guid, classified[0].GUID)

	removed, err := s.Declassify(ctx, guid, "SubjectArea")
	require.NoError(t, err)
	assert.True(t, removed)
	removed, err = s.Declassify(ctx, guid, "SubjectArea")
	require.NoError(t, err)
	assert.False(t, removed, "absent classification is a no-op")

	e, _ = s.Get(ctx, guid, model.Options{})
	assert.NotContains(t, e.Classifications, "SubjectArea")
}

func TestGetByNameAndFind(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)
	glossary := createGlossary(t, s, "Glossary:A")
	for i := 0; i < 12; i++ {
		_, err := s.Create(ctx, NewElement{TypeName: "GlossaryTerm", Properties: property.Bag{
			typedef.QualifiedName: property.String(fmt.Sprintf("Term-%02d", i)),
			"displayName":         property.String("Shared"),
		}, Anchor: model.AnchorSpec{ParentGUID: glossary, ParentRelationshipType: "TermAnchor", ParentAtEnd1: true}})
		require.NoError(t, err)
	}

	byName, err := s.GetByName(ctx, "Term-03", nil, model.Options{})
	require.NoError(t, err)
	require.Len(t, byName, 1)

	shared, err := s.GetByName(ctx, "Shared", []string{"displayName"}, model.Options{PageSize: 5, StartFrom: 10})
	require.NoError(t, err)
	assert.Len(t, shared, 2)

	partial, err := s.GetByName(ctx, "Term", nil, model.Options{})
	require.NoError(t, err)
	assert.Empty(t, partial, "names match exactly")

	found, err := s.Find(ctx, "Term-0[0-4]", nil, model.Options{TypeName: "GlossaryTerm"})
	require.NoError(t, err)
	assert.Len(t, found, 5)

	everything, err := s.Find(ctx, "", nil, model.Options{TypeName: "Referenceable"})
	require.NoError(t, err)
	assert.Len(t, everything, 13)

	glossaries, err := s.Find(ctx, MatchAll, nil, model.Options{TypeName: "Glossary"})
	require.NoError(t, err)
	assert.Len(t, glossaries, 1)

	_, err = s.Find(ctx, "([", nil, model.Options{})
	assert.Equal(t, apperror.CodeInvalidSearch, apperror.CodeOf(err))

	_, err = s.Find(ctx, "x", nil, model.Options{PageSize: -1})
	assert.Equal(t, apperror.CodeInvalidOption, apperror.CodeOf(err))

	_, err = s.Find(ctx, "x", nil, model.Options{TypeName: "Nope"})
	assert.Equal(t, apperror.CodeUnknownType, apperror.CodeOf(err))
}

func TestDeleteOneRefusesWhileAnchoring(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)
	glossary := createGlossary(t, s, "Glossary:A")
	term := createTerm(t, s, glossary, "Term-1")

	_, err := s.DeleteOne(ctx, glossary, false)
	require.Error(t, err)
	assert.Equal(t, apperror.CodeDependantsRemain, apperror.CodeOf(err))

	res, err := s.DeleteOne(ctx, term, false)
	require.NoError(t, err)
	assert.True(t, res.Removed)
	assert.Equal(t, 1, res.Relationships)

	res, err = s.DeleteOne(ctx, glossary, false)
	require.NoError(t, err)
	assert.True(t, res.Removed)

	res, err = s.DeleteOne(ctx, glossary, false)
	require.NoError(t, err)
	assert.False(t, res.Removed)
}

func TestSoftDelete(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)
	glossary := createGlossary(t, s, "Glossary:A")

	res, err := s.DeleteOne(ctx, glossary, true)
	require.NoError(t, err)
	assert.True(t, res.Removed)

	e, err := s.Get(ctx, glossary, model.Options{})
	require.NoError(t, err)
	assert.Nil(t, e)

	e, err = s.Get(ctx, glossary, model.Options{IncludeDeleted: true})
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, model.StatusDeleted, e.Status)

	// Qualified name is released
	createGlossary(t, s, "Glossary:A")

	_, err = s.Update(ctx, glossary, named("x"), model.ModeMerge, "")
	assert.Equal(t, apperror.CodeElementNotFound, apperror.CodeOf(err))
}

func TestStatusAndAsOf(t *testing.T) {
	ctx := context.Background()
	s, clock := newTestStore(t)
	guid, err := s.Create(ctx, NewElement{TypeName: "Glossary", Properties: named("Glossary:A"), Status: model.StatusDraft})
	require.NoError(t, err)
	created := clock.now

	require.NoError(t, s.SetStatus(ctx, guid, model.StatusActive))
	err = s.SetStatus(ctx, guid, model.StatusDeleted)
	assert.True(t, apperror.IsInvalidParameter(err))

	past, err := s.Get(ctx, guid, model.Options{AsOfTime: &created})
	require.NoError(t, err)
	require.NotNil(t, past)
	assert.Equal(t, model.StatusDraft, past.Status)

	now, err := s.Get(ctx, guid, model.Options{})
	require.NoError(t, err)
	assert.Equal(t, model.StatusActive, now.Status)

	versions, err := s.History(ctx, guid)
	require.NoError(t, err)
	assert.Len(t, versions, 2)
}

func TestEffectivity(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)
	from := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	guid, err := s.Create(ctx, NewElement{TypeName: "Glossary", Properties: named("future"), EffectiveFrom: &from})
	require.NoError(t, err)

	e, err := s.Get(ctx, guid, model.Options{})
	require.NoError(t, err)
	assert.Nil(t, e)

	later := from.Add(time.Hour)
	e, err = s.Get(ctx, guid, model.Options{EffectiveTime: &later})
	require.NoError(t, err)
	assert.NotNil(t, e)
}

func TestLargePropertyValuesOnBadger(t *testing.T) {
	ctx := context.Background()
	kv, err := storage.OpenBadger("", true, false)
	require.NoError(t, err)
	defer kv.Close()
	s := NewStore(kv, typedef.MustDefault(), Config{MaxPageSize: 50})

	long := strings.Repeat("q", 70000)
	guid, err := s.Create(ctx, NewElement{TypeName: "Glossary", Properties: property.Bag{
		typedef.QualifiedName: property.String(long),
		"description":         property.String(strings.Repeat("d", 70000)),
	}})
	require.NoError(t, err)

	found, err := s.GetByName(ctx, long, nil, model.Options{})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, guid, found[0].GUID)

	// Same length, different content, shares no index entry
	found, err = s.GetByName(ctx, strings.Repeat("r", 70000), nil, model.Options{})
	require.NoError(t, err)
	assert.Empty(t, found)

	_, err = s.Create(ctx, NewElement{TypeName: "Glossary", Properties: named(long)})
	assert.Equal(t, apperror.CodeDuplicateValue, apperror.CodeOf(err))

	_, err = s.Update(ctx, guid, named("Glossary:Short"), model.ModeMerge, "")
	require.NoError(t, err)
	createGlossary(t, s, long)
}

func TestIndexedValue(t *testing.T) {
	short := strings.Repeat("a", MaxIndexedValueLen)
	assert.Equal(t, short, indexedValue(short))

	long := short + "b"
	digest := indexedValue(long)
	assert.NotEqual(t, long, digest)
	assert.Less(t, len(digest), MaxIndexedValueLen)
	assert.Equal(t, digest, indexedValue(long))
	assert.NotEqual(t, digest, indexedValue(short+"c"))
}
