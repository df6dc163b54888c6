// ABOUTME: Tests for anchor resolution and cascade deletes
// ABOUTME: Includes external edge cleanup, cycles, partial failure reporting and journal resumption

package anchor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nainya/anchorstore/pkg/apperror"
	"github.com/nainya/anchorstore/pkg/element"
	"github.com/nainya/anchorstore/pkg/journal"
	"github.com/nainya/anchorstore/pkg/model"
	"github.com/nainya/anchorstore/pkg/property"
	"github.com/nainya/anchorstore/pkg/storage"
	"github.com/nainya/anchorstore/pkg/typedef"
)

type fixture struct {
	kv       storage.KV
	elements *element.Store
	resolver *Resolver
}

func newFixture(t *testing.T, kv storage.KV, intents journal.Intents) *fixture {
	t.Helper()
	es := element.NewStore(kv, typedef.MustDefault(), element.Config{})
	return &fixture{
		kv:       kv,
		elements: es,
		resolver: NewResolver(es, Config{Journal: intents, Logger: zerolog.Nop()}),
	}
}

func (f *fixture) create(t *testing.T, typeName, qn string, spec model.AnchorSpec) string {
	t.Helper()
	guid, err := f.elements.Create(context.Background(), element.NewElement{
		TypeName:   typeName,
		Properties: property.Bag{typedef.QualifiedName: property.String(qn)},
		Anchor:     spec,
	})
	require.NoError(t, err)
	return guid
}

func under(parent, relType string) model.AnchorSpec {
	return model.AnchorSpec{ParentGUID: parent, ParentRelationshipType: relType, ParentAtEnd1: true}
}

func (f *fixture) assertGone(t *testing.T, guids ...string) {
	t.Helper()
	ctx := context.Background()
	for _, g := range guids {
		e, err := f.elements.Get(ctx, g, model.Options{IncludeDeleted: true})
		require.NoError(t, err)
		assert.Nil(t, e, "element %s survived", g)
	}
	// No relationship record may reference a deleted GUID
	require.NoError(t, f.kv.View(ctx, func(tx storage.Tx) error {
		return tx.Scan(storage.Key(2000), nil, func(_, val []byte) bool {
			var r model.Relationship
			require.NoError(t, json.Unmarshal(val, &r))
			for _, g := range guids {
				assert.False(t, r.Touches(g), "relationship %s %s still touches %s", r.TypeName, r.GUID, g)
			}
			return true
		})
	}))
}

func TestCascadeDeleteGlossary(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, storage.NewMemoryKV(), nil)

	glossaryA := f.create(t, "Glossary", "Glossary-A", model.AnchorSpec{})
	term1 := f.create(t, "GlossaryTerm", "Term-1", under(glossaryA, "TermAnchor"))
	term2 := f.create(t, "GlossaryTerm", "Term-2", under(glossaryA, "TermAnchor"))
	category := f.create(t, "GlossaryCategory", "Category-1", under(glossaryA, "CategoryAnchor"))
	_, err := f.elements.Relationships().Link(ctx, "TermCategorization", category, term1, nil)
	require.NoError(t, err)

	glossaryB := f.create(t, "Glossary", "Glossary-B", model.AnchorSpec{})
	external := f.create(t, "GlossaryTerm", "Term-X", under(glossaryB, "TermAnchor"))
	_, err = f.elements.Relationships().Link(ctx, "Synonym", term1, external, nil)
	require.NoError(t, err)

	set, err := f.resolver.AnchoredSet(ctx, glossaryA)
	require.NoError(t, err)
	assert.Equal(t, glossaryA, set[0], "root comes first")
	assert.ElementsMatch(t, []string{glossaryA, term1, term2, category}, set)

	result, err := f.resolver.Delete(ctx, glossaryA, model.DeleteOptions{})
	require.NoError(t, err)
	assert.Equal(t, 4, result.ElementsDeleted)
	// 3 anchor links, 1 categorization, 1 external synonym
	assert.Equal(t, 5, result.RelationshipsDeleted)
	assert.Empty(t, result.Remaining)

	got, err := f.elements.Get(ctx, term1, model.Options{})
	require.NoError(t, err)
	assert.Nil(t, got)
	f.assertGone(t, glossaryA, term1, term2, category)

	survivor, err := f.elements.Get(ctx, external, model.Options{})
	require.NoError(t, err)
	require.NotNil(t, survivor)
	rels, err := f.elements.Relationships().List(ctx, external, "", model.DirectionAny, model.Options{})
	require.NoError(t, err)
	require.Len(t, rels, 1)
	assert.Equal(t, "TermAnchor", rels[0].TypeName)
}

func TestCascadeDeleteDeepChain(t *testing.T) {
	ctx := context.Background()
	for _, engine := range []string{storage.EngineMemory, storage.EngineBadger} {
		t.Run(engine, func(t *testing.T) {
			kv, err := storage.Open(storage.Config{Engine: engine, InMemory: true})
			require.NoError(t, err)
			defer kv.Close()
			f := newFixture(t, kv, nil)

			root := f.create(t, "DataStructure", "struct", model.AnchorSpec{})
			all := []string{root}
			parents := []string{}
			for i := 0; i < 3; i++ {
				field := f.create(t, "DataField", fmt.Sprintf("field-%d", i), under(root, "MemberDataField"))
				all = append(all, field)
				parents = append(parents, field)
			}
			for depth := 0; depth < 3; depth++ {
				var next []string
				for i, p := range parents {
					child := f.create(t, "DataField", fmt.Sprintf("nested-%d-%d", depth, i), under(p, "NestedDataField"))
					all = append(all, child)
					next = append(next, child)
				}
				parents = next
			}

			leaf := all[len(all)-1]
			top, err := f.resolver.Anchor(ctx, leaf)
			require.NoError(t, err)
			assert.Equal(t, root, top)

			result, err := f.resolver.Delete(ctx, root, model.DeleteOptions{})
			require.NoError(t, err)
			assert.Equal(t, len(all), result.ElementsDeleted)
			assert.Equal(t, len(all)-1, result.RelationshipsDeleted)
			f.assertGone(t, all...)
		})
	}
}

func TestDeleteIsIdempotentWithBestEffort(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, storage.NewMemoryKV(), nil)
	root := f.create(t, "Glossary", "Glossary-A", model.AnchorSpec{})

	_, err := f.resolver.Delete(ctx, root, model.DeleteOptions{})
	require.NoError(t, err)

	_, err = f.resolver.Delete(ctx, root, model.DeleteOptions{})
	assert.True(t, apperror.IsInvalidParameter(err))

	result, err := f.resolver.Delete(ctx, root, model.DeleteOptions{BestEffort: true})
	require.NoError(t, err)
	assert.Zero(t, result.ElementsDeleted)
}

func TestSoftCascade(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, storage.NewMemoryKV(), nil)
	root := f.create(t, "Glossary", "Glossary-A", model.AnchorSpec{})
	term := f.create(t, "GlossaryTerm", "Term-1", under(root, "TermAnchor"))

	result, err := f.resolver.Delete(ctx, root, model.DeleteOptions{Soft: true})
	require.NoError(t, err)
	assert.Equal(t, 2, result.ElementsDeleted)
	assert.Equal(t, 1, result.RelationshipsDeleted)

	for _, g := range []string{root, term} {
		e, err := f.elements.Get(ctx, g, model.Options{})
		require.NoError(t, err)
		assert.Nil(t, e)
		e, err = f.elements.Get(ctx, g, model.Options{IncludeDeleted: true})
		require.NoError(t, err)
		require.NotNil(t, e)
		assert.Equal(t, model.StatusDeleted, e.Status)
	}

	// A hard delete afterwards purges the soft-deleted tree
	result, err = f.resolver.Delete(ctx, root, model.DeleteOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, result.ElementsDeleted)
	f.assertGone(t, root, term)
}

func TestAnchorCycleIsRejected(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, storage.NewMemoryKV(), nil)
	a := f.create(t, "Glossary", "A", model.AnchorSpec{})
	b := f.create(t, "GlossaryTerm", "B", under(a, "TermAnchor"))

	require.NoError(t, f.kv.Update(ctx, func(tx storage.Tx) error {
		return tx.Set(storage.Key(element.PREFIX_ELEMENT_ANCHOR, b, a), []byte{})
	}))

	_, err := f.resolver.AnchoredSet(ctx, a)
	require.Error(t, err)
	assert.True(t, apperror.IsPropertyServer(err))
	assert.Equal(t, apperror.CodeAnchorCycle, apperror.CodeOf(err))

	result, err := f.resolver.Delete(ctx, a, model.DeleteOptions{})
	require.Error(t, err)
	assert.True(t, apperror.IsPropertyServer(err))
	assert.Equal(t, a, result.RootGUID)
	assert.Zero(t, result.ElementsDeleted)
	assert.Equal(t, []string{a}, result.Remaining)
}

func TestAnchorDangling(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, storage.NewMemoryKV(), nil)
	a := f.create(t, "Glossary", "A", model.AnchorSpec{})
	b := f.create(t, "GlossaryTerm", "B", under(a, "TermAnchor"))

	self, err := f.resolver.Anchor(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, a, self)

	require.NoError(t, f.kv.Update(ctx, func(tx storage.Tx) error {
		return tx.Delete(storage.Key(element.PREFIX_ELEMENT, a))
	}))
	_, err = f.resolver.Anchor(ctx, b)
	assert.Equal(t, apperror.CodeDanglingAnchor, apperror.CodeOf(err))

	_, err = f.resolver.Anchor(ctx, "missing")
	assert.True(t, apperror.IsInvalidParameter(err))
}

// flakyKV fails every update after the first allowed ones.
type flakyKV struct {
	storage.KV
	allowed atomic.Int32
}

var errInjected = errors.New("injected write failure")

func (k *flakyKV) Update(ctx context.Context, fn func(storage.Tx) error) error {
	if k.allowed.Add(-1) < 0 {
		return errInjected
	}
	return k.KV.Update(ctx, fn)
}

func TestCascadeReportsProgressOnFailure(t *testing.T) {
	ctx := context.Background()
	kv := &flakyKV{KV: storage.NewMemoryKV()}
	kv.allowed.Store(1000)
	f := newFixture(t, kv, nil)

	root := f.create(t, "Glossary", "Glossary-A", model.AnchorSpec{})
	for i := 0; i < 4; i++ {
		f.create(t, "GlossaryTerm", fmt.Sprintf("Term-%d", i), under(root, "TermAnchor"))
	}

	kv.allowed.Store(2)
	result, err := f.resolver.Delete(ctx, root, model.DeleteOptions{})
	require.Error(t, err)
	assert.True(t, apperror.IsPropertyServer(err))
	assert.Equal(t, apperror.CodeCascadeIncomplete, apperror.CodeOf(err))
	assert.ErrorIs(t, err, errInjected)
	assert.Equal(t, 2, result.ElementsDeleted)
	assert.Equal(t, 2, result.RelationshipsDeleted)
	assert.Len(t, result.Remaining, 3)
	assert.Contains(t, result.Remaining, root)

	kv.allowed.Store(1000)
	result, err = f.resolver.Delete(ctx, root, model.DeleteOptions{})
	require.NoError(t, err)
	assert.Equal(t, 3, result.ElementsDeleted)
}

func TestResumeFinishesInterruptedCascade(t *testing.T) {
	ctx := context.Background()
	j, err := journal.Open(filepath.Join(t.TempDir(), "store.journal"), journal.Options{})
	require.NoError(t, err)
	defer j.Close()

	f := newFixture(t, storage.NewMemoryKV(), j)
	root := f.create(t, "Glossary", "Glossary-A", model.AnchorSpec{})
	term := f.create(t, "GlossaryTerm", "Term-1", under(root, "TermAnchor"))

	// Simulate a crash right after the intent was recorded and one step ran
	opID, err := j.Begin(KindCascadeDelete, []byte(fmt.Sprintf(`{"root":%q}`, root)))
	require.NoError(t, err)
	_, err = f.elements.DeleteOne(ctx, term, false)
	require.NoError(t, err)
	require.NoError(t, j.Step(opID, []byte(term)))

	results, err := f.resolver.Resume(ctx)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, root, results[0].RootGUID)
	assert.Equal(t, 1, results[0].ElementsDeleted)
	f.assertGone(t, root, term)

	pending, err := j.Pending()
	require.NoError(t, err)
	assert.Empty(t, pending)
}
