package builder

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/graphmill/graphmill/pkg/types"
)

func TestCosine(t *testing.T) {
	assert.InDelta(t, 1.0, cosine([]float32{1, 0}, []float32{1, 0}), 1e-9)
	assert.InDelta(t, 0.0, cosine([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.InDelta(t, -1.0, cosine([]float32{1, 0}, []float32{-1, 0}), 1e-9)
	assert.Equal(t, 0.0, cosine(nil, []float32{1}))
	assert.Equal(t, 0.0, cosine([]float32{1, 2}, []float32{1}))
	assert.Equal(t, 0.0, cosine([]float32{0, 0}, []float32{0, 0}))
}

func TestCombineEmbedding(t *testing.T) {
	combined := combineEmbedding([]float32{1, 0}, []float32{0, 1}, 0.8, 0.2)
	require.Len(t, combined, 2)
	// 0.8 and 0.2 normalized to unit length
	assert.InDelta(t, 1.0, cosine(combined, []float32{0.8, 0.2}), 1e-6)

	var norm float64
	for _, x := range combined {
		norm += float64(x) * float64(x)
	}
	assert.InDelta(t, 1.0, norm, 1e-6)

	// Missing label vector leaves the normalized name vector
	nameOnly := combineEmbedding([]float32{3, 4}, nil, 0.8, 0.2)
	assert.InDelta(t, 0.6, float64(nameOnly[0]), 1e-6)
	assert.InDelta(t, 0.8, float64(nameOnly[1]), 1e-6)

	// Missing name vector falls back to the label vector
	labelOnly := combineEmbedding(nil, []float32{0, 2}, 0.8, 0.2)
	assert.InDelta(t, 1.0, float64(labelOnly[1]), 1e-6)
}

func TestMergeEntities(t *testing.T) {
	a := &types.Entity{Label: "person", Name: "Ada Lovelace", Embedding: []float32{1, 0}}
	b := &types.Entity{Label: "person", Name: "A. Lovelace", Embedding: []float32{0.99, 0.14}}
	c := &types.Entity{Label: "person", Name: "Charles Babbage", Embedding: []float32{0, 1}}

	builder := New(nil, Options{EntThreshold: 0.9})
	reps, remap := builder.mergeEntities([]*types.Entity{a, b, c})

	require.Len(t, reps, 2)
	assert.Same(t, a, reps[0])
	assert.Same(t, c, reps[1])
	assert.Same(t, a, resolveEntity(remap, b))
	assert.Same(t, a, resolveEntity(remap, a))
}

func TestMergeEntitiesRequiresSameLabel(t *testing.T) {
	a := &types.Entity{Label: "person", Name: "Mercury", Embedding: []float32{1, 0}}
	b := &types.Entity{Label: "planet", Name: "Mercury", Embedding: []float32{1, 0}}

	strict := New(nil, Options{EntThreshold: 0.9, RequireSameEntityLabel: true})
	reps, _ := strict.mergeEntities([]*types.Entity{a, b})
	assert.Len(t, reps, 2)

	loose := New(nil, Options{EntThreshold: 0.9})
	reps, _ = loose.mergeEntities([]*types.Entity{a, b})
	assert.Len(t, reps, 1)
}

func TestMergeEntitiesEarlierWins(t *testing.T) {
	// Prior-graph entities come first and must be the representatives
	prior := &types.Entity{Label: "person", Name: "Ada", Embedding: []float32{1, 0}}
	fresh := &types.Entity{Label: "person", Name: "Ada L.", Embedding: []float32{1, 0.01}}

	builder := New(nil, Options{EntThreshold: 0.9})
	reps, remap := builder.mergeEntities([]*types.Entity{prior, fresh})
	require.Len(t, reps, 1)
	assert.Same(t, prior, reps[0])
	assert.Same(t, prior, resolveEntity(remap, fresh))
}

func TestPredicateRemap(t *testing.T) {
	rels := []*types.Relationship{
		{Predicate: "works_at", Embedding: []float32{1, 0}},
		{Predicate: "employed_by", Embedding: []float32{0.99, 0.1}},
		{Predicate: "born_in", Embedding: []float32{0, 1}},
	}

	builder := New(nil, Options{RelThreshold: 0.9})
	remap := builder.predicateRemap(rels)

	assert.Equal(t, "works_at", remap["works_at"])
	assert.Equal(t, "works_at", remap["employed_by"])
	assert.Equal(t, "born_in", remap["born_in"])
}

func TestAppendUnique(t *testing.T) {
	out := appendUnique(nil, "a", "b", "a", "", "c")
	assert.Equal(t, []string{"a", "b", "c"}, out)

	out = appendUnique([]string{"x"}, "x", "y")
	assert.Equal(t, []string{"x", "y"}, out)
}
