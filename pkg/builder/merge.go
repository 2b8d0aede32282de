package builder

import (
	"math"

	"github.com/graphmill/graphmill/pkg/types"
)

// cosine returns the cosine similarity of two vectors, 0 when either is
// empty or the dimensions disagree.
func cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// combineEmbedding blends the name and label vectors by weight and
// normalizes the result. A missing label vector leaves the name vector.
func combineEmbedding(name, label []float32, nameWeight, labelWeight float64) []float32 {
	if len(name) == 0 {
		return normalizeVec(label)
	}
	if len(label) != len(name) {
		return normalizeVec(name)
	}
	out := make([]float32, len(name))
	for i := range name {
		out[i] = float32(nameWeight*float64(name[i]) + labelWeight*float64(label[i]))
	}
	return normalizeVec(out)
}

func normalizeVec(v []float32) []float32 {
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	if norm == 0 {
		return v
	}
	norm = math.Sqrt(norm)
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}

// mergeEntities greedily clusters entities by embedding similarity.
// Earlier entities (the prior graph's, in incremental mode) become the
// representatives; later ones at or above the threshold map onto them.
func (b *Builder) mergeEntities(entities []*types.Entity) ([]*types.Entity, map[*types.Entity]*types.Entity) {
	remap := make(map[*types.Entity]*types.Entity)
	reps := make([]*types.Entity, 0, len(entities))
	for _, e := range entities {
		var best *types.Entity
		bestScore := 0.0
		for _, r := range reps {
			if b.opts.RequireSameEntityLabel && r.Label != e.Label {
				continue
			}
			score := cosine(e.Embedding, r.Embedding)
			if score >= b.opts.EntThreshold && score > bestScore {
				best = r
				bestScore = score
			}
		}
		if best != nil {
			remap[e] = best
		} else {
			reps = append(reps, e)
		}
	}
	return reps, remap
}

func resolveEntity(remap map[*types.Entity]*types.Entity, e *types.Entity) *types.Entity {
	for {
		next, ok := remap[e]
		if !ok {
			return e
		}
		e = next
	}
}

// predicateRemap greedily clusters predicates by embedding similarity and
// maps each onto its cluster representative. Order follows first use, so
// prior-graph predicates win the name.
func (b *Builder) predicateRemap(rels []*types.Relationship) map[string]string {
	type cluster struct {
		name string
		vec  []float32
	}
	remap := make(map[string]string)
	var reps []cluster
	for _, r := range rels {
		if _, seen := remap[r.Predicate]; seen {
			continue
		}
		var best *cluster
		bestScore := 0.0
		for i := range reps {
			score := cosine(r.Embedding, reps[i].vec)
			if score >= b.opts.RelThreshold && score > bestScore {
				best = &reps[i]
				bestScore = score
			}
		}
		if best != nil {
			remap[r.Predicate] = best.name
		} else {
			remap[r.Predicate] = r.Predicate
			reps = append(reps, cluster{name: r.Predicate, vec: r.Embedding})
		}
	}
	return remap
}

// appendUnique appends values not already present, preserving order
func appendUnique(dst []string, values ...string) []string {
	for _, v := range values {
		if v == "" {
			continue
		}
		found := false
		for _, existing := range dst {
			if existing == v {
				found = true
				break
			}
		}
		if !found {
			dst = append(dst, v)
		}
	}
	return dst
}
