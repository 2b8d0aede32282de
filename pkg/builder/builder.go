package builder

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/graphmill/graphmill/pkg/llm"
	"github.com/graphmill/graphmill/pkg/log"
	"github.com/graphmill/graphmill/pkg/types"
)

// Extractor is the slice of the throttled parser the builder needs
type Extractor interface {
	ExtractStructured(ctx context.Context, schema llm.Schema, contexts []string, systemPrompt string) ([]json.RawMessage, error)
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Options hold the graph construction parameters
type Options struct {
	EntThreshold      float64
	RelThreshold      float64
	EntityNameWeight  float64
	EntityLabelWeight float64
	MaxWorkers        int

	RequireSameEntityLabel        bool
	RenameRelationshipByEmbedding bool

	LabelAllowlist []string
	LabelAliases   map[string]string
	UnknownLabel   string
	DropUnknown    bool

	RelationFallbackName string
	OutputLanguage       string
	EntityNameMode       string
}

// Builder constructs knowledge graphs from atomic facts
type Builder struct {
	extractor Extractor
	opts      Options
}

// New creates a builder, filling zero options with their defaults
func New(extractor Extractor, opts Options) *Builder {
	if opts.MaxWorkers <= 0 {
		opts.MaxWorkers = 8
	}
	if opts.UnknownLabel == "" {
		opts.UnknownLabel = "unknown"
	}
	if opts.RelationFallbackName == "" {
		opts.RelationFallbackName = "related_to"
	}
	return &Builder{extractor: extractor, opts: opts}
}

type relKey struct {
	start     types.EntityKey
	end       types.EntityKey
	predicate string
}

// BuildGraph extracts triples from the facts, canonicalizes labels,
// embeds endpoints and predicates, and merges near-duplicates. A non-nil
// prior graph seeds the result so new facts attach to existing entities
// and relationships.
func (b *Builder) BuildGraph(ctx context.Context, facts []string, obsTimestamp string, prior *types.KnowledgeGraph) (*types.KnowledgeGraph, error) {
	perFact, err := b.extractTriples(ctx, facts, obsTimestamp)
	if err != nil {
		return nil, err
	}

	entities, entityIndex := seedEntities(prior)
	rels, relIndex := seedRelationships(prior, entityIndex)

	dropped := 0
	for i, triples := range perFact {
		for _, t := range triples {
			subject := strings.TrimSpace(t.Subject)
			object := strings.TrimSpace(t.Object)
			if subject == "" || object == "" {
				continue
			}
			subjectLabel := b.canonicalLabel(t.SubjectLabel)
			objectLabel := b.canonicalLabel(t.ObjectLabel)
			if b.opts.DropUnknown && (subjectLabel == b.opts.UnknownLabel || objectLabel == b.opts.UnknownLabel) {
				dropped++
				continue
			}
			predicate := strings.TrimSpace(t.Predicate)
			if predicate == "" {
				predicate = b.opts.RelationFallbackName
			}

			start := internEntity(&entities, entityIndex, subjectLabel, subject)
			end := internEntity(&entities, entityIndex, objectLabel, object)

			key := relKey{start: start.Key(), end: end.Key(), predicate: predicate}
			rel, ok := relIndex[key]
			if !ok {
				rel = &types.Relationship{Start: start, End: end, Predicate: predicate}
				relIndex[key] = rel
				rels = append(rels, rel)
			}
			rel.AtomicFacts = appendUnique(rel.AtomicFacts, facts[i])
			rel.TObs = appendUnique(rel.TObs, obsTimestamp)
			rel.TStart = appendUnique(rel.TStart, strings.TrimSpace(t.TStart))
			rel.TEnd = appendUnique(rel.TEnd, strings.TrimSpace(t.TEnd))
		}
	}
	if dropped > 0 {
		logger := log.WithComponent("builder")
		logger.Info().Int("dropped", dropped).Msg("Dropped relationships with unknown endpoint labels")
	}

	if err := b.embedEntities(ctx, entities); err != nil {
		return nil, err
	}
	if err := b.embedRelationships(ctx, rels); err != nil {
		return nil, err
	}

	mergedEntities, remap := b.mergeEntities(entities)
	for _, r := range rels {
		r.Start = resolveEntity(remap, r.Start)
		r.End = resolveEntity(remap, r.End)
	}
	if b.opts.RenameRelationshipByEmbedding {
		predRemap := b.predicateRemap(rels)
		for _, r := range rels {
			r.Predicate = predRemap[r.Predicate]
		}
	}
	mergedRels := dedupeRelationships(rels)

	return &types.KnowledgeGraph{Entities: mergedEntities, Relationships: mergedRels}, nil
}

// extractTriples runs one extraction call per fact, fanned out under the
// worker limit, preserving fact order.
func (b *Builder) extractTriples(ctx context.Context, facts []string, obsTimestamp string) ([][]tripleRecord, error) {
	prompt := extractionPrompt(obsTimestamp, b.opts.OutputLanguage, b.opts.EntityNameMode)
	perFact := make([][]tripleRecord, len(facts))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.opts.MaxWorkers)
	for i, fact := range facts {
		i, fact := i, fact
		g.Go(func() error {
			outs, err := b.extractor.ExtractStructured(gctx, TripleSchema, []string{fact}, prompt)
			if err != nil {
				return fmt.Errorf("failed to extract triples: %w", err)
			}
			if len(outs) == 0 || len(outs[0]) == 0 {
				return nil
			}
			var parsed factTriples
			if err := json.Unmarshal(outs[0], &parsed); err != nil {
				return fmt.Errorf("failed to decode extracted triples: %w", err)
			}
			perFact[i] = parsed.Triples
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return perFact, nil
}

// embedEntities fills missing entity embeddings from one batched call
// over the distinct names and labels, blended by the configured weights.
func (b *Builder) embedEntities(ctx context.Context, entities []*types.Entity) error {
	var pending []*types.Entity
	textIndex := make(map[string]int)
	var texts []string
	intern := func(s string) {
		if s == "" {
			return
		}
		if _, ok := textIndex[s]; !ok {
			textIndex[s] = len(texts)
			texts = append(texts, s)
		}
	}
	for _, e := range entities {
		if len(e.Embedding) > 0 {
			continue
		}
		pending = append(pending, e)
		intern(e.Name)
		intern(e.Label)
	}
	if len(pending) == 0 {
		return nil
	}

	vectors, err := b.extractor.Embed(ctx, texts)
	if err != nil {
		return fmt.Errorf("failed to embed entities: %w", err)
	}
	if len(vectors) != len(texts) {
		return fmt.Errorf("embedding count mismatch: got %d for %d texts", len(vectors), len(texts))
	}
	lookup := func(s string) []float32 {
		if i, ok := textIndex[s]; ok {
			return vectors[i]
		}
		return nil
	}
	for _, e := range pending {
		e.Embedding = combineEmbedding(lookup(e.Name), lookup(e.Label), b.opts.EntityNameWeight, b.opts.EntityLabelWeight)
	}
	return nil
}

// embedRelationships fills missing relationship embeddings from one
// batched call over the distinct predicates.
func (b *Builder) embedRelationships(ctx context.Context, rels []*types.Relationship) error {
	textIndex := make(map[string]int)
	var texts []string
	var pending []*types.Relationship
	for _, r := range rels {
		if len(r.Embedding) > 0 {
			continue
		}
		pending = append(pending, r)
		if _, ok := textIndex[r.Predicate]; !ok {
			textIndex[r.Predicate] = len(texts)
			texts = append(texts, r.Predicate)
		}
	}
	if len(pending) == 0 {
		return nil
	}

	vectors, err := b.extractor.Embed(ctx, texts)
	if err != nil {
		return fmt.Errorf("failed to embed predicates: %w", err)
	}
	if len(vectors) != len(texts) {
		return fmt.Errorf("embedding count mismatch: got %d for %d texts", len(vectors), len(texts))
	}
	for _, r := range pending {
		r.Embedding = vectors[textIndex[r.Predicate]]
	}
	return nil
}

func seedEntities(prior *types.KnowledgeGraph) ([]*types.Entity, map[types.EntityKey]*types.Entity) {
	index := make(map[types.EntityKey]*types.Entity)
	var entities []*types.Entity
	if prior != nil {
		for _, e := range prior.Entities {
			if _, ok := index[e.Key()]; ok {
				continue
			}
			index[e.Key()] = e
			entities = append(entities, e)
		}
	}
	return entities, index
}

func seedRelationships(prior *types.KnowledgeGraph, entityIndex map[types.EntityKey]*types.Entity) ([]*types.Relationship, map[relKey]*types.Relationship) {
	index := make(map[relKey]*types.Relationship)
	var rels []*types.Relationship
	if prior != nil {
		for _, r := range prior.Relationships {
			if start, ok := entityIndex[r.Start.Key()]; ok {
				r.Start = start
			}
			if end, ok := entityIndex[r.End.Key()]; ok {
				r.End = end
			}
			key := relKey{start: r.Start.Key(), end: r.End.Key(), predicate: r.Predicate}
			if _, ok := index[key]; ok {
				continue
			}
			index[key] = r
			rels = append(rels, r)
		}
	}
	return rels, index
}

func internEntity(entities *[]*types.Entity, index map[types.EntityKey]*types.Entity, label, name string) *types.Entity {
	key := types.EntityKey{Label: label, Name: name}
	if e, ok := index[key]; ok {
		return e
	}
	e := &types.Entity{Label: label, Name: name}
	index[key] = e
	*entities = append(*entities, e)
	return e
}

// dedupeRelationships collapses relationships that ended up on the same
// (start, predicate, end) key after merging, accumulating their evidence.
func dedupeRelationships(rels []*types.Relationship) []*types.Relationship {
	index := make(map[relKey]*types.Relationship, len(rels))
	out := make([]*types.Relationship, 0, len(rels))
	for _, r := range rels {
		key := relKey{start: r.Start.Key(), end: r.End.Key(), predicate: r.Predicate}
		if existing, ok := index[key]; ok {
			existing.AtomicFacts = appendUnique(existing.AtomicFacts, r.AtomicFacts...)
			existing.TObs = appendUnique(existing.TObs, r.TObs...)
			existing.TStart = appendUnique(existing.TStart, r.TStart...)
			existing.TEnd = appendUnique(existing.TEnd, r.TEnd...)
			continue
		}
		index[key] = r
		out = append(out, r)
	}
	return out
}
