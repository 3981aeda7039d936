package dedupe

import (
	"fmt"
	"math"
	"sort"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/tidyfile/tidyfile/internal/config"
	"github.com/tidyfile/tidyfile/internal/logging"
	"github.com/tidyfile/tidyfile/internal/models"
)

// Match reasons recorded on duplicate entries.
const (
	ReasonExactHash  = "exact hash match"
	ReasonExactText  = "exact text content match"
	ReasonSimilarity = "similar content"
)

// EmbeddingRef associates a file with its generated embedding for the
// similarity stage.
type EmbeddingRef struct {
	Kind   models.EmbeddingKind
	Vector []float32
}

// Grouper clusters normalized file records into duplicate groups. Grouping
// runs in stages: exact content hash, exact text content, then embedding
// similarity. A file claimed by an earlier stage is never considered by a
// later one, so no file appears in more than one group.
type Grouper struct {
	cfg    *config.DedupeConfig
	logger zerolog.Logger
}

// NewGrouper creates a grouper with the given similarity thresholds
func NewGrouper(cfg *config.DedupeConfig) *Grouper {
	return &Grouper{
		cfg:    cfg,
		logger: logging.NewLogger("grouper"),
	}
}

// FindGroups clusters the successfully processed files into duplicate
// groups. The result is deterministic: the same input set produces the same
// groups, membership, and keep files regardless of input order.
func (g *Grouper) FindGroups(files []*models.FileRecord, embeddings map[string]EmbeddingRef) ([]models.DuplicateGroup, error) {
	candidates := make([]*models.FileRecord, 0, len(files))
	for _, f := range files {
		if f.Success {
			candidates = append(candidates, f)
		}
	}

	// Canonical order makes every later stage order-independent.
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].ID < candidates[j].ID
	})

	claimed := make(map[string]bool, len(candidates))
	var groups []models.DuplicateGroup

	hashGroups, err := g.groupByKey(candidates, claimed, ReasonExactHash, func(f *models.FileRecord) string {
		return f.SHA256
	})
	if err != nil {
		return nil, err
	}
	groups = append(groups, hashGroups...)

	textGroups, err := g.groupByKey(candidates, claimed, ReasonExactText, func(f *models.FileRecord) string {
		return f.TextContent
	})
	if err != nil {
		return nil, err
	}
	groups = append(groups, textGroups...)

	simGroups, err := g.groupBySimilarity(candidates, claimed, embeddings)
	if err != nil {
		return nil, err
	}
	groups = append(groups, simGroups...)

	g.logger.Info().
		Int("files", len(candidates)).
		Int("groups", len(groups)).
		Msg("Duplicate grouping completed")

	return groups, nil
}

// groupByKey partitions unclaimed files by an exact key and turns every
// partition of two or more members into a group with similarity 1.0.
func (g *Grouper) groupByKey(files []*models.FileRecord, claimed map[string]bool, reason string, key func(*models.FileRecord) string) ([]models.DuplicateGroup, error) {
	partitions := make(map[string][]*models.FileRecord)
	order := make([]string, 0)

	for _, f := range files {
		if claimed[f.ID] {
			continue
		}
		k := key(f)
		if k == "" {
			continue
		}
		if _, seen := partitions[k]; !seen {
			order = append(order, k)
		}
		partitions[k] = append(partitions[k], f)
	}

	var groups []models.DuplicateGroup
	for _, k := range order {
		members := partitions[k]
		if len(members) < 2 {
			continue
		}

		group, err := g.buildGroup(members, func(*models.FileRecord) float64 { return 1.0 }, reason)
		if err != nil {
			return nil, err
		}
		groups = append(groups, group)

		for _, m := range members {
			claimed[m.ID] = true
		}
	}
	return groups, nil
}

// groupBySimilarity connects unclaimed files whose same-kind embeddings
// reach the medium similarity tier and emits each connected component of
// size >= 2 as a group. Each duplicate carries the strongest similarity
// observed on its edges within the component.
func (g *Grouper) groupBySimilarity(files []*models.FileRecord, claimed map[string]bool, embeddings map[string]EmbeddingRef) ([]models.DuplicateGroup, error) {
	var nodes []*models.FileRecord
	for _, f := range files {
		if claimed[f.ID] {
			continue
		}
		if ref, ok := embeddings[f.ID]; ok && len(ref.Vector) > 0 {
			nodes = append(nodes, f)
		}
	}
	if len(nodes) < 2 {
		return nil, nil
	}

	parent := make(map[string]string, len(nodes))
	for _, n := range nodes {
		parent[n.ID] = n.ID
	}
	var find func(string) string
	find = func(id string) string {
		if parent[id] != id {
			parent[id] = find(parent[id])
		}
		return parent[id]
	}
	union := func(a, b string) {
		ra, rb := find(a), find(b)
		if ra != rb {
			// Smaller root wins so the forest is input-order independent.
			if rb < ra {
				ra, rb = rb, ra
			}
			parent[rb] = ra
		}
	}

	// Strongest edge seen per file across the graph.
	edgeSimilarity := make(map[string]float64, len(nodes))

	for i := 0; i < len(nodes); i++ {
		for j := i + 1; j < len(nodes); j++ {
			a, b := nodes[i], nodes[j]
			refA, refB := embeddings[a.ID], embeddings[b.ID]
			if refA.Kind != refB.Kind {
				continue
			}
			sim, err := CosineSimilarity(refA.Vector, refB.Vector)
			if err != nil {
				return nil, fmt.Errorf("similarity between %s and %s: %w", a.ID, b.ID, err)
			}
			if sim < g.cfg.MediumThreshold {
				continue
			}
			union(a.ID, b.ID)
			if sim > edgeSimilarity[a.ID] {
				edgeSimilarity[a.ID] = sim
			}
			if sim > edgeSimilarity[b.ID] {
				edgeSimilarity[b.ID] = sim
			}
		}
	}

	components := make(map[string][]*models.FileRecord)
	roots := make([]string, 0)
	for _, n := range nodes {
		r := find(n.ID)
		if _, seen := components[r]; !seen {
			roots = append(roots, r)
		}
		components[r] = append(components[r], n)
	}
	sort.Strings(roots)

	var groups []models.DuplicateGroup
	for _, r := range roots {
		members := components[r]
		if len(members) < 2 {
			continue
		}

		group, err := g.buildGroup(members, func(f *models.FileRecord) float64 {
			return edgeSimilarity[f.ID]
		}, ReasonSimilarity)
		if err != nil {
			return nil, err
		}
		groups = append(groups, group)

		for _, m := range members {
			claimed[m.ID] = true
		}
	}
	return groups, nil
}

func (g *Grouper) buildGroup(members []*models.FileRecord, similarity func(*models.FileRecord) float64, reason string) (models.DuplicateGroup, error) {
	keep, err := SelectKeepFile(members)
	if err != nil {
		return models.DuplicateGroup{}, err
	}

	group := models.DuplicateGroup{
		ID:       uuid.NewString(),
		KeepFile: keep,
	}
	for _, m := range members {
		if m.ID == keep.ID {
			continue
		}
		group.Duplicates = append(group.Duplicates, models.Duplicate{
			File:       m,
			Similarity: similarity(m),
			Reason:     reason,
		})
		group.TotalSizeSaved += m.SizeBytes
	}
	return group, nil
}

// CosineSimilarity computes the cosine similarity of two equal-length
// vectors. A zero vector has no direction and yields similarity 0.
func CosineSimilarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("vector length mismatch: %d != %d", len(a), len(b))
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB)), nil
}
