package dedupe

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tidyfile/tidyfile/internal/config"
	"github.com/tidyfile/tidyfile/internal/models"
	"pgregory.net/rapid"
)

func testDedupeConfig() *config.DedupeConfig {
	return &config.DedupeConfig{
		ExactThreshold:  0.98,
		HighThreshold:   0.90,
		MediumThreshold: 0.85,
	}
}

func hashedRecord(id, name, sha string, size int64) *models.FileRecord {
	return &models.FileRecord{
		ID:        id,
		Name:      name,
		SHA256:    sha,
		SizeBytes: size,
		Success:   true,
	}
}

func TestFindGroups_ExactHashMatch(t *testing.T) {
	g := NewGrouper(testDedupeConfig())

	a := hashedRecord("f1", "a.txt", "X", 10)
	b := hashedRecord("f2", "b.txt", "X", 10)
	c := hashedRecord("f3", "c.txt", "Y", 20)

	groups, err := g.FindGroups([]*models.FileRecord{a, b, c}, nil)
	require.NoError(t, err)
	require.Len(t, groups, 1)

	group := groups[0]
	require.Equal(t, "a.txt", group.KeepFile.Name)
	require.Len(t, group.Duplicates, 1)
	require.Equal(t, "b.txt", group.Duplicates[0].File.Name)
	require.Equal(t, 1.0, group.Duplicates[0].Similarity)
	require.Equal(t, ReasonExactHash, group.Duplicates[0].Reason)
	require.Equal(t, int64(10), group.TotalSizeSaved)
}

func TestFindGroups_ExactTextMatch(t *testing.T) {
	g := NewGrouper(testDedupeConfig())

	a := hashedRecord("f1", "a.txt", "H1", 10)
	a.TextContent = "hello world"
	b := hashedRecord("f2", "b.txt", "H2", 12)
	b.TextContent = "hello world"
	c := hashedRecord("f3", "c.txt", "H3", 20)
	c.TextContent = "something else"

	groups, err := g.FindGroups([]*models.FileRecord{a, b, c}, nil)
	require.NoError(t, err)
	require.Len(t, groups, 1)
	require.Equal(t, ReasonExactText, groups[0].Duplicates[0].Reason)
	require.Equal(t, 1.0, groups[0].Duplicates[0].Similarity)
}

func TestFindGroups_HashStageClaimsBeforeTextStage(t *testing.T) {
	g := NewGrouper(testDedupeConfig())

	// Identical bytes AND identical text: the hash stage must claim both
	// so the text stage does not produce a second group.
	a := hashedRecord("f1", "a.txt", "X", 10)
	a.TextContent = "same text"
	b := hashedRecord("f2", "b.txt", "X", 10)
	b.TextContent = "same text"

	groups, err := g.FindGroups([]*models.FileRecord{a, b}, nil)
	require.NoError(t, err)
	require.Len(t, groups, 1)
	require.Equal(t, ReasonExactHash, groups[0].Duplicates[0].Reason)
}

func TestFindGroups_SimilarityStage(t *testing.T) {
	g := NewGrouper(testDedupeConfig())

	a := hashedRecord("f1", "a.txt", "H1", 10)
	b := hashedRecord("f2", "b.txt", "H2", 12)
	c := hashedRecord("f3", "c.txt", "H3", 20)

	embeddings := map[string]EmbeddingRef{
		"f1": {Kind: models.EmbeddingKindText, Vector: []float32{1, 0, 0}},
		"f2": {Kind: models.EmbeddingKindText, Vector: []float32{0.99, 0.05, 0}},
		"f3": {Kind: models.EmbeddingKindText, Vector: []float32{0, 1, 0}},
	}

	groups, err := g.FindGroups([]*models.FileRecord{a, b, c}, embeddings)
	require.NoError(t, err)
	require.Len(t, groups, 1)

	group := groups[0]
	require.Len(t, group.Duplicates, 1)
	require.Equal(t, ReasonSimilarity, group.Duplicates[0].Reason)
	require.GreaterOrEqual(t, group.Duplicates[0].Similarity, 0.85)
}

func TestFindGroups_DifferentKindsNeverCompared(t *testing.T) {
	g := NewGrouper(testDedupeConfig())

	a := hashedRecord("f1", "a.txt", "H1", 10)
	b := hashedRecord("f2", "b.jpg", "H2", 12)

	embeddings := map[string]EmbeddingRef{
		"f1": {Kind: models.EmbeddingKindText, Vector: []float32{1, 0}},
		"f2": {Kind: models.EmbeddingKindImage, Vector: []float32{1, 0}},
	}

	groups, err := g.FindGroups([]*models.FileRecord{a, b}, embeddings)
	require.NoError(t, err)
	require.Empty(t, groups)
}

func TestFindGroups_FailedFilesExcluded(t *testing.T) {
	g := NewGrouper(testDedupeConfig())

	a := hashedRecord("f1", "a.txt", "X", 10)
	b := hashedRecord("f2", "b.txt", "X", 10)
	b.Success = false
	b.Error = "normalization failed"

	groups, err := g.FindGroups([]*models.FileRecord{a, b}, nil)
	require.NoError(t, err)
	require.Empty(t, groups)
}

// Scenario from the product requirements: two byte-identical 10B text files
// and one distinct 20B file.
func TestFindGroups_ByteIdenticalPair(t *testing.T) {
	g := NewGrouper(testDedupeConfig())

	a := hashedRecord("f1", "a.txt", "sha-of-X", 10)
	b := hashedRecord("f2", "b.txt", "sha-of-X", 10)
	c := hashedRecord("f3", "c.txt", "sha-of-Y", 20)

	groups, err := g.FindGroups([]*models.FileRecord{c, b, a}, nil)
	require.NoError(t, err)
	require.Len(t, groups, 1)
	require.Equal(t, "a.txt", groups[0].KeepFile.Name)
	require.Len(t, groups[0].Duplicates, 1)
	require.Equal(t, "b.txt", groups[0].Duplicates[0].File.Name)
	require.Equal(t, int64(10), groups[0].TotalSizeSaved)
}

func TestCosineSimilarity(t *testing.T) {
	sim, err := CosineSimilarity([]float32{1, 0}, []float32{1, 0})
	require.NoError(t, err)
	require.InDelta(t, 1.0, sim, 1e-9)

	sim, err = CosineSimilarity([]float32{1, 0}, []float32{0, 1})
	require.NoError(t, err)
	require.InDelta(t, 0.0, sim, 1e-9)

	sim, err = CosineSimilarity([]float32{0, 0}, []float32{1, 0})
	require.NoError(t, err)
	require.Zero(t, sim)

	_, err = CosineSimilarity([]float32{1}, []float32{1, 0})
	require.Error(t, err)
}

// TestProperty_FindGroups_Partition verifies no file ever appears in more
// than one group, whatever mix of stages matched it.
func TestProperty_FindGroups_Partition(t *testing.T) {
	g := NewGrouper(testDedupeConfig())

	rapid.Check(t, func(rt *rapid.T) {
		files, embeddings := drawGroupingInput(rt)

		groups, err := g.FindGroups(files, embeddings)
		if err != nil {
			rt.Fatalf("unexpected error: %v", err)
		}

		seen := make(map[string]bool)
		for _, group := range groups {
			for _, m := range group.Members() {
				if seen[m.ID] {
					rt.Fatalf("PROPERTY VIOLATION: file %q appears in more than one group", m.ID)
				}
				seen[m.ID] = true
			}
		}
	})
}

// TestProperty_FindGroups_ExactHashPairsGrouped verifies any two successful
// files sharing a sha256 always land in the same group.
func TestProperty_FindGroups_ExactHashPairsGrouped(t *testing.T) {
	g := NewGrouper(testDedupeConfig())

	rapid.Check(t, func(rt *rapid.T) {
		files, embeddings := drawGroupingInput(rt)

		groups, err := g.FindGroups(files, embeddings)
		if err != nil {
			rt.Fatalf("unexpected error: %v", err)
		}

		groupOf := make(map[string]int)
		for gi, group := range groups {
			for _, m := range group.Members() {
				groupOf[m.ID] = gi
			}
		}

		for i := 0; i < len(files); i++ {
			for j := i + 1; j < len(files); j++ {
				a, b := files[i], files[j]
				if !a.Success || !b.Success || a.SHA256 == "" || a.SHA256 != b.SHA256 {
					continue
				}
				ga, okA := groupOf[a.ID]
				gb, okB := groupOf[b.ID]
				if !okA || !okB || ga != gb {
					rt.Fatalf("PROPERTY VIOLATION: files %q and %q share sha256 %q but are not grouped together", a.ID, b.ID, a.SHA256)
				}
			}
		}
	})
}

// TestProperty_FindGroups_OrderIndependent verifies group membership and
// keep files do not depend on input ordering.
func TestProperty_FindGroups_OrderIndependent(t *testing.T) {
	g := NewGrouper(testDedupeConfig())

	rapid.Check(t, func(rt *rapid.T) {
		files, embeddings := drawGroupingInput(rt)

		first, err := g.FindGroups(files, embeddings)
		if err != nil {
			rt.Fatalf("unexpected error: %v", err)
		}

		shuffled := make([]*models.FileRecord, len(files))
		copy(shuffled, files)
		perm := rapid.Permutation(shuffled).Draw(rt, "perm")

		second, err := g.FindGroups(perm, embeddings)
		if err != nil {
			rt.Fatalf("unexpected error: %v", err)
		}

		if canonicalize(first) != canonicalize(second) {
			rt.Fatalf("PROPERTY VIOLATION: grouping depends on input order:\n%s\nvs\n%s",
				canonicalize(first), canonicalize(second))
		}
	})
}

// canonicalize renders group membership and keep files in a stable textual
// form so two runs can be compared independent of group ids and ordering.
func canonicalize(groups []models.DuplicateGroup) string {
	lines := make([]string, 0, len(groups))
	for _, g := range groups {
		ids := make([]string, 0, len(g.Duplicates))
		for _, d := range g.Duplicates {
			ids = append(ids, d.File.ID)
		}
		sortStrings(ids)
		line := "keep=" + g.KeepFile.ID + " dups="
		for _, id := range ids {
			line += id + ","
		}
		lines = append(lines, line)
	}
	sortStrings(lines)
	out := ""
	for _, l := range lines {
		out += l + "\n"
	}
	return out
}

func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j] < s[j-1]; j-- {
			s[j], s[j-1] = s[j-1], s[j]
		}
	}
}

// drawGroupingInput generates files that intentionally collide on a small
// hash and text alphabet, plus embeddings drawn from a few nearby unit
// vectors, so all three stages fire.
func drawGroupingInput(rt *rapid.T) ([]*models.FileRecord, map[string]EmbeddingRef) {
	n := rapid.IntRange(0, 14).Draw(rt, "n")
	files := make([]*models.FileRecord, 0, n)
	embeddings := make(map[string]EmbeddingRef)

	baseVectors := [][]float32{
		{1, 0, 0},
		{0.999, 0.01, 0},
		{0, 1, 0},
		{0, 0.999, 0.01},
		{0, 0, 1},
	}

	for i := 0; i < n; i++ {
		id := "f" + string(rune('a'+i))
		f := &models.FileRecord{
			ID:        id,
			Name:      id + ".txt",
			SizeBytes: rapid.Int64Range(1, 1000).Draw(rt, "size"),
			Success:   rapid.Float64Range(0, 1).Draw(rt, "ok") > 0.1,
		}
		if rapid.Bool().Draw(rt, "hasHash") {
			f.SHA256 = rapid.SampledFrom([]string{"H1", "H2", "H3"}).Draw(rt, "sha")
		}
		if rapid.Bool().Draw(rt, "hasText") {
			f.TextContent = rapid.SampledFrom([]string{"alpha", "beta", "gamma"}).Draw(rt, "text")
		}
		if rapid.Bool().Draw(rt, "hasEmb") {
			embeddings[id] = EmbeddingRef{
				Kind:   models.EmbeddingKindText,
				Vector: baseVectors[rapid.IntRange(0, len(baseVectors)-1).Draw(rt, "vec")],
			}
		}
		files = append(files, f)
	}
	return files, embeddings
}
