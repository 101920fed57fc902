package vectorstore

import (
	"fmt"
	"math"
	"sort"
	"sync"

	"refind/internal/models"
	"refind/internal/util"
)

// Index is a flat vector index over unit-normalized vectors. The i-th vector
// and the i-th metadata record describe the same chunk; position is the join
// key. Search ranks by descending cosine similarity, which equals the dot
// product because both sides are normalized at insert and query time.
type Index struct {
	mu       sync.RWMutex
	dim      int
	vectors  [][]float32
	metadata []models.ChunkMeta
}

type SearchResult struct {
	Score    float64
	Position int
	Meta     models.ChunkMeta
}

func NewIndex(dim int) *Index {
	return &Index{dim: dim}
}

func (x *Index) Dim() int { return x.dim }

func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.vectors)
}

// Add appends vector/metadata pairs. Both slices must have equal length so a
// partial failure upstream can never advance one sequence without the other.
func (x *Index) Add(vectors [][]float32, metas []models.ChunkMeta) error {
	if len(vectors) != len(metas) {
		return fmt.Errorf("%w: %d vectors, %d metadata records", util.ErrValidation, len(vectors), len(metas))
	}
	normalized := make([][]float32, 0, len(vectors))
	for i, v := range vectors {
		if len(v) != x.dim {
			return fmt.Errorf("%w: vector %d has dimension %d, index requires %d", util.ErrValidation, i, len(v), x.dim)
		}
		normalized = append(normalized, normalize(v))
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	x.vectors = append(x.vectors, normalized...)
	x.metadata = append(x.metadata, metas...)
	return nil
}

// Search returns the k most similar records, descending. k is clamped to the
// record count; an empty index yields no results and no error.
func (x *Index) Search(query []float32, k int) []SearchResult {
	x.mu.RLock()
	defer x.mu.RUnlock()
	if len(x.vectors) == 0 || k <= 0 {
		return nil
	}
	if k > len(x.vectors) {
		k = len(x.vectors)
	}
	q := normalize(query)
	results := make([]SearchResult, 0, len(x.vectors))
	for i, v := range x.vectors {
		results = append(results, SearchResult{Score: dot(q, v), Position: i, Meta: x.metadata[i]})
	}
	sort.SliceStable(results, func(a, b int) bool { return results[a].Score > results[b].Score })
	return results[:k]
}

// Clear resets the index to zero records. It is the only deletion operation.
func (x *Index) Clear() {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.vectors = nil
	x.metadata = nil
}

// Similarity is the index's single similarity definition: cosine similarity
// of the two vectors.
func Similarity(a, b []float32) float64 {
	return dot(normalize(a), normalize(b))
}

func dot(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var sum float64
	for i := 0; i < n; i++ {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

func normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	inv := 1.0 / math.Sqrt(sum)
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) * inv)
	}
	return out
}
