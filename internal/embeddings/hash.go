package embeddings

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// HashProvider embeds text as an L2-normalized bag of hashed tokens.
// It is deterministic and never fails.
type HashProvider struct {
	dim int
}

// NewHashProvider creates a provider producing vectors of length dim.
func NewHashProvider(dim int) *HashProvider {
	return &HashProvider{dim: dim}
}

// Embed tokenizes text, hashes each token into one of D buckets, counts,
// and normalizes. Text with no tokens yields the zero vector.
func (p *HashProvider) Embed(_ context.Context, text string) ([]float32, error) {
	return p.embed(text), nil
}

func (p *HashProvider) embed(text string) []float32 {
	vec := make([]float32, p.dim)
	for _, tok := range Tokenize(text) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(tok))
		vec[h.Sum32()%uint32(p.dim)]++
	}
	Normalize(vec)
	return vec
}

func (p *HashProvider) Dimension() int { return p.dim }

func (p *HashProvider) Close() error { return nil }

// Tokenize lowercases text and splits it on runs of anything that is not a
// letter or digit.
func Tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// Normalize scales v to unit length in place. The zero vector is unchanged.
func Normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	norm := float32(math.Sqrt(sum))
	for i := range v {
		v[i] /= norm
	}
}

// Dot returns the dot product of two equal-length vectors.
func Dot(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var s float64
	for i := 0; i < n; i++ {
		s += float64(a[i]) * float64(b[i])
	}
	return s
}
