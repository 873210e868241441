package vector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"unicode"

	"github.com/xela07ax/honeyagent/internal/llm"
	"github.com/xela07ax/honeyagent/internal/resilience"
)

var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// Embedder embed(text) -> вектор фиксированной длины.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
}

// BedrockEmbedder Amazon Titan Embeddings через InvokeModel.
type BedrockEmbedder struct {
	client llm.ModelInvoker
	guard  *resilience.Guard
	model  string
	dims   int
}

func NewBedrockEmbedder(client llm.ModelInvoker, guard *resilience.Guard, model string, dims int) *BedrockEmbedder {
	return &BedrockEmbedder{client: client, guard: guard, model: model, dims: dims}
}

func (e *BedrockEmbedder) Dimensions() int { return e.dims }

func (e *BedrockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	var raw []byte
	err := e.guard.Do(ctx, func(ctx context.Context) error {
		var callErr error
		raw, callErr = llm.Invoke(ctx, e.client, e.model, map[string]string{"inputText": text})
		return callErr
	})
	if err != nil {
		return nil, err
	}

	var resp struct {
		Embedding []float32 `json:"embedding"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decode embedding: %w", err)
	}
	if len(resp.Embedding) != e.dims {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(resp.Embedding), e.dims)
	}
	return resp.Embedding, nil
}

// HashEmbedder — feature hashing по словам и биграммам. Без сети, детерминированный.
// Похожие тексты дают близкие векторы, чего достаточно для dev и тестов.
type HashEmbedder struct {
	dims int
}

func NewHashEmbedder(dims int) *HashEmbedder {
	if dims <= 0 {
		dims = 256
	}
	return &HashEmbedder{dims: dims}
}

func (e *HashEmbedder) Dimensions() int { return e.dims }

func (e *HashEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	vec := make([]float32, e.dims)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	add := func(feature string, weight float32) {
		h := fnv.New64a()
		_, _ = h.Write([]byte(feature))
		sum := h.Sum64()
		sign := float32(1)
		if sum&1 == 1 {
			sign = -1
		}
		vec[(sum>>1)%uint64(e.dims)] += sign * weight
	}
	for i, w := range words {
		add(w, 1)
		if i > 0 {
			add(words[i-1]+" "+w, 0.5)
		}
	}
	normalize(vec)
	return vec, nil
}

func normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	n := float32(math.Sqrt(sum))
	for i := range v {
		v[i] /= n
	}
}

// Cosine косинусная близость. Для векторов разной длины или нулевых — 0.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
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
