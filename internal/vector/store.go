package vector

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// Match одна находка поиска по близости.
type Match struct {
	ID       string
	Score    float64
	Metadata map[string]string
}

// Store внешнее хранилище векторов. Общий ресурс, не принадлежит рекордеру.
type Store interface {
	Put(ctx context.Context, vec []float32, meta map[string]string) (string, error)
	Query(ctx context.Context, vec []float32, topK int) ([]Match, error)
	// MaxTopK — верхняя граница topK, которую принимает хранилище.
	MaxTopK() int
}

type entry struct {
	id   string
	vec  []float32
	meta map[string]string
}

// MemoryStore хранилище в памяти процесса. Полный перебор.
type MemoryStore struct {
	mu      sync.RWMutex
	entries []entry
	maxTopK int
}

func NewMemoryStore(maxTopK int) *MemoryStore {
	if maxTopK <= 0 {
		maxTopK = 30
	}
	return &MemoryStore{maxTopK: maxTopK}
}

func (s *MemoryStore) MaxTopK() int { return s.maxTopK }

func (s *MemoryStore) Put(ctx context.Context, vec []float32, meta map[string]string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if len(vec) == 0 {
		return "", fmt.Errorf("empty vector")
	}
	e := entry{id: uuid.New().String(), vec: append([]float32(nil), vec...), meta: copyMeta(meta)}

	s.mu.Lock()
	s.entries = append(s.entries, e)
	s.mu.Unlock()
	return e.id, nil
}

func (s *MemoryStore) Query(ctx context.Context, vec []float32, topK int) ([]Match, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if topK > s.maxTopK {
		return nil, fmt.Errorf("topK %d exceeds store maximum %d", topK, s.maxTopK)
	}

	s.mu.RLock()
	matches := make([]Match, 0, len(s.entries))
	for _, e := range s.entries {
		matches = append(matches, Match{ID: e.id, Score: Cosine(vec, e.vec), Metadata: copyMeta(e.meta)})
	}
	s.mu.RUnlock()

	return rank(matches, topK), nil
}

func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// rank сортирует по убыванию близости (при равенстве — по ID) и отрезает topK.
func rank(matches []Match, topK int) []Match {
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].ID < matches[j].ID
	})
	if topK >= 0 && len(matches) > topK {
		matches = matches[:topK]
	}
	return matches
}

func copyMeta(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
