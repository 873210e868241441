package vector

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/xela07ax/honeyagent/internal/infra"
)

// RedisStore хранит каждый вектор отдельным хешем, а ID — в индексном множестве.
// Query перебор на стороне шлюза; scanCap ограничивает число просматриваемых записей.
type RedisStore struct {
	rdb     redis.UniversalClient
	maxTopK int
	scanCap int
}

func NewRedisStore(rdb redis.UniversalClient, maxTopK, scanCap int) *RedisStore {
	if maxTopK <= 0 {
		maxTopK = 30
	}
	if scanCap <= 0 {
		scanCap = 5000
	}
	return &RedisStore{rdb: rdb, maxTopK: maxTopK, scanCap: scanCap}
}

func (s *RedisStore) MaxTopK() int { return s.maxTopK }

func (s *RedisStore) Put(ctx context.Context, vec []float32, meta map[string]string) (string, error) {
	if len(vec) == 0 {
		return "", fmt.Errorf("empty vector")
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return "", fmt.Errorf("encode metadata: %w", err)
	}

	id := uuid.New().String()
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, infra.RedisKeyVectorPrefix+id, "vector", encodeVector(vec), "meta", metaJSON)
		pipe.SAdd(ctx, infra.RedisKeyVectorIndex, id)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("redis vector put: %w", err)
	}
	return id, nil
}

func (s *RedisStore) Query(ctx context.Context, vec []float32, topK int) ([]Match, error) {
	if topK > s.maxTopK {
		return nil, fmt.Errorf("topK %d exceeds store maximum %d", topK, s.maxTopK)
	}

	ids, err := s.rdb.SRandMemberN(ctx, infra.RedisKeyVectorIndex, int64(s.scanCap)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis vector index: %w", err)
	}
	if len(ids) == 0 {
		return []Match{}, nil
	}

	cmds := make([]*redis.MapStringStringCmd, len(ids))
	_, err = s.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.HGetAll(ctx, infra.RedisKeyVectorPrefix+id)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("redis vector fetch: %w", err)
	}

	matches := make([]Match, 0, len(ids))
	for i, cmd := range cmds {
		fields := cmd.Val()
		stored := decodeVector([]byte(fields["vector"]))
		if len(stored) == 0 {
			continue // запись удалена между SRANDMEMBER и HGETALL
		}
		meta := map[string]string{}
		_ = json.Unmarshal([]byte(fields["meta"]), &meta)
		matches = append(matches, Match{ID: ids[i], Score: Cosine(vec, stored), Metadata: meta})
	}
	return rank(matches, topK), nil
}

// encodeVector little-endian float32, как FLOAT32 в RediSearch.
func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(b []byte) []float32 {
	if len(b)%4 != 0 {
		return nil
	}
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out
}
