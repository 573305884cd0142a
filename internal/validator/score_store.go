package validator

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/bytedance/sonic"

	"github.com/tensorplex-labs/templar/internal/scoring"
	"github.com/tensorplex-labs/templar/internal/utils/fsutil"
	"github.com/tensorplex-labs/templar/internal/utils/redis"
)

const DefaultScoresKey = "templar:validator:scores"

// scoresFile is the persisted layout shared by both stores.
type scoresFile struct {
	Scores map[string]scoring.ScoreRecord `json:"scores"`
}

func decodeScores(raw []byte) (map[string]scoring.ScoreRecord, error) {
	var f scoresFile
	if err := sonic.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("unmarshal scores: %w", err)
	}
	if f.Scores == nil {
		f.Scores = make(map[string]scoring.ScoreRecord)
	}
	return f.Scores, nil
}

// FileScoreStore keeps scores in a JSON file replaced atomically on save.
type FileScoreStore struct {
	Path string
}

var _ ScoreStore = (*FileScoreStore)(nil)

func NewFileScoreStore(path string) *FileScoreStore {
	return &FileScoreStore{Path: path}
}

func (f *FileScoreStore) Load(_ context.Context) (map[string]scoring.ScoreRecord, error) {
	raw, err := os.ReadFile(f.Path)
	if errors.Is(err, os.ErrNotExist) {
		return make(map[string]scoring.ScoreRecord), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read scores file: %w", err)
	}
	return decodeScores(raw)
}

func (f *FileScoreStore) Save(_ context.Context, records map[string]scoring.ScoreRecord) error {
	raw, err := sonic.Marshal(scoresFile{Scores: records})
	if err != nil {
		return fmt.Errorf("marshal scores: %w", err)
	}
	return fsutil.WriteFileAtomic(f.Path, raw, 0o644)
}

// RedisScoreStore keeps scores under a single redis key.
type RedisScoreStore struct {
	Client redis.RedisInterface
	Key    string
}

var _ ScoreStore = (*RedisScoreStore)(nil)

func NewRedisScoreStore(client redis.RedisInterface, key string) *RedisScoreStore {
	if key == "" {
		key = DefaultScoresKey
	}
	return &RedisScoreStore{Client: client, Key: key}
}

func (r *RedisScoreStore) Load(ctx context.Context) (map[string]scoring.ScoreRecord, error) {
	raw, err := r.Client.Get(ctx, r.Key)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", r.Key, err)
	}
	if raw == "" {
		return make(map[string]scoring.ScoreRecord), nil
	}
	return decodeScores([]byte(raw))
}

func (r *RedisScoreStore) Save(ctx context.Context, records map[string]scoring.ScoreRecord) error {
	raw, err := sonic.MarshalString(scoresFile{Scores: records})
	if err != nil {
		return fmt.Errorf("marshal scores: %w", err)
	}
	return r.Client.Set(ctx, r.Key, raw, 0)
}
