package chat

import (
	"context"
	"database/sql"
	"sort"
	"sync"

	"ExoLab-Agents/internal/embedding"
	xerrors "ExoLab-Agents/internal/errors"
)

// Subtopic 是产品 subtopics 表中的一行，Similarity 为负内积。
type Subtopic struct {
	ID         any     `json:"id"`
	Name       string  `json:"name"`
	Text       string  `json:"text"`
	TopicID    any     `json:"topicId"`
	Similarity float64 `json:"similarity"`
}

// SubtopicIndex 根据向量检索相似的子主题。
type SubtopicIndex interface {
	Search(ctx context.Context, vector []float64, topN int) ([]Subtopic, error)
}

// PostgresSubtopicIndex 查询产品库中带 embedding 列的 subtopics 表。
type PostgresSubtopicIndex struct {
	db *sql.DB
}

// NewPostgresSubtopicIndex 创建 pgvector 检索。
func NewPostgresSubtopicIndex(db *sql.DB) *PostgresSubtopicIndex {
	return &PostgresSubtopicIndex{db: db}
}

const subtopicSearchSQL = `SELECT id, name, text, "topicId", (embedding::vector) <#> $1::vector AS similarity FROM subtopics ORDER BY similarity LIMIT $2`

// Search 实现 SubtopicIndex。
func (i *PostgresSubtopicIndex) Search(ctx context.Context, vector []float64, topN int) ([]Subtopic, error) {
	rows, err := i.db.QueryContext(ctx, subtopicSearchSQL, embedding.Literal(vector), topN)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "检索 subtopics 失败")
	}
	defer rows.Close()

	results := []Subtopic{}
	for rows.Next() {
		var s Subtopic
		var name, text sql.NullString
		if err := rows.Scan(&s.ID, &name, &text, &s.TopicID, &s.Similarity); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取 subtopics 失败")
		}
		s.Name, s.Text = name.String, text.String
		s.ID, s.TopicID = normalizeScalar(s.ID), normalizeScalar(s.TopicID)
		results = append(results, s)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取 subtopics 失败")
	}
	return results, nil
}

func normalizeScalar(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}

// MemorySubtopicIndex 在内存中实现相同的排序，用于开发与测试。
type MemorySubtopicIndex struct {
	mu      sync.RWMutex
	entries []indexedSubtopic
}

type indexedSubtopic struct {
	Subtopic
	vector []float64
}

// NewMemorySubtopicIndex 创建内存检索。
func NewMemorySubtopicIndex() *MemorySubtopicIndex {
	return &MemorySubtopicIndex{}
}

// Add 写入一个子主题及其向量。
func (i *MemorySubtopicIndex) Add(s Subtopic, vector []float64) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.entries = append(i.entries, indexedSubtopic{Subtopic: s, vector: append([]float64(nil), vector...)})
}

// Search 实现 SubtopicIndex。
func (i *MemorySubtopicIndex) Search(_ context.Context, vector []float64, topN int) ([]Subtopic, error) {
	i.mu.RLock()
	results := make([]Subtopic, 0, len(i.entries))
	for _, e := range i.entries {
		s := e.Subtopic
		s.Similarity = embedding.NegativeInnerProduct(e.vector, vector)
		results = append(results, s)
	}
	i.mu.RUnlock()

	sort.SliceStable(results, func(a, b int) bool { return results[a].Similarity < results[b].Similarity })
	if topN >= 0 && len(results) > topN {
		results = results[:topN]
	}
	return results, nil
}
