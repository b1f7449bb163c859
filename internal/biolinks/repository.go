package biolinks

import (
	"context"
	"database/sql"
	"sort"
	"sync"

	"ExoLab-Agents/internal/embedding"
	xerrors "ExoLab-Agents/internal/errors"
)

// Record 是带向量的图库链接。
type Record struct {
	Link
	Vector []float64
}

// Result 是一次相似度检索的命中结果，Similarity 为负内积，越小越相似。
type Result struct {
	Name       string  `json:"name"`
	Href       string  `json:"href"`
	Similarity float64 `json:"similarity"`
}

// Repository 定义图库链接的持久化接口。
type Repository interface {
	Insert(ctx context.Context, records []Record) error
	Search(ctx context.Context, vector []float64, topN int) ([]Result, error)
}

// PostgresRepository 基于 pgvector 的 biolinks 表。
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository 创建 pgvector 仓库。
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const (
	insertSQL = `INSERT INTO biolinks (name, href, vector) VALUES ($1, $2, $3::vector)`
	searchSQL = `SELECT name, href, vector <#> $1::vector AS similarity FROM biolinks ORDER BY similarity LIMIT $2`
)

// Insert 在同一事务内写入全部记录。
func (r *PostgresRepository) Insert(ctx context.Context, records []Record) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "开启事务失败")
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, insertSQL)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "准备写入语句失败")
	}
	defer stmt.Close()

	for _, rec := range records {
		if _, err := stmt.ExecContext(ctx, rec.Name, rec.Href, embedding.Literal(rec.Vector)); err != nil {
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入 biolinks 失败")
		}
	}
	if err := tx.Commit(); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "提交事务失败")
	}
	return nil
}

// Search 按负内积升序返回前 topN 条记录。
func (r *PostgresRepository) Search(ctx context.Context, vector []float64, topN int) ([]Result, error) {
	rows, err := r.db.QueryContext(ctx, searchSQL, embedding.Literal(vector), topN)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "检索 biolinks 失败")
	}
	defer rows.Close()

	results := []Result{}
	for rows.Next() {
		var res Result
		if err := rows.Scan(&res.Name, &res.Href, &res.Similarity); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取 biolinks 失败")
		}
		results = append(results, res)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取 biolinks 失败")
	}
	return results, nil
}

// MemoryRepository 在内存中实现与 pgvector 相同的排序。
type MemoryRepository struct {
	mu      sync.RWMutex
	records []Record
}

// NewMemoryRepository 创建内存仓库。
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{}
}

// Insert 追加记录。
func (r *MemoryRepository) Insert(_ context.Context, records []Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range records {
		rec.Vector = append([]float64(nil), rec.Vector...)
		r.records = append(r.records, rec)
	}
	return nil
}

// Search 按负内积升序返回前 topN 条记录，相同得分保持写入顺序。
func (r *MemoryRepository) Search(_ context.Context, vector []float64, topN int) ([]Result, error) {
	r.mu.RLock()
	results := make([]Result, 0, len(r.records))
	for _, rec := range r.records {
		results = append(results, Result{
			Name:       rec.Name,
			Href:       rec.Href,
			Similarity: embedding.NegativeInnerProduct(rec.Vector, vector),
		})
	}
	r.mu.RUnlock()

	sort.SliceStable(results, func(i, j int) bool { return results[i].Similarity < results[j].Similarity })
	if topN >= 0 && len(results) > topN {
		results = results[:topN]
	}
	return results, nil
}
