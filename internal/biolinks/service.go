// Package biolinks 解析人体解剖图库页面，向量化卡片名称并提供相似度检索。
package biolinks

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"ExoLab-Agents/internal/agent"
	"ExoLab-Agents/internal/embedding"
	xerrors "ExoLab-Agents/internal/errors"
	"ExoLab-Agents/pkg/logger"
)

// DefaultTopN 是检索的默认返回条数。
const DefaultTopN = 3

// Service 负责图库链接的导入与检索。
type Service struct {
	vectors     *embedding.Service
	repo        Repository
	concurrency int
}

// NewService 创建服务，concurrency 限制并行向量化的数量。
func NewService(vectors *embedding.Service, repo Repository, concurrency int) *Service {
	return &Service{vectors: vectors, repo: repo, concurrency: concurrency}
}

// Extract 解析 HTML 文件、向量化每个名称并写入仓库，返回写入条数。
func (s *Service) Extract(ctx context.Context, filePath string) (int, error) {
	if strings.TrimSpace(filePath) == "" {
		return 0, xerrors.New(xerrors.CodeInvalidArgument, "file_path 不能为空")
	}
	links, err := ParseFile(filePath)
	if err != nil {
		return 0, err
	}
	records, err := agent.Map(ctx, s.concurrency, links, func(ctx context.Context, link Link) (Record, error) {
		vector, err := s.vectors.Vectorize(ctx, link.Name)
		if err != nil {
			return Record{}, err
		}
		return Record{Link: link, Vector: vector}, nil
	})
	if err != nil {
		return 0, err
	}
	if err := s.repo.Insert(ctx, records); err != nil {
		return 0, err
	}
	logger.Audit().Info("biolinks 导入完成",
		slog.String("file_path", filePath),
		slog.Int("records", len(records)))
	return len(records), nil
}

// InsertedMessage 格式化导入结果。
func InsertedMessage(n int) string {
	return fmt.Sprintf("Inserted %d records.", n)
}

// Search 检索与查询文本最相似的链接。topN<=0 时使用 DefaultTopN。
func (s *Service) Search(ctx context.Context, queryText string, topN int) ([]Result, error) {
	if topN <= 0 {
		topN = DefaultTopN
	}
	vector, err := s.vectors.Vectorize(ctx, queryText)
	if err != nil {
		return nil, err
	}
	return s.repo.Search(ctx, vector, topN)
}
