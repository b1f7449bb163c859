// Package embedding 将文本转换为 text-embedding-ada-002 向量，并提供 pgvector 字面量编码。
package embedding

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	xerrors "ExoLab-Agents/internal/errors"
	"ExoLab-Agents/internal/llm"
)

// Model 是默认的向量模型。
const Model = "text-embedding-ada-002"

// Dimensions 是 Model 输出向量的维度。
const Dimensions = 1536

// Service 负责文本向量化。
type Service struct {
	embedder   llm.Embedder
	model      string
	dimensions int
}

// Option 定义可选配置。
type Option func(*Service)

// WithDimensions 设置期望的向量维度，<=0 表示不校验。
func WithDimensions(n int) Option {
	return func(s *Service) {
		s.dimensions = n
	}
}

// NewService 创建向量化服务，默认要求 Dimensions 维输出。
func NewService(embedder llm.Embedder, opts ...Option) *Service {
	s := &Service{embedder: embedder, model: Model, dimensions: Dimensions}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Vectorize 返回文本的向量。
func (s *Service) Vectorize(ctx context.Context, text string) ([]float64, error) {
	if strings.TrimSpace(text) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "text 不能为空")
	}
	if s == nil || s.embedder == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置向量模型")
	}
	vector, err := s.embedder.Embed(ctx, s.model, text)
	if err != nil {
		if _, ok := xerrors.From(err); ok {
			return nil, err
		}
		return nil, xerrors.Wrap(xerrors.CodeUpstreamFailure, err, "Error generating embeddings")
	}
	if s.dimensions > 0 && len(vector) != s.dimensions {
		return nil, xerrors.New(xerrors.CodeUpstreamFailure,
			fmt.Sprintf("向量维度为 %d，期望 %d", len(vector), s.dimensions))
	}
	return vector, nil
}

// Literal 将向量编码为 pgvector 文本格式，例如 [0.1,0.2]。
func Literal(vector []float64) string {
	var b strings.Builder
	b.Grow(len(vector)*12 + 2)
	b.WriteByte('[')
	for i, v := range vector {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(v, 'g', -1, 64))
	}
	b.WriteByte(']')
	return b.String()
}

// NegativeInnerProduct 与 pgvector 的 <#> 运算符一致，值越小越相似。
func NegativeInnerProduct(a, b []float64) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var sum float64
	for i := 0; i < n; i++ {
		sum += a[i] * b[i]
	}
	return -sum
}
