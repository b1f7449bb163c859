package media

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"ExoLab-Agents/internal/agent"
	xerrors "ExoLab-Agents/internal/errors"
	"ExoLab-Agents/internal/llm"
)

// ImageModel 是图像生成模型。
const ImageModel = "dall-e-3"

// ImageSearchAgent 联网搜索与描述匹配的图片。
var ImageSearchAgent = agent.WithOutput[ImageResult](agent.Agent{
	Name:        "Image Searcher",
	Model:       "gpt-4o",
	Temperature: llm.Temperature(0.7),
	WebSearch:   true,
	Instructions: `You are an image searcher agent.
When given an image description prompt, search the web for a relevant image.
Return a JSON object with:
  - "image_url": a direct URL link to an image that best matches the description.`,
}, "image_output")

// ImageResult 是图像接口的输出。
type ImageResult struct {
	ImageURL string `json:"image_url"`
}

// ImageService 负责图像生成与搜索。
type ImageService struct {
	generator llm.ImageGenerator
	runner    *agent.Runner
	size      string

	hostOnce sync.Once
	host     HostInfo
	detect   func(context.Context) HostInfo
}

// NewImageService 创建图像服务，size 为空时使用 1024x1024。
func NewImageService(generator llm.ImageGenerator, runner *agent.Runner, size string) *ImageService {
	if size == "" {
		size = "1024x1024"
	}
	return &ImageService{generator: generator, runner: runner, size: size, detect: DetectHost}
}

// ImagePrompt 在用户提示词后追加主机信息与渲染要求。
func ImagePrompt(prompt string, host HostInfo) string {
	return fmt.Sprintf("%s. %s. Render as a realistic 3D image suitable for scientific visualization.", prompt, host)
}

// Generate 生成图像并返回 URL。
func (s *ImageService) Generate(ctx context.Context, prompt string) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", xerrors.New(xerrors.CodeInvalidArgument, "prompt 不能为空")
	}
	if s.generator == nil {
		return "", xerrors.New(xerrors.CodeInitializationFailure, "未配置图像生成接口")
	}
	// 结果会被缓存，探测不能随首个请求的取消而中断。
	s.hostOnce.Do(func() { s.host = s.detect(context.WithoutCancel(ctx)) })

	url, err := s.generator.GenerateImage(ctx, llm.ImageRequest{
		Model:  ImageModel,
		Prompt: ImagePrompt(prompt, s.host),
		Size:   s.size,
		N:      1,
	})
	if err != nil {
		if _, ok := xerrors.From(err); ok {
			return "", err
		}
		return "", xerrors.Wrap(xerrors.CodeUpstreamFailure, err, "图像生成失败")
	}
	return url, nil
}

// Search 联网搜索图片并返回 URL。
func (s *ImageService) Search(ctx context.Context, prompt string) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", xerrors.New(xerrors.CodeInvalidArgument, "prompt 不能为空")
	}
	out, err := agent.RunStructured[ImageResult](ctx, s.runner, ImageSearchAgent, prompt)
	if err != nil {
		return "", err
	}
	return out.ImageURL, nil
}
