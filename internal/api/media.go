package api

import (
	"net/http"

	"ExoLab-Agents/internal/biolinks"
	"ExoLab-Agents/internal/media"
)

type vectorizeRequest struct {
	Text string `json:"text"`
}

type vectorizeResponse struct {
	Embedding []float64 `json:"embedding"`
}

type biolinksExtractRequest struct {
	FilePath string `json:"file_path"`
}

type messageResponse struct {
	Message string `json:"message"`
}

type biolinksSearchRequest struct {
	QueryText string `json:"query_text"`
	TopN      int    `json:"top_n"`
}

type biolinksSearchResponse struct {
	Results []biolinks.Result `json:"results"`
}

type promptRequest struct {
	Prompt string `json:"prompt"`
}

type imageResponse struct {
	ImageURL string `json:"image_url"`
}

type videoResponse struct {
	VideoURL string `json:"video_url"`
}

func (s *Server) handleVectorize(w http.ResponseWriter, r *http.Request) {
	if s.services.Vectorizer == nil {
		unavailable(w, r, "向量服务")
		return
	}
	var req vectorizeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	vec, err := s.services.Vectorizer.Vectorize(r.Context(), req.Text)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, vectorizeResponse{Embedding: vec})
}

func (s *Server) handleBiolinksExtract(w http.ResponseWriter, r *http.Request) {
	if s.services.Biolinks == nil {
		unavailable(w, r, "图库链接服务")
		return
	}
	var req biolinksExtractRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	n, err := s.services.Biolinks.Extract(r.Context(), req.FilePath)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: biolinks.InsertedMessage(n)})
}

func (s *Server) handleBiolinksSearch(w http.ResponseWriter, r *http.Request) {
	if s.services.Biolinks == nil {
		unavailable(w, r, "图库链接服务")
		return
	}
	req := biolinksSearchRequest{TopN: biolinks.DefaultTopN}
	if !decodeJSON(w, r, &req) {
		return
	}
	results, err := s.services.Biolinks.Search(r.Context(), req.QueryText, req.TopN)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if results == nil {
		results = []biolinks.Result{}
	}
	writeJSON(w, http.StatusOK, biolinksSearchResponse{Results: results})
}

func (s *Server) handleGenerateImage(w http.ResponseWriter, r *http.Request) {
	if s.services.Images == nil {
		unavailable(w, r, "图片服务")
		return
	}
	var req promptRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	url, err := s.services.Images.Generate(r.Context(), req.Prompt)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, imageResponse{ImageURL: url})
}

func (s *Server) handleSearchImage(w http.ResponseWriter, r *http.Request) {
	if s.services.Images == nil {
		unavailable(w, r, "图片服务")
		return
	}
	var req promptRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	url, err := s.services.Images.Search(r.Context(), req.Prompt)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, imageResponse{ImageURL: url})
}

func (s *Server) handleGenerateVideo(w http.ResponseWriter, r *http.Request) {
	if s.services.Videos == nil {
		unavailable(w, r, "视频服务")
		return
	}
	var req media.VideoRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	url, err := s.services.Videos.Generate(r.Context(), req.WithDefaults())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, videoResponse{VideoURL: url})
}

func (s *Server) handleGenerateDiagram(w http.ResponseWriter, r *http.Request) {
	if s.services.Diagrams == nil {
		unavailable(w, r, "图表服务")
		return
	}
	var req promptRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	diagram, err := s.services.Diagrams.Generate(r.Context(), req.Prompt)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, diagram)
}

func (s *Server) handleGenerateDiagramPNG(w http.ResponseWriter, r *http.Request) {
	if s.services.Diagrams == nil {
		unavailable(w, r, "图表服务")
		return
	}
	var req promptRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	png, err := s.services.Diagrams.GeneratePNG(r.Context(), req.Prompt)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Disposition", `attachment; filename="diagram.png"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(png)
}
