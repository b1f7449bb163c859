package api

import (
	"net/http"

	"ExoLab-Agents/internal/curriculum"
	"ExoLab-Agents/internal/questions"
)

type contentRequest struct {
	Content string `json:"content"`
}

type topicsRequest struct {
	Topics []string `json:"topics"`
}

type topicsResponse struct {
	Topics []string `json:"topics"`
}

type subtopicsRequest struct {
	Data []curriculum.TopicSubtopics `json:"data"`
}

type subtopicsResponse struct {
	Data []curriculum.TopicSubtopics `json:"data"`
}

type explanationsResponse struct {
	Explanations []curriculum.Explanation `json:"explanations"`
}

type bookRequest struct {
	Title string `json:"title"`
}

type questionsResponse struct {
	Questions []questions.Question `json:"questions"`
}

func (s *Server) handleExtractTopics(w http.ResponseWriter, r *http.Request) {
	if s.services.Curriculum == nil {
		unavailable(w, r, "课程服务")
		return
	}
	var req contentRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	topics, err := s.services.Curriculum.ExtractTopics(r.Context(), req.Content)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, topicsResponse{Topics: topics})
}

func (s *Server) handleExtractSubtopics(w http.ResponseWriter, r *http.Request) {
	if s.services.Curriculum == nil {
		unavailable(w, r, "课程服务")
		return
	}
	var req topicsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	data, err := s.services.Curriculum.ExtractSubtopics(r.Context(), req.Topics)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if data == nil {
		data = []curriculum.TopicSubtopics{}
	}
	writeJSON(w, http.StatusOK, subtopicsResponse{Data: data})
}

func (s *Server) handleGenerateExplanations(w http.ResponseWriter, r *http.Request) {
	if s.services.Curriculum == nil {
		unavailable(w, r, "课程服务")
		return
	}
	var req subtopicsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	out, err := s.services.Curriculum.GenerateExplanations(r.Context(), req.Data)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if out == nil {
		out = []curriculum.Explanation{}
	}
	writeJSON(w, http.StatusOK, explanationsResponse{Explanations: out})
}

func (s *Server) handleBookTOC(w http.ResponseWriter, r *http.Request) {
	if s.services.Curriculum == nil {
		unavailable(w, r, "课程服务")
		return
	}
	var req bookRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	toc, err := s.services.Curriculum.FindTableOfContents(r.Context(), req.Title)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toc)
}

func (s *Server) handleExtractCourse(w http.ResponseWriter, r *http.Request) {
	if s.services.Curriculum == nil {
		unavailable(w, r, "课程服务")
		return
	}
	var req contentRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	course, err := s.services.Curriculum.ExtractCourse(r.Context(), req.Content)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, course)
}

func (s *Server) handleGenerateQuestions(w http.ResponseWriter, r *http.Request) {
	if s.services.Questions == nil {
		unavailable(w, r, "题目服务")
		return
	}
	var req questions.Request
	if !decodeJSON(w, r, &req) {
		return
	}
	out, err := s.services.Questions.Generate(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if out == nil {
		out = []questions.Question{}
	}
	writeJSON(w, http.StatusOK, questionsResponse{Questions: out})
}
