package api

import (
	"net/http"

	"ExoLab-Agents/internal/chat"
)

type chatCreateRequest struct {
	Message string `json:"message"`
}

type chatMessageRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

type chatHistoryResponse struct {
	SessionID string              `json:"session_id"`
	History   []chat.HistoryEntry `json:"history"`
}

type subtopicsQueryRequest struct {
	Query string `json:"query"`
	TopN  int    `json:"top_n"`
}

type subtopicsQueryResponse struct {
	Results []chat.Subtopic `json:"results"`
}

type agentQueryResponse struct {
	Result string `json:"result"`
}

func (s *Server) handleChatCreate(w http.ResponseWriter, r *http.Request) {
	s.createSession(w, r, false)
}

func (s *Server) handleNewChatCreate(w http.ResponseWriter, r *http.Request) {
	s.createSession(w, r, true)
}

func (s *Server) handleChatMessage(w http.ResponseWriter, r *http.Request) {
	s.sendMessage(w, r, false)
}

func (s *Server) handleNewChatMessage(w http.ResponseWriter, r *http.Request) {
	s.sendMessage(w, r, true)
}

// createSession 处理 /chat/create 与 /newchat/create，assistant 为 true 时走 Chat Assistant 智能体。
func (s *Server) createSession(w http.ResponseWriter, r *http.Request, assistant bool) {
	if s.services.Chat == nil {
		unavailable(w, r, "会话服务")
		return
	}
	var req chatCreateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	create := s.services.Chat.Create
	if assistant {
		create = s.services.Chat.CreateNewChat
	}
	reply, err := create(r.Context(), req.Message)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

func (s *Server) sendMessage(w http.ResponseWriter, r *http.Request, assistant bool) {
	if s.services.Chat == nil {
		unavailable(w, r, "会话服务")
		return
	}
	var req chatMessageRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	send := s.services.Chat.Send
	if assistant {
		send = s.services.Chat.SendNewChat
	}
	reply, err := send(r.Context(), req.SessionID, req.Message)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

func (s *Server) handleChatHistory(w http.ResponseWriter, r *http.Request) {
	if s.services.Chat == nil {
		unavailable(w, r, "会话服务")
		return
	}
	sessionID := r.URL.Query().Get("session_id")
	history, err := s.services.Chat.History(r.Context(), sessionID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, chatHistoryResponse{SessionID: sessionID, History: history})
}

func (s *Server) handleQuerySubtopics(w http.ResponseWriter, r *http.Request) {
	if s.services.Chat == nil {
		unavailable(w, r, "会话服务")
		return
	}
	req := subtopicsQueryRequest{TopN: chat.DefaultTopN}
	if !decodeJSON(w, r, &req) {
		return
	}
	results, err := s.services.Chat.QuerySubtopics(r.Context(), req.Query, req.TopN)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if results == nil {
		results = []chat.Subtopic{}
	}
	writeJSON(w, http.StatusOK, subtopicsQueryResponse{Results: results})
}

func (s *Server) handleQuerySubtopicsAgent(w http.ResponseWriter, r *http.Request) {
	if s.services.Chat == nil {
		unavailable(w, r, "会话服务")
		return
	}
	var req subtopicsQueryRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	result, err := s.services.Chat.QuerySubtopicsAgent(r.Context(), req.Query)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, agentQueryResponse{Result: result})
}
