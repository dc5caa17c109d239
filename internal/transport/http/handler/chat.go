package handler

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/SkywardAI/kirin/internal/app"
	"github.com/SkywardAI/kirin/internal/model"
	"github.com/SkywardAI/kirin/internal/transport/http/response"
)

type ChatHandler struct {
	chatService     *app.ChatService
	defaultNPredict int
}

type StreamTurnRequest struct {
	SessionUUID string  `json:"session_uuid"`
	Message     string  `json:"message" binding:"required"`
	Temperature float64 `json:"temperature"`
	TopK        int     `json:"top_k"`
	TopP        float64 `json:"top_p"`
	NPredict    int     `json:"n_predict"`
}

type CreateSessionRequest struct {
	Name        string `json:"name" binding:"max=128"`
	SessionType string `json:"session_type"`
}

type UpdateSessionRequest struct {
	Name        string `json:"name" binding:"max=128"`
	SessionType string `json:"session_type"`
}

type BindDatasetRequest struct {
	DatasetName string `json:"dataset_name" binding:"required"`
}

type SaveHistoryRequest struct {
	SessionUUID string             `json:"session_uuid" binding:"required"`
	ChatHistory []SavedTurnPayload `json:"chat_history" binding:"required"`
}

type SavedTurnPayload struct {
	Role    string `json:"role"`
	Message string `json:"message"`
}

func NewChatHandler(chatService *app.ChatService, defaultNPredict int) *ChatHandler {
	if defaultNPredict <= 0 {
		defaultNPredict = 128
	}
	return &ChatHandler{chatService: chatService, defaultNPredict: defaultNPredict}
}

func (h *ChatHandler) CreateSession(c *gin.Context) {
	accountID, ok := getAccountIDFromContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}

	var req CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}

	session, err := h.chatService.CreateSession(app.CreateSessionInput{
		AccountID: &accountID,
		Name:      req.Name,
		Kind:      model.ParseSessionKind(req.SessionType),
	})
	if err != nil {
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "create session failed")
		return
	}

	response.OK(c, session)
}

func (h *ChatHandler) ListSessions(c *gin.Context) {
	accountID, ok := getAccountIDFromContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}

	sessions, err := h.chatService.ListSessions(accountID)
	if err != nil {
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "list sessions failed")
		return
	}

	response.OK(c, sessions)
}

func (h *ChatHandler) UpdateSession(c *gin.Context) {
	sessionUUID := c.Param("uuid")

	var req UpdateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}

	// An absent session_type leaves the stored kind untouched.
	var kind model.SessionKind
	if req.SessionType != "" {
		kind = model.ParseSessionKind(req.SessionType)
	}

	session, err := h.chatService.UpdateSession(sessionUUID, optionalAccountID(c), req.Name, kind)
	if err != nil {
		switch {
		case errors.Is(err, app.ErrInvalidInput):
			response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
		case errors.Is(err, app.ErrSessionNotFound):
			response.Error(c, http.StatusNotFound, response.CodeSessionNotFound, err.Error())
		default:
			response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "update session failed")
		}
		return
	}

	response.OK(c, session)
}

func (h *ChatHandler) BindDataset(c *gin.Context) {
	sessionUUID := c.Param("uuid")

	var req BindDatasetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}

	session, err := h.chatService.BindDataset(sessionUUID, optionalAccountID(c), req.DatasetName)
	if err != nil {
		switch {
		case errors.Is(err, app.ErrInvalidInput):
			response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
		case errors.Is(err, app.ErrSessionNotFound):
			response.Error(c, http.StatusNotFound, response.CodeSessionNotFound, err.Error())
		default:
			response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "bind dataset failed")
		}
		return
	}

	response.OK(c, session)
}

// StreamTurn streams one completion turn as SSE. Fragments are relayed
// in arrival order; upstream failures after the stream opens end the
// stream without an error event body of their own, matching what the
// inference engine exposes.
func (h *ChatHandler) StreamTurn(c *gin.Context) {
	var req StreamTurnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}
	if req.NPredict <= 0 {
		req.NPredict = h.defaultNPredict
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "stream not supported")
		return
	}

	err := h.chatService.StreamTurn(c.Request.Context(), app.StreamTurnInput{
		SessionUUID: req.SessionUUID,
		AccountID:   optionalAccountID(c),
		Message:     req.Message,
		Temperature: req.Temperature,
		TopK:        req.TopK,
		TopP:        req.TopP,
		NPredict:    req.NPredict,
	}, func(chunk string) error {
		if _, writeErr := c.Writer.Write([]byte("data: " + sanitizeSSE(chunk) + "\n\n")); writeErr != nil {
			return writeErr
		}
		flusher.Flush()
		return nil
	})
	if err != nil {
		if _, writeErr := c.Writer.Write([]byte(fmt.Sprintf("event: error\ndata: %s\n\n", sanitizeSSE(err.Error())))); writeErr == nil {
			flusher.Flush()
		}
		return
	}

	if _, writeErr := c.Writer.Write([]byte("event: done\ndata: \n\n")); writeErr == nil {
		flusher.Flush()
	}
}

func (h *ChatHandler) GetHistory(c *gin.Context) {
	sessionUUID := c.Query("session_uuid")
	if sessionUUID == "" {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid session_uuid")
		return
	}

	limit := 50
	if raw := c.Query("limit"); raw != "" {
		if parsed, parseErr := strconv.Atoi(raw); parseErr == nil {
			limit = parsed
		}
	}

	history, err := h.chatService.GetHistory(c.Request.Context(), sessionUUID, optionalAccountID(c), limit)
	if err != nil {
		switch {
		case errors.Is(err, app.ErrInvalidInput):
			response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
		case errors.Is(err, app.ErrSessionNotFound):
			response.Error(c, http.StatusNotFound, response.CodeSessionNotFound, err.Error())
		default:
			response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "get history failed")
		}
		return
	}

	response.OK(c, history)
}

func (h *ChatHandler) SaveHistory(c *gin.Context) {
	var req SaveHistoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}

	saved := make([]app.SavedTurn, len(req.ChatHistory))
	for i, turn := range req.ChatHistory {
		saved[i] = app.SavedTurn{Role: turn.Role, Message: turn.Message}
	}

	err := h.chatService.SaveHistory(c.Request.Context(), req.SessionUUID, optionalAccountID(c), saved)
	if err != nil {
		switch {
		case errors.Is(err, app.ErrInvalidInput):
			response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
		case errors.Is(err, app.ErrSessionNotFound):
			response.Error(c, http.StatusNotFound, response.CodeSessionNotFound, err.Error())
		case errors.Is(err, app.ErrMessageEnqueue):
			response.Error(c, http.StatusServiceUnavailable, response.CodeInternalServer, err.Error())
		default:
			response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "save history failed")
		}
		return
	}

	response.OK(c, gin.H{"saved": len(saved)})
}

func sanitizeSSE(input string) string {
	replaced := strings.ReplaceAll(input, "\r\n", "\\n")
	replaced = strings.ReplaceAll(replaced, "\n", "\\n")
	return replaced
}
