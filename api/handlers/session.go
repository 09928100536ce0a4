// Package handlers provides HTTP API request handlers.
package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/shared-code-editor/backend/internal/model"
	"github.com/shared-code-editor/backend/internal/ws"
)

// HistoryReader lists persisted session history.
type HistoryReader interface {
	List(ctx context.Context, filter model.HistoryFilter) ([]*model.HistoryRecord, error)
	Count(ctx context.Context, filter model.HistoryFilter) (int, error)
}

// SessionHandler handles HTTP requests for session management.
type SessionHandler struct {
	service *ws.Service
	history HistoryReader
}

// NewSessionHandler creates a new SessionHandler. history may be nil, in
// which case listings fall back to the live sessions.
func NewSessionHandler(service *ws.Service, history HistoryReader) *SessionHandler {
	return &SessionHandler{
		service: service,
		history: history,
	}
}

// SessionResponse represents a live session in API responses.
type SessionResponse struct {
	ID            string              `json:"id"`
	Language      string              `json:"language"`
	ContentLength int                 `json:"contentLength"`
	Participants  []model.Participant `json:"participants"`
	FileCount     int                 `json:"fileCount"`
	Connections   int                 `json:"connections"`
	CreatedAt     string              `json:"createdAt"`
	LastModified  string              `json:"lastModified"`
}

// FileResponse is a file's metadata without its content.
type FileResponse struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Type       string `json:"type"`
	Size       int64  `json:"size"`
	UploadedBy string `json:"uploadedBy"`
	UploadedAt string `json:"uploadedAt"`
	IsTextFile bool   `json:"isTextFile"`
	Category   string `json:"category,omitempty"`
	Warning    string `json:"warning,omitempty"`
}

// ListResponse is a page of session history.
type ListResponse struct {
	Sessions []*model.HistoryRecord `json:"sessions"`
	Total    int                    `json:"total"`
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error details.
type ErrorDetail struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// sendError sends an error response with the appropriate status code.
func sendError(c *gin.Context, statusCode int, code, message string) {
	c.JSON(statusCode, ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
		},
	})
}

func toFileResponse(f model.File) FileResponse {
	return FileResponse{
		ID:         f.ID,
		Name:       f.Name,
		Type:       f.Type,
		Size:       f.Size,
		UploadedBy: f.UploadedBy,
		UploadedAt: f.UploadedAt.Format(time.RFC3339),
		IsTextFile: f.IsTextFile,
		Category:   f.Category,
		Warning:    f.Warning,
	}
}

// Bootstrap handles GET /api/socket. Clients call it before connecting; it
// makes sure the synchronization service is running and is safe to repeat.
func (h *SessionHandler) Bootstrap(c *gin.Context) {
	h.service.Start()
	c.String(http.StatusOK, "Socket server is running")
}

// Create handles POST /api/sessions - allocates a new session id. The
// session itself is created by the first join.
func (h *SessionHandler) Create(c *gin.Context) {
	c.JSON(http.StatusCreated, gin.H{"id": uuid.New().String()})
}

// Get handles GET /api/sessions/:id - summarizes a live session.
func (h *SessionHandler) Get(c *gin.Context) {
	sessionID := c.Param("id")

	sess, ok := h.service.Store().Get(sessionID)
	if !ok {
		sendError(c, http.StatusNotFound, "SESSION_NOT_FOUND", "Session "+sessionID+" not found")
		return
	}

	connections := 0
	if hub := h.service.HubManager().Get(sessionID); hub != nil {
		connections = hub.ClientCount()
	}

	c.JSON(http.StatusOK, &SessionResponse{
		ID:            sess.ID,
		Language:      sess.Language,
		ContentLength: len(sess.Content),
		Participants:  sess.ParticipantList(),
		FileCount:     len(sess.Files),
		Connections:   connections,
		CreatedAt:     sess.CreatedAt.Format(time.RFC3339),
		LastModified:  sess.LastModified.Format(time.RFC3339),
	})
}

// ListFiles handles GET /api/sessions/:id/files - lists file metadata.
func (h *SessionHandler) ListFiles(c *gin.Context) {
	sessionID := c.Param("id")

	files := h.service.Store().ListFiles(sessionID)
	if files == nil {
		sendError(c, http.StatusNotFound, "SESSION_NOT_FOUND", "Session "+sessionID+" not found")
		return
	}

	response := make([]FileResponse, len(files))
	for i, f := range files {
		response[i] = toFileResponse(f)
	}
	c.JSON(http.StatusOK, response)
}

// List handles GET /api/sessions - lists session history.
func (h *SessionHandler) List(c *gin.Context) {
	filter, err := parseHistoryFilter(c)
	if err != nil {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		return
	}

	if h.history == nil {
		c.JSON(http.StatusOK, liveHistory(h.service.Store().List(), filter))
		return
	}

	ctx := c.Request.Context()
	records, err := h.history.List(ctx, filter)
	if err != nil {
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list sessions: "+err.Error())
		return
	}
	total, err := h.history.Count(ctx, filter)
	if err != nil {
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to count sessions: "+err.Error())
		return
	}

	c.JSON(http.StatusOK, ListResponse{Sessions: records, Total: total})
}

func parseHistoryFilter(c *gin.Context) (model.HistoryFilter, error) {
	var filter model.HistoryFilter

	if v := c.Query("active"); v != "" {
		active, err := strconv.ParseBool(v)
		if err != nil {
			return filter, errors.New("active must be true or false")
		}
		filter.Active = &active
	}
	if v := c.Query("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			return filter, errors.New("limit must be a non-negative integer")
		}
		filter.Limit = limit
	}
	if v := c.Query("offset"); v != "" {
		offset, err := strconv.Atoi(v)
		if err != nil || offset < 0 {
			return filter, errors.New("offset must be a non-negative integer")
		}
		filter.Offset = offset
	}
	return filter, nil
}

// liveHistory renders live sessions as history records. Without a history
// database every known session is active.
func liveHistory(live []model.SessionInfo, filter model.HistoryFilter) ListResponse {
	records := make([]*model.HistoryRecord, 0, len(live))
	if filter.Active == nil || *filter.Active {
		for _, info := range live {
			records = append(records, &model.HistoryRecord{
				ID:               info.ID,
				Language:         info.Language,
				CreatedAt:        info.CreatedAt,
				LastModified:     info.LastModified,
				FileCount:        info.FileCount,
				PeakParticipants: info.PeakParticipants,
			})
		}
	}

	total := len(records)
	if filter.Offset >= len(records) {
		records = records[:0]
	} else {
		records = records[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(records) {
		records = records[:filter.Limit]
	}
	return ListResponse{Sessions: records, Total: total}
}

// GetLogs handles GET /api/sessions/:id/logs - downloads the activity recording.
func (h *SessionHandler) GetLogs(c *gin.Context) {
	sessionID := c.Param("id")

	recorders := h.service.Recorders()
	if recorders == nil {
		sendError(c, http.StatusNotFound, "LOG_NOT_FOUND", "Session recording is disabled")
		return
	}

	path, err := recorders.Lookup(sessionID)
	if err != nil {
		if errors.Is(err, model.ErrRecordingNotFound) {
			sendError(c, http.StatusNotFound, "LOG_NOT_FOUND", "Log file not found for session "+sessionID)
			return
		}
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to find log: "+err.Error())
		return
	}

	// Set headers for file download
	c.Header("Content-Type", "application/x-ndjson")
	c.Header("Content-Disposition", "attachment; filename="+sessionID+".jsonl")

	c.File(path)
}

// Health handles GET /health.
func (h *SessionHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":      "ok",
		"sessions":    h.service.Store().Len(),
		"connections": h.service.HubManager().ConnectionCount(),
	})
}

// RegisterRoutes registers the session handler routes on a Gin router group.
func (h *SessionHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/socket", h.Bootstrap)

	sessions := rg.Group("/sessions")
	{
		sessions.POST("", h.Create)
		sessions.GET("", h.List)
		sessions.GET("/:id", h.Get)
		sessions.GET("/:id/files", h.ListFiles)
		sessions.GET("/:id/logs", h.GetLogs)
	}
}
