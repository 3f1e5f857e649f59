package server

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"talent/internal/database"
	"talent/internal/model"
	"talent/internal/orchestrator"
)

// RetryRequest optionally names the files to retry; empty means every file
// with a retryable error
type RetryRequest struct {
	FileIDs []string `json:"file_ids"`
}

// SessionResponse is the wire shape of one import session
type SessionResponse struct {
	ID             string         `json:"id"`
	UserID         string         `json:"user_id"`
	UserEmail      string         `json:"user_email,omitempty"`
	Status         string         `json:"status"`
	TotalFiles     int            `json:"total_files"`
	ParsedCount    int            `json:"parsed_count"`
	ImportedCount  int            `json:"imported_count"`
	FailedCount    int            `json:"failed_count"`
	Percent        int            `json:"percent"`
	CreatedAt      string         `json:"created_at"`
	StartedAt      string         `json:"started_at,omitempty"`
	CompletedAt    string         `json:"completed_at,omitempty"`
	ErrorMessage   string         `json:"error_message,omitempty"`
	ErrorBreakdown map[string]int `json:"error_breakdown,omitempty"`
	AvgParseTimeMs float64        `json:"avg_parse_time_ms,omitempty"`
}

// createImportHandler accepts a multipart batch of CV documents and starts a
// session for them
func (s *Server) createImportHandler(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid multipart form: " + err.Error()})
		return
	}

	userID := c.PostForm("user_id")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
		return
	}
	userEmail := c.PostForm("user_email")

	fileHeaders := form.File["files"]

	docs := make([]orchestrator.DocumentUpload, 0, len(fileHeaders))
	for _, fh := range fileHeaders {
		f, err := fh.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read file " + fh.Filename + ": " + err.Error()})
			return
		}
		defer f.Close()

		docs = append(docs, orchestrator.DocumentUpload{
			FileName: fh.Filename,
			Content:  f,
		})
	}

	sessionID, err := s.ic.StartImport(c.Request.Context(), docs, orchestrator.Owner{
		UserID: userID,
		Email:  userEmail,
	})
	if err != nil {
		if errors.Is(err, orchestrator.ErrEmptyBatch) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "No files provided"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to start import: " + err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"id":          sessionID.Hex(),
		"total_files": len(docs),
	})
}

// listImportsHandler lists sessions for one user, newest first
func (s *Server) listImportsHandler(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
		return
	}

	limit, offset := getPaginationParams(c)

	sessions, err := s.ic.ListSessions(c.Request.Context(), userID, limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list imports: " + err.Error()})
		return
	}

	response := make([]SessionResponse, 0, len(sessions))
	for _, session := range sessions {
		response = append(response, convertSessionToResponse(session))
	}

	c.JSON(http.StatusOK, response)
}

// getImportHandler returns one session with its derived progress
func (s *Server) getImportHandler(c *gin.Context) {
	sessionID, ok := sessionIDParam(c)
	if !ok {
		return
	}

	snap, err := s.ic.GetProgress(c.Request.Context(), sessionID)
	if err != nil {
		respondSessionError(c, err)
		return
	}

	c.JSON(http.StatusOK, snap)
}

// listImportFilesHandler returns the file records of one session, optionally
// filtered by status
func (s *Server) listImportFilesHandler(c *gin.Context) {
	sessionID, ok := sessionIDParam(c)
	if !ok {
		return
	}

	var statuses []model.FileStatus
	if statusParam := c.Query("status"); statusParam != "" {
		status := model.FileStatus(statusParam)
		if !isValidFileStatus(status) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid file status"})
			return
		}
		statuses = append(statuses, status)
	}

	files, err := s.ic.ListFiles(c.Request.Context(), sessionID, statuses)
	if err != nil {
		respondSessionError(c, err)
		return
	}

	c.JSON(http.StatusOK, files)
}

func (s *Server) resumeImportHandler(c *gin.Context) {
	sessionID, ok := sessionIDParam(c)
	if !ok {
		return
	}

	resumed, err := s.ic.Resume(c.Request.Context(), sessionID)
	if err != nil {
		respondSessionError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"resumed": resumed})
}

func (s *Server) retryImportHandler(c *gin.Context) {
	sessionID, ok := sessionIDParam(c)
	if !ok {
		return
	}

	var req RetryRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	fileIDs := make([]primitive.ObjectID, 0, len(req.FileIDs))
	for _, raw := range req.FileIDs {
		id, err := primitive.ObjectIDFromHex(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid file id: " + raw})
			return
		}
		fileIDs = append(fileIDs, id)
	}

	retried, err := s.ic.Retry(c.Request.Context(), sessionID, fileIDs)
	if err != nil {
		respondSessionError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"retried": retried})
}

// importEventsHandler streams progress snapshots over SSE until the client
// disconnects or the session stops changing
func (s *Server) importEventsHandler(c *gin.Context) {
	sessionID, ok := sessionIDParam(c)
	if !ok {
		return
	}

	snapshots, cancel, err := s.ic.WatchProgress(c.Request.Context(), sessionID)
	if err != nil {
		respondSessionError(c, err)
		return
	}
	defer cancel()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	log.Debug().Str("sessionID", sessionID.Hex()).Msg("Progress stream opened")

	c.Stream(func(w io.Writer) bool {
		select {
		case <-c.Request.Context().Done():
			return false
		case snap, open := <-snapshots:
			if !open {
				return false
			}
			c.SSEvent("progress", snap)
			return true
		}
	})

	log.Debug().Str("sessionID", sessionID.Hex()).Msg("Progress stream closed")
}

// Helper functions

func sessionIDParam(c *gin.Context) (primitive.ObjectID, bool) {
	id, err := primitive.ObjectIDFromHex(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid session id"})
		return primitive.NilObjectID, false
	}
	return id, true
}

func respondSessionError(c *gin.Context, err error) {
	if errors.Is(err, database.ErrSessionNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Import session not found"})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}

// convertSessionToResponse converts a session model to the wire format
func convertSessionToResponse(session *model.ImportSession) SessionResponse {
	res := SessionResponse{
		ID:             session.ID.Hex(),
		UserID:         session.UserID,
		UserEmail:      session.UserEmail,
		Status:         string(session.Status),
		TotalFiles:     session.TotalFiles,
		ParsedCount:    session.ParsedCount,
		ImportedCount:  session.ImportedCount,
		FailedCount:    session.FailedCount,
		Percent:        session.ProgressPercent(),
		CreatedAt:      session.CreatedAt.Format(time.RFC3339),
		ErrorMessage:   session.ErrorMessage,
		ErrorBreakdown: session.ErrorBreakdown,
		AvgParseTimeMs: session.AvgParseTimeMs,
	}

	if session.StartedAt != nil {
		res.StartedAt = session.StartedAt.Format(time.RFC3339)
	}
	if session.CompletedAt != nil {
		res.CompletedAt = session.CompletedAt.Format(time.RFC3339)
	}

	return res
}

// getPaginationParams extracts pagination parameters from the request
func getPaginationParams(c *gin.Context) (int, int) {
	limit := 20
	offset := 0

	if limitStr := c.Query("limit"); limitStr != "" {
		if parsedLimit, err := strconv.Atoi(limitStr); err == nil && parsedLimit > 0 {
			limit = parsedLimit
		}
	}

	if offsetStr := c.Query("offset"); offsetStr != "" {
		if parsedOffset, err := strconv.Atoi(offsetStr); err == nil && parsedOffset >= 0 {
			offset = parsedOffset
		}
	}

	return limit, offset
}

// isValidFileStatus checks if a file status is valid
func isValidFileStatus(status model.FileStatus) bool {
	validStatuses := []model.FileStatus{
		model.FilePending,
		model.FileParsing,
		model.FileParsed,
		model.FileImporting,
		model.FileImported,
		model.FileError,
	}

	for _, s := range validStatuses {
		if status == s {
			return true
		}
	}
	return false
}
