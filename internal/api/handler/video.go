package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/timmy/vidtalker/internal/domain"
)

// VideoProcessor runs the ingestion pipeline for one URL.
type VideoProcessor interface {
	ProcessVideo(ctx context.Context, url string) (*domain.PipelineRun, error)
}

// VideoHandler handles process-video requests.
type VideoHandler struct {
	pipeline VideoProcessor
}

// NewVideoHandler creates a new video handler.
func NewVideoHandler(pipeline VideoProcessor) *VideoHandler {
	return &VideoHandler{pipeline: pipeline}
}

// ProcessVideoRequest is the body of POST /api/v1/process-video.
type ProcessVideoRequest struct {
	URL string `json:"url" binding:"required"`
}

// ProcessVideoResponse is returned once the video is searchable.
type ProcessVideoResponse struct {
	Status         string `json:"status"`
	RunID          string `json:"run_id"`
	TranscriptFile string `json:"transcript_file"`
	VectorCount    int    `json:"vector_count"`
}

// ProcessVideo handles POST /api/v1/process-video. The request blocks
// until every stage has finished.
func (h *VideoHandler) ProcessVideo(c *gin.Context) {
	var req ProcessVideoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request: "+err.Error())
		return
	}
	url := strings.TrimSpace(req.URL)
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		badRequest(c, "url must be an http(s) URL")
		return
	}

	run, err := h.pipeline.ProcessVideo(c.Request.Context(), url)
	if err != nil {
		code, body := errorResponse(c, err)
		if run != nil {
			body.RunID = run.ID
		}
		c.JSON(code, body)
		return
	}

	c.JSON(http.StatusOK, ProcessVideoResponse{
		Status:         "success",
		RunID:          run.ID,
		TranscriptFile: run.TranscriptFile,
		VectorCount:    run.VectorCount,
	})
}
