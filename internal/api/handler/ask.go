package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/timmy/vidtalker/internal/service"
)

// QuestionAnswerer answers questions about the indexed transcript.
type QuestionAnswerer interface {
	AnswerQuestion(ctx context.Context, question string, topK int) (*service.Answer, error)
}

// AskHandler handles question answering.
type AskHandler struct {
	engine QuestionAnswerer
}

// NewAskHandler creates a new ask handler.
func NewAskHandler(engine QuestionAnswerer) *AskHandler {
	return &AskHandler{engine: engine}
}

// AskRequest is the body of POST /api/v1/ask.
type AskRequest struct {
	Query string `json:"query" binding:"required"`
	TopK  int    `json:"top_k" binding:"omitempty,min=1,max=50"`
}

// AskResponse is the non-streaming answer.
type AskResponse struct {
	Status     string             `json:"status"`
	QuestionID string             `json:"question_id"`
	Answer     string             `json:"answer"`
	Contexts   []string           `json:"contexts"`
	Citations  []service.Citation `json:"citations"`
}

type fragmentEvent struct {
	Text string `json:"text"`
}

type contextsEvent struct {
	Contexts  []string           `json:"contexts"`
	Citations []service.Citation `json:"citations"`
}

// Ask handles POST /api/v1/ask.
//
// By default the answer is sent as server-sent events: one "fragment"
// event per model fragment, then "contexts" and "done". With
// ?stream=false the whole answer is returned as JSON.
func (h *AskHandler) Ask(c *gin.Context) {
	var req AskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request: "+err.Error())
		return
	}

	answer, err := h.engine.AnswerQuestion(c.Request.Context(), req.Query, req.TopK)
	if err != nil {
		writeError(c, err)
		return
	}
	// Closing on return stops generation when the client goes away.
	defer answer.Stream.Close()

	if c.Query("stream") == "false" {
		c.JSON(http.StatusOK, AskResponse{
			Status:     "success",
			QuestionID: answer.QuestionID,
			Answer:     answer.Stream.Collect(),
			Contexts:   answer.Contexts,
			Citations:  answer.Citations,
		})
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.Header("X-Question-ID", answer.QuestionID)

	fragments := answer.Stream.Fragments()
	done := c.Request.Context().Done()
	for {
		select {
		case f, ok := <-fragments:
			if !ok {
				c.SSEvent("contexts", contextsEvent{Contexts: answer.Contexts, Citations: answer.Citations})
				c.SSEvent("done", gin.H{"question_id": answer.QuestionID})
				c.Writer.Flush()
				return
			}
			c.SSEvent("fragment", fragmentEvent{Text: f})
			c.Writer.Flush()
		case <-done:
			return
		}
	}
}
