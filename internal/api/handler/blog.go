package handler

import (
	"context"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/timmy/vidtalker/internal/domain"
)

// BlogWriter generates a blog post from a transcript file.
type BlogWriter interface {
	GenerateFromFile(ctx context.Context, path string) string
}

// BlogHandler handles blog generation.
type BlogHandler struct {
	blog BlogWriter
	root string
}

// NewBlogHandler creates a new blog handler. When root is set, only
// transcript files below it can be used.
func NewBlogHandler(blog BlogWriter, root string) *BlogHandler {
	if root != "" {
		if abs, err := filepath.Abs(root); err == nil {
			root = abs
		}
	}
	return &BlogHandler{blog: blog, root: root}
}

// GenerateBlogRequest is the body of POST /api/v1/generate-blog.
type GenerateBlogRequest struct {
	TranscriptFile string `json:"transcript_file" binding:"required"`
}

// GenerateBlog handles POST /api/v1/generate-blog.
func (h *BlogHandler) GenerateBlog(c *gin.Context) {
	var req GenerateBlogRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request: "+err.Error())
		return
	}

	path, ok := h.resolve(req.TranscriptFile)
	if !ok {
		badRequest(c, "transcript_file is outside the transcript directory")
		return
	}

	post := h.blog.GenerateFromFile(c.Request.Context(), path)
	if strings.HasPrefix(post, "Error:") {
		c.JSON(http.StatusUnprocessableEntity, ErrorResponse{
			Status:  "error",
			Kind:    string(domain.KindMalformedInput),
			Message: post,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":       "success",
		"blog_content": post,
	})
}

func (h *BlogHandler) resolve(path string) (string, bool) {
	if h.root == "" {
		return path, true
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", false
	}
	rel, err := filepath.Rel(h.root, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return abs, true
}
