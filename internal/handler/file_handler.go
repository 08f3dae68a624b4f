package handler

import (
	"context"
	"fmt"
	"mime"
	"net/http"
	"path/filepath"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/training-admin-api/internal/service"
	"github.com/noah-isme/training-admin-api/pkg/response"
)

type fileService interface {
	Open(ctx context.Context, token string) (*service.FileDownload, error)
}

// FileHandler streams stored evidence and certificate artifacts.
type FileHandler struct {
	service fileService
}

// NewFileHandler constructs FileHandler.
func NewFileHandler(service fileService) *FileHandler {
	return &FileHandler{service: service}
}

// Download godoc
// @Summary Download a stored object via signed token
// @Tags Files
// @Produce octet-stream
// @Param token query string true "Signed token"
// @Success 200 {file} binary
// @Router /files/download [get]
func (h *FileHandler) Download(c *gin.Context) {
	result, err := h.service.Open(c.Request.Context(), c.Query("token"))
	if err != nil {
		response.Error(c, err)
		return
	}
	defer result.File.Close() //nolint:errcheck

	contentType := mime.TypeByExtension(filepath.Ext(result.Filename))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"", result.Filename))
	c.Header("Cache-Control", "no-store")
	c.DataFromReader(http.StatusOK, result.SizeBytes, contentType, result.File, nil)
}
