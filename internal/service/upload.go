package service

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	appErrors "github.com/noah-isme/training-admin-api/pkg/errors"
)

// Upload carries a multipart file stream with its declared metadata.
type Upload struct {
	Filename string
	Size     int64
	MimeType string
	Content  io.ReadSeeker
}

type objectStore interface {
	Put(ctx context.Context, key string, r io.Reader) (string, error)
}

// UploadPolicy bounds accepted uploads.
type UploadPolicy struct {
	MaxFileSize  int64
	AllowedMIMEs []string
}

type uploadChecker struct {
	maxSize int64
	mimeSet map[string]struct{}
}

func newUploadChecker(policy UploadPolicy) uploadChecker {
	if policy.MaxFileSize <= 0 {
		policy.MaxFileSize = 10 * 1024 * 1024
	}
	if len(policy.AllowedMIMEs) == 0 {
		policy.AllowedMIMEs = []string{"application/pdf", "image/png", "image/jpeg"}
	}
	set := make(map[string]struct{}, len(policy.AllowedMIMEs))
	for _, mt := range policy.AllowedMIMEs {
		set[strings.ToLower(strings.TrimSpace(mt))] = struct{}{}
	}
	return uploadChecker{maxSize: policy.MaxFileSize, mimeSet: set}
}

// check validates size and sniffed content type and rewinds the stream.
func (u uploadChecker) check(upload Upload) (string, error) {
	if upload.Content == nil || upload.Size <= 0 {
		return "", appErrors.Clone(appErrors.ErrValidation, "file is required")
	}
	if upload.Size > u.maxSize {
		return "", appErrors.Clone(appErrors.ErrPayloadTooLarge, fmt.Sprintf("file exceeds %d bytes limit", u.maxSize))
	}
	header := make([]byte, 512)
	n, err := upload.Content.Read(header)
	if err != nil && err != io.EOF {
		return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to inspect file")
	}
	if _, err := upload.Content.Seek(0, io.SeekStart); err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reset upload stream")
	}
	if n == 0 {
		return "", appErrors.Clone(appErrors.ErrValidation, "empty file")
	}
	mimeType := http.DetectContentType(header[:n])
	if idx := strings.Index(mimeType, ";"); idx >= 0 {
		mimeType = mimeType[:idx]
	}
	if _, ok := u.mimeSet[strings.ToLower(mimeType)]; !ok {
		return "", appErrors.Clone(appErrors.ErrUnsupportedMediaType, "mime type not allowed: "+mimeType)
	}
	return mimeType, nil
}

// objectKey builds a unique key under prefix. The extension follows the
// sniffed content type, never the client file name.
func objectKey(prefix, owner, mimeType string) string {
	return fmt.Sprintf("%s/%s/%d_%s%s", prefix, owner, time.Now().UTC().Unix(), uuid.NewString()[:8], mimeExtension(mimeType))
}

func mimeExtension(mime string) string {
	switch strings.ToLower(mime) {
	case "application/pdf":
		return ".pdf"
	case "image/png":
		return ".png"
	case "image/jpeg":
		return ".jpg"
	default:
		return ".bin"
	}
}
