package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	appErrors "github.com/noah-isme/training-admin-api/pkg/errors"
	"github.com/noah-isme/training-admin-api/pkg/storage"
)

type fileOpener interface {
	Open(ctx context.Context, key string) (*os.File, error)
}

type signedURLSigner interface {
	Generate(ownerID, key string) (string, time.Time, error)
	Parse(token string) (ownerID, key string, expiresAt time.Time, err error)
}

// FileDownload bundles an opened stored object for streaming.
type FileDownload struct {
	File      *os.File
	Filename  string
	SizeBytes int64
	ExpiresAt time.Time
}

// FileService issues and redeems signed links to stored evidence and artifacts.
type FileService struct {
	files     fileOpener
	signer    signedURLSigner
	apiPrefix string
}

// NewFileService constructs the service.
func NewFileService(files fileOpener, signer signedURLSigner, apiPrefix string) *FileService {
	if apiPrefix == "" {
		apiPrefix = "/api/v1"
	}
	return &FileService{files: files, signer: signer, apiPrefix: strings.TrimRight(apiPrefix, "/")}
}

// DownloadURL returns a signed, expiring link to key on behalf of ownerID.
func (s *FileService) DownloadURL(ownerID, key string) (string, error) {
	if s == nil || s.signer == nil {
		return "", appErrors.Clone(appErrors.ErrInternal, "download signer unavailable")
	}
	token, _, err := s.signer.Generate(ownerID, key)
	if err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to generate download token")
	}
	return fmt.Sprintf("%s/files/download?token=%s", s.apiPrefix, token), nil
}

// Open validates token and opens the object it names.
func (s *FileService) Open(ctx context.Context, token string) (*FileDownload, error) {
	if s == nil || s.signer == nil {
		return nil, appErrors.Clone(appErrors.ErrInternal, "download signer unavailable")
	}
	if strings.TrimSpace(token) == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "token is required")
	}
	_, key, expiresAt, err := s.signer.Parse(token)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "invalid or expired token")
	}
	file, err := s.files.Open(ctx, key)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "file not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrUnavailable.Code, appErrors.ErrUnavailable.Status, "failed to open file")
	}
	info, err := file.Stat()
	if err != nil {
		file.Close() //nolint:errcheck
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to read file metadata")
	}
	return &FileDownload{
		File:      file,
		Filename:  filepath.Base(key),
		SizeBytes: info.Size(),
		ExpiresAt: expiresAt,
	}, nil
}
