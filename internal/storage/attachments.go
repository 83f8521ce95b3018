// Package storage keeps case attachments on the local filesystem.
package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"github.com/spec-kit/hiccup-service/internal/config"
	apperrors "github.com/spec-kit/hiccup-service/pkg/util"
)

// AllowedAttachmentTypes lists the accepted content types.
var AllowedAttachmentTypes = []string{"application/pdf", "image/png", "image/jpeg"}

// AttachmentStore persists uploaded files for a case.
type AttachmentStore interface {
	// Sniff validates content and returns the file extension to store it under.
	Sniff(data []byte) (string, error)
	Save(ctx context.Context, caseID string, data []byte) (string, error)
	Remove(ctx context.Context, path string) error
}

// LocalStore writes attachments under a root directory.
type LocalStore struct {
	root     string
	maxBytes int64
}

// NewLocalStore constructs the store.
func NewLocalStore(cfg config.StorageConfig) *LocalStore {
	return &LocalStore{root: cfg.UploadDir, maxBytes: cfg.MaxUploadBytes}
}

// MaxBytes returns the upload size limit.
func (s *LocalStore) MaxBytes() int64 {
	return s.maxBytes
}

func (s *LocalStore) Sniff(data []byte) (string, error) {
	if int64(len(data)) > s.maxBytes {
		return "", apperrors.NewValidationError("attachment too large", map[string]any{"max_bytes": s.maxBytes})
	}
	if len(data) == 0 {
		return "", apperrors.NewValidationError("attachment is empty", nil)
	}
	mtype := mimetype.Detect(data)
	if !allowed(mtype) {
		return "", apperrors.NewValidationError("unsupported file type", map[string]any{
			"detected": mtype.String(),
			"allowed":  AllowedAttachmentTypes,
		})
	}
	return mtype.Extension(), nil
}

// Save writes data to <root>/<caseID>/<random><ext>, returning the path on disk.
func (s *LocalStore) Save(ctx context.Context, caseID string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	ext, err := s.Sniff(data)
	if err != nil {
		return "", err
	}

	dir := filepath.Join(s.root, filepath.Base(caseID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create attachment dir: %w", err)
	}
	path := filepath.Join(dir, uuid.NewString()+ext)
	if err := os.WriteFile(path, data, 0o640); err != nil {
		return "", fmt.Errorf("write attachment: %w", err)
	}
	return path, nil
}

// ReadLimited reads at most limit+1 bytes from r so oversized uploads are
// detected without buffering them whole.
func ReadLimited(r io.Reader, limit int64) ([]byte, error) {
	return io.ReadAll(io.LimitReader(r, limit+1))
}

// Remove deletes a stored attachment. A missing file is not an error.
func (s *LocalStore) Remove(_ context.Context, path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func allowed(mtype *mimetype.MIME) bool {
	for _, ct := range AllowedAttachmentTypes {
		if mtype.Is(ct) {
			return true
		}
	}
	return false
}
