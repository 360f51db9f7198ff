// Package stage extracts MIME attachments for one message into an isolated
// working directory.
package stage

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jhillyerd/enmime"
	"go.uber.org/zap"

	"github.com/gardna/rocketdrop/internal/models"
)

// ErrNotMultipart is returned when a message has no multipart structure and
// therefore carries no attachments to act on.
var ErrNotMultipart = errors.New("message is not multipart")

// Stager writes message attachments into per-message working directories
// under a base directory.
type Stager struct {
	baseDir string
	log     *zap.Logger
}

// NewStager creates a Stager rooted at baseDir.
func NewStager(baseDir string, log *zap.Logger) *Stager {
	return &Stager{baseDir: baseDir, log: log}
}

// Stage parses the raw MIME body and writes each attachment's decoded
// payload under a fresh directory named by the message identifier. Returns
// the working directory path. A failure partway through staging removes the
// directory again before returning.
func (s *Stager) Stage(msg models.Message) (string, error) {
	envelope, err := enmime.ReadEnvelope(bytes.NewReader(msg.Raw))
	if err != nil {
		return "", fmt.Errorf("failed to parse message %s: %w", msg.MessageID, err)
	}

	if envelope.Root == nil || !strings.HasPrefix(envelope.Root.ContentType, "multipart/") {
		return "", fmt.Errorf("message %s: %w", msg.MessageID, ErrNotMultipart)
	}

	workDir := filepath.Join(s.baseDir, sanitizeID(msg.MessageID))
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create working directory for %s: %w", msg.MessageID, err)
	}

	for _, part := range envelope.Attachments {
		if part.FileName == "" {
			continue
		}

		// Attachment filenames come from the mail sender; keep only the
		// base name so they cannot escape the working directory.
		name := filepath.Base(part.FileName)
		path := filepath.Join(workDir, name)

		if err := os.WriteFile(path, part.Content, 0o644); err != nil {
			// Take the partially populated directory with us: a working
			// directory must never outlive the staging attempt that made it.
			s.discard(workDir)
			return "", fmt.Errorf("failed to write attachment %s: %w", name, err)
		}

		s.log.Info("staged attachment",
			zap.String("message_id", msg.MessageID),
			zap.String("filename", name),
			zap.Int("bytes", len(part.Content)))
	}

	return workDir, nil
}

// List returns the staged attachments currently in the working directory,
// in lexical order.
func (s *Stager) List(workDir string) ([]models.StagedAttachment, error) {
	entries, err := os.ReadDir(workDir)
	if err != nil {
		return nil, fmt.Errorf("failed to list working directory: %w", err)
	}

	var attachments []models.StagedAttachment
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			return nil, fmt.Errorf("failed to stat %s: %w", entry.Name(), err)
		}
		attachments = append(attachments, models.StagedAttachment{
			Filename: entry.Name(),
			Path:     filepath.Join(workDir, entry.Name()),
			Size:     info.Size(),
		})
	}

	return attachments, nil
}

// Cleanup removes the working directory. The directory must already be
// empty: the pipeline removes files as it consumes them, so a leftover file
// here is a transformation bug and the removal fails loudly.
func (s *Stager) Cleanup(workDir string) error {
	if err := os.Remove(workDir); err != nil {
		return fmt.Errorf("failed to remove working directory: %w", err)
	}
	return nil
}

// discard removes a working directory wholesale after a failed staging
// attempt.
func (s *Stager) discard(workDir string) {
	if err := os.RemoveAll(workDir); err != nil {
		s.log.Error("failed to discard working directory",
			zap.String("dir", workDir),
			zap.Error(err))
	}
}

// sanitizeID maps a Message-ID header value to a safe directory name.
// Angle brackets are dropped and any path-hostile character is replaced.
func sanitizeID(messageID string) string {
	trimmed := strings.Trim(messageID, "<>")
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_', r == '@', r == '+':
			return r
		default:
			return '_'
		}
	}, trimmed)
}
