package stage

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/gardna/rocketdrop/internal/models"
	"github.com/gardna/rocketdrop/internal/testutil"
)

func TestStage(t *testing.T) {
	t.Run("writes each attachment into a per-message directory", func(t *testing.T) {
		stager := NewStager(t.TempDir(), zap.NewNop())

		raw := testutil.BuildNotebookMessage("<scan-1@rocketbook.com>", "james+rocketbook@gardna.net",
			[]testutil.Attachment{
				{Filename: "Page 1 [Alpha].pdf", ContentType: "application/pdf", Content: []byte("%PDF-1.4 fake")},
				{Filename: "Page 1 [Alpha].txt", ContentType: "text/plain", Content: []byte("transcribed text")},
			})

		workDir, err := stager.Stage(models.Message{
			UID:       1,
			MessageID: "<scan-1@rocketbook.com>",
			Raw:       []byte(raw),
		})
		require.NoError(t, err)

		pdf, err := os.ReadFile(filepath.Join(workDir, "Page 1 [Alpha].pdf"))
		require.NoError(t, err)
		assert.Equal(t, []byte("%PDF-1.4 fake"), pdf)

		txt, err := os.ReadFile(filepath.Join(workDir, "Page 1 [Alpha].txt"))
		require.NoError(t, err)
		assert.Equal(t, []byte("transcribed text"), txt)
	})

	t.Run("rejects a non-multipart message", func(t *testing.T) {
		stager := NewStager(t.TempDir(), zap.NewNop())

		raw := testutil.BuildPlainMessage("<plain-1@rocketbook.com>", "james+rocketbook@gardna.net")

		_, err := stager.Stage(models.Message{
			UID:       2,
			MessageID: "<plain-1@rocketbook.com>",
			Raw:       []byte(raw),
		})
		assert.True(t, errors.Is(err, ErrNotMultipart), "expected ErrNotMultipart, got %v", err)
	})

	t.Run("directory name is derived from the message identifier", func(t *testing.T) {
		base := t.TempDir()
		stager := NewStager(base, zap.NewNop())

		raw := testutil.BuildNotebookMessage("<a/b:c@rocketbook.com>", "james+rocketbook@gardna.net",
			[]testutil.Attachment{
				{Filename: "Page 1 [X].pdf", ContentType: "application/pdf", Content: []byte("pdf")},
			})

		workDir, err := stager.Stage(models.Message{
			UID:       3,
			MessageID: "<a/b:c@rocketbook.com>",
			Raw:       []byte(raw),
		})
		require.NoError(t, err)

		rel, err := filepath.Rel(base, workDir)
		require.NoError(t, err)
		assert.Equal(t, "a_b_c@rocketbook.com", rel)
	})

	t.Run("a failed staging leaves no working directory behind", func(t *testing.T) {
		base := t.TempDir()
		stager := NewStager(base, zap.NewNop())

		// Squat a directory on the attachment's target path so the write
		// fails after the working directory has been created.
		workDir := filepath.Join(base, sanitizeID("<scan-3@rocketbook.com>"))
		require.NoError(t, os.MkdirAll(filepath.Join(workDir, "Page 1 [C].pdf"), 0o755))

		raw := testutil.BuildNotebookMessage("<scan-3@rocketbook.com>", "james+rocketbook@gardna.net",
			[]testutil.Attachment{
				{Filename: "Page 1 [C].pdf", ContentType: "application/pdf", Content: []byte("pdf")},
			})

		_, err := stager.Stage(models.Message{
			UID:       5,
			MessageID: "<scan-3@rocketbook.com>",
			Raw:       []byte(raw),
		})
		require.Error(t, err)

		_, err = os.Stat(workDir)
		assert.True(t, os.IsNotExist(err), "working directory must not outlive a failed staging")
	})

	t.Run("List returns staged attachments", func(t *testing.T) {
		stager := NewStager(t.TempDir(), zap.NewNop())

		raw := testutil.BuildNotebookMessage("<scan-2@rocketbook.com>", "james+rocketbook@gardna.net",
			[]testutil.Attachment{
				{Filename: "Page 1 [B].pdf", ContentType: "application/pdf", Content: []byte("pdf bytes")},
				{Filename: "Page 1 [B].txt", ContentType: "text/plain", Content: []byte("txt")},
			})

		workDir, err := stager.Stage(models.Message{
			UID:       4,
			MessageID: "<scan-2@rocketbook.com>",
			Raw:       []byte(raw),
		})
		require.NoError(t, err)

		attachments, err := stager.List(workDir)
		require.NoError(t, err)
		require.Len(t, attachments, 2)
		assert.Equal(t, "Page 1 [B].pdf", attachments[0].Filename)
		assert.Equal(t, int64(len("pdf bytes")), attachments[0].Size)
	})
}

func TestCleanup(t *testing.T) {
	t.Run("removes an empty working directory", func(t *testing.T) {
		base := t.TempDir()
		stager := NewStager(base, zap.NewNop())

		workDir := filepath.Join(base, "empty")
		require.NoError(t, os.Mkdir(workDir, 0o755))

		require.NoError(t, stager.Cleanup(workDir))
		_, err := os.Stat(workDir)
		assert.True(t, os.IsNotExist(err))
	})

	t.Run("fails loudly when the directory is not empty", func(t *testing.T) {
		base := t.TempDir()
		stager := NewStager(base, zap.NewNop())

		workDir := filepath.Join(base, "leftovers")
		require.NoError(t, os.Mkdir(workDir, 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(workDir, "orphan.pdf"), []byte("x"), 0o644))

		assert.Error(t, stager.Cleanup(workDir))
	})
}
