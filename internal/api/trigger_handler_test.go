package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/gardna/rocketdrop/internal/dedup"
	"github.com/gardna/rocketdrop/internal/pipeline"
	"github.com/gardna/rocketdrop/internal/stage"
	"github.com/gardna/rocketdrop/internal/transform"
)

type noopUploader struct{}

func (noopUploader) UploadPDF(context.Context, string) error  { return nil }
func (noopUploader) UploadNote(context.Context, string) error { return nil }

// newTestHandler wires a handler over a pipeline whose mailbox dial fails:
// the trigger contract is the same either way, since outcomes are only
// observable via logs.
func newTestHandler(t *testing.T) *TriggerHandler {
	t.Helper()

	store, err := dedup.Open(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	stager := stage.NewStager(t.TempDir(), zap.NewNop())
	transformer := transform.NewTransformer(noopUploader{}, nil, zap.NewNop())

	dial := func() (pipeline.Mailbox, error) {
		return nil, assert.AnError
	}

	pipe := pipeline.New(dial, store, stager, transformer, "tag@example.com", 0, zap.NewNop())

	return NewTriggerHandler(pipe, zap.NewNop())
}

func TestTrigger(t *testing.T) {
	t.Run("acknowledges immediately", func(t *testing.T) {
		handler := newTestHandler(t)

		req := httptest.NewRequest(http.MethodPost, "/", nil)
		recorder := httptest.NewRecorder()

		start := time.Now()
		handler.Trigger(recorder, req)

		assert.Equal(t, http.StatusOK, recorder.Code)
		assert.Less(t, time.Since(start), time.Second, "trigger must not wait for the pass")
	})

	t.Run("rejects non-POST requests", func(t *testing.T) {
		handler := newTestHandler(t)

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		recorder := httptest.NewRecorder()

		handler.Trigger(recorder, req)
		assert.Equal(t, http.StatusMethodNotAllowed, recorder.Code)
	})
}
