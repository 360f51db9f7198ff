// Package pipeline orchestrates one poll-and-process pass: fetch unseen
// notebook emails, deduplicate, stage attachments, transform, upload, flag
// the source message, and commit completion.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/gardna/rocketdrop/internal/models"
	"github.com/gardna/rocketdrop/internal/stage"
)

// ErrAlreadyRunning is returned when a pass is requested while another is
// still in flight. Passes are single-flight: overlapping triggers must not
// race on staging directories or double-upload.
var ErrAlreadyRunning = errors.New("a pipeline pass is already running")

// Mailbox is the subset of the mailbox client the pipeline drives.
type Mailbox interface {
	FetchUnseen(recipientTag string) ([]models.Message, error)
	MarkSeen(uid uint32) error
	Close()
}

// Dialer opens a fresh mailbox session for one pass.
type Dialer func() (Mailbox, error)

// Store is the durable dedup record of message processing.
type Store interface {
	Record(ctx context.Context, messageID string) (*models.ProcessingRecord, error)
	MarkPending(ctx context.Context, messageID string) error
	MarkProcessed(ctx context.Context, messageID string) error
}

// Stager extracts a message's attachments into a working directory.
type Stager interface {
	Stage(msg models.Message) (string, error)
	List(workDir string) ([]models.StagedAttachment, error)
	Cleanup(workDir string) error
}

// Transformer converts and uploads the staged attachments.
type Transformer interface {
	Process(ctx context.Context, workDir string, attachments []models.StagedAttachment) error
}

// Pipeline runs poll-and-process passes. A mutex guarantees at most one
// pass in flight at a time.
type Pipeline struct {
	dial         Dialer
	store        Store
	stager       Stager
	transformer  Transformer
	recipientTag string
	startupDelay time.Duration
	log          *zap.Logger

	mu sync.Mutex
}

// New creates a Pipeline.
func New(dial Dialer, store Store, stager Stager, transformer Transformer, recipientTag string, startupDelay time.Duration, log *zap.Logger) *Pipeline {
	return &Pipeline{
		dial:         dial,
		store:        store,
		stager:       stager,
		transformer:  transformer,
		recipientTag: recipientTag,
		startupDelay: startupDelay,
		log:          log,
	}
}

// Run executes one full pass. All fetched messages are processed
// sequentially before it returns. Per-message failures are logged and leave
// the message unflagged and pending, so the next pass retries it; only
// mailbox-level failures abort the pass.
func (p *Pipeline) Run(ctx context.Context) error {
	if !p.mu.TryLock() {
		p.log.Info("pass already in flight, ignoring trigger")
		return ErrAlreadyRunning
	}
	defer p.mu.Unlock()

	// Give the mail server time to finish indexing freshly delivered
	// messages before the first search.
	if p.startupDelay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.startupDelay):
		}
	}

	mailbox, err := p.dial()
	if err != nil {
		return fmt.Errorf("failed to connect to mailbox: %w", err)
	}
	defer mailbox.Close()

	messages, err := mailbox.FetchUnseen(p.recipientTag)
	if err != nil {
		return fmt.Errorf("failed to fetch unseen messages: %w", err)
	}

	p.log.Info("processing new messages", zap.Int("count", len(messages)))

	for _, msg := range messages {
		if err := p.processMessage(ctx, mailbox, msg); err != nil {
			p.log.Error("message processing failed, will retry next pass",
				zap.String("message_id", msg.MessageID),
				zap.Error(err))
		}
	}

	return nil
}

// processMessage walks one message through the state machine:
// Unseen -> Staged -> Transformed -> Uploaded -> Flagged -> Committed.
// Any failure before the server flag leaves the record pending and the
// server copy unseen, which are the safe retry anchors.
func (p *Pipeline) processMessage(ctx context.Context, mailbox Mailbox, msg models.Message) error {
	record, err := p.store.Record(ctx, msg.MessageID)
	if err != nil {
		return err
	}

	if record != nil && record.Processed {
		p.log.Info("message already processed, skipping",
			zap.String("message_id", msg.MessageID))
		return nil
	}

	if record == nil {
		if err := p.store.MarkPending(ctx, msg.MessageID); err != nil {
			return err
		}
	} else {
		// A pending record from an earlier crash or failed upload: the
		// message is reprocessed from the start. A rare duplicate upload
		// is tolerated over losing the message.
		p.log.Info("retrying message with pending record",
			zap.String("message_id", msg.MessageID))
	}

	workDir, err := p.stager.Stage(msg)
	if err != nil {
		if errors.Is(err, stage.ErrNotMultipart) {
			// No attachments to act on: nothing to do is terminal
			// success, so commit it rather than leave the record in a
			// pending state that is retried forever.
			p.log.Info("message has no attachments, nothing to do",
				zap.String("message_id", msg.MessageID))
			return p.commit(ctx, mailbox, msg)
		}
		return err
	}

	attachments, err := p.stager.List(workDir)
	if err != nil {
		p.discardWorkDir(workDir)
		return err
	}

	if err := p.transformer.Process(ctx, workDir, attachments); err != nil {
		p.discardWorkDir(workDir)
		return err
	}

	if err := p.commit(ctx, mailbox, msg); err != nil {
		p.discardWorkDir(workDir)
		return err
	}

	if err := p.stager.Cleanup(workDir); err != nil {
		// A non-empty directory here means the transformer failed to
		// consume something it uploaded; surface it rather than hide it.
		return err
	}

	return nil
}

// commit performs the two closing writes in their required order: first the
// remote seen flag, then the local processed bit. A crash in between leaves
// processed=false, so the worst case is one duplicate reprocess, never a
// record that claims completion the server has no trace of.
func (p *Pipeline) commit(ctx context.Context, mailbox Mailbox, msg models.Message) error {
	if err := mailbox.MarkSeen(msg.UID); err != nil {
		return err
	}

	if err := p.store.MarkProcessed(ctx, msg.MessageID); err != nil {
		// The pending record vanished mid-pass: a logic bug. Fatal to
		// this message only.
		return err
	}

	return nil
}

// discardWorkDir removes a working directory wholesale after a failure.
// The directory must never outlive the pass, whatever state it is in.
func (p *Pipeline) discardWorkDir(workDir string) {
	if err := os.RemoveAll(workDir); err != nil {
		p.log.Error("failed to discard working directory",
			zap.String("dir", workDir),
			zap.Error(err))
	}
}
