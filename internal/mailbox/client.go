// Package mailbox wraps the IMAP session used to poll for notebook emails.
package mailbox

import (
	"fmt"
	"io"
	"net"
	"time"

	"github.com/emersion/go-imap"
	imapclient "github.com/emersion/go-imap/client"
	"go.uber.org/zap"

	"github.com/gardna/rocketdrop/internal/models"
)

// Client is an authenticated IMAP session with the working mailbox selected
// in read/write mode.
type Client struct {
	client *imapclient.Client
	log    *zap.Logger
}

// Options configures a mailbox connection.
type Options struct {
	Host     string
	Username string
	Password string
	Mailbox  string
	// UseTLS is true for production (TLS), false for tests (non-TLS).
	UseTLS bool
}

// Connect dials the IMAP server, authenticates, and selects the working
// mailbox in read/write mode. Mail access is a hard precondition for the
// service, so callers treat a startup failure here as fatal.
func Connect(opts Options, log *zap.Logger) (*Client, error) {
	c, err := dial(opts.Host, opts.UseTLS)
	if err != nil {
		return nil, err
	}

	if err := c.Login(opts.Username, opts.Password); err != nil {
		_ = c.Logout()
		return nil, fmt.Errorf("failed to authenticate: %w", err)
	}

	if _, err := c.Select(opts.Mailbox, false); err != nil {
		_ = c.Logout()
		return nil, fmt.Errorf("failed to select mailbox %q: %w", opts.Mailbox, err)
	}

	return &Client{client: c, log: log}, nil
}

// dial connects to the IMAP server with a 5-second timeout.
func dial(server string, useTLS bool) (*imapclient.Client, error) {
	dialer := &net.Dialer{
		Timeout: 5 * time.Second,
	}

	if useTLS {
		c, err := imapclient.DialWithDialerTLS(dialer, server, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to dial with TLS: %w", err)
		}
		return c, nil
	}

	// Non-TLS connection for testing
	c, err := imapclient.DialWithDialer(dialer, server)
	if err != nil {
		return nil, fmt.Errorf("failed to dial: %w", err)
	}

	return c, nil
}

// FetchUnseen returns all unseen messages addressed to recipientTag, in
// server order, each with its full raw body. The fetch uses BODY.PEEK so
// the server does not flag the messages as seen.
func (c *Client) FetchUnseen(recipientTag string) ([]models.Message, error) {
	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag}
	criteria.Header.Add("To", recipientTag)

	uids, err := c.client.UidSearch(criteria)
	if err != nil {
		return nil, fmt.Errorf("failed to search mailbox: %w", err)
	}

	if len(uids) == 0 {
		return []models.Message{}, nil
	}

	seqSet := new(imap.SeqSet)
	for _, uid := range uids {
		seqSet.AddNum(uid)
	}

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{
		imap.FetchEnvelope,
		imap.FetchUid,
		section.FetchItem(),
	}

	messages := make(chan *imap.Message, len(uids))
	done := make(chan error, 1)

	go func() {
		done <- c.client.UidFetch(seqSet, items, messages)
	}()

	var result []models.Message
	for msg := range messages {
		parsed, ok := c.parseFetched(msg, section)
		if ok {
			result = append(result, parsed)
		}
	}

	if err := <-done; err != nil {
		return nil, fmt.Errorf("failed to fetch messages: %w", err)
	}

	return result, nil
}

// parseFetched converts a fetched IMAP message to our Message model.
// Messages without a Message-ID or body are logged and dropped: without an
// identifier there is no idempotency key to process against.
func (c *Client) parseFetched(msg *imap.Message, section *imap.BodySectionName) (models.Message, bool) {
	if msg.Envelope == nil || msg.Envelope.MessageId == "" {
		c.log.Warn("message has no Message-ID, skipping", zap.Uint32("uid", msg.Uid))
		return models.Message{}, false
	}

	bodyReader := msg.GetBody(section)
	if bodyReader == nil {
		c.log.Warn("message has no body section, skipping",
			zap.Uint32("uid", msg.Uid),
			zap.String("message_id", msg.Envelope.MessageId))
		return models.Message{}, false
	}

	raw, err := io.ReadAll(bodyReader)
	if err != nil {
		c.log.Warn("failed to read message body, skipping",
			zap.Uint32("uid", msg.Uid),
			zap.Error(err))
		return models.Message{}, false
	}

	return models.Message{
		UID:       msg.Uid,
		MessageID: msg.Envelope.MessageId,
		Raw:       raw,
	}, true
}

// MarkSeen sets the \Seen flag on the server copy of the message. It must
// be called only after all side effects for that message are durably
// committed locally.
func (c *Client) MarkSeen(uid uint32) error {
	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uid)

	item := imap.FormatFlagsOp(imap.AddFlags, true)
	flags := []interface{}{imap.SeenFlag}

	if err := c.client.UidStore(seqSet, item, flags, nil); err != nil {
		return fmt.Errorf("failed to flag message seen: %w", err)
	}

	return nil
}

// Close logs out of the session. Best-effort: failures are logged, not
// raised.
func (c *Client) Close() {
	if err := c.client.Logout(); err != nil {
		c.log.Warn("failed to close IMAP session", zap.Error(err))
	}
}
