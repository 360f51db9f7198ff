package models

// Message is one mailbox entry as fetched during a poll cycle. It is never
// mutated, only read and flagged on the server by UID.
type Message struct {
	// UID is the server-assigned IMAP UID, valid for the selected mailbox.
	UID uint32
	// MessageID is the Message-ID header value, the idempotency key for the
	// whole pipeline.
	MessageID string
	// Raw is the full RFC 822 message body.
	Raw []byte
}

// ProcessingRecord is the durable per-message row tracking completion.
// A record exists once the pipeline has begun processing a message;
// Processed flips to true only after upload and server flagging both
// completed.
type ProcessingRecord struct {
	MessageID string `db:"message_id"`
	Processed bool   `db:"processed"`
}

// StagedAttachment is one file extracted from a message into its working
// directory.
type StagedAttachment struct {
	Filename string
	Path     string
	Size     int64
}
