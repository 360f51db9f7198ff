package mailbox

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/gardna/rocketdrop/internal/testutil"
)

const (
	testMailbox = "Rocketbook"
	testTag     = "james+rocketbook@gardna.net"
)

func connectTest(t *testing.T, server *testutil.TestIMAPServer) *Client {
	t.Helper()

	client, err := Connect(Options{
		Host:     server.Address,
		Username: server.Username(),
		Password: server.Password(),
		Mailbox:  testMailbox,
		UseTLS:   false,
	}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(client.Close)

	return client
}

func TestConnect(t *testing.T) {
	t.Run("authenticates and selects the mailbox", func(t *testing.T) {
		server := testutil.NewTestIMAPServer(t)
		defer server.Close()
		server.EnsureMailbox(t, testMailbox)

		connectTest(t, server)
	})

	t.Run("fails with bad credentials", func(t *testing.T) {
		server := testutil.NewTestIMAPServer(t)
		defer server.Close()

		_, err := Connect(Options{
			Host:     server.Address,
			Username: server.Username(),
			Password: "wrong",
			Mailbox:  testMailbox,
			UseTLS:   false,
		}, zap.NewNop())
		assert.Error(t, err)
	})

	t.Run("fails on a missing mailbox", func(t *testing.T) {
		server := testutil.NewTestIMAPServer(t)
		defer server.Close()

		_, err := Connect(Options{
			Host:     server.Address,
			Username: server.Username(),
			Password: server.Password(),
			Mailbox:  "DoesNotExist",
			UseTLS:   false,
		}, zap.NewNop())
		assert.Error(t, err)
	})

	t.Run("fails on an unreachable server", func(t *testing.T) {
		_, err := Connect(Options{
			Host:     "127.0.0.1:1",
			Username: "user",
			Password: "pass",
			Mailbox:  testMailbox,
			UseTLS:   false,
		}, zap.NewNop())
		assert.Error(t, err)
	})
}

func TestFetchUnseen(t *testing.T) {
	t.Run("returns unseen messages for the recipient tag with full bodies", func(t *testing.T) {
		server := testutil.NewTestIMAPServer(t)
		defer server.Close()
		server.EnsureMailbox(t, testMailbox)

		raw := testutil.BuildNotebookMessage("<scan-1@rocketbook.com>", testTag,
			[]testutil.Attachment{
				{Filename: "Page 1 [Alpha].pdf", ContentType: "application/pdf", Content: []byte("pdf")},
			})
		uid := server.AddMessage(t, testMailbox, "<scan-1@rocketbook.com>", raw)

		client := connectTest(t, server)

		messages, err := client.FetchUnseen(testTag)
		require.NoError(t, err)
		require.Len(t, messages, 1)

		assert.Equal(t, uid, messages[0].UID)
		assert.Equal(t, "<scan-1@rocketbook.com>", messages[0].MessageID)
		assert.Contains(t, string(messages[0].Raw), "Page 1 [Alpha].pdf")
	})

	t.Run("excludes messages for other recipients", func(t *testing.T) {
		server := testutil.NewTestIMAPServer(t)
		defer server.Close()
		server.EnsureMailbox(t, testMailbox)

		raw := testutil.BuildPlainMessage("<other-1@example.com>", "someone-else@gardna.net")
		server.AddMessage(t, testMailbox, "<other-1@example.com>", raw)

		client := connectTest(t, server)

		messages, err := client.FetchUnseen(testTag)
		require.NoError(t, err)
		assert.Empty(t, messages)
	})

	t.Run("fetching does not flag the message as seen", func(t *testing.T) {
		server := testutil.NewTestIMAPServer(t)
		defer server.Close()
		server.EnsureMailbox(t, testMailbox)

		raw := testutil.BuildPlainMessage("<scan-2@rocketbook.com>", testTag)
		uid := server.AddMessage(t, testMailbox, "<scan-2@rocketbook.com>", raw)

		client := connectTest(t, server)

		_, err := client.FetchUnseen(testTag)
		require.NoError(t, err)
		assert.False(t, server.IsSeen(t, testMailbox, uid))
	})
}

func TestMarkSeen(t *testing.T) {
	t.Run("sets the seen flag so the message drops out of the search", func(t *testing.T) {
		server := testutil.NewTestIMAPServer(t)
		defer server.Close()
		server.EnsureMailbox(t, testMailbox)

		raw := testutil.BuildPlainMessage("<scan-3@rocketbook.com>", testTag)
		uid := server.AddMessage(t, testMailbox, "<scan-3@rocketbook.com>", raw)

		client := connectTest(t, server)

		require.NoError(t, client.MarkSeen(uid))
		assert.True(t, server.IsSeen(t, testMailbox, uid))

		messages, err := client.FetchUnseen(testTag)
		require.NoError(t, err)
		assert.Empty(t, messages)
	})
}
