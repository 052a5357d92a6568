package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"chatsync/pkg/client"
	"chatsync/pkg/engine"
	"chatsync/pkg/models"
	"chatsync/pkg/store"
	"chatsync/pkg/summary"
	"chatsync/pkg/transport"
)

func newTestServer(t *testing.T) (*httptest.Server, *store.Store, *transport.Memory) {
	t.Helper()
	st, err := store.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	mem := transport.NewMemory()
	eng := engine.New(st, mem, engine.Options{SelfUserID: "me"})
	agg := summary.New(st, "me")
	cl := client.New(st, eng, agg)

	srv := httptest.NewServer(NewServer(st, cl).Router())
	t.Cleanup(srv.Close)
	return srv, st, mem
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil && resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestHealthAndReady(t *testing.T) {
	srv, _, _ := newTestServer(t)
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/healthz", nil))
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/readyz", nil))
}

func TestListConversationsAndMessages(t *testing.T) {
	srv, st, _ := newTestServer(t)
	require.NoError(t, st.UpsertMessages([]models.Message{
		{ID: "srv-1", ConversationID: "c1", SenderID: "peer", Body: "a", ContentType: models.ContentText, CreatedAt: 100, MessageSeq: 1, Status: models.StatusSent},
		{ID: "srv-2", ConversationID: "c1", SenderID: "peer", Body: "b", ContentType: models.ContentText, CreatedAt: 200, MessageSeq: 2, Status: models.StatusSent},
	}))

	var convs struct {
		Conversations []models.ConversationSummary `json:"conversations"`
	}
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/v1/conversations", &convs))
	require.Len(t, convs.Conversations, 1)
	require.Equal(t, 2, convs.Conversations[0].UnreadCount)

	var msgs struct {
		Messages []models.Message `json:"messages"`
	}
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/v1/conversations/c1/messages?limit=1", &msgs))
	require.Len(t, msgs.Messages, 1)
	require.Equal(t, "srv-2", msgs.Messages[0].ID)

	require.Equal(t, http.StatusBadRequest, getJSON(t, srv.URL+"/v1/conversations/c1/messages?limit=bogus", nil))
}

func TestParticipantEndpoint(t *testing.T) {
	srv, st, _ := newTestServer(t)
	require.Equal(t, http.StatusNotFound, getJSON(t, srv.URL+"/v1/conversations/c1/participants/me", nil))

	_, err := st.MutateParticipant("c1", "me", func(p *models.Participant) { p.Pinned = true })
	require.NoError(t, err)

	var p models.Participant
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/v1/conversations/c1/participants/me", &p))
	require.True(t, p.Pinned)
}

func TestSyncEndpoint(t *testing.T) {
	srv, st, mem := newTestServer(t)
	_, err := mem.SendMessage(context.Background(), models.Message{
		ConversationID: "c1", SenderID: "peer", Body: "offline",
		ContentType: models.ContentText, CreatedAt: 100,
	})
	require.NoError(t, err)

	resp, err := http.Post(srv.URL+"/v1/conversations/c1/sync", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out struct {
		Applied int `json:"applied"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Equal(t, 1, out.Applied)

	snap, err := st.SnapshotMessages("c1", 0)
	require.NoError(t, err)
	require.Len(t, snap, 1)
}

func TestLedgerEndpoint(t *testing.T) {
	srv, st, _ := newTestServer(t)
	require.NoError(t, st.MarkActionProcessed("a1"))

	var out struct {
		ProcessedActions int `json:"processed_actions"`
	}
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/v1/ledger", &out))
	require.Equal(t, 1, out.ProcessedActions)
}
