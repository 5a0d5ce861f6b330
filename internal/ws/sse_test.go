package ws

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/splax/localvercel/intake/internal/domain"
	"github.com/splax/localvercel/intake/pkg/logger"
)

type plainWriter struct {
	header http.Header
}

func (w *plainWriter) Header() http.Header        { return w.header }
func (w *plainWriter) Write(p []byte) (int, error) { return len(p), nil }
func (w *plainWriter) WriteHeader(int)             {}

func TestSSEClientFrames(t *testing.T) {
	rec := httptest.NewRecorder()
	client, err := NewSSEClient(rec, logger.Discard())
	require.NoError(t, err)

	require.NoError(t, client.Send([]byte(`{"a":1}`)))
	require.NoError(t, client.Heartbeat())
	require.NoError(t, client.Send([]byte(`{"a":2}`)))

	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "id: 1\ndata: {\"a\":1}\n\n: ping\n\nid: 2\ndata: {\"a\":2}\n\n", rec.Body.String())
	assert.True(t, rec.Flushed)
}

func TestSSEClientClose(t *testing.T) {
	client, err := NewSSEClient(httptest.NewRecorder(), logger.Discard())
	require.NoError(t, err)

	client.Close()
	client.Close()
	select {
	case <-client.Done():
	default:
		t.Fatal("done channel not closed")
	}
	assert.ErrorIs(t, client.Send([]byte("x")), io.EOF)
	assert.ErrorIs(t, client.Heartbeat(), io.EOF)
}

func TestSSEClientRequiresFlusher(t *testing.T) {
	_, err := NewSSEClient(&plainWriter{header: http.Header{}}, logger.Discard())
	assert.ErrorIs(t, err, ErrStreamingUnsupported)
}

func TestFeedPublishesToProjectSubscribers(t *testing.T) {
	hub := NewHub()
	defer hub.Close()
	feed := NewFeed(hub, logger.Discard())

	sub := &recordingSub{}
	hub.Register("acme", sub)

	feed.Publish(EventUpdated, domain.FailureRecord{ID: "e1", ProjectName: "acme", Status: domain.StatusFixing})
	require.Eventually(t, func() bool { return sub.count() == 1 }, time.Second, 5*time.Millisecond)

	sub.mu.Lock()
	payload := sub.got[0]
	sub.mu.Unlock()
	var msg struct {
		Event  string               `json:"event"`
		Record domain.FailureRecord `json:"record"`
	}
	require.NoError(t, json.Unmarshal(payload, &msg))
	assert.Equal(t, EventUpdated, msg.Event)
	assert.Equal(t, domain.StatusFixing, msg.Record.Status)

	var nilFeed *Feed
	nilFeed.Publish(EventCreated, domain.FailureRecord{})
	assert.Nil(t, nilFeed.Hub())
}
