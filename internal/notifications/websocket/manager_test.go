package websocket

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"carbon-scribe/verification-service/internal/notifications"
	"carbon-scribe/verification-service/internal/verification"
)

func dial(t *testing.T, m *Manager, query string) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = m.HandleConnection(w, r)
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/progress" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	require.Eventually(t, func() bool { return m.GetConnectionCount() > 0 }, time.Second, 10*time.Millisecond)
	return conn
}

func event(id string, kind verification.Kind, name string) verification.Event {
	return verification.NewEvent(name, &verification.Submission{ID: id, Kind: kind}, nil)
}

func TestManager_BroadcastsFilteredProgress(t *testing.T) {
	m := NewManager(zap.NewNop())
	defer m.Close()
	conn := dial(t, m, "?submission_id=c-2")

	m.Notify(event("c-1", verification.KindComplaint, verification.EventWorkflowStart))
	m.Notify(event("c-2", verification.KindComplaint, verification.EventWorkflowComplete))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg notifications.Message
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, notifications.MessageTypeProgress, msg.Type)
	require.NotNil(t, msg.Event)
	assert.Equal(t, "c-2", msg.Event.SubmissionID)
	assert.Equal(t, verification.EventWorkflowComplete, msg.Event.Name)
}

func TestManager_SubscribeChangesFilter(t *testing.T) {
	m := NewManager(zap.NewNop())
	defer m.Close()
	conn := dial(t, m, "")

	require.NoError(t, conn.WriteJSON(notifications.Message{
		Type:   notifications.MessageTypeSubscribe,
		Filter: &notifications.Filter{Kind: verification.KindPlantation},
	}))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ack notifications.Message
	require.NoError(t, conn.ReadJSON(&ack))
	assert.Equal(t, notifications.MessageTypeStatus, ack.Type)
	require.NotNil(t, ack.Filter)
	assert.Equal(t, verification.KindPlantation, ack.Filter.Kind)

	m.Notify(event("c-1", verification.KindComplaint, verification.EventWorkflowStart))
	m.Notify(event("p-1", verification.KindPlantation, verification.EventWorkflowStart))

	var msg notifications.Message
	require.NoError(t, conn.ReadJSON(&msg))
	require.NotNil(t, msg.Event)
	assert.Equal(t, "p-1", msg.Event.SubmissionID)

	info := m.GetConnectionInfo()
	require.Len(t, info, 1)
	assert.Equal(t, verification.KindPlantation, info[0].Filter.Kind)
}

func TestManager_NotifyAfterCloseDoesNotBlock(t *testing.T) {
	m := NewManager(zap.NewNop())
	m.Close()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			m.Notify(event("c-1", verification.KindComplaint, verification.EventWorkflowStart))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Notify blocked after Close")
	}
}
