package notify

import (
	"encoding/json"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startTestNATSServer(t *testing.T) *natsserver.Server {
	t.Helper()
	server, err := natsserver.NewServer(&natsserver.Options{
		Host:   "127.0.0.1",
		Port:   -1,
		NoLog:  true,
		NoSigs: true,
	})
	require.NoError(t, err)

	go server.Start()
	if !server.ReadyForConnections(5 * time.Second) {
		t.Fatal("NATS server not ready")
	}
	t.Cleanup(func() {
		server.Shutdown()
		server.WaitForShutdown()
	})
	return server
}

func TestNATSPublisher_Publish(t *testing.T) {
	server := startTestNATSServer(t)

	sub, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)
	defer sub.Close()

	msgs := make(chan *nats.Msg, 2)
	_, err = sub.ChanSubscribe("crewd.runs.*", msgs)
	require.NoError(t, err)
	require.NoError(t, sub.Flush())

	pub, err := ConnectNATS(server.ClientURL(), "crewd.runs")
	require.NoError(t, err)
	defer pub.Close()

	require.NoError(t, pub.Publish(t.Context(), RunEvent{Type: EventRunStarted, RunID: "r1", Issue: 42}))
	require.NoError(t, pub.Publish(t.Context(), RunEvent{
		Type: EventRunFinished, RunID: "r1", Issue: 42, Outcome: "success", Team: []string{"dev", "qa"},
	}))

	for _, want := range []string{"crewd.runs.started", "crewd.runs.finished"} {
		select {
		case msg := <-msgs:
			assert.Equal(t, want, msg.Subject)
			var ev RunEvent
			require.NoError(t, json.Unmarshal(msg.Data, &ev))
			assert.Equal(t, 42, ev.Issue)
			assert.False(t, ev.At.IsZero())
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for %s", want)
		}
	}
}

func TestNATSPublisher_BorrowedConnNotClosed(t *testing.T) {
	server := startTestNATSServer(t)

	nc, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)
	defer nc.Close()

	pub := NewNATSPublisher(nc, "crewd.runs")
	require.NoError(t, pub.Close())
	assert.True(t, nc.IsConnected())
}
