// Package testutil runs an embedded JetStream-enabled NATS server for tests
// that exercise event, reminder and metrics publishing end to end.
package testutil

import (
	"errors"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/require"
)

const readyTimeout = 10 * time.Second

// JetStream starts a private NATS server with JetStream storage in a temp
// dir and returns a JetStream context connected to it. The server and the
// connection are shut down when the test ends.
func JetStream(t *testing.T) nats.JetStreamContext {
	t.Helper()

	srv, err := server.NewServer(&server.Options{
		Host:           "127.0.0.1",
		Port:           server.RANDOM_PORT,
		NoLog:          true,
		NoSigs:         true,
		MaxControlLine: 4096,
		JetStream:      true,
		StoreDir:       t.TempDir(),
	})
	require.NoError(t, err)

	go srv.Start()
	if !srv.ReadyForConnections(readyTimeout) {
		srv.Shutdown()
		t.Fatal("embedded NATS server did not become ready")
	}

	nc, err := nats.Connect(srv.ClientURL(), nats.Timeout(5*time.Second))
	require.NoError(t, err)
	t.Cleanup(func() {
		nc.Close()
		srv.Shutdown()
		srv.WaitForShutdown()
	})

	js, err := nc.JetStream(nats.MaxWait(5 * time.Second))
	require.NoError(t, err)
	return js
}

// AwaitStream fails the test unless stream name exists within timeout
func AwaitStream(t *testing.T, js nats.JetStreamContext, name string, timeout time.Duration) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for {
		_, err := js.StreamInfo(name)
		if err == nil {
			return
		}
		if !errors.Is(err, nats.ErrStreamNotFound) {
			require.NoError(t, err)
		}
		if time.Now().After(deadline) {
			t.Fatalf("stream %s not created within %s", name, timeout)
		}
		time.Sleep(100 * time.Millisecond)
	}
}

// Collect returns the payloads stored on subject, plus any published during
// window, in stream order
func Collect(t *testing.T, js nats.JetStreamContext, subject string, window time.Duration) [][]byte {
	t.Helper()

	received := make(chan []byte, 256)
	sub, err := js.Subscribe(subject, func(msg *nats.Msg) {
		received <- msg.Data
	}, nats.DeliverAll(), nats.AckNone())
	require.NoError(t, err)
	defer sub.Unsubscribe()

	var payloads [][]byte
	timer := time.NewTimer(window)
	defer timer.Stop()
	for {
		select {
		case data := <-received:
			payloads = append(payloads, data)
		case <-timer.C:
			return payloads
		}
	}
}
