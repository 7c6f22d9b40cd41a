package backend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// echoServer answers every batch with an empty history per request. When
// dropFirst is set, the first connection is closed right after the upgrade.
func echoServer(t *testing.T, dropFirst bool) (*httptest.Server, *atomic.Int32) {
	t.Helper()

	var conns atomic.Int32
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		n := conns.Add(1)
		if dropFirst && n == 1 {
			return
		}

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var batch []Request
			if err := json.Unmarshal(data, &batch); err != nil {
				return
			}
			responses := make([]Response, 0, len(batch))
			for _, req := range batch {
				responses = append(responses, Response{ID: req.ID, Result: json.RawMessage(`[]`)})
			}
			out, _ := EncodeResponses(responses)
			if err := conn.WriteMessage(websocket.TextMessage, out); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &conns
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestWSTransportRoundTrip(t *testing.T) {
	srv, _ := echoServer(t, false)

	tr := NewWSTransport(WSConfig{URL: wsURL(srv)})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := tr.Connect(ctx); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer tr.Close()

	batch := []Request{
		HistoryRequest(testScriptHash, 0, false),
		HistoryRequest(testScriptHash, 1, true),
	}
	generation, err := tr.Send(ctx, batch)
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if generation != 1 {
		t.Errorf("Send() generation = %d, want 1", generation)
	}

	select {
	case msg := <-tr.Messages():
		responses, err := DecodeResponses(msg)
		if err != nil {
			t.Fatalf("DecodeResponses() error = %v", err)
		}
		if len(responses) != 2 || responses[1].ID != batch[1].ID {
			t.Errorf("responses = %+v", responses)
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for response")
	}
}

func TestWSTransportReconnects(t *testing.T) {
	srv, conns := echoServer(t, true)

	tr := NewWSTransport(WSConfig{
		URL:            wsURL(srv),
		ReconnectDelay: 10 * time.Millisecond,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := tr.Connect(ctx); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer tr.Close()

	var reconnected uint64
	select {
	case reconnected = <-tr.Reconnects():
	case <-ctx.Done():
		t.Fatal("timed out waiting for reconnect")
	}
	if reconnected < 2 {
		t.Errorf("reconnect generation = %d, want at least 2", reconnected)
	}
	if got := conns.Load(); got < 2 {
		t.Errorf("server saw %d connections, want at least 2", got)
	}

	generation, err := tr.Send(ctx, []Request{TransactionRequest(testTxID)})
	if err != nil {
		t.Fatalf("Send() after reconnect error = %v", err)
	}
	if generation < reconnected {
		t.Errorf("Send() generation = %d, want at least %d", generation, reconnected)
	}
	select {
	case msg := <-tr.Messages():
		responses, err := DecodeResponses(msg)
		if err != nil || len(responses) != 1 || responses[0].ID != TransactionRequestID(testTxID) {
			t.Errorf("responses = %+v, err = %v", responses, err)
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for response after reconnect")
	}
}

func TestWSTransportGivesUp(t *testing.T) {
	var conns atomic.Int32
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if conns.Add(1) > 1 {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn.Close()
	}))
	defer srv.Close()

	tr := NewWSTransport(WSConfig{
		URL:                  wsURL(srv),
		MaxReconnectAttempts: 2,
		ReconnectDelay:       10 * time.Millisecond,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := tr.Connect(ctx); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer tr.Close()

	for {
		select {
		case _, ok := <-tr.Messages():
			if !ok {
				if got := conns.Load(); got != 3 {
					t.Errorf("server saw %d dials, want 3", got)
				}
				return
			}
		case <-ctx.Done():
			t.Fatal("messages channel was not closed")
		}
	}
}

func TestWSTransportSendBeforeConnect(t *testing.T) {
	tr := NewWSTransport(WSConfig{URL: "ws://127.0.0.1:1"})
	_, err := tr.Send(context.Background(), []Request{TransactionRequest(testTxID)})
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("Send() error = %v, want ErrNotConnected", err)
	}
	if _, err := tr.Send(context.Background(), nil); err != nil {
		t.Errorf("Send(nil) error = %v", err)
	}
}
