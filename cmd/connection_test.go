// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/gorilla/websocket"
)

// bridge serves one WebSocket client with the given messages, then closes
func bridge(t *testing.T, messages ...func(*websocket.Conn) error) string {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for _, send := range messages {
			if err := send(conn); err != nil {
				return
			}
		}
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func binary(b ...byte) func(*websocket.Conn) error {
	return func(c *websocket.Conn) error { return c.WriteMessage(websocket.BinaryMessage, b) }
}

func text(s string) func(*websocket.Conn) error {
	return func(c *websocket.Conn) error { return c.WriteMessage(websocket.TextMessage, []byte(s)) }
}

func TestWebSocketConnection_LineOctets(t *testing.T) {
	url := bridge(t,
		text("sniffer armed"),
		binary(0x3B, 0x00, 0x00),
		text("gap"),
		binary(0xA4, 0x04),
	)

	conn, err := OpenWebSocketConnection(url, "", "", false)
	if err != nil {
		t.Fatalf("OpenWebSocketConnection: %v", err)
	}
	defer conn.Close()

	// a small buffer splits the first message across reads
	var got []byte
	buf := make([]byte, 2)
	for {
		n, err := conn.Read(buf)
		got = append(got, buf[:n]...)
		if err != nil {
			break
		}
	}
	if diff := cmp.Diff([]byte{0x3B, 0x00, 0x00, 0xA4, 0x04}, got); diff != "" {
		t.Errorf("line octets mismatch (-want +got):\n%s", diff)
	}

	if _, err := conn.Read(buf); err != ErrConnectionClosed {
		t.Errorf("read after close = %v, expected ErrConnectionClosed", err)
	}
}

func TestOpenWebSocketConnection_Scheme(t *testing.T) {
	if _, err := OpenWebSocketConnection("http://localhost:1/line", "", "", false); err == nil {
		t.Error("an http URL should be rejected")
	}
}

func TestOpenConnection_NoSource(t *testing.T) {
	savedURL, savedPort := wsURL, portName
	defer func() { wsURL, portName = savedURL, savedPort }()
	wsURL, portName = "", ""

	if _, _, err := OpenConnection(); err == nil {
		t.Error("expected an error without --port or --url")
	}
}

var _ io.ReadCloser = (*WebSocketConnection)(nil)
