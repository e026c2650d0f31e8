package statusapi

import (
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestPublishReachesConnectedClient(t *testing.T) {
	s := New("127.0.0.1:0")

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	s.http.Addr = ln.Addr().String()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.run(ctx)
	go s.http.Serve(ln)
	time.Sleep(50 * time.Millisecond)

	url := "ws://" + ln.Addr().String() + "/status"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	time.Sleep(50 * time.Millisecond)

	s.Publish(Event{Height: 7, Validator: "wallet1"})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(string(data), `"height":7`) {
		t.Errorf("expected height 7 in event, got %s", data)
	}
}

func TestPublishDropsSilentlyWithoutSubscribers(t *testing.T) {
	s := New("127.0.0.1:0")
	s.Publish(Event{Height: 1, Validator: "wallet2"})
}
