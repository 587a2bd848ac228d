package midjourney

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
)

type receivedFrame struct {
	typ  websocket.MessageType
	data string
}

// newWebSocketServer accepts one connection, writes the given frames in
// order and reports every frame it reads until the client goes away.
func newWebSocketServer(t *testing.T, frames []receivedFrame) (string, <-chan receivedFrame) {
	t.Helper()
	received := make(chan receivedFrame, 10)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
		if err != nil {
			t.Errorf("accept error: %v", err)
			return
		}
		defer conn.CloseNow()

		ctx := r.Context()
		for _, f := range frames {
			if err := conn.Write(ctx, f.typ, []byte(f.data)); err != nil {
				t.Errorf("server write error: %v", err)
				return
			}
		}
		for {
			typ, data, err := conn.Read(ctx)
			if err != nil {
				return
			}
			received <- receivedFrame{typ: typ, data: string(data)}
		}
	}))
	t.Cleanup(srv.Close)

	return "ws" + strings.TrimPrefix(srv.URL, "http"), received
}

func waitForFrame(t *testing.T, received <-chan receivedFrame) receivedFrame {
	t.Helper()
	select {
	case f := <-received:
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for frame")
		return receivedFrame{}
	}
}

func TestDial_ReceivesTextAndBinary(t *testing.T) {
	url, _ := newWebSocketServer(t, []receivedFrame{
		{websocket.MessageText, `{"type":"ping"}`},
		{websocket.MessageBinary, `{"type":"job_success","job_id":"j"}`},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	transport, err := Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("Dial error: %v", err)
	}
	defer transport.Close()

	for _, want := range []string{`{"type":"ping"}`, `{"type":"job_success","job_id":"j"}`} {
		data, err := transport.Receive(ctx)
		if err != nil {
			t.Fatalf("Receive error: %v", err)
		}
		if string(data) != want {
			t.Errorf("Receive() = %s, want %s", data, want)
		}
	}
}

func TestDial_SendFrameType(t *testing.T) {
	tests := []struct {
		name string
		opts *DialOptions
		want websocket.MessageType
	}{
		{"default binary", nil, websocket.MessageBinary},
		{"text frames", &DialOptions{TextFrames: true}, websocket.MessageText},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			url, received := newWebSocketServer(t, nil)

			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()

			transport, err := Dial(ctx, url, tt.opts)
			if err != nil {
				t.Fatalf("Dial error: %v", err)
			}
			defer transport.Close()

			if err := transport.Send(ctx, []byte(`{"type":"ping"}`)); err != nil {
				t.Fatalf("Send error: %v", err)
			}

			f := waitForFrame(t, received)
			if f.typ != tt.want {
				t.Errorf("frame type = %v, want %v", f.typ, tt.want)
			}
			if f.data != `{"type":"ping"}` {
				t.Errorf("frame = %s", f.data)
			}
		})
	}
}

func TestDial_Close(t *testing.T) {
	url, _ := newWebSocketServer(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	transport, err := Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("Dial error: %v", err)
	}

	if err := transport.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}
	if err := transport.Close(); err != nil {
		t.Errorf("second Close error: %v", err)
	}

	if _, err := transport.Receive(ctx); !errors.Is(err, ErrClosed) {
		t.Errorf("Receive err = %v, want ErrClosed", err)
	}
	if err := transport.Send(ctx, []byte(`{"type":"ping"}`)); !errors.Is(err, ErrClosed) {
		t.Errorf("Send err = %v, want ErrClosed", err)
	}
}

func TestDial_Error(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := Dial(ctx, srv.URL, nil)
	var connErr *ConnectionError
	if !errors.As(err, &connErr) {
		t.Fatalf("err = %v, want ConnectionError", err)
	}
	if connErr.Op != "dial" || connErr.URL != srv.URL {
		t.Errorf("ConnectionError = %+v", connErr)
	}
}

func TestSession_OverWebSocket(t *testing.T) {
	url, received := newWebSocketServer(t, []receivedFrame{
		{websocket.MessageText, `{"type":"room_new_job","room_id":"singleplayer_u1","job":{"id":"j1","event_type":"diffusion","enqueue_time":1,"width":1024,"height":1024,"username":"a"}}`},
		{websocket.MessageBinary, `{"type":"job_progress","job_id":"j1","room_id":"singleplayer_u1","data":{"current_status":"running","percentage_complete":30}}`},
	})

	listener := newRecordingListener()
	session := NewSession("u1", "web-token", listener, WithWebSocketURL(url))
	defer session.Disconnect()

	if err := session.Connect(context.Background()); err != nil {
		t.Fatalf("Connect error: %v", err)
	}

	f := waitForFrame(t, received)
	if f.typ != websocket.MessageBinary {
		t.Errorf("frame type = %v, want binary", f.typ)
	}
	if f.data != `{"type":"subscribe_to_user","jwt":"web-token"}` {
		t.Errorf("frame = %s", f.data)
	}

	if job, ok := listener.next(t).(NewJob); !ok || job.ID != "j1" {
		t.Errorf("event = %+v, want NewJob j1", job)
	}
	if update, ok := listener.next(t).(JobUpdate); !ok || update.PercentageComplete != 30 {
		t.Errorf("event = %+v, want JobUpdate 30%%", update)
	}
}
