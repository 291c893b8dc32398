package stream

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/hookci/hookci/model"
)

func TestServer_BroadcastsEventsOverWebSocket(t *testing.T) {
	events := make(chan model.Event, 4)
	s := NewServer(events)

	r := chi.NewRouter()
	s.Routes(r)
	ts := httptest.NewServer(r)
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/events"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	events <- model.PipelineStart{TotalSteps: 2, LogLevel: model.LogLevelInfo}

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var got map[string]any
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if got["type"] != "pipeline_start" {
		t.Fatalf("expected pipeline_start, got %v", got["type"])
	}

	close(events)
}

func TestServer_ClosesConnectionWhenRunEnds(t *testing.T) {
	events := make(chan model.Event)
	s := NewServer(events)

	r := chi.NewRouter()
	s.Routes(r)
	ts := httptest.NewServer(r)
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/events"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	close(events)

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err = conn.ReadMessage()
	if err == nil {
		t.Fatal("expected the connection to close once the run's event channel closes")
	}
}
