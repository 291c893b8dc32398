// Package stream is an optional HTTP/WebSocket fan-out of a single
// engine run's event channel to remote consumers (chi routing, a
// gorilla/websocket upgrade, 30s ping keepalive). It sits entirely
// outside the engine: orchestrator.Run's single-channel contract is
// unaffected by whether anything in this package is wired up.
package stream

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/hookci/hookci/hclog"
	"github.com/hookci/hookci/model"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Server fans a single run's event channel out to any number of
// WebSocket clients connected while the run is in flight. It persists
// nothing and has no concept of backfilling past events by cursor —
// Server only ever mirrors the one run it was constructed for.
type Server struct {
	events <-chan model.Event
	log    *slog.Logger

	subs chanSet
}

// NewServer wraps a run's event channel (as returned by
// orchestrator.Engine.Run) for HTTP/WebSocket fan-out. It immediately
// starts draining events in the background and broadcasting them to
// connected clients; construct it only after deciding to serve this run
// live.
func NewServer(events <-chan model.Event) *Server {
	s := &Server{
		events: events,
		log:    hclog.New("hookci/stream"),
		subs:   newChanSet(),
	}
	go s.pump()
	return s
}

// Routes mounts the /events WebSocket endpoint onto r, behind chi's
// request logger. Log lines reach clients as log_line events on that same
// endpoint; there is no separate log endpoint.
func (s *Server) Routes(r chi.Router) {
	r.Use(chimiddleware.Logger)
	r.Get("/events", s.handleEvents)
}

func (s *Server) pump() {
	for ev := range s.events {
		s.subs.broadcast(ev)
	}
	s.subs.closeAll()
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	l := s.log.With("handler", "events")

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		l.Error("websocket upgrade failed", "err", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go func() {
		for {
			if _, _, err := conn.NextReader(); err != nil {
				cancel()
				return
			}
		}
	}()

	ch := s.subs.subscribe()
	defer s.subs.unsubscribe(ch)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if err := conn.WriteJSON(toWire(ev)); err != nil {
				l.Error("write event failed", "err", err)
				return
			}
		case <-time.After(30 * time.Second):
			if err := conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(time.Second)); err != nil {
				l.Error("ping failed", "err", err)
				return
			}
		}
	}
}
