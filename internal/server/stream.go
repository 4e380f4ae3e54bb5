package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/moodlens/internal/controller"
	"github.com/MrWong99/moodlens/internal/observe"
)

// Intent names accepted on the websocket.
const (
	IntentStartCamera    = "start_camera"
	IntentStopCamera     = "stop_camera"
	IntentStartDetection = "start_detection"
	IntentStopDetection  = "stop_detection"
)

// writeTimeout bounds a single websocket frame write.
const writeTimeout = 5 * time.Second

// inbound is a client frame on /api/state/ws.
type inbound struct {
	Intent string `json:"intent"`
}

// outbound is a server frame: either a snapshot or an error for a bad intent.
type outbound struct {
	Type  string            `json:"type"`
	State *controller.State `json:"state,omitempty"`
	Error string            `json:"error,omitempty"`
}

// handleStream upgrades to a websocket, sends the current snapshot and every
// later one, and applies intents received from the client.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.originPatterns,
	})
	if err != nil {
		// Accept already wrote the HTTP error response.
		slog.Debug("server: websocket accept failed", "err", err)
		return
	}
	defer conn.CloseNow()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	log := observe.Logger(ctx)

	states, unsubscribe := s.ctrl.Subscribe()
	defer unsubscribe()

	go func() {
		defer cancel()
		s.readIntents(ctx, conn)
	}()

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusGoingAway, "stream closed")
			return
		case st, ok := <-states:
			if !ok {
				conn.Close(websocket.StatusNormalClosure, "controller torn down")
				return
			}
			if err := writeFrame(ctx, conn, outbound{Type: "state", State: &st}); err != nil {
				log.Debug("server: websocket write failed", "err", err)
				return
			}
		}
	}
}

// readIntents applies client intents until the connection closes. Intents
// run on a context detached from the connection.
func (s *Server) readIntents(ctx context.Context, conn *websocket.Conn) {
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			if status := websocket.CloseStatus(err); status == -1 && !errors.Is(err, context.Canceled) {
				slog.Debug("server: websocket read failed", "err", err)
			}
			return
		}
		if typ != websocket.MessageText {
			_ = writeFrame(ctx, conn, outbound{Type: "error", Error: "binary frames are not supported"})
			continue
		}
		var msg inbound
		if err := json.Unmarshal(data, &msg); err != nil {
			_ = writeFrame(ctx, conn, outbound{Type: "error", Error: fmt.Sprintf("decode intent: %v", err)})
			continue
		}
		if err := s.apply(context.WithoutCancel(ctx), msg.Intent); err != nil {
			_ = writeFrame(ctx, conn, outbound{Type: "error", Error: err.Error()})
		}
	}
}

func (s *Server) apply(ctx context.Context, intent string) error {
	switch intent {
	case IntentStartCamera:
		s.ctrl.StartCamera(ctx)
	case IntentStopCamera:
		s.ctrl.StopCamera()
	case IntentStartDetection:
		s.ctrl.StartDetection(ctx)
	case IntentStopDetection:
		s.ctrl.StopDetection()
	default:
		return fmt.Errorf("unknown intent %q", intent)
	}
	return nil
}

func writeFrame(ctx context.Context, conn *websocket.Conn, v outbound) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("server: marshal frame: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}
