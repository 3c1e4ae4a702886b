package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/rollcall-app/rollcall/internal/model"
)

// DefaultAckTimeout bounds how long a channel send waits for the server's
// acknowledgment before the send is treated as failed and the fallback
// path takes over.
const DefaultAckTimeout = 5 * time.Second

// wsFrame is the single envelope exchanged on the real-time channel.
// Client -> server frames carry Type "changes"; server -> client frames
// carry "ack" (correlated by BatchID) or "push".
type wsFrame struct {
	Type      string                   `json:"type"`
	BatchID   string                   `json:"batch_id,omitempty"`
	EventID   uint64                   `json:"event_id,omitempty"`
	Date      string                   `json:"date,omitempty"`
	Changes   []model.ChangeSubmission `json:"changes,omitempty"`
	Accepted  bool                     `json:"accepted,omitempty"`
	Conflicts []uint64                 `json:"conflicts,omitempty"`
	Push      *model.Push              `json:"push,omitempty"`
}

// WSChannel is the gorilla/websocket implementation of Channel.  One
// session lives from Connect until the read loop fails; the selector is
// responsible for calling Connect again.
type WSChannel struct {
	url        string
	ackTimeout time.Duration

	mu      sync.Mutex
	conn    *websocket.Conn
	pushes  chan model.Push
	done    chan error
	acks    map[string]chan wsFrame
	writeMu sync.Mutex
}

// NewWSChannel builds a channel client for the given websocket URL.  A
// zero ackTimeout selects the default.
func NewWSChannel(url string, ackTimeout time.Duration) *WSChannel {
	if ackTimeout <= 0 {
		ackTimeout = DefaultAckTimeout
	}
	return &WSChannel{url: url, ackTimeout: ackTimeout}
}

// Connect dials the server and starts the session's read loop.
func (w *WSChannel) Connect(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, w.url, nil)
	if err != nil {
		return err
	}
	w.mu.Lock()
	w.conn = conn
	w.pushes = make(chan model.Push, 16)
	w.done = make(chan error, 1)
	w.acks = make(map[string]chan wsFrame)
	w.mu.Unlock()
	go w.readLoop(conn)
	return nil
}

func (w *WSChannel) readLoop(conn *websocket.Conn) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			w.mu.Lock()
			done := w.done
			w.mu.Unlock()
			done <- err
			_ = conn.Close()
			return
		}
		var frame wsFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			continue // unparseable frame, skip
		}
		switch frame.Type {
		case "ack":
			w.mu.Lock()
			ch, ok := w.acks[frame.BatchID]
			if ok {
				delete(w.acks, frame.BatchID)
			}
			w.mu.Unlock()
			if ok {
				ch <- frame
			}
		case "push":
			if frame.Push == nil {
				continue
			}
			w.mu.Lock()
			pushes := w.pushes
			w.mu.Unlock()
			select {
			case pushes <- *frame.Push:
			default:
				// Slow consumer: dropping a push is safe, the next fetch
				// or refresh push carries the same state.
			}
		}
	}
}

// Send writes one change batch and waits for its acknowledgment.  No ack
// within the timeout is a failure; the selector then takes the fallback
// path and this batch may legitimately reach the server twice, which the
// server deduplicates by change ID.
func (w *WSChannel) Send(ctx context.Context, occ model.OccurrenceKey, changes []model.PendingChange) (model.SubmitResult, error) {
	w.mu.Lock()
	conn := w.conn
	if conn == nil {
		w.mu.Unlock()
		return model.SubmitResult{}, errors.New("channel not connected")
	}
	batchID := uuid.NewString()
	ack := make(chan wsFrame, 1)
	w.acks[batchID] = ack
	w.mu.Unlock()

	frame := wsFrame{
		Type:    "changes",
		BatchID: batchID,
		EventID: occ.EventID,
		Date:    occ.Date,
		Changes: toSubmissions(changes),
	}
	raw, err := json.Marshal(frame)
	if err != nil {
		return model.SubmitResult{}, err
	}
	w.writeMu.Lock()
	err = conn.WriteMessage(websocket.TextMessage, raw)
	w.writeMu.Unlock()
	if err != nil {
		w.dropAck(batchID)
		return model.SubmitResult{}, err
	}

	select {
	case <-ctx.Done():
		w.dropAck(batchID)
		return model.SubmitResult{}, ctx.Err()
	case <-time.After(w.ackTimeout):
		w.dropAck(batchID)
		return model.SubmitResult{}, fmt.Errorf("no ack within %s", w.ackTimeout)
	case resp := <-ack:
		return model.SubmitResult{Accepted: resp.Accepted, Conflicts: resp.Conflicts}, nil
	}
}

func (w *WSChannel) dropAck(batchID string) {
	w.mu.Lock()
	delete(w.acks, batchID)
	w.mu.Unlock()
}

// Pushes returns the current session's inbound push stream.
func (w *WSChannel) Pushes() <-chan model.Push {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.pushes
}

// Done yields the terminal error of the current session.
func (w *WSChannel) Done() <-chan error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.done
}

// Close tears down the current connection, if any.
func (w *WSChannel) Close() error {
	w.mu.Lock()
	conn := w.conn
	w.conn = nil
	w.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}

func toSubmissions(changes []model.PendingChange) []model.ChangeSubmission {
	subs := make([]model.ChangeSubmission, 0, len(changes))
	for _, c := range changes {
		subs = append(subs, model.ChangeSubmission{
			ChangeID: c.ChangeID,
			PersonID: c.PersonID,
			Visitor:  c.Visitor,
			Present:  c.Present,
			EditedAt: c.EditedAt,
		})
	}
	return subs
}
