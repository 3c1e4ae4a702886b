package handler

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/rollcall-app/rollcall/internal/model"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // kiosks connect from arbitrary local origins
	},
}

// changesFrame is the client->server envelope on the realtime channel;
// ackFrame is the correlated answer.  The JSON shapes mirror the kiosk
// channel client.
type changesFrame struct {
	Type    string                   `json:"type"`
	BatchID string                   `json:"batch_id"`
	EventID uint64                   `json:"event_id"`
	Date    string                   `json:"date"`
	Changes []model.ChangeSubmission `json:"changes"`
}

type ackFrame struct {
	Type      string   `json:"type"`
	BatchID   string   `json:"batch_id"`
	Accepted  bool     `json:"accepted"`
	Conflicts []uint64 `json:"conflicts,omitempty"`
}

// Subscribe handles GET /v1/events/:id/occurrences/:date/ws.  The
// connection is registered with the hub for pushes; inbound frames carry
// change batches that take the same path as the request/response submit,
// answered by an ack frame the client correlates by batch ID.
func (h *AttendanceHandler) Subscribe(c echo.Context) error {
	eventID, date, err := occurrenceParams(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}
	occ := model.OccurrenceKey{EventID: eventID, Date: date}

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		log.Printf("ws: upgrade failed: %v", err)
		return nil // upgrader already wrote the error response
	}
	client := h.Hub.Register(occ, conn)
	defer func() {
		h.Hub.Unregister(occ, client)
		_ = conn.Close()
	}()
	log.Printf("ws: subscriber joined %s (%d watching)", occ, h.Hub.Subscribers(occ))

	ctx := c.Request().Context()
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			log.Printf("ws: subscriber left %s: %v", occ, err)
			return nil
		}
		var frame changesFrame
		if err := json.Unmarshal(raw, &frame); err != nil || frame.Type != "changes" {
			continue
		}
		result, err := h.AttendanceRepo.Apply(ctx, eventID, date, frame.Changes)
		if err != nil {
			log.Printf("ws: apply batch %s failed: %v", frame.BatchID, err)
			// No ack: the client times out and takes the fallback path.
			continue
		}
		ack := ackFrame{Type: "ack", BatchID: frame.BatchID, Accepted: result.Accepted, Conflicts: result.Conflicts}
		payload, err := json.Marshal(ack)
		if err != nil {
			continue
		}
		if err := client.Write(payload); err != nil {
			log.Printf("ws: ack write failed: %v", err)
			return nil
		}
		h.broadcast(eventID, date, frame.Changes, result)
	}
}
