package handler

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/rollcall-app/rollcall/internal/hub"
	"github.com/rollcall-app/rollcall/internal/model"
	"github.com/rollcall-app/rollcall/internal/queue"
	"github.com/rollcall-app/rollcall/internal/repository"
	queue_publisher "github.com/rollcall-app/rollcall/internal/service"
)

// AttendanceHandler groups the repositories and the websocket hub needed
// to serve roster fetches and change submissions.  All methods are
// occurrence-scoped: the event ID and date come from the path.
type AttendanceHandler struct {
	EventRepo      *repository.EventRepo
	AttendanceRepo *repository.AttendanceRepo
	VisitorRepo    *repository.VisitorRepo
	Hub            *hub.Hub
}

// NewAttendanceHandler constructs a handler.  All dependencies must be
// non-nil.
func NewAttendanceHandler(eventRepo *repository.EventRepo, attendanceRepo *repository.AttendanceRepo, visitorRepo *repository.VisitorRepo, h *hub.Hub) *AttendanceHandler {
	if eventRepo == nil || attendanceRepo == nil || visitorRepo == nil || h == nil {
		panic("nil dependency passed to NewAttendanceHandler")
	}
	return &AttendanceHandler{
		EventRepo:      eventRepo,
		AttendanceRepo: attendanceRepo,
		VisitorRepo:    visitorRepo,
		Hub:            h,
	}
}

// occurrenceParams extracts and validates the (event, date) pair from the
// path.  Dates must be calendar days in ISO form.
func occurrenceParams(c echo.Context) (uint64, string, error) {
	eventID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || eventID == 0 {
		return 0, "", errors.New("invalid event id")
	}
	date := c.Param("date")
	if _, err := time.Parse("2006-01-02", date); err != nil {
		return 0, "", errors.New("invalid date")
	}
	return eventID, date, nil
}

// GetRoster handles GET /v1/events/:id/occurrences/:date/roster.  It
// returns the authoritative roster and visitor lists for the occurrence.
func (h *AttendanceHandler) GetRoster(c echo.Context) error {
	eventID, date, err := occurrenceParams(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}
	ctx := c.Request().Context()
	if _, err := h.EventRepo.GetByID(ctx, eventID); err != nil {
		if errors.Is(err, repository.ErrEventNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "event not found"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}
	roster, visitors, err := h.AttendanceRepo.Occurrence(ctx, eventID, date)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}
	return c.JSON(http.StatusOK, echo.Map{"roster": roster, "visitors": visitors})
}

// Submit handles POST /v1/events/:id/occurrences/:date/attendance.  The
// body carries a batch of change submissions; the response reports
// acceptance plus the people whose records another writer changed first.
// Accepted changes are fanned out through the broker so every instance's
// websocket subscribers see them.
func (h *AttendanceHandler) Submit(c echo.Context) error {
	eventID, date, err := occurrenceParams(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}
	var body struct {
		Changes []model.ChangeSubmission `json:"changes"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if len(body.Changes) == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "changes is required"})
	}
	ctx := c.Request().Context()
	result, err := h.AttendanceRepo.Apply(ctx, eventID, date, body.Changes)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}
	h.broadcast(eventID, date, body.Changes, result)
	return c.JSON(http.StatusOK, result)
}

// CreateVisitor handles POST /v1/events/:id/occurrences/:date/visitors.
// The new visitor is announced as an incremental push so other devices
// adopt it without a full refresh.
func (h *AttendanceHandler) CreateVisitor(c echo.Context) error {
	eventID, date, err := occurrenceParams(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}
	var body struct {
		FirstName string `json:"first_name"`
		LastName  string `json:"last_name"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if body.FirstName == "" && body.LastName == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "a name is required"})
	}
	visitor := model.Visitor{EventID: eventID, Date: date, FirstName: body.FirstName, LastName: body.LastName}
	ctx := c.Request().Context()
	if err := h.VisitorRepo.Create(ctx, &visitor); err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}
	record := model.PresenceRecord{
		PersonID:  visitor.ID,
		EventID:   eventID,
		Date:      date,
		FirstName: visitor.FirstName,
		LastName:  visitor.LastName,
		Visitor:   true,
		EditedAt:  time.Now().UnixMilli(),
	}
	h.publish(queue.AttendanceChangedEvent{
		EventID:   eventID,
		Date:      date,
		Records:   []model.PresenceRecord{record},
		ChangedAt: time.Now().UTC().Format(time.RFC3339),
	})
	return c.JSON(http.StatusCreated, echo.Map{"id": visitor.ID})
}

// ServerTime handles GET /v1/time, the clock-sync query.
func (h *AttendanceHandler) ServerTime(c echo.Context) error {
	return c.JSON(http.StatusOK, echo.Map{"server_time": time.Now().UnixMilli()})
}

// broadcast converts accepted submissions into an incremental push.
// Conflicted records are excluded: the losing value must not reach other
// devices as if it had won.
func (h *AttendanceHandler) broadcast(eventID uint64, date string, subs []model.ChangeSubmission, result model.SubmitResult) {
	var records []model.PresenceRecord
	for _, sub := range subs {
		if result.Conflicted(sub.PersonID) {
			continue
		}
		records = append(records, model.PresenceRecord{
			PersonID: sub.PersonID,
			EventID:  eventID,
			Date:     date,
			Visitor:  sub.Visitor,
			Present:  sub.Present,
			EditedAt: sub.EditedAt,
		})
	}
	if len(records) == 0 {
		return
	}
	h.publish(queue.AttendanceChangedEvent{
		EventID:   eventID,
		Date:      date,
		Records:   records,
		ChangedAt: time.Now().UTC().Format(time.RFC3339),
	})
}

// publish hands the event to the broker, falling back to a local-only
// broadcast when the broker is unreachable so kiosks on this instance
// still get the push.
func (h *AttendanceHandler) publish(event queue.AttendanceChangedEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := queue_publisher.PublishAttendanceChanged(ctx, event); err != nil {
		log.Printf("attendance: publish failed, broadcasting locally only: %v", err)
		h.Hub.Broadcast(event.Push())
	}
}
