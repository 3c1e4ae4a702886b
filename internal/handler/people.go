package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/rollcall-app/rollcall/internal/model"
	"github.com/rollcall-app/rollcall/internal/repository"
)

// PeopleHandler serves the standing roster membership of an event.
// Membership changes are rare compared to attendance toggles, so these
// endpoints stay plain request/response with no push fan-out; clients
// pick up new members on their next roster fetch.
type PeopleHandler struct {
	EventRepo  *repository.EventRepo
	PersonRepo *repository.PersonRepo
}

// NewPeopleHandler constructs a handler.  Both repositories must be
// non-nil.
func NewPeopleHandler(eventRepo *repository.EventRepo, personRepo *repository.PersonRepo) *PeopleHandler {
	if eventRepo == nil || personRepo == nil {
		panic("nil repository passed to NewPeopleHandler")
	}
	return &PeopleHandler{EventRepo: eventRepo, PersonRepo: personRepo}
}

// List handles GET /v1/events/:id/people.
func (h *PeopleHandler) List(c echo.Context) error {
	eventID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || eventID == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid event id"})
	}
	ctx := c.Request().Context()
	if _, err := h.EventRepo.GetByID(ctx, eventID); err != nil {
		if errors.Is(err, repository.ErrEventNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "event not found"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}
	people, err := h.PersonRepo.ListByEvent(ctx, eventID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}
	return c.JSON(http.StatusOK, echo.Map{"people": people})
}

// Create handles POST /v1/events/:id/people.
func (h *PeopleHandler) Create(c echo.Context) error {
	eventID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || eventID == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid event id"})
	}
	var body struct {
		FirstName string `json:"first_name"`
		LastName  string `json:"last_name"`
		FamilyID  uint64 `json:"family_id"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if body.FirstName == "" && body.LastName == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "a name is required"})
	}
	ctx := c.Request().Context()
	if _, err := h.EventRepo.GetByID(ctx, eventID); err != nil {
		if errors.Is(err, repository.ErrEventNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "event not found"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}
	person := model.Person{EventID: eventID, FirstName: body.FirstName, LastName: body.LastName, FamilyID: body.FamilyID}
	if err := h.PersonRepo.Create(ctx, &person); err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}
	return c.JSON(http.StatusCreated, echo.Map{"id": person.ID})
}
