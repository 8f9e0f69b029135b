package tracking

import (
	"context"
	"errors"
	"time"

	"backend-exploretrack/internal/location"
	"backend-exploretrack/internal/shared/geo"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
)

var validate = validator.New()

// fixRequest carries either a reading or a source error code. Coordinates
// are pointers so a missing lat/lng is told apart from 0.
type fixRequest struct {
	Lat       *float64  `json:"lat" validate:"required_without=Error"`
	Lng       *float64  `json:"lng" validate:"required_without=Error"`
	AccuracyM float64   `json:"accuracy_m" validate:"gte=0"`
	Timestamp time.Time `json:"timestamp"`
	Error     string    `json:"error"`
}

type sessionSummary struct {
	ID          string      `json:"id"`
	StartTime   time.Time   `json:"start_time"`
	EndTime     *time.Time  `json:"end_time,omitempty"`
	IsActive    bool        `json:"is_active"`
	StorageMode StorageMode `json:"storage_mode"`
	PointCount  int         `json:"point_count"`
}

func RegisterRoutes(r fiber.Router, reg *Registry, authMiddleware fiber.Handler) {
	r.Use(authMiddleware)

	r.Post("/start", func(c *fiber.Ctx) error {
		m, err := managerFor(c, reg)
		if err != nil {
			return err
		}
		s, err := m.Start(c.Context())
		if errors.Is(err, ErrAlreadyTracking) {
			return fiber.NewError(fiber.StatusConflict, err.Error())
		}
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		return c.Status(fiber.StatusCreated).JSON(s)
	})

	r.Post("/stop", func(c *fiber.Ctx) error {
		m, err := managerFor(c, reg)
		if err != nil {
			return err
		}
		s, err := m.Stop(c.Context())
		if errors.Is(err, ErrNotTracking) {
			return fiber.NewError(fiber.StatusConflict, err.Error())
		}
		if err != nil {
			return fiber.NewError(fiber.StatusServiceUnavailable, err.Error())
		}
		reg.Memo().Forget(s.ID)
		return c.JSON(s)
	})

	r.Post("/fixes", func(c *fiber.Ctx) error {
		var req fixRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if err := validate.Struct(req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "lat and lng required")
		}
		userID, err := userFrom(c)
		if err != nil {
			return err
		}
		src := reg.Source(bootstrapContext(), userID)
		if req.Error != "" {
			srcErr, ok := location.ParseError(req.Error)
			if !ok {
				return fiber.NewError(fiber.StatusBadRequest, "unknown error code")
			}
			src.PublishError(srcErr)
			return c.SendStatus(fiber.StatusAccepted)
		}
		src.Publish(geo.Fix{Lat: *req.Lat, Lng: *req.Lng, AccuracyM: req.AccuracyM, Timestamp: req.Timestamp})
		return c.SendStatus(fiber.StatusAccepted)
	})

	r.Post("/lifecycle", func(c *fiber.Ctx) error {
		var body struct {
			Event string `json:"event"`
		}
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		m, err := managerFor(c, reg)
		if err != nil {
			return err
		}
		switch body.Event {
		case "visible":
			m.BecameVisible(c.Context())
		case "hidden":
			m.BecameHidden(c.Context())
		case "unload":
			if s, ok := m.Session(); ok {
				reg.Memo().Forget(s.ID)
			}
			m.Unload()
		default:
			return fiber.NewError(fiber.StatusBadRequest, "event must be visible, hidden or unload")
		}
		return c.JSON(m.Status())
	})

	r.Post("/flush", func(c *fiber.Ctx) error {
		m, err := managerFor(c, reg)
		if err != nil {
			return err
		}
		if err := m.Flush(c.Context()); err != nil {
			return fiber.NewError(fiber.StatusServiceUnavailable, err.Error())
		}
		return c.JSON(m.Status())
	})

	r.Get("/status", func(c *fiber.Ctx) error {
		m, err := managerFor(c, reg)
		if err != nil {
			return err
		}
		return c.JSON(m.Status())
	})

	r.Get("/path", func(c *fiber.Ctx) error {
		m, err := managerFor(c, reg)
		if err != nil {
			return err
		}
		s, ok := m.Session()
		if !ok {
			return c.JSON([]geo.Point{})
		}
		return c.JSON(reg.Memo().Render(s.ID, s.Points))
	})

	r.Get("/sessions", func(c *fiber.Ctx) error {
		sessions, err := storedSessions(c, reg)
		if err != nil {
			return err
		}
		out := make([]sessionSummary, 0, len(sessions))
		for _, s := range sessions {
			out = append(out, sessionSummary{
				ID:          s.ID,
				StartTime:   s.StartTime,
				EndTime:     s.EndTime,
				IsActive:    s.IsActive,
				StorageMode: s.StorageMode,
				PointCount:  len(s.Points),
			})
		}
		return c.JSON(out)
	})

	r.Get("/sessions/:id/path", func(c *fiber.Ctx) error {
		userID, err := userFrom(c)
		if err != nil {
			return err
		}
		s, err := reg.Store().Session(c.Context(), c.Params("id"))
		if errors.Is(err, ErrSessionNotFound) || (err == nil && s.UserID != userID) {
			return fiber.NewError(fiber.StatusNotFound, "session not found")
		}
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		return c.JSON(reg.Memo().Render(s.ID, s.Points))
	})

	r.Get("/exploration", func(c *fiber.Ctx) error {
		m, err := managerFor(c, reg)
		if err != nil {
			return err
		}
		return c.JSON(m.Exploration())
	})
}

func userFrom(c *fiber.Ctx) (string, error) {
	userID, _ := c.Locals("user_id").(string)
	if userID == "" {
		return "", fiber.NewError(fiber.StatusUnauthorized, "user_id missing")
	}
	return userID, nil
}

func managerFor(c *fiber.Ctx, reg *Registry) (*Manager, error) {
	userID, err := userFrom(c)
	if err != nil {
		return nil, err
	}
	return reg.Manager(bootstrapContext(), userID), nil
}

func storedSessions(c *fiber.Ctx, reg *Registry) ([]Session, error) {
	userID, err := userFrom(c)
	if err != nil {
		return nil, err
	}
	sessions, err := reg.Store().Sessions(c.Context(), userID)
	if err != nil {
		return nil, fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}
	return sessions, nil
}

// bootstrapContext detaches manager bootstrap from the request. fasthttp
// recycles its request context once the handler returns.
func bootstrapContext() context.Context {
	return context.Background()
}
