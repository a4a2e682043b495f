package httpapi

import (
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"

	"breakerd/internal/broadcast"
	"breakerd/internal/domain"
	"breakerd/internal/engine"
	"breakerd/internal/ingest"
	"breakerd/internal/power"
)

// Register mounts the report endpoint, the command surface and the
// live-state websocket. apiKey, when non-empty, is required in the
// X-API-Key header on every mutating endpoint.
func Register(app *fiber.App, eng *engine.Engine, gw *ingest.Gateway, hub *broadcast.Hub, backend power.Backend, apiKey string) {
	auth := func(c *fiber.Ctx) error {
		if apiKey != "" && c.Get("X-API-Key") != apiKey {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid api key"})
		}
		return c.Next()
	}

	app.Post("/rfid", auth, func(c *fiber.Ctx) error {
		report, err := ingest.ParseJSON(c.Body())
		if err != nil {
			return fail(c, err)
		}
		res, err := gw.Apply(c.Context(), report)
		if err != nil {
			return fail(c, err)
		}
		return c.JSON(res)
	})

	app.Get("/breakers", func(c *fiber.Ctx) error {
		snap := eng.Snapshot()
		out := make([]domain.Breaker, 0, len(snap.Breakers))
		for _, b := range snap.Breakers {
			out = append(out, b)
		}
		return c.JSON(out)
	})

	// Diagnostic: compares the recorded state against what the bridge
	// actually reports for the breaker.
	app.Get("/breakers/:id/power", func(c *fiber.Ctx) error {
		b, ok := eng.Breaker(c.Params("id"))
		if !ok {
			return fail(c, fmt.Errorf("%w: breaker %q", domain.ErrUnknownEntity, c.Params("id")))
		}
		physical, err := backend.GetState(c.Context(), b.ID)
		out := fiber.Map{"id": b.ID, "power_state": b.On, "discrepancy": b.Discrepancy}
		if err != nil {
			out["physical_state"] = "unknown"
			log.Warn().Err(err).Str("breaker", b.ID).Msg("physical state read failed")
		} else {
			out["physical_state"] = physical
		}
		return c.JSON(out)
	})

	app.Post("/breakers/:id/power", auth, func(c *fiber.Ctx) error {
		var body struct {
			State string `json:"state"`
		}
		if err := c.BodyParser(&body); err != nil || (body.State != "on" && body.State != "off") {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "state must be \"on\" or \"off\""})
		}
		b, err := eng.SetPower(c.Context(), c.Params("id"), body.State == "on")
		if err != nil {
			return fail(c, err)
		}
		return c.JSON(b)
	})

	app.Post("/cards/:id/balance", auth, func(c *fiber.Ctx) error {
		var body struct {
			Balance *float64 `json:"balance"`
		}
		if err := c.BodyParser(&body); err != nil || body.Balance == nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "missing balance"})
		}
		card, err := eng.SetCardBalance(c.Context(), c.Params("id"), *body.Balance)
		if err != nil {
			return fail(c, err)
		}
		return c.JSON(card)
	})

	app.Get("/snapshot", func(c *fiber.Ctx) error {
		return c.JSON(eng.Snapshot())
	})

	registerWS(app, eng, hub)
}

// fail maps the error taxonomy onto HTTP statuses.
func fail(c *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrUnknownEntity):
		status = fiber.StatusNotFound
	case errors.Is(err, domain.ErrInvalidPayload):
		status = fiber.StatusBadRequest
	case errors.Is(err, domain.ErrPreconditionFailed):
		status = fiber.StatusConflict
	case errors.Is(err, domain.ErrPersistence):
		log.Error().Err(err).Msg("request failed durably")
	}
	return c.Status(status).JSON(fiber.Map{"error": err.Error()})
}
