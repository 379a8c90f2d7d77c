package api

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/gmsas95/medremind/internal/security"
	"github.com/gmsas95/medremind/internal/timeutil"
)

func (s *Server) handleHealth(c *fiber.Ctx) error {
	resp := fiber.Map{
		"status":    "healthy",
		"version":   s.version,
		"timestamp": time.Now().Unix(),
	}
	if s.metrics != nil {
		resp["uptime_seconds"] = int(s.metrics.Uptime().Seconds())
	}
	if summary, err := s.svc.PendingSummary(); err == nil {
		resp["pending"] = summary
	}
	return c.JSON(resp)
}

func (s *Server) handleListMedications(c *fiber.Ctx) error {
	meds, err := s.svc.Medications()
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(meds)
}

func (s *Server) handleCreateMedication(c *fiber.Ctx) error {
	var req medicationRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request")
	}

	next, err := req.toMedication()
	if err != nil {
		return badRequest(c, err.Error())
	}
	med, err := s.svc.AddMedication(c.UserContext(), next)
	if err != nil {
		return s.fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(med)
}

func (s *Server) handleUpdateMedication(c *fiber.Ctx) error {
	var req medicationRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request")
	}

	next, err := req.toMedication()
	if err != nil {
		return badRequest(c, err.Error())
	}
	med, err := s.svc.UpdateMedication(c.UserContext(), c.Params("id"), next)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(med)
}

func (s *Server) handleDeleteMedication(c *fiber.Ctx) error {
	if err := s.svc.DeleteMedication(c.UserContext(), c.Params("id")); err != nil {
		return s.fail(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// parseDose reads the optional dose body. An empty body is allowed.
func parseDose(c *fiber.Ctx) (doseRequest, bool) {
	var req doseRequest
	if len(c.Body()) == 0 {
		return req, true
	}
	if err := c.BodyParser(&req); err != nil {
		return req, false
	}
	return req, true
}

func (s *Server) handleMarkTaken(c *fiber.Ctx) error {
	req, ok := parseDose(c)
	if !ok {
		return badRequest(c, "invalid request")
	}
	dose, err := s.svc.MarkTaken(c.UserContext(), c.Params("id"), c.Params("slot"), req.Method)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(dose)
}

func (s *Server) handleMarkSkipped(c *fiber.Ctx) error {
	req, ok := parseDose(c)
	if !ok {
		return badRequest(c, "invalid request")
	}
	reason := security.Sanitize(req.Reason)
	if err := security.ValidateFields(security.Field{Name: "reason", Value: reason}); err != nil {
		return badRequest(c, err.Error())
	}
	dose, err := s.svc.MarkSkipped(c.UserContext(), c.Params("id"), c.Params("slot"), reason, req.Method)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(dose)
}

func (s *Server) handleUndo(c *fiber.Ctx) error {
	dose, err := s.svc.Undo(c.UserContext(), c.Params("id"), c.Params("slot"))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(dose)
}

func (s *Server) handleSnooze(c *fiber.Ctx) error {
	var req snoozeRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, "invalid request")
		}
	}
	if req.Minutes < 0 {
		return badRequest(c, "minutes must not be negative")
	}

	handle, err := s.svc.Snooze(c.UserContext(), c.Params("id"), c.Params("slot"), req.Minutes)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(fiber.Map{"handle": handle})
}

func (s *Server) handlePendingDoses(c *fiber.Ctx) error {
	doses, err := s.svc.PendingDoses()
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(doses)
}

func (s *Server) handleUpcomingDoses(c *fiber.Ctx) error {
	doses, err := s.svc.UpcomingDoses()
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(doses)
}

func (s *Server) handleAdherence(c *fiber.Ctx) error {
	return c.JSON(s.svc.Stats(c.Query("medication_id"), c.QueryInt("days", 7)))
}

func (s *Server) handleInsights(c *fiber.Ctx) error {
	return c.JSON(s.svc.AnalyzeBehavior(c.QueryInt("days", 30)))
}

func (s *Server) handleRecentHistory(c *fiber.Ctx) error {
	history, err := s.svc.RecentHistory(c.QueryInt("days", 30))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(history)
}

func (s *Server) handleHistory(c *fiber.Ctx) error {
	date := c.Params("date")
	if _, err := timeutil.ParseDateKey(date, time.UTC); err != nil {
		return badRequest(c, "date must be YYYY-MM-DD")
	}
	snapshot, err := s.svc.History(date)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(snapshot)
}

func (s *Server) handleRollover(c *fiber.Ctx) error {
	result, err := s.svc.CheckAndResetIfNewDay(c.UserContext())
	if err != nil {
		return s.fail(c, err)
	}
	if result == nil {
		return c.JSON(fiber.Map{"rolled_over": false})
	}
	return c.JSON(fiber.Map{"rolled_over": true, "result": result})
}

func (s *Server) handleListNotifications(c *fiber.Ctx) error {
	return c.JSON(s.svc.Notifications())
}

func (s *Server) handleNotificationDelivered(c *fiber.Ctx) error {
	var req actionRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request")
	}
	s.svc.HandleDelivered(req.Payload)
	return c.SendStatus(fiber.StatusAccepted)
}

func (s *Server) handleNotificationAction(c *fiber.Ctx) error {
	var req actionRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request")
	}
	if req.Action == "" {
		return badRequest(c, "action is required")
	}
	if err := s.svc.HandleAction(c.UserContext(), req.Action, req.Payload); err != nil {
		return s.fail(c, err)
	}
	return c.JSON(fiber.Map{"status": "ok"})
}
