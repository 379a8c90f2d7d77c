package api

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	apperrors "github.com/gmsas95/medremind/internal/errors"
)

func (s *Server) metricsMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		code := c.Response().StatusCode()
		var fe *fiber.Error
		if errors.As(err, &fe) {
			code = fe.Code
		}
		s.metrics.RecordRequest(c.Route().Path, code, time.Since(start))
		return err
	}
}

// rateLimitMiddleware applies one token bucket to the whole API.
func (s *Server) rateLimitMiddleware() fiber.Handler {
	rpm := s.config.Security.RateLimitRPM
	if rpm <= 0 {
		return func(c *fiber.Ctx) error { return c.Next() }
	}
	burst := s.config.Security.RateLimitBurst
	if burst <= 0 {
		burst = 1
	}
	limiter := rate.NewLimiter(rate.Limit(float64(rpm)/60.0), burst)

	return func(c *fiber.Ctx) error {
		if !limiter.Allow() {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{"error": "too many requests"})
		}
		return c.Next()
	}
}

// fail maps an application error to a status code and a JSON body. Storage
// failures get a generic message.
func (s *Server) fail(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, apperrors.ErrMedicationNotFound),
		errors.Is(err, apperrors.ErrSlotNotFound),
		errors.Is(err, apperrors.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": err.Error(), "code": apperrors.GetCode(err)})
	case errors.Is(err, apperrors.ErrInvalidMedication),
		errors.Is(err, apperrors.ErrBadRequest):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error(), "code": apperrors.GetCode(err)})
	}

	code := apperrors.ErrInternal.Code
	if apperrors.IsAppError(err) {
		code = apperrors.GetCode(err)
	}
	s.logger.Error("Request failed",
		zap.String("method", c.Method()),
		zap.String("path", c.Path()),
		zap.String("code", code),
		zap.Error(err),
	)
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Something went wrong. Please try again.", "code": code})
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": msg})
}
