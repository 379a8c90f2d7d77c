package api

import (
	"context"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/gmsas95/medremind/internal/adherence"
	"github.com/gmsas95/medremind/internal/config"
	"github.com/gmsas95/medremind/internal/medication"
	"github.com/gmsas95/medremind/internal/metrics"
	"github.com/gmsas95/medremind/internal/notify"
	"github.com/gmsas95/medremind/internal/security"
)

// Service is the application surface exposed over HTTP.
type Service interface {
	Medications() ([]medication.Medication, error)
	AddMedication(ctx context.Context, med medication.Medication) (*medication.Medication, error)
	UpdateMedication(ctx context.Context, id string, med medication.Medication) (*medication.Medication, error)
	DeleteMedication(ctx context.Context, id string) error

	MarkTaken(ctx context.Context, medicationID, slotID string, method medication.Method) (*medication.Dose, error)
	MarkSkipped(ctx context.Context, medicationID, slotID, reason string, method medication.Method) (*medication.Dose, error)
	Undo(ctx context.Context, medicationID, slotID string) (*medication.Dose, error)
	Snooze(ctx context.Context, medicationID, slotID string, minutes int) (string, error)
	PendingDoses() ([]medication.Dose, error)
	UpcomingDoses() ([]medication.Dose, error)
	PendingSummary() (string, error)

	Stats(medicationID string, days int) adherence.Stats
	AnalyzeBehavior(days int) adherence.Insights

	History(date string) (*medication.DaySnapshot, error)
	RecentHistory(days int) ([]medication.DaySnapshot, error)
	CheckAndResetIfNewDay(ctx context.Context) (*medication.RolloverResult, error)

	HandleDelivered(p notify.Payload)
	HandleAction(ctx context.Context, action string, p notify.Payload) error
	Notifications() []notify.Delivered
}

type Server struct {
	app     *fiber.App
	config  *config.Config
	svc     Service
	metrics *metrics.Metrics
	logger  *zap.Logger
	version string
}

func New(cfg *config.Config, svc Service, m *metrics.Metrics, logger *zap.Logger, version string) *Server {
	app := fiber.New(fiber.Config{
		ReadTimeout:           seconds(cfg.Server.ReadTimeout, 30),
		WriteTimeout:          seconds(cfg.Server.WriteTimeout, 30),
		IdleTimeout:           120 * time.Second,
		DisableStartupMessage: true,
	})

	s := &Server{
		app:     app,
		config:  cfg,
		svc:     svc,
		metrics: m,
		logger:  logger,
		version: version,
	}

	s.setupRoutes()
	return s
}

func seconds(n, fallback int) time.Duration {
	if n <= 0 {
		n = fallback
	}
	return time.Duration(n) * time.Second
}

// medicationRequest is the create/update body.
type medicationRequest struct {
	Name         string          `json:"name"`
	Dosage       string          `json:"dosage"`
	Unit         medication.Unit `json:"unit"`
	Times        []string        `json:"times"`
	Purpose      string          `json:"purpose"`
	Instructions string          `json:"instructions"`
	StartDate    *time.Time      `json:"start_date"`
	EndDate      *time.Time      `json:"end_date"`
	RefillDate   *time.Time      `json:"refill_date"`
	PrescribedBy string          `json:"prescribed_by"`
	SideEffects  []string        `json:"side_effects"`
	Interactions []string        `json:"interactions"`
}

// toMedication sanitizes the free-text fields and screens them before the
// medication is validated further down.
func (r medicationRequest) toMedication() (medication.Medication, error) {
	med := medication.Medication{
		Name:         security.Sanitize(r.Name),
		Dosage:       security.Sanitize(r.Dosage),
		Unit:         r.Unit,
		Purpose:      security.Sanitize(r.Purpose),
		Instructions: security.Sanitize(r.Instructions),
		EndDate:      r.EndDate,
		RefillDate:   r.RefillDate,
		PrescribedBy: security.Sanitize(r.PrescribedBy),
	}

	fields := []security.Field{
		{Name: "name", Value: med.Name, MaxSize: security.MaxNameSize},
		{Name: "dosage", Value: med.Dosage, MaxSize: security.MaxNameSize},
		{Name: "purpose", Value: med.Purpose, MaxSize: security.MaxNameSize},
		{Name: "instructions", Value: med.Instructions},
		{Name: "prescribed_by", Value: med.PrescribedBy, MaxSize: security.MaxNameSize},
	}
	for _, v := range r.SideEffects {
		v = security.Sanitize(v)
		med.SideEffects = append(med.SideEffects, v)
		fields = append(fields, security.Field{Name: "side_effects", Value: v, MaxSize: security.MaxNameSize})
	}
	for _, v := range r.Interactions {
		v = security.Sanitize(v)
		med.Interactions = append(med.Interactions, v)
		fields = append(fields, security.Field{Name: "interactions", Value: v, MaxSize: security.MaxNameSize})
	}
	if err := security.ValidateFields(fields...); err != nil {
		return med, err
	}

	if r.StartDate != nil {
		med.StartDate = *r.StartDate
	}
	for _, t := range r.Times {
		med.Schedule = append(med.Schedule, medication.DoseSlot{Time: strings.TrimSpace(t)})
	}
	return med, nil
}

type doseRequest struct {
	Method medication.Method `json:"method"`
	Reason string            `json:"reason"`
}

type snoozeRequest struct {
	Minutes int `json:"minutes"`
}

type actionRequest struct {
	Action  string         `json:"action"`
	Payload notify.Payload `json:"payload"`
}
