package handler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/notification-engine/internal/domain"
	"github.com/kursadbilgin/notification-engine/internal/observability"
	"github.com/kursadbilgin/notification-engine/internal/service"
)

const (
	HeaderIdempotencyKey = "Idempotency-Key"
	HeaderCorrelationID  = "X-Correlation-ID"
)

type NotificationService interface {
	Create(ctx context.Context, req domain.CreateRequest, opts domain.CreateOptions) (*service.CreateResult, error)
	GetByID(ctx context.Context, id string) (*service.NotificationDetails, error)
}

type NotificationHandler struct {
	service NotificationService
}

func NewNotificationHandler(service NotificationService) (*NotificationHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("notification service is required")
	}
	return &NotificationHandler{service: service}, nil
}

func RegisterNotificationRoutes(router fiber.Router, service NotificationService) error {
	h, err := NewNotificationHandler(service)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Post("/notifications", h.CreateNotification)
	v1.Get("/notifications/:id", h.GetNotification)

	return nil
}

type createNotificationRequest struct {
	TemplateKey string         `json:"templateKey"`
	Language    string         `json:"language"`
	Recipient   string         `json:"recipient"`
	Payload     map[string]any `json:"payload"`
}

type createNotificationResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type notificationResponse struct {
	ID             string         `json:"id"`
	IdempotencyKey string         `json:"idempotencyKey"`
	CorrelationID  string         `json:"correlationId"`
	TemplateKey    string         `json:"templateKey"`
	Language       string         `json:"language"`
	Channel        string         `json:"channel"`
	Recipient      string         `json:"recipient"`
	Payload        map[string]any `json:"payload"`
	Status         string         `json:"status"`
	AttemptCount   int            `json:"attemptCount"`
	NextAttemptAt  *time.Time     `json:"nextAttemptAt,omitempty"`
	CreatedAt      time.Time      `json:"createdAt"`
	UpdatedAt      time.Time      `json:"updatedAt"`
}

type attemptResponse struct {
	ID           string    `json:"id"`
	AttemptNo    int       `json:"attemptNo"`
	Provider     string    `json:"provider,omitempty"`
	Response     string    `json:"response,omitempty"`
	ErrorType    *string   `json:"errorType,omitempty"`
	ErrorMessage *string   `json:"errorMessage,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

type notificationDetailsResponse struct {
	Notification *notificationResponse `json:"notification"`
	Attempts     []attemptResponse     `json:"attempts"`
}

func (h *NotificationHandler) CreateNotification(c *fiber.Ctx) error {
	var req createNotificationRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	opts := domain.CreateOptions{
		IdempotencyKey: strings.TrimSpace(c.Get(HeaderIdempotencyKey)),
		CorrelationID:  requestCorrelationID(c),
	}

	ctx := c.UserContext()
	if opts.CorrelationID != "" {
		ctx = observability.WithCorrelationID(ctx, opts.CorrelationID)
	}

	result, err := h.service.Create(ctx, domain.CreateRequest{
		TemplateKey: req.TemplateKey,
		Language:    req.Language,
		Recipient:   req.Recipient,
		Payload:     req.Payload,
	}, opts)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusAccepted).JSON(createNotificationResponse{
		ID:     result.ID,
		Status: result.Status.String(),
	})
}

func (h *NotificationHandler) GetNotification(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	details, err := h.service.GetByID(c.UserContext(), id)
	if err != nil {
		return toHTTPError(err)
	}

	resp := toDetailsResponse(details)
	if resp.Notification == nil {
		return c.Status(fiber.StatusNotFound).JSON(resp)
	}
	return c.Status(fiber.StatusOK).JSON(resp)
}

func requestCorrelationID(c *fiber.Ctx) string {
	if value := strings.TrimSpace(c.Get(HeaderCorrelationID)); value != "" {
		return value
	}
	if value := strings.TrimSpace(c.Get(fiber.HeaderXRequestID)); value != "" {
		return value
	}
	if value, ok := c.Locals("requestid").(string); ok {
		return strings.TrimSpace(value)
	}
	return ""
}

func toDetailsResponse(details *service.NotificationDetails) notificationDetailsResponse {
	resp := notificationDetailsResponse{Attempts: []attemptResponse{}}
	if !details.Found() {
		return resp
	}

	n := details.Notification
	resp.Notification = &notificationResponse{
		ID:             n.ID,
		IdempotencyKey: n.IdempotencyKey,
		CorrelationID:  n.CorrelationID,
		TemplateKey:    n.TemplateKey,
		Language:       n.Language,
		Channel:        n.Channel.String(),
		Recipient:      n.Recipient,
		Payload:        n.Payload,
		Status:         n.Status.String(),
		AttemptCount:   n.AttemptCount,
		NextAttemptAt:  n.NextAttemptAt,
		CreatedAt:      n.CreatedAt,
		UpdatedAt:      n.UpdatedAt,
	}

	for _, a := range details.Attempts {
		item := attemptResponse{
			ID:           a.ID,
			AttemptNo:    a.AttemptNo,
			Provider:     a.Provider,
			Response:     a.Response,
			ErrorMessage: a.ErrorMessage,
			CreatedAt:    a.CreatedAt,
		}
		if a.ErrorType != nil {
			errType := a.ErrorType.String()
			item.ErrorType = &errType
		}
		resp.Attempts = append(resp.Attempts, item)
	}
	return resp
}

func toHTTPError(err error) error {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrConflict):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	default:
		return err
	}
}
