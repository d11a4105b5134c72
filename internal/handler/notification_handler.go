package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/notification-center/internal/domain"
)

type NotificationService interface {
	Send(ctx context.Context, channel, recipient, message string, subject *string, extra map[string]any) (uint64, error)
	GetStatus(ctx context.Context, requestID uint64) (*domain.Notification, error)
	GetLogs(ctx context.Context, requestID uint64) ([]domain.DeliveryLog, error)
	Channels() []string
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
	v1.Post("/notifications", h.SendNotification)
	v1.Get("/notifications/:id", h.GetNotification)
	v1.Get("/notifications/:id/logs", h.GetNotificationLogs)
	v1.Get("/channels", h.ListChannels)

	return nil
}

type sendNotificationRequest struct {
	Channel string         `json:"channel"`
	To      string         `json:"to"`
	Message string         `json:"message"`
	Subject *string        `json:"subject"`
	Payload map[string]any `json:"payload"`
}

type sendNotificationResponse struct {
	Status    string `json:"status"`
	RequestID uint64 `json:"requestId"`
}

type notificationResponse struct {
	ID        uint64         `json:"id"`
	Channel   string         `json:"channel"`
	Payload   domain.Payload `json:"payload"`
	Status    string         `json:"status"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

type deliveryLogResponse struct {
	ID           uint64          `json:"id"`
	Driver       string          `json:"driver"`
	Success      bool            `json:"success"`
	Response     json.RawMessage `json:"response,omitempty"`
	ErrorMessage *string         `json:"errorMessage,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
}

type notificationLogsResponse struct {
	RequestID uint64                `json:"requestId"`
	Logs      []deliveryLogResponse `json:"logs"`
}

func (h *NotificationHandler) SendNotification(c *fiber.Ctx) error {
	var req sendNotificationRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	switch {
	case strings.TrimSpace(req.Channel) == "":
		return fmt.Errorf("%w: channel is required", domain.ErrValidation)
	case strings.TrimSpace(req.To) == "":
		return fmt.Errorf("%w: recipient (to) is required", domain.ErrValidation)
	case strings.TrimSpace(req.Message) == "":
		return fmt.Errorf("%w: message is required", domain.ErrValidation)
	}

	requestID, err := h.service.Send(c.UserContext(), req.Channel, req.To, req.Message, req.Subject, req.Payload)
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusOK).JSON(sendNotificationResponse{
		Status:    domain.StatusQueued.String(),
		RequestID: requestID,
	})
}

func (h *NotificationHandler) GetNotification(c *fiber.Ctx) error {
	requestID, err := parseRequestID(c)
	if err != nil {
		return err
	}

	notification, err := h.service.GetStatus(c.UserContext(), requestID)
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusOK).JSON(toNotificationResponse(notification))
}

func (h *NotificationHandler) GetNotificationLogs(c *fiber.Ctx) error {
	requestID, err := parseRequestID(c)
	if err != nil {
		return err
	}

	logs, err := h.service.GetLogs(c.UserContext(), requestID)
	if err != nil {
		return err
	}

	items := make([]deliveryLogResponse, 0, len(logs))
	for _, l := range logs {
		items = append(items, deliveryLogResponse{
			ID:           l.ID,
			Driver:       l.Driver,
			Success:      l.Success,
			Response:     l.Response,
			ErrorMessage: l.ErrorMessage,
			CreatedAt:    l.CreatedAt,
		})
	}

	return c.Status(fiber.StatusOK).JSON(notificationLogsResponse{
		RequestID: requestID,
		Logs:      items,
	})
}

func (h *NotificationHandler) ListChannels(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"channels": h.service.Channels(),
	})
}

func parseRequestID(c *fiber.Ctx) (uint64, error) {
	id, err := strconv.ParseUint(strings.TrimSpace(c.Params("id")), 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("%w: invalid request id", domain.ErrValidation)
	}
	return id, nil
}

func toNotificationResponse(n *domain.Notification) notificationResponse {
	if n == nil {
		return notificationResponse{}
	}

	return notificationResponse{
		ID:        n.ID,
		Channel:   n.Channel,
		Payload:   n.Payload,
		Status:    n.Status.String(),
		CreatedAt: n.CreatedAt,
		UpdatedAt: n.UpdatedAt,
	}
}
