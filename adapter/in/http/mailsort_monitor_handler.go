package http

import (
	"strconv"

	"github.com/gofiber/fiber/v2"

	"mailsort_server/core/port/out"
	"mailsort_server/core/service/monitor"
	"mailsort_server/pkg/response"
)

// =============================================================================
// Monitor Handler
// =============================================================================

// MonitorHandler exposes the monitoring controls on the admin surface.
type MonitorHandler struct {
	monitor *monitor.Monitor
	logRepo out.ForwardingLogRepository
	msgRepo out.MessageRepository
}

// NewMonitorHandler creates a monitor handler.
func NewMonitorHandler(m *monitor.Monitor, logRepo out.ForwardingLogRepository, msgRepo out.MessageRepository) *MonitorHandler {
	return &MonitorHandler{
		monitor: m,
		logRepo: logRepo,
		msgRepo: msgRepo,
	}
}

// Register mounts the monitor routes.
func (h *MonitorHandler) Register(router fiber.Router) {
	router.Post("/monitor/:mailboxID/start", h.Start)
	router.Post("/monitor/:mailboxID/stop", h.Stop)
	router.Get("/monitor/:mailboxID/status", h.Status)
	router.Post("/monitor/:mailboxID/check", h.Check)
	router.Post("/monitor/check-all", h.CheckAll)
	router.Get("/mailboxes/:mailboxID/messages", h.RecentMessages)
	router.Get("/messages/:id/forwarding-logs", h.ForwardingLogs)
}

func mailboxParam(c *fiber.Ctx) (int64, error) {
	return strconv.ParseInt(c.Params("mailboxID"), 10, 64)
}

// Start activates monitoring for a mailbox.
func (h *MonitorHandler) Start(c *fiber.Ctx) error {
	mailboxID, err := mailboxParam(c)
	if err != nil {
		return response.BadRequest(c, "invalid mailbox id")
	}

	status, err := h.monitor.Start(c.Context(), mailboxID)
	if err != nil {
		return response.AppError(c, err)
	}

	return response.OK(c, status)
}

// Stop deactivates monitoring for a mailbox.
func (h *MonitorHandler) Stop(c *fiber.Ctx) error {
	mailboxID, err := mailboxParam(c)
	if err != nil {
		return response.BadRequest(c, "invalid mailbox id")
	}

	status, err := h.monitor.Stop(c.Context(), mailboxID)
	if err != nil {
		return response.AppError(c, err)
	}

	return response.OK(c, status)
}

// Status returns the monitor control record for a mailbox.
func (h *MonitorHandler) Status(c *fiber.Ctx) error {
	mailboxID, err := mailboxParam(c)
	if err != nil {
		return response.BadRequest(c, "invalid mailbox id")
	}

	status, err := h.monitor.Status(c.Context(), mailboxID)
	if err != nil {
		return response.AppError(c, err)
	}

	return response.OK(c, status)
}

// Check runs one fetch/classify/forward pass over a mailbox.
func (h *MonitorHandler) Check(c *fiber.Ctx) error {
	mailboxID, err := mailboxParam(c)
	if err != nil {
		return response.BadRequest(c, "invalid mailbox id")
	}

	result, err := h.monitor.Check(c.Context(), mailboxID)
	if err != nil {
		return response.AppError(c, err)
	}

	return response.OK(c, result)
}

// CheckAll runs one check over every monitored mailbox.
func (h *MonitorHandler) CheckAll(c *fiber.Ctx) error {
	results, err := h.monitor.RunAll(c.Context())
	if err != nil {
		return response.AppError(c, err)
	}

	return response.OK(c, results)
}

// RecentMessages lists the latest stored messages for a mailbox.
func (h *MonitorHandler) RecentMessages(c *fiber.Ctx) error {
	mailboxID, err := mailboxParam(c)
	if err != nil {
		return response.BadRequest(c, "invalid mailbox id")
	}
	limit := c.QueryInt("limit", 50)

	messages, err := h.msgRepo.ListRecent(c.Context(), mailboxID, limit)
	if err != nil {
		return response.AppError(c, err)
	}

	return response.OK(c, messages)
}

// ForwardingLogs lists the forwarding attempts recorded for a message.
func (h *MonitorHandler) ForwardingLogs(c *fiber.Ctx) error {
	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil {
		return response.BadRequest(c, "invalid message id")
	}

	entries, err := h.logRepo.ListByMessage(c.Context(), id)
	if err != nil {
		return response.AppError(c, err)
	}

	return response.OK(c, entries)
}
