package http

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"mailsort_server/core/domain"
	"mailsort_server/core/service/classify"
	"mailsort_server/pkg/response"
)

// =============================================================================
// Classify Handler
// =============================================================================

// ClassifyHandler runs ad-hoc classifications over the admin surface, used
// for rule debugging and batch backfills.
type ClassifyHandler struct {
	cascade *classify.Cascade
}

// NewClassifyHandler creates a classify handler.
func NewClassifyHandler(cascade *classify.Cascade) *ClassifyHandler {
	return &ClassifyHandler{cascade: cascade}
}

// Register mounts the classify routes.
func (h *ClassifyHandler) Register(router fiber.Router) {
	router.Post("/classify", h.Classify)
}

type classifyRequest struct {
	Subject              string `json:"subject"`
	Sender               string `json:"sender"`
	Body                 string `json:"body"`
	HasAttachments       bool   `json:"has_attachments"`
	AttachmentCount      int    `json:"attachment_count"`
	AttachmentTotalBytes int64  `json:"attachment_total_bytes"`

	// Method selects a single stage ("rule", "fasttext", "bert", "llm").
	// Empty runs the full cascade.
	Method string `json:"method"`
}

// Classify classifies an ad-hoc message body.
func (h *ClassifyHandler) Classify(c *fiber.Ctx) error {
	var req classifyRequest
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "invalid request body")
	}
	if req.Subject == "" && req.Body == "" {
		return response.BadRequest(c, "subject or body is required")
	}

	msg := &domain.Message{
		Subject:              req.Subject,
		Sender:               req.Sender,
		Body:                 req.Body,
		ReceivedAt:           time.Now().UTC(),
		HasAttachments:       req.HasAttachments,
		AttachmentCount:      req.AttachmentCount,
		AttachmentTotalBytes: req.AttachmentTotalBytes,
	}

	if req.Method != "" {
		result, err := h.cascade.ClassifyWith(c.Context(), msg, req.Method)
		if err != nil {
			return response.BadRequest(c, err.Error())
		}
		return response.OK(c, result)
	}

	return response.OK(c, h.cascade.Classify(c.Context(), msg))
}
