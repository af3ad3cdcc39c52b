package handlers

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/halovoice/voice-caller/internal/telephony"
	"github.com/halovoice/voice-caller/pkg/errors"
)

// TelephonyStatus receives call-progress callbacks from the provider:
// POST /webhooks/telephony
//
// Unknown call ids are acknowledged with 200 so the provider stops
// retrying; they are expected after a session has been finalized.
func (h *Handler) TelephonyStatus(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
	if err != nil {
		errors.BadRequest(c, "unreadable body")
		return
	}

	if h.cfg.TelephonyWebhookSecret != "" {
		sig := c.GetHeader("X-Signature")
		if !telephony.VerifySignature(h.cfg.TelephonyWebhookSecret, body, sig) {
			h.logger.Warn("webhook signature mismatch",
				zap.String("remote", c.ClientIP()))
			errors.Unauthorized(c, "invalid signature")
			return
		}
	}

	cb, event, err := telephony.ParseStatusCallback(body)
	if err != nil {
		errors.BadRequest(c, err.Error())
		return
	}

	if err := h.manager.HandleTelephonyEvent(cb.CallID, event, cb.Reason); err != nil {
		if errors.IsSessionNotFound(err) {
			h.logger.Info("telephony event for unknown session",
				zap.String("call_id", cb.CallID),
				zap.String("event", event.String()),
			)
			c.JSON(http.StatusOK, gin.H{"accepted": false})
			return
		}
		errors.InternalError(c, err, h.logger)
		return
	}

	c.JSON(http.StatusOK, gin.H{"accepted": true})
}
