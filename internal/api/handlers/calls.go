package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/halovoice/voice-caller/internal/call"
	"github.com/halovoice/voice-caller/internal/store"
	"github.com/halovoice/voice-caller/pkg/errors"
	"github.com/halovoice/voice-caller/pkg/middleware"
	"github.com/halovoice/voice-caller/pkg/utils"
	"github.com/halovoice/voice-caller/pkg/validation"
)

type CreateCallRequest struct {
	Phone        string `json:"phone" binding:"required"`
	SystemPrompt string `json:"systemPrompt"`
	Greeting     string `json:"greeting"`
}

type CreateCallResponse struct {
	CallID string `json:"callId"`
	Status string `json:"status"`
}

// CreateCall starts an outbound call: POST /api/calls
func (h *Handler) CreateCall(c *gin.Context) {
	var req CreateCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errors.BadRequest(c, "invalid request body: "+err.Error())
		return
	}

	phone, err := validation.NormalizeE164(
		middleware.SanitizeString(req.Phone),
		h.cfg.DefaultCountryCode,
	)
	if err != nil {
		errors.BadRequest(c, "invalid phone number: "+err.Error())
		return
	}

	sess, err := h.manager.CreateCall(phone,
		middleware.SanitizeString(req.SystemPrompt),
		middleware.SanitizeString(req.Greeting),
	)
	if err != nil {
		if errors.IsInvalidArgument(err) {
			errors.BadRequest(c, err.Error())
			return
		}
		errors.InternalError(c, err, h.logger)
		return
	}

	resp := CreateCallResponse{CallID: sess.ID, Status: sess.Status().String()}

	if body, err := json.Marshal(resp); err == nil {
		middleware.StoreIdempotencyResponse(c, h.redisClient, http.StatusCreated, body)
	}
	c.JSON(http.StatusCreated, resp)
}

type CallStatusResponse struct {
	CallID      string            `json:"callId"`
	Status      string            `json:"status"`
	Phone       string            `json:"phone"`
	Disposition string            `json:"disposition,omitempty"`
	Summary     string            `json:"summary,omitempty"`
	Transcript  []call.DialogTurn `json:"transcript,omitempty"`
	DurationSec float64           `json:"durationSec"`
}

// GetCall returns a live session's state, falling back to the persisted
// record once the call has been finalized: GET /api/calls/:callId
func (h *Handler) GetCall(c *gin.Context) {
	callID := c.Param("callId")

	if sess, ok := h.manager.Registry().Get(callID); ok {
		c.JSON(http.StatusOK, CallStatusResponse{
			CallID:      sess.ID,
			Status:      sess.Status().String(),
			Phone:       utils.MaskPhoneNumber(sess.PhoneNumber),
			Transcript:  sess.Transcript(),
			DurationSec: sess.Duration().Seconds(),
		})
		return
	}

	rec, err := h.recorder.GetCall(c.Request.Context(), callID)
	if err == store.ErrNotFound {
		errors.NotFound(c, "call "+callID+" not found")
		return
	}
	if err != nil {
		errors.InternalError(c, err, h.logger)
		return
	}

	c.JSON(http.StatusOK, CallStatusResponse{
		CallID:      rec.CallID,
		Status:      rec.Status,
		Phone:       utils.MaskPhoneNumber(rec.PhoneNumber),
		Disposition: rec.Disposition,
		Summary:     rec.Summary,
		Transcript:  rec.Transcript,
		DurationSec: rec.DurationSec,
	})
}

// ListCalls returns recently finalized calls: GET /api/calls?limit=50
func (h *Handler) ListCalls(c *gin.Context) {
	limit, _ := strconv.ParseInt(c.DefaultQuery("limit", "50"), 10, 64)

	recs, err := h.recorder.ListRecent(c.Request.Context(), limit)
	if err != nil {
		errors.InternalError(c, err, h.logger)
		return
	}

	for i := range recs {
		recs[i].PhoneNumber = utils.MaskPhoneNumber(recs[i].PhoneNumber)
	}
	c.JSON(http.StatusOK, gin.H{"calls": recs, "count": len(recs)})
}
