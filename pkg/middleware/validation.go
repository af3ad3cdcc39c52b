package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/halovoice/voice-caller/pkg/errors"
	"github.com/halovoice/voice-caller/pkg/validation"
)

// ValidateCallIDParam validates that a call ID path parameter is present and
// looks like a UUID.
func ValidateCallIDParam(paramName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param(paramName)
		if id == "" {
			errors.BadRequest(c, paramName+" parameter is required")
			c.Abort()
			return
		}

		if len(id) != 36 || strings.Count(id, "-") != 4 {
			errors.BadRequest(c, "invalid "+paramName+" parameter: must be a UUID")
			c.Abort()
			return
		}

		c.Set(paramName, id)
		c.Next()
	}
}

// ValidatePhoneParam validates that a phone parameter is in E.164 format
func ValidatePhoneParam(paramName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		phone := c.Param(paramName)
		if phone == "" {
			errors.BadRequest(c, paramName+" parameter is required")
			c.Abort()
			return
		}

		if err := validation.ValidateE164(phone); err != nil {
			errors.BadRequest(c, "invalid "+paramName+": must be in E.164 format (e.g., +79161234567)")
			c.Abort()
			return
		}

		c.Set(paramName, phone)
		c.Next()
	}
}

// SanitizeString removes potentially dangerous characters from strings
func SanitizeString(s string) string {
	// Remove null bytes
	s = strings.ReplaceAll(s, "\x00", "")
	// Trim whitespace
	s = strings.TrimSpace(s)
	return s
}
