package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  8192,
	WriteBufferSize: 8192,
	// The provider's media servers connect from rotating IPs; the webhook
	// signature on the status callbacks is the authentication boundary.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// MediaStream accepts the provider's bidirectional audio websocket:
// GET /ws/media/:callId
func (h *Handler) MediaStream(c *gin.Context) {
	callID := c.Param("callId")

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("media stream upgrade failed",
			zap.String("call_id", callID), zap.Error(err))
		return
	}

	// Blocks for the life of the connection.
	h.hub.Attach(callID, conn)
}
