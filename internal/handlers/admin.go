package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var eventStreamUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// StreamEvents handles GET /admin/events/stream, upgrading the
// connection to a websocket and pushing every wallet/strategy tool
// event as it is published for as long as the client stays connected.
// A caller with no AMQP broker configured (VAULTCORE_AMQP_URL unset)
// still sees the full live stream, since Publisher fans out to local
// subscribers independently of AMQP.
func StreamEvents(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		if deps.Events == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "event stream unavailable"})
			return
		}
		conn, err := eventStreamUpgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			deps.Logger.WithError(err).Warn("event stream upgrade failed")
			return
		}
		defer conn.Close()

		events, unsubscribe := deps.Events.Subscribe(32)
		defer unsubscribe()

		ctx := c.Request.Context()
		for {
			select {
			case <-ctx.Done():
				return
			case env, ok := <-events:
				if !ok {
					return
				}
				conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
				if err := conn.WriteJSON(gin.H{
					"routing_key": env.RoutingKey,
					"payload":     env.Payload,
					"at":          env.At,
				}); err != nil {
					return
				}
			}
		}
	}
}
