package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"collabPlatform/backend/internal/eventbus"
)

// Health：探活
func Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "ok"})
}

// Metrics 暴露事件流的指标面：各主题条目数、指定组的 pending 数、死信深度。
// GET /collab/metrics?topic=collaboration_events&group=persistence
func Metrics(m *eventbus.Monitor) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		out := gin.H{"topics": m.Metrics(ctx)}

		if topic, group := c.Query("topic"), c.Query("group"); topic != "" && group != "" {
			pending, err := m.GroupPending(ctx, topic, group)
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
			out["group"] = gin.H{"topic": topic, "name": group, "pending": pending}
		}

		depth, err := m.AlertOnDeadLetter(ctx)
		if err == nil {
			out["deadLetterDepth"] = depth
		}
		c.JSON(http.StatusOK, out)
	}
}
