package monitoring

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// MemoryHandler serves the monitor's current snapshot.
func MemoryHandler(m *MemoryMonitor) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, m.Snapshot())
	}
}
