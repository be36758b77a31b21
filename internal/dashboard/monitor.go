package dashboard

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"gachasync/internal/metrics"
	"gachasync/logger"
)

type metricView struct {
	Timestamp string        `json:"timestamp"`
	Component string        `json:"component"`
	Name      string        `json:"name"`
	Value     interface{}   `json:"value"`
	Type      string        `json:"type"`
	Fields    logger.Fields `json:"fields,omitempty"`
}

func newMetricView(m metrics.Metric) metricView {
	return metricView{
		Timestamp: m.Timestamp.Format(time.RFC3339Nano),
		Component: m.Component,
		Name:      m.Name,
		Value:     m.Value,
		Type:      m.Type,
		Fields:    m.Fields,
	}
}

// handleMetrics serves the retained metric events, optionally only those
// called ?name=.
func (s *Server) handleMetrics(c *gin.Context) {
	retained := s.metricStore.byName(c.Query("name"))
	out := make([]metricView, len(retained))
	for i, m := range retained {
		out[i] = newMetricView(m)
	}
	c.JSON(http.StatusOK, gin.H{"metrics": out})
}

// handleLogs serves captured log entries filtered by ?component=, ?account=
// and the minimum ?level=.
func (s *Server) handleLogs(c *gin.Context) {
	logs := s.logStore.query(c.Query("component"), c.Query("account"), c.Query("level"))
	c.JSON(http.StatusOK, gin.H{"logs": logs})
}

func (s *Server) handleResources(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"resources": s.resourceSampler.snapshot()})
}
