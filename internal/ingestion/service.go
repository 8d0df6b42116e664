// Package ingestion feeds telemetry messages to the profiler, over HTTP and
// from Kafka.
package ingestion

import (
	"context"

	"github.com/gin-gonic/gin"
)

// Processor applies one message to every matching profile.
type Processor interface {
	Process(ctx context.Context, msg map[string]any) error
}

type Service struct {
	processor        Processor
	maxBodySizeBytes int
}

func NewService(p Processor, maxBodySizeMB int) *Service {
	if p == nil {
		panic("ingestion: processor must not be nil")
	}
	if maxBodySizeMB <= 0 {
		maxBodySizeMB = 1 // default to 1MB
	}
	return &Service{
		processor:        p,
		maxBodySizeBytes: maxBodySizeMB * 1024 * 1024,
	}
}

// RegisterRoutes registers the ingestion service routes.
func (s *Service) RegisterRoutes(r gin.IRouter) {
	r.POST("/v1/messages", s.IngestHandler)
}
