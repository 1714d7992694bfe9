package projection

import (
	"github.com/gin-gonic/gin"
	"github.com/keyline-lab/keyline/internal/core/storage"
)

// Service serves finalized window aggregates back out over HTTP.
type Service struct {
	reader storage.AggregateReader
}

func NewService(reader storage.AggregateReader) *Service {
	return &Service{reader: reader}
}

// RegisterRoutes registers the read-side routes.
func (s *Service) RegisterRoutes(r gin.IRouter) {
	r.GET("/v1/streams/:stream/windows/:window_id/aggregates/:kind", s.QueryWindowHandler)
}
