package ingestion

import (
	"fmt"
	"sort"

	"github.com/gin-gonic/gin"
	"github.com/keyline-lab/keyline/internal/engine"
)

// Service accepts value batches and window boundary events over HTTP and
// drives the per-stream pipelines.
type Service struct {
	pipelines        map[string]*engine.Pipeline
	maxBodySizeBytes int
}

// NewService builds the ingestion service over the given pipelines, keyed by
// stream name.
func NewService(pipelines []*engine.Pipeline, maxBodySizeMB int) (*Service, error) {
	if maxBodySizeMB <= 0 {
		maxBodySizeMB = 1 // default to 1MB
	}
	byStream := make(map[string]*engine.Pipeline, len(pipelines))
	for _, p := range pipelines {
		if _, dup := byStream[p.Stream()]; dup {
			return nil, fmt.Errorf("ingestion: duplicate pipeline for stream %q", p.Stream())
		}
		byStream[p.Stream()] = p
	}
	return &Service{
		pipelines:        byStream,
		maxBodySizeBytes: maxBodySizeMB * 1024 * 1024,
	}, nil
}

// RegisterRoutes registers the ingestion and window-control routes.
func (s *Service) RegisterRoutes(r gin.IRouter) {
	r.POST("/v1/batches", s.IngestHandler)
	r.POST("/v1/streams/:stream/windows/:window_id/close", s.CloseWindowHandler)
	r.POST("/v1/streams/:stream/windows/:window_id/abort", s.AbortWindowHandler)
}

// Streams lists the stream names this service ingests, sorted.
func (s *Service) Streams() []string {
	names := make([]string, 0, len(s.pipelines))
	for name := range s.pipelines {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s *Service) pipeline(stream string) (*engine.Pipeline, bool) {
	p, ok := s.pipelines[stream]
	return p, ok
}
