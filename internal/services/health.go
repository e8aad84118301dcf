package services

import (
	"context"

	"terraintake/internal/database"
	"terraintake/internal/notification"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// HealthResult is the health check response.
type HealthResult struct {
	Status   string              `json:"status"`
	Service  string              `json:"service"`
	Version  string              `json:"version"`
	Database string              `json:"database"`
	Queue    *notification.Stats `json:"queue,omitempty"`
}

// HealthService implements the health service
type HealthService struct {
	db      *gorm.DB
	queue   *notification.Queue
	service string
	version string
	log     *logrus.Entry
}

// NewHealthService creates a new health service
func NewHealthService(db *gorm.DB, queue *notification.Queue, service, version string, log logrus.FieldLogger) *HealthService {
	return &HealthService{
		db:      db,
		queue:   queue,
		service: service,
		version: version,
		log:     log.WithField("component", "HEALTH"),
	}
}

// Check pings the database and reports queue counts. It reports unhealthy
// rather than failing.
func (s *HealthService) Check(ctx context.Context) *HealthResult {
	result := &HealthResult{
		Status:   "healthy",
		Service:  s.service,
		Version:  s.version,
		Database: "up",
	}

	if err := database.Ping(ctx, s.db); err != nil {
		s.log.WithError(err).Warn("Database ping failed")
		result.Status = "unhealthy"
		result.Database = "down"
		return result
	}
	if err := database.ReportPoolStats(s.db); err != nil {
		s.log.WithError(err).Debug("Pool stats unavailable")
	}

	stats, err := s.queue.Stats(ctx)
	if err != nil {
		s.log.WithError(err).Warn("Queue stats failed")
		result.Status = "degraded"
		return result
	}
	result.Queue = &stats
	return result
}
