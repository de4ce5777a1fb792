// Package videos exposes the lecture video catalog: upload, browse, edit, delete and view counting.
package videos

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/edusphere/backend/internal/media"
	"github.com/edusphere/backend/internal/models"
	"github.com/edusphere/backend/pkg/apperr"
	"github.com/edusphere/backend/pkg/queue"
	"github.com/edusphere/backend/pkg/storage"
)

// Store is the catalog the service reads and mutates.
type Store interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Video, error)
	List(ctx context.Context, p ListParams) ([]models.Video, int64, error)
	Update(ctx context.Context, id uuid.UUID, patch models.VideoPatch) (*models.Video, error)
	Delete(ctx context.Context, id uuid.UUID) error
	IncrementViews(ctx context.Context, id uuid.UUID) (int64, error)
}

// Ingester runs the upload pipeline.
type Ingester interface {
	Ingest(ctx context.Context, up media.Upload) (*models.Video, error)
}

// Destroyer deletes remote media.
type Destroyer interface {
	Destroy(ctx context.Context, publicID string, rt storage.ResourceType) error
}

// OrphanQueue accepts cleanup jobs for media left without a catalog record.
type OrphanQueue interface {
	EnqueueOrphanCleanup(ctx context.Context, payload queue.OrphanCleanupPayload) error
}

// Page is one page of the catalog.
type Page struct {
	Videos      []models.Video `json:"videos"`
	Total       int64          `json:"total"`
	TotalPages  int64          `json:"totalPages"`
	CurrentPage int            `json:"currentPage"`
}

// Service applies authorization and orchestration over the catalog.
type Service struct {
	store    Store
	ingester Ingester
	storage  Destroyer
	orphans  OrphanQueue // optional
	logger   *zap.Logger
}

// NewService creates a video service. orphans may be nil, in which case orphaned uploads are only logged.
func NewService(store Store, ingester Ingester, storage Destroyer, orphans OrphanQueue, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, ingester: ingester, storage: storage, orphans: orphans, logger: logger}
}

// Upload ingests a new video. When the catalog write fails after the media was stored,
// the stored objects are handed to the orphan cleanup queue before the error is returned.
func (s *Service) Upload(ctx context.Context, up media.Upload) (*models.Video, error) {
	v, err := s.ingester.Ingest(ctx, up)
	if err == nil {
		return v, nil
	}
	var orphan *media.OrphanError
	if errors.As(err, &orphan) {
		s.reportOrphans(ctx, up.UploadedBy, orphan)
	}
	return nil, err
}

func (s *Service) reportOrphans(ctx context.Context, uploadedBy uuid.UUID, orphan *media.OrphanError) {
	ids := make([]string, 0, len(orphan.Objects))
	payload := queue.OrphanCleanupPayload{UploadedBy: uploadedBy, Reason: orphan.Error()}
	for _, o := range orphan.Objects {
		ids = append(ids, o.PublicID)
		payload.Objects = append(payload.Objects, queue.OrphanObject{PublicID: o.PublicID, ResourceType: string(o.ResourceType)})
	}
	if s.orphans == nil {
		s.logger.Error("orphaned media not queued for cleanup", zap.Strings("public_ids", ids))
		return
	}
	// Request context may be near its deadline; the enqueue must still happen.
	if err := s.orphans.EnqueueOrphanCleanup(context.WithoutCancel(ctx), payload); err != nil {
		s.logger.Error("enqueue orphan cleanup failed", zap.Strings("public_ids", ids), zap.Error(err))
	}
}

// Get returns one video.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*models.Video, error) {
	return s.store.GetByID(ctx, id)
}

// List returns one page of the catalog.
func (s *Service) List(ctx context.Context, p ListParams) (*Page, error) {
	p = p.Normalize()
	videos, total, err := s.store.List(ctx, p)
	if err != nil {
		return nil, err
	}
	if videos == nil {
		videos = []models.Video{}
	}
	return &Page{
		Videos:      videos,
		Total:       total,
		TotalPages:  (total + int64(p.Limit) - 1) / int64(p.Limit),
		CurrentPage: p.Page,
	}, nil
}

// Update edits title, description or category. Only the uploader or an admin may do so.
func (s *Service) Update(ctx context.Context, actor models.Actor, id uuid.UUID, patch models.VideoPatch) (*models.Video, error) {
	v, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.CanModify(v) {
		return nil, apperr.Forbidden("videos.update", "not authorized")
	}
	return s.store.Update(ctx, id, patch)
}

// Delete removes the remote media and then the record. Only the uploader or an admin may do so.
// If the video object cannot be deleted the record is kept so the delete can be retried.
func (s *Service) Delete(ctx context.Context, actor models.Actor, id uuid.UUID) error {
	v, err := s.store.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if !actor.CanModify(v) {
		return apperr.Forbidden("videos.delete", "not authorized")
	}

	if v.StorageID != "" {
		if err := s.storage.Destroy(ctx, v.StorageID, storage.ResourceVideo); err != nil {
			return apperr.Upstream(err, "videos.delete", "could not delete video media")
		}
	}
	if v.ThumbnailStorageID != "" {
		if err := s.storage.Destroy(ctx, v.ThumbnailStorageID, storage.ResourceImage); err != nil {
			s.logger.Warn("thumbnail delete failed", zap.String("video_id", id.String()), zap.String("storage_id", v.ThumbnailStorageID), zap.Error(err))
		}
	}
	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.Info("video deleted", zap.String("video_id", id.String()), zap.String("by", actor.UserID.String()))
	return nil
}

// RecordView increments the view counter and returns the new count.
func (s *Service) RecordView(ctx context.Context, id uuid.UUID) (int64, error) {
	return s.store.IncrementViews(ctx, id)
}
