// Package media implements video ingestion: staging, duration probing, remote upload and cataloging.
package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/edusphere/backend/internal/models"
	"github.com/edusphere/backend/pkg/apperr"
	"github.com/edusphere/backend/pkg/metrics"
	"github.com/edusphere/backend/pkg/storage"
	"github.com/edusphere/backend/pkg/tracing"
)

const (
	DefaultFolder   = "educational_videos"
	thumbnailFolder = "thumbnails"
	thumbnailPrefix = "thumb_"
)

// Uploader stores local files remotely.
type Uploader interface {
	UploadFile(ctx context.Context, localPath string, opts storage.UploadOptions) (*storage.UploadResult, error)
}

// DurationProber measures media duration in seconds.
type DurationProber interface {
	Probe(ctx context.Context, path string) (float64, error)
}

// Catalog persists video records.
type Catalog interface {
	Create(ctx context.Context, v *models.Video) error
}

// FileInput is one uploaded part.
type FileInput struct {
	Filename    string
	ContentType string
	Reader      io.Reader
}

// Upload is a request to ingest one video.
type Upload struct {
	Video       *FileInput
	Thumbnail   *FileInput // optional
	Title       string
	Description string
	Category    string
	UploadedBy  uuid.UUID
}

// StoredObject names an object in remote storage.
type StoredObject struct {
	PublicID     string
	ResourceType storage.ResourceType
}

// OrphanError reports that media was uploaded but the catalog write failed, leaving
// Objects in remote storage with no record pointing at them.
type OrphanError struct {
	Objects []StoredObject
	err     error
}

// NewOrphanError reports objects left in storage after cause prevented the catalog write.
func NewOrphanError(objects []StoredObject, cause error) *OrphanError {
	return &OrphanError{Objects: objects, err: apperr.Upstream(cause, "media.ingest", "could not save video")}
}

func (e *OrphanError) Error() string {
	if e.err == nil {
		return "media.ingest: uploaded media has no catalog record"
	}
	return e.err.Error()
}

func (e *OrphanError) Unwrap() error { return e.err }

// Pipeline turns an uploaded file into a catalogued, remotely stored video.
type Pipeline struct {
	uploader   Uploader
	prober     DurationProber
	catalog    Catalog
	stagingDir string
	folder     string
	metrics    *metrics.Ingestion
	logger     *zap.Logger
}

// PipelineConfig configures a Pipeline.
type PipelineConfig struct {
	StagingDir string // empty = os.TempDir()/edusphere-uploads
	Folder     string // empty = DefaultFolder
}

// NewPipeline creates an ingestion pipeline.
func NewPipeline(uploader Uploader, prober DurationProber, catalog Catalog, cfg PipelineConfig, m *metrics.Ingestion, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.StagingDir == "" {
		cfg.StagingDir = filepath.Join(os.TempDir(), "edusphere-uploads")
	}
	if cfg.Folder == "" {
		cfg.Folder = DefaultFolder
	}
	return &Pipeline{
		uploader:   uploader,
		prober:     prober,
		catalog:    catalog,
		stagingDir: cfg.StagingDir,
		folder:     cfg.Folder,
		metrics:    m,
		logger:     logger,
	}
}

// IsVideoContentType reports whether ct is a video/* MIME type.
func IsVideoContentType(ct string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(ct)), "video/")
}

// Ingest stages, probes and uploads the video (and thumbnail), then writes the catalog record.
// Staged files are removed on every return path. A catalog failure after upload returns *OrphanError.
func (p *Pipeline) Ingest(ctx context.Context, up Upload) (video *models.Video, err error) {
	start := time.Now()
	ctx, span := tracing.StartSpan(ctx, "media.ingest")
	defer func() {
		if err != nil {
			tracing.RecordError(ctx, err)
		}
		p.metrics.Observe(start, ingestResult(err))
		span.End()
	}()

	if up.Video == nil || up.Video.Reader == nil {
		return nil, apperr.Validation("media.ingest", "no video file provided")
	}
	if !IsVideoContentType(up.Video.ContentType) {
		return nil, apperr.Validation("media.ingest", "only video files are allowed")
	}

	staged, err := stage(ctx, p.stagingDir, StagingName(up.Video.Filename), up.Video.Filename, up.Video.Reader)
	if err != nil {
		return nil, fmt.Errorf("stage video: %w", err)
	}
	defer p.release(staged)
	p.metrics.Staged(staged.size)
	span.SetAttributes(tracing.FileSizeKey.Int64(staged.size))

	duration := p.probe(ctx, staged)

	uctx, uspan := tracing.StartSpan(ctx, "media.upload_video")
	res, err := p.uploader.UploadFile(uctx, staged.path, storage.UploadOptions{
		ResourceType: storage.ResourceVideo,
		Folder:       p.folder,
		PublicID:     staged.baseName(),
	})
	uspan.End()
	if err != nil {
		p.logger.Error("video upload failed", zap.String("file", staged.origin), zap.Error(err))
		return nil, apperr.Upstream(err, "media.ingest", "video upload failed")
	}
	span.SetAttributes(tracing.StorageIDKey.String(res.PublicID))

	thumbURL, thumbID := p.thumbnail(ctx, up.Thumbnail, staged.baseName(), res.SecureURL)
	// Local copies are no longer needed; free them before the catalog round-trip.
	// The deferred release stays as the backstop for earlier returns.
	p.release(staged)

	video = &models.Video{
		ID:                 uuid.New(),
		Title:              up.Title,
		Description:        up.Description,
		Category:           up.Category,
		UploadedBy:         up.UploadedBy,
		VideoURL:           res.SecureURL,
		ThumbnailURL:       thumbURL,
		StorageID:          res.PublicID,
		ThumbnailStorageID: thumbID,
		Duration:           duration,
	}
	if err := p.catalog.Create(ctx, video); err != nil {
		objects := []StoredObject{{PublicID: res.PublicID, ResourceType: storage.ResourceVideo}}
		if thumbID != "" {
			objects = append(objects, StoredObject{PublicID: thumbID, ResourceType: storage.ResourceImage})
		}
		p.logger.Error("catalog write failed after upload", zap.String("storage_id", res.PublicID), zap.Error(err))
		return nil, NewOrphanError(objects, err)
	}

	span.SetAttributes(tracing.VideoIDKey.String(video.ID.String()))
	p.logger.Info("video ingested",
		zap.String("video_id", video.ID.String()),
		zap.String("storage_id", video.StorageID),
		zap.Float64("duration_sec", duration),
		zap.Int64("bytes", staged.size),
		zap.Duration("took", time.Since(start)),
	)
	return video, nil
}

func (p *Pipeline) probe(ctx context.Context, f *stagedFile) float64 {
	ctx, span := tracing.StartSpan(ctx, "media.probe")
	defer span.End()
	d, err := p.prober.Probe(ctx, f.path)
	if err != nil {
		p.logger.Warn("duration probe failed, using 0", zap.String("path", f.path), zap.Error(err))
		return 0
	}
	span.SetAttributes(tracing.DurationKey.Float64(d))
	return d
}

// thumbnail uploads the supplied image, or derives a URL from the video URL when none is
// supplied or the upload fails. The returned storage id is empty unless an image was uploaded.
func (p *Pipeline) thumbnail(ctx context.Context, in *FileInput, videoBase, videoURL string) (string, string) {
	derived := DeriveThumbnailURL(videoURL)
	if in == nil || in.Reader == nil {
		return derived, ""
	}

	ctx, span := tracing.StartSpan(ctx, "media.upload_thumbnail")
	defer span.End()

	ext := strings.ToLower(filepath.Ext(SanitizeFilename(in.Filename)))
	if ext == "" {
		ext = ".jpg"
	}
	staged, err := stage(ctx, p.stagingDir, thumbnailPrefix+uuid.New().String()+ext, in.Filename, in.Reader)
	if err != nil {
		p.logger.Warn("thumbnail staging failed, using derived url", zap.Error(err))
		return derived, ""
	}
	defer p.release(staged)

	res, err := p.uploader.UploadFile(ctx, staged.path, storage.UploadOptions{
		ResourceType: storage.ResourceImage,
		Folder:       p.folder + "/" + thumbnailFolder,
		PublicID:     thumbnailPrefix + videoBase,
	})
	if err != nil {
		tracing.RecordError(ctx, err)
		p.logger.Warn("thumbnail upload failed, using derived url", zap.Error(err))
		return derived, ""
	}
	return res.SecureURL, res.PublicID
}

func (p *Pipeline) release(f *stagedFile) {
	if err := f.release(); err != nil {
		p.logger.Warn("remove staged file failed", zap.String("path", f.path), zap.Error(err))
	}
}

var finalExt = regexp.MustCompile(`\.[^/.]+$`)

// DeriveThumbnailURL swaps the URL's final extension for .jpg. It is a placeholder, not a frame grab.
func DeriveThumbnailURL(videoURL string) string {
	if finalExt.MatchString(videoURL) {
		return finalExt.ReplaceAllString(videoURL, ".jpg")
	}
	return videoURL + ".jpg"
}

func ingestResult(err error) string {
	if err == nil {
		return "ok"
	}
	var orphan *OrphanError
	if errors.As(err, &orphan) {
		return "orphaned"
	}
	switch apperr.KindOf(err) {
	case apperr.KindValidation:
		return "rejected"
	case apperr.KindUpstream:
		return "upload_failed"
	}
	return "error"
}
