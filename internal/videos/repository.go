package videos

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/edusphere/backend/internal/models"
	"github.com/edusphere/backend/pkg/apperr"
)

// ErrVideoNotFound is returned when no video has the requested id.
var ErrVideoNotFound = apperr.NotFound("videos", "video not found")

const (
	DefaultPage  = 1
	DefaultLimit = 12
	MaxLimit     = 100
	categoryAll  = "All"
)

// sortColumns whitelists sortable columns; camelCase keys are what the web client sends.
var sortColumns = map[string]string{
	"created_at": "created_at",
	"createdAt":  "created_at",
	"title":      "title",
	"views":      "views",
	"duration":   "duration",
}

// ListParams filters and pages the catalog.
type ListParams struct {
	Page     int
	Limit    int
	Category string
	Search   string
	SortBy   string
	Order    string
}

// Normalize applies defaults and clamps out-of-range values.
func (p ListParams) Normalize() ListParams {
	if p.Page < 1 {
		p.Page = DefaultPage
	}
	if p.Limit < 1 {
		p.Limit = DefaultLimit
	}
	if p.Limit > MaxLimit {
		p.Limit = MaxLimit
	}
	if _, ok := sortColumns[p.SortBy]; !ok {
		p.SortBy = "created_at"
	}
	if strings.EqualFold(p.Order, "asc") {
		p.Order = "ASC"
	} else {
		p.Order = "DESC"
	}
	if p.Category == categoryAll {
		p.Category = ""
	}
	p.Search = strings.TrimSpace(p.Search)
	return p
}

// Offset is the row offset for the page.
func (p ListParams) Offset() int { return (p.Page - 1) * p.Limit }

// whereClause builds the filter and its arguments. Args are numbered from 1.
func (p ListParams) whereClause() (string, []interface{}) {
	var conds []string
	var args []interface{}
	if p.Category != "" {
		args = append(args, p.Category)
		conds = append(conds, "category = $"+strconv.Itoa(len(args)))
	}
	if p.Search != "" {
		args = append(args, "%"+escapeLike(p.Search)+"%")
		n := strconv.Itoa(len(args))
		conds = append(conds, "(title ILIKE $"+n+" OR description ILIKE $"+n+")")
	}
	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// Repository handles video persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a videos repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const videoColumns = `id, title, description, category, uploaded_by, video_url, thumbnail_url, storage_id, thumbnail_storage_id, duration, views, created_at, updated_at`

func scanVideo(row pgx.Row, v *models.Video) error {
	return row.Scan(&v.ID, &v.Title, &v.Description, &v.Category, &v.UploadedBy, &v.VideoURL, &v.ThumbnailURL,
		&v.StorageID, &v.ThumbnailStorageID, &v.Duration, &v.Views, &v.CreatedAt, &v.UpdatedAt)
}

// Create inserts a video. ID is generated when nil; timestamps are set by the database.
func (r *Repository) Create(ctx context.Context, v *models.Video) error {
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	const q = `INSERT INTO videos (id, title, description, category, uploaded_by, video_url, thumbnail_url, storage_id, thumbnail_storage_id, duration, views)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 0)
		RETURNING views, created_at, updated_at`
	err := r.pool.QueryRow(ctx, q, v.ID, v.Title, v.Description, v.Category, v.UploadedBy, v.VideoURL, v.ThumbnailURL,
		v.StorageID, v.ThumbnailStorageID, v.Duration).Scan(&v.Views, &v.CreatedAt, &v.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert video: %w", err)
	}
	return nil
}

// GetByID returns a video by ID.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Video, error) {
	q := `SELECT ` + videoColumns + ` FROM videos WHERE id = $1`
	var v models.Video
	if err := scanVideo(r.pool.QueryRow(ctx, q, id), &v); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrVideoNotFound
		}
		return nil, fmt.Errorf("get video: %w", err)
	}
	return &v, nil
}

// List returns one page of videos and the total number matching the filter.
func (r *Repository) List(ctx context.Context, params ListParams) ([]models.Video, int64, error) {
	p := params.Normalize()
	where, args := p.whereClause()

	var total int64
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM videos`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count videos: %w", err)
	}

	n := len(args)
	q := `SELECT ` + videoColumns + ` FROM videos` + where +
		` ORDER BY ` + sortColumns[p.SortBy] + ` ` + p.Order + `, id ` + p.Order +
		` LIMIT $` + strconv.Itoa(n+1) + ` OFFSET $` + strconv.Itoa(n+2)
	rows, err := r.pool.Query(ctx, q, append(args, p.Limit, p.Offset())...)
	if err != nil {
		return nil, 0, fmt.Errorf("list videos: %w", err)
	}
	defer rows.Close()
	list := make([]models.Video, 0, p.Limit)
	for rows.Next() {
		var v models.Video
		if err := scanVideo(rows, &v); err != nil {
			return nil, 0, fmt.Errorf("scan video: %w", err)
		}
		list = append(list, v)
	}
	return list, total, rows.Err()
}

// Update applies the non-nil fields of patch and returns the updated video.
func (r *Repository) Update(ctx context.Context, id uuid.UUID, patch models.VideoPatch) (*models.Video, error) {
	q := `UPDATE videos SET
		title = COALESCE($2, title),
		description = COALESCE($3, description),
		category = COALESCE($4, category),
		updated_at = NOW()
		WHERE id = $1
		RETURNING ` + videoColumns
	var v models.Video
	if err := scanVideo(r.pool.QueryRow(ctx, q, id, patch.Title, patch.Description, patch.Category), &v); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrVideoNotFound
		}
		return nil, fmt.Errorf("update video: %w", err)
	}
	return &v, nil
}

// Delete removes a video record.
func (r *Repository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM videos WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete video: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrVideoNotFound
	}
	return nil
}

// IncrementViews adds one view and returns the new count.
func (r *Repository) IncrementViews(ctx context.Context, id uuid.UUID) (int64, error) {
	var views int64
	err := r.pool.QueryRow(ctx, `UPDATE videos SET views = views + 1 WHERE id = $1 RETURNING views`, id).Scan(&views)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrVideoNotFound
		}
		return 0, fmt.Errorf("increment views: %w", err)
	}
	return views, nil
}
