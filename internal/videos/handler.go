package videos

import (
	"errors"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/edusphere/backend/internal/media"
	"github.com/edusphere/backend/internal/middleware"
	"github.com/edusphere/backend/internal/models"
	"github.com/edusphere/backend/pkg/response"
)

// multipartMemory is how much of a multipart body is held in memory before spilling to temp files.
const multipartMemory = 8 << 20

// Handler handles video HTTP endpoints.
type Handler struct {
	service  *Service
	maxBytes int64
	logger   *zap.Logger
}

// NewHandler creates a video handler. maxBytes caps the whole upload request body.
func NewHandler(service *Service, maxBytes int64, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{service: service, maxBytes: maxBytes, logger: logger}
}

// Upload handles POST /videos: multipart "video" (+ optional "thumbnail"), title, description, category.
func (h *Handler) Upload(c *gin.Context) {
	actor, ok := middleware.ActorFrom(c)
	if !ok {
		response.Unauthorized(c, "missing user context")
		return
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBytes)
	if err := c.Request.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			response.TooLarge(c, "upload exceeds "+strconv.FormatInt(h.maxBytes>>20, 10)+"MB limit")
			return
		}
		response.BadRequest(c, "invalid multipart form")
		return
	}
	defer func() { _ = c.Request.MultipartForm.RemoveAll() }()

	videoHeader, err := c.FormFile("video")
	if err != nil {
		response.BadRequest(c, "no video file provided")
		return
	}
	if !media.IsVideoContentType(videoHeader.Header.Get("Content-Type")) {
		response.BadRequest(c, "only video files are allowed")
		return
	}
	video, closeVideo, err := openPart(videoHeader)
	if err != nil {
		response.BadRequest(c, "could not read video file")
		return
	}
	defer closeVideo()

	up := media.Upload{
		Video:       video,
		Title:       c.PostForm("title"),
		Description: c.PostForm("description"),
		Category:    c.PostForm("category"),
		UploadedBy:  actor.UserID,
	}
	if thumbHeader, err := c.FormFile("thumbnail"); err == nil {
		thumb, closeThumb, err := openPart(thumbHeader)
		if err != nil {
			response.BadRequest(c, "could not read thumbnail file")
			return
		}
		defer closeThumb()
		up.Thumbnail = thumb
	}

	v, err := h.service.Upload(c.Request.Context(), up)
	if err != nil {
		h.logger.Error("video upload failed", zap.String("user_id", actor.UserID.String()), zap.Error(err))
		response.Error(c, err)
		return
	}
	response.Created(c, v)
}

func openPart(fh *multipart.FileHeader) (*media.FileInput, func(), error) {
	f, err := fh.Open()
	if err != nil {
		return nil, nil, err
	}
	return &media.FileInput{
		Filename:    fh.Filename,
		ContentType: fh.Header.Get("Content-Type"),
		Reader:      f,
	}, func() { _ = f.Close() }, nil
}

// List handles GET /videos?page=&limit=&category=&search=&sortBy=&order=.
func (h *Handler) List(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(DefaultLimit)))
	p := ListParams{
		Page:     page,
		Limit:    limit,
		Category: c.Query("category"),
		Search:   c.Query("search"),
		SortBy:   c.DefaultQuery("sortBy", "createdAt"),
		Order:    c.DefaultQuery("order", "desc"),
	}
	result, err := h.service.List(c.Request.Context(), p)
	if err != nil {
		h.logger.Error("list videos failed", zap.Error(err))
		response.Internal(c, "could not fetch videos")
		return
	}
	response.OK(c, result)
}

// GetByID handles GET /videos/:id.
func (h *Handler) GetByID(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	v, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, v)
}

// Update handles PUT /videos/:id (owner or admin).
func (h *Handler) Update(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	actor, ok := middleware.ActorFrom(c)
	if !ok {
		response.Unauthorized(c, "missing user context")
		return
	}
	var patch models.VideoPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	v, err := h.service.Update(c.Request.Context(), actor, id, patch)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, v)
}

// Delete handles DELETE /videos/:id (owner or admin).
func (h *Handler) Delete(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	actor, ok := middleware.ActorFrom(c)
	if !ok {
		response.Unauthorized(c, "missing user context")
		return
	}
	if err := h.service.Delete(c.Request.Context(), actor, id); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// RecordView handles POST /videos/:id/view.
func (h *Handler) RecordView(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	views, err := h.service.RecordView(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"views": views})
}

func parseID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid video id")
		return uuid.Nil, false
	}
	return id, true
}
