package videos

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/edusphere/backend/internal/media"
	"github.com/edusphere/backend/internal/models"
	"github.com/edusphere/backend/pkg/apperr"
	"github.com/edusphere/backend/pkg/queue"
	"github.com/edusphere/backend/pkg/storage"
)

// memStore is an in-memory Store.
type memStore struct {
	mu     sync.Mutex
	videos map[uuid.UUID]*models.Video
}

func newMemStore(vs ...*models.Video) *memStore {
	s := &memStore{videos: map[uuid.UUID]*models.Video{}}
	for _, v := range vs {
		s.videos[v.ID] = v
	}
	return s
}

func (s *memStore) GetByID(ctx context.Context, id uuid.UUID) (*models.Video, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.videos[id]
	if !ok {
		return nil, ErrVideoNotFound
	}
	cp := *v
	return &cp, nil
}

func (s *memStore) List(ctx context.Context, p ListParams) ([]models.Video, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Video
	for _, v := range s.videos {
		if p.Category == "" || v.Category == p.Category {
			out = append(out, *v)
		}
	}
	total := int64(len(out))
	start := p.Offset()
	if start > len(out) {
		start = len(out)
	}
	end := start + p.Limit
	if end > len(out) {
		end = len(out)
	}
	return out[start:end], total, nil
}

func (s *memStore) Update(ctx context.Context, id uuid.UUID, patch models.VideoPatch) (*models.Video, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.videos[id]
	if !ok {
		return nil, ErrVideoNotFound
	}
	if patch.Title != nil {
		v.Title = *patch.Title
	}
	if patch.Description != nil {
		v.Description = *patch.Description
	}
	if patch.Category != nil {
		v.Category = *patch.Category
	}
	cp := *v
	return &cp, nil
}

func (s *memStore) Delete(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.videos[id]; !ok {
		return ErrVideoNotFound
	}
	delete(s.videos, id)
	return nil
}

func (s *memStore) IncrementViews(ctx context.Context, id uuid.UUID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.videos[id]
	if !ok {
		return 0, ErrVideoNotFound
	}
	v.Views++
	return v.Views, nil
}

type mockDestroyer struct{ mock.Mock }

func (m *mockDestroyer) Destroy(ctx context.Context, publicID string, rt storage.ResourceType) error {
	return m.Called(publicID, rt).Error(0)
}

type mockIngester struct{ mock.Mock }

func (m *mockIngester) Ingest(ctx context.Context, up media.Upload) (*models.Video, error) {
	args := m.Called(up)
	v, _ := args.Get(0).(*models.Video)
	return v, args.Error(1)
}

type mockOrphanQueue struct{ mock.Mock }

func (m *mockOrphanQueue) EnqueueOrphanCleanup(ctx context.Context, p queue.OrphanCleanupPayload) error {
	return m.Called(p).Error(0)
}

func ownedVideo(owner uuid.UUID) *models.Video {
	return &models.Video{
		ID:                 uuid.New(),
		Title:              "Limits",
		Category:           "Math",
		UploadedBy:         owner,
		StorageID:          "educational_videos/x_limits.mp4",
		ThumbnailStorageID: "educational_videos/thumbnails/thumb_x_limits.jpg",
	}
}

func TestService_DeleteByNonOwnerIsRejectedWithoutSideEffects(t *testing.T) {
	owner, other := uuid.New(), uuid.New()
	v := ownedVideo(owner)
	store := newMemStore(v)
	d := &mockDestroyer{}
	svc := NewService(store, &mockIngester{}, d, nil, nil)

	err := svc.Delete(context.Background(), models.Actor{UserID: other, Role: models.RoleStudent}, v.ID)

	assert.ErrorIs(t, err, apperr.ErrAuthorization)
	d.AssertNotCalled(t, "Destroy", mock.Anything, mock.Anything)
	_, err = store.GetByID(context.Background(), v.ID)
	assert.NoError(t, err)
}

func TestService_DeleteByOwnerDestroysMediaThenRecord(t *testing.T) {
	owner := uuid.New()
	v := ownedVideo(owner)
	store := newMemStore(v)
	d := &mockDestroyer{}
	d.On("Destroy", v.StorageID, storage.ResourceVideo).Return(nil).Once()
	d.On("Destroy", v.ThumbnailStorageID, storage.ResourceImage).Return(errors.New("gone")).Once()
	svc := NewService(store, &mockIngester{}, d, nil, nil)

	err := svc.Delete(context.Background(), models.Actor{UserID: owner, Role: models.RoleMentor}, v.ID)

	require.NoError(t, err)
	d.AssertExpectations(t)
	_, err = store.GetByID(context.Background(), v.ID)
	assert.ErrorIs(t, err, ErrVideoNotFound)
}

func TestService_AdminMayDeleteAnyVideo(t *testing.T) {
	v := ownedVideo(uuid.New())
	v.ThumbnailStorageID = ""
	d := &mockDestroyer{}
	d.On("Destroy", v.StorageID, storage.ResourceVideo).Return(nil).Once()
	svc := NewService(newMemStore(v), &mockIngester{}, d, nil, nil)

	err := svc.Delete(context.Background(), models.Actor{UserID: uuid.New(), Role: models.RoleAdmin}, v.ID)

	require.NoError(t, err)
	d.AssertExpectations(t)
}

func TestService_DeleteKeepsRecordWhenStorageFails(t *testing.T) {
	owner := uuid.New()
	v := ownedVideo(owner)
	store := newMemStore(v)
	d := &mockDestroyer{}
	d.On("Destroy", v.StorageID, storage.ResourceVideo).Return(errors.New("timeout"))
	svc := NewService(store, &mockIngester{}, d, nil, nil)

	err := svc.Delete(context.Background(), models.Actor{UserID: owner}, v.ID)

	assert.ErrorIs(t, err, apperr.ErrUpstream)
	_, err = store.GetByID(context.Background(), v.ID)
	assert.NoError(t, err)
}

func TestService_UpdateAuthorization(t *testing.T) {
	owner := uuid.New()
	v := ownedVideo(owner)
	svc := NewService(newMemStore(v), &mockIngester{}, &mockDestroyer{}, nil, nil)
	title := "Limits and Continuity"

	_, err := svc.Update(context.Background(), models.Actor{UserID: uuid.New()}, v.ID, models.VideoPatch{Title: &title})
	assert.ErrorIs(t, err, apperr.ErrAuthorization)

	updated, err := svc.Update(context.Background(), models.Actor{UserID: owner}, v.ID, models.VideoPatch{Title: &title})
	require.NoError(t, err)
	assert.Equal(t, title, updated.Title)
	assert.Equal(t, "Math", updated.Category)

	_, err = svc.Update(context.Background(), models.Actor{UserID: owner}, uuid.New(), models.VideoPatch{Title: &title})
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestService_UploadQueuesOrphansOnCatalogFailure(t *testing.T) {
	owner := uuid.New()
	up := media.Upload{Title: "t", UploadedBy: owner}
	orphanErr := media.NewOrphanError([]media.StoredObject{
		{PublicID: "educational_videos/a.mp4", ResourceType: storage.ResourceVideo},
	}, errors.New("insert video: conn closed"))
	ing := &mockIngester{}
	ing.On("Ingest", up).Return(nil, orphanErr)
	q := &mockOrphanQueue{}
	q.On("EnqueueOrphanCleanup", mock.MatchedBy(func(p queue.OrphanCleanupPayload) bool {
		return p.UploadedBy == owner && len(p.Objects) == 1 &&
			p.Objects[0] == queue.OrphanObject{PublicID: "educational_videos/a.mp4", ResourceType: "video"}
	})).Return(nil).Once()
	svc := NewService(newMemStore(), ing, &mockDestroyer{}, q, nil)

	_, err := svc.Upload(context.Background(), up)

	assert.Same(t, orphanErr, err)
	q.AssertExpectations(t)
}

func TestService_UploadFailureWithoutOrphansDoesNotQueue(t *testing.T) {
	up := media.Upload{Title: "t"}
	ing := &mockIngester{}
	ing.On("Ingest", up).Return(nil, apperr.Upstream(errors.New("reset"), "media.ingest", "video upload failed"))
	q := &mockOrphanQueue{}
	svc := NewService(newMemStore(), ing, &mockDestroyer{}, q, nil)

	_, err := svc.Upload(context.Background(), up)

	assert.ErrorIs(t, err, apperr.ErrUpstream)
	q.AssertNotCalled(t, "EnqueueOrphanCleanup", mock.Anything)
}

func TestService_ListPaging(t *testing.T) {
	var vs []*models.Video
	for i := 0; i < 25; i++ {
		vs = append(vs, ownedVideo(uuid.New()))
	}
	svc := NewService(newMemStore(vs...), &mockIngester{}, &mockDestroyer{}, nil, nil)

	page, err := svc.List(context.Background(), ListParams{Page: 3, Category: "All"})

	require.NoError(t, err)
	assert.Equal(t, int64(25), page.Total)
	assert.Equal(t, int64(3), page.TotalPages)
	assert.Equal(t, 3, page.CurrentPage)
	assert.Len(t, page.Videos, 1)
}

func TestService_RecordViewIsMonotonic(t *testing.T) {
	v := ownedVideo(uuid.New())
	svc := NewService(newMemStore(v), &mockIngester{}, &mockDestroyer{}, nil, nil)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = svc.RecordView(context.Background(), v.ID)
		}()
	}
	wg.Wait()

	n, err := svc.RecordView(context.Background(), v.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(21), n)
}
