package repository

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/openhls/s2-downloader/internal/models"
)

// MockGranuleRepository is a mock implementation of GranuleRepository for testing.
type MockGranuleRepository struct {
	mock.Mock
}

func (m *MockGranuleRepository) Insert(ctx context.Context, granule *models.Granule) (bool, error) {
	args := m.Called(ctx, granule)
	return args.Bool(0), args.Error(1)
}

func (m *MockGranuleRepository) GetByID(ctx context.Context, id string) (*models.Granule, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Granule), args.Error(1)
}

func (m *MockGranuleRepository) AcquireLease(ctx context.Context, id string, now, staleBefore time.Time) (bool, error) {
	args := m.Called(ctx, id, now, staleBefore)
	return args.Bool(0), args.Error(1)
}

func (m *MockGranuleRepository) ReleaseLease(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockGranuleRepository) MarkDownloaded(ctx context.Context, id, uploadedLocation string, finished time.Time) error {
	args := m.Called(ctx, id, uploadedLocation, finished)
	return args.Error(0)
}

func (m *MockGranuleRepository) MarkExpired(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockGranuleRepository) IncrementRetries(ctx context.Context, id string) (int, error) {
	args := m.Called(ctx, id)
	return args.Int(0), args.Error(1)
}

func (m *MockGranuleRepository) UpdateChecksum(ctx context.Context, id, checksum string) error {
	args := m.Called(ctx, id, checksum)
	return args.Error(0)
}

func (m *MockGranuleRepository) ListUndownloadedByIngestionDate(ctx context.Context, day time.Time) ([]*models.Granule, error) {
	args := m.Called(ctx, day)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Granule), args.Error(1)
}

// MockGranuleCountRepository is a mock implementation of GranuleCountRepository for testing.
type MockGranuleCountRepository struct {
	mock.Mock
}

func (m *MockGranuleCountRepository) GetOrCreate(ctx context.Context, day time.Time, platform models.Platform) (*models.GranuleCount, error) {
	args := m.Called(ctx, day, platform)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.GranuleCount), args.Error(1)
}

func (m *MockGranuleCountRepository) SetAvailableLinks(ctx context.Context, day time.Time, platform models.Platform, total int64) error {
	args := m.Called(ctx, day, platform, total)
	return args.Error(0)
}

func (m *MockGranuleCountRepository) AddFetchedLinks(ctx context.Context, day time.Time, platform models.Platform, fetched int64, now time.Time) error {
	args := m.Called(ctx, day, platform, fetched, now)
	return args.Error(0)
}

// MockStatusRepository is a mock implementation of StatusRepository for testing.
type MockStatusRepository struct {
	mock.Mock
}

func (m *MockStatusRepository) Get(ctx context.Context, keyName string) (string, bool, error) {
	args := m.Called(ctx, keyName)
	return args.String(0), args.Bool(1), args.Error(2)
}

func (m *MockStatusRepository) Upsert(ctx context.Context, keyName, value string) error {
	args := m.Called(ctx, keyName, value)
	return args.Error(0)
}

// Compile-time checks that the mocks satisfy the repository interfaces.
var (
	_ GranuleRepository      = (*MockGranuleRepository)(nil)
	_ GranuleCountRepository = (*MockGranuleCountRepository)(nil)
	_ StatusRepository       = (*MockStatusRepository)(nil)
)
