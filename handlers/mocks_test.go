package handlers

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/upb/dsp-front-door/models"
	"github.com/upb/dsp-front-door/services/manifest"
)

// MockInferenceService is a mock implementation of InferenceService
type MockInferenceService struct {
	mock.Mock
}

func (m *MockInferenceService) Infer(ctx context.Context, req *models.InferenceRequest) (*models.InferenceResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.InferenceResponse), args.Error(1)
}

// MockManifestService is a mock implementation of ManifestService and ControlTowerChecker
type MockManifestService struct {
	mock.Mock
}

func (m *MockManifestService) GetManifest(ctx context.Context, projectID string, useCache bool) (*models.Manifest, error) {
	args := m.Called(ctx, projectID, useCache)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Manifest), args.Error(1)
}

func (m *MockManifestService) ListManifests(ctx context.Context, opts manifest.ListOptions) (models.ManifestList, error) {
	args := m.Called(ctx, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(models.ManifestList), args.Error(1)
}

func (m *MockManifestService) ValidateManifest(ctx context.Context, document map[string]interface{}) (models.ManifestValidation, error) {
	args := m.Called(ctx, document)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(models.ManifestValidation), args.Error(1)
}

func (m *MockManifestService) HealthCheck(ctx context.Context) bool {
	return m.Called(ctx).Bool(0)
}

func (m *MockManifestService) ClearCache() {
	m.Called()
}

func (m *MockManifestService) InvalidateProject(projectID string) {
	m.Called(projectID)
}

// MockDispatcher is a mock implementation of ProviderCache and LoadedProjectsLister
type MockDispatcher struct {
	mock.Mock
}

func (m *MockDispatcher) HealthCheck(ctx context.Context, projectID string) bool {
	return m.Called(ctx, projectID).Bool(0)
}

func (m *MockDispatcher) LastHealthCheck(projectID string) (time.Time, bool) {
	args := m.Called(projectID)
	return args.Get(0).(time.Time), args.Bool(1)
}

func (m *MockDispatcher) ClearCache(projectID string) {
	m.Called(projectID)
}

func (m *MockDispatcher) LoadedProjects() []string {
	args := m.Called()
	if args.Get(0) == nil {
		return nil
	}
	return args.Get(0).([]string)
}
