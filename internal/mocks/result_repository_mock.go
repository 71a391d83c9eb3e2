package mocks

import (
	"context"

	"scene-forge/internal/model"
	"scene-forge/internal/repository"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
)

// MockResultRepository is a mock type for the ResultRepository type
type MockResultRepository struct {
	mock.Mock
}

// Save provides a mock function with given fields: ctx, result
func (_m *MockResultRepository) Save(ctx context.Context, result *model.SceneResult) error {
	ret := _m.Called(ctx, result)

	var r0 error
	if rf, ok := ret.Get(0).(func(context.Context, *model.SceneResult) error); ok {
		r0 = rf(ctx, result)
	} else {
		r0 = ret.Error(0)
	}

	return r0
}

// GetByID provides a mock function with given fields: ctx, id
func (_m *MockResultRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.SceneResult, error) {
	ret := _m.Called(ctx, id)

	var r0 *model.SceneResult
	if rf, ok := ret.Get(0).(func(context.Context, uuid.UUID) *model.SceneResult); ok {
		r0 = rf(ctx, id)
	} else if ret.Get(0) != nil {
		r0 = ret.Get(0).(*model.SceneResult)
	}

	var r1 error
	if rf, ok := ret.Get(1).(func(context.Context, uuid.UUID) error); ok {
		r1 = rf(ctx, id)
	} else {
		r1 = ret.Error(1)
	}

	return r0, r1
}

// ListByTask provides a mock function with given fields: ctx, taskID
func (_m *MockResultRepository) ListByTask(ctx context.Context, taskID string) ([]*model.SceneResult, error) {
	ret := _m.Called(ctx, taskID)

	var r0 []*model.SceneResult
	if rf, ok := ret.Get(0).(func(context.Context, string) []*model.SceneResult); ok {
		r0 = rf(ctx, taskID)
	} else if ret.Get(0) != nil {
		r0 = ret.Get(0).([]*model.SceneResult)
	}

	var r1 error
	if rf, ok := ret.Get(1).(func(context.Context, string) error); ok {
		r1 = rf(ctx, taskID)
	} else {
		r1 = ret.Error(1)
	}

	return r0, r1
}

// SaveProgram provides a mock function with given fields: ctx, program
func (_m *MockResultRepository) SaveProgram(ctx context.Context, program *model.VideoProgram) error {
	ret := _m.Called(ctx, program)

	var r0 error
	if rf, ok := ret.Get(0).(func(context.Context, *model.VideoProgram) error); ok {
		r0 = rf(ctx, program)
	} else {
		r0 = ret.Error(0)
	}

	return r0
}

// GetProgram provides a mock function with given fields: ctx, taskID
func (_m *MockResultRepository) GetProgram(ctx context.Context, taskID string) (*model.VideoProgram, error) {
	ret := _m.Called(ctx, taskID)

	var r0 *model.VideoProgram
	if rf, ok := ret.Get(0).(func(context.Context, string) *model.VideoProgram); ok {
		r0 = rf(ctx, taskID)
	} else if ret.Get(0) != nil {
		r0 = ret.Get(0).(*model.VideoProgram)
	}

	var r1 error
	if rf, ok := ret.Get(1).(func(context.Context, string) error); ok {
		r1 = rf(ctx, taskID)
	} else {
		r1 = ret.Error(1)
	}

	return r0, r1
}

// NewMockResultRepository creates a new instance of MockResultRepository. It also registers a testing interface on the mock and a cleanup function to assert the mocks expectations.
func NewMockResultRepository(t interface {
	mock.TestingT
	Helper()
	Cleanup(func())
}) *MockResultRepository {
	m := &MockResultRepository{}
	m.Mock.Test(t)
	t.Helper()
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

var _ repository.ResultRepository = (*MockResultRepository)(nil)
