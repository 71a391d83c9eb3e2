package mocks

import (
	"context"

	"scene-forge/internal/model"
	"scene-forge/internal/pipeline"

	"github.com/stretchr/testify/mock"
)

// MockFragmentCache is a mock type for the FragmentCache type
type MockFragmentCache struct {
	mock.Mock
}

// Get provides a mock function with given fields: ctx, key
func (_m *MockFragmentCache) Get(ctx context.Context, key string) (model.Candidate, error) {
	ret := _m.Called(ctx, key)

	var r0 model.Candidate
	if rf, ok := ret.Get(0).(func(context.Context, string) model.Candidate); ok {
		r0 = rf(ctx, key)
	} else if ret.Get(0) != nil {
		r0 = ret.Get(0).(model.Candidate)
	}

	var r1 error
	if rf, ok := ret.Get(1).(func(context.Context, string) error); ok {
		r1 = rf(ctx, key)
	} else {
		r1 = ret.Error(1)
	}

	return r0, r1
}

// Set provides a mock function with given fields: ctx, key, c
func (_m *MockFragmentCache) Set(ctx context.Context, key string, c model.Candidate) error {
	ret := _m.Called(ctx, key, c)

	var r0 error
	if rf, ok := ret.Get(0).(func(context.Context, string, model.Candidate) error); ok {
		r0 = rf(ctx, key, c)
	} else {
		r0 = ret.Error(0)
	}

	return r0
}

// NewMockFragmentCache creates a new instance of MockFragmentCache. It also registers a testing interface on the mock and a cleanup function to assert the mocks expectations.
func NewMockFragmentCache(t interface {
	mock.TestingT
	Helper()
	Cleanup(func())
}) *MockFragmentCache {
	m := &MockFragmentCache{}
	m.Mock.Test(t)
	t.Helper()
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

var _ pipeline.FragmentCache = (*MockFragmentCache)(nil)
