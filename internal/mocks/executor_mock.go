package mocks

import (
	"context"

	"scene-forge/internal/execution"
	"scene-forge/internal/model"

	"github.com/stretchr/testify/mock"
)

// MockExecutor is a mock type for the Executor type
type MockExecutor struct {
	mock.Mock
}

// Execute provides a mock function with given fields: ctx, p
func (_m *MockExecutor) Execute(ctx context.Context, p model.Program) (model.ExecutionResult, error) {
	ret := _m.Called(ctx, p)

	var r0 model.ExecutionResult
	if rf, ok := ret.Get(0).(func(context.Context, model.Program) model.ExecutionResult); ok {
		r0 = rf(ctx, p)
	} else if ret.Get(0) != nil {
		r0 = ret.Get(0).(model.ExecutionResult)
	}

	var r1 error
	if rf, ok := ret.Get(1).(func(context.Context, model.Program) error); ok {
		r1 = rf(ctx, p)
	} else {
		r1 = ret.Error(1)
	}

	return r0, r1
}

// NewMockExecutor creates a new instance of MockExecutor. It also registers a testing interface on the mock and a cleanup function to assert the mocks expectations.
func NewMockExecutor(t interface {
	mock.TestingT
	Helper()
	Cleanup(func())
}) *MockExecutor {
	m := &MockExecutor{}
	m.Mock.Test(t)
	t.Helper()
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

var _ execution.Executor = (*MockExecutor)(nil)
