package mocks

import (
	"context"

	mock "github.com/stretchr/testify/mock"

	"github.com/blogem/cmdb/database"
	"github.com/blogem/cmdb/models"
	"github.com/blogem/cmdb/registry"
)

// MockAuditRepository is a mock type for the AuditRepository type
type MockAuditRepository struct {
	mock.Mock
}

type MockAuditRepository_Expecter struct {
	mock *mock.Mock
}

func (_m *MockAuditRepository) EXPECT() *MockAuditRepository_Expecter {
	return &MockAuditRepository_Expecter{mock: &_m.Mock}
}

// Create provides a mock function with given fields: ctx, q, res, entry
func (_m *MockAuditRepository) Create(ctx context.Context, q database.Querier, res *registry.Resource, entry *models.AuditRecord) error {
	ret := _m.Called(ctx, q, res, entry)

	if len(ret) == 0 {
		panic("no return value specified for Create")
	}

	var r0 error
	if rf, ok := ret.Get(0).(func(context.Context, database.Querier, *registry.Resource, *models.AuditRecord) error); ok {
		r0 = rf(ctx, q, res, entry)
	} else {
		r0 = ret.Error(0)
	}

	return r0
}

// MockAuditRepository_Create_Call is a *mock.Call that shadows Run/Return methods with type explicit version for method 'Create'
type MockAuditRepository_Create_Call struct {
	*mock.Call
}

// Create is a helper method to define mock.On call
func (_e *MockAuditRepository_Expecter) Create(ctx interface{}, q interface{}, res interface{}, entry interface{}) *MockAuditRepository_Create_Call {
	return &MockAuditRepository_Create_Call{Call: _e.mock.On("Create", ctx, q, res, entry)}
}

func (_c *MockAuditRepository_Create_Call) Run(run func(ctx context.Context, q database.Querier, res *registry.Resource, entry *models.AuditRecord)) *MockAuditRepository_Create_Call {
	_c.Call.Run(func(args mock.Arguments) {
		run(args[0].(context.Context), args[1].(database.Querier), args[2].(*registry.Resource), args[3].(*models.AuditRecord))
	})
	return _c
}

func (_c *MockAuditRepository_Create_Call) Return(_a0 error) *MockAuditRepository_Create_Call {
	_c.Call.Return(_a0)
	return _c
}

func (_c *MockAuditRepository_Create_Call) RunAndReturn(run func(context.Context, database.Querier, *registry.Resource, *models.AuditRecord) error) *MockAuditRepository_Create_Call {
	_c.Call.Return(run)
	return _c
}

// ForObject provides a mock function with given fields: ctx, q, res, objectID
func (_m *MockAuditRepository) ForObject(ctx context.Context, q database.Querier, res *registry.Resource, objectID int64) ([]models.AuditRecord, error) {
	ret := _m.Called(ctx, q, res, objectID)

	if len(ret) == 0 {
		panic("no return value specified for ForObject")
	}

	var r0 []models.AuditRecord
	var r1 error
	if rf, ok := ret.Get(0).(func(context.Context, database.Querier, *registry.Resource, int64) ([]models.AuditRecord, error)); ok {
		return rf(ctx, q, res, objectID)
	}
	if ret.Get(0) != nil {
		r0 = ret.Get(0).([]models.AuditRecord)
	}
	r1 = ret.Error(1)

	return r0, r1
}

// MockAuditRepository_ForObject_Call is a *mock.Call that shadows Run/Return methods with type explicit version for method 'ForObject'
type MockAuditRepository_ForObject_Call struct {
	*mock.Call
}

// ForObject is a helper method to define mock.On call
func (_e *MockAuditRepository_Expecter) ForObject(ctx interface{}, q interface{}, res interface{}, objectID interface{}) *MockAuditRepository_ForObject_Call {
	return &MockAuditRepository_ForObject_Call{Call: _e.mock.On("ForObject", ctx, q, res, objectID)}
}

func (_c *MockAuditRepository_ForObject_Call) Return(_a0 []models.AuditRecord, _a1 error) *MockAuditRepository_ForObject_Call {
	_c.Call.Return(_a0, _a1)
	return _c
}

// NewMockAuditRepository creates a new instance of MockAuditRepository. It also registers a testing interface on the mock and a cleanup function to assert the mocks expectations.
// The first argument is typically a *testing.T value.
func NewMockAuditRepository(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockAuditRepository {
	mock := &MockAuditRepository{}
	mock.Mock.Test(t)

	t.Cleanup(func() { mock.AssertExpectations(t) })

	return mock
}
