// Package mocks holds testify mocks for the collector and classifier contracts.
package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/xkilldash9x/delver/api/schemas"
	"github.com/xkilldash9x/delver/internal/collector"
)

// -- Collector Mock --

// MockCollector mocks collector.Collector.
type MockCollector struct {
	mock.Mock
}

func (m *MockCollector) Surface() schemas.Surface {
	args := m.Called()
	return args.Get(0).(schemas.Surface)
}

func (m *MockCollector) CaptureBaseline(ctx context.Context) ([]schemas.RawEvent, error) {
	args := m.Called(ctx)
	var events []schemas.RawEvent
	if v := args.Get(0); v != nil {
		events = v.([]schemas.RawEvent)
	}
	return events, args.Error(1)
}

func (m *MockCollector) Run(ctx context.Context) (collector.Result, error) {
	args := m.Called(ctx)
	return args.Get(0).(collector.Result), args.Error(1)
}

func (m *MockCollector) State() collector.State {
	args := m.Called()
	return args.Get(0).(collector.State)
}

// NewBlockingCollector returns a collector mock for surface whose Run waits for
// cancellation and then returns res.
func NewBlockingCollector(surface schemas.Surface, res collector.Result) *MockCollector {
	m := new(MockCollector)
	m.On("Surface").Return(surface)
	m.On("State").Return(collector.StateStopped).Maybe()
	m.On("Run", mock.Anything).Run(func(args mock.Arguments) {
		<-args.Get(0).(context.Context).Done()
	}).Return(res, nil)
	return m
}

// -- Classifier Mock --

// MockClassifier mocks classify.Classifier.
type MockClassifier struct {
	mock.Mock
}

func (m *MockClassifier) Surface() schemas.Surface {
	args := m.Called()
	return args.Get(0).(schemas.Surface)
}

func (m *MockClassifier) Classify(events []schemas.RawEvent) []schemas.Finding {
	args := m.Called(events)
	var findings []schemas.Finding
	if v := args.Get(0); v != nil {
		findings = v.([]schemas.Finding)
	}
	return findings
}
