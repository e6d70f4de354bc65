package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/leadflow/leadflow/pkg/channel"
)

// MockChannelAdapter is a mock implementation of channel.Adapter.
type MockChannelAdapter struct {
	mock.Mock
}

func (m *MockChannelAdapter) Send(ctx context.Context, destination, text string) (*channel.SendResult, error) {
	args := m.Called(ctx, destination, text)

	result, _ := args.Get(0).(*channel.SendResult)

	return result, args.Error(1)
}
