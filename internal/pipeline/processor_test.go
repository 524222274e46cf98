package pipeline_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-push-dispatch/internal/dispatcher"
	"github.com/tinywideclouds/go-push-dispatch/internal/lifecycle"
	"github.com/tinywideclouds/go-push-dispatch/internal/pipeline"
	"github.com/tinywideclouds/go-push-dispatch/pkg/dispatch"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// --- Typed Mocks ---

type mockProvider struct {
	mock.Mock
}

func (m *mockProvider) Connect(ctx context.Context) error { return m.Called(ctx).Error(0) }

func (m *mockProvider) Disconnect() error { return m.Called().Error(0) }

func (m *mockProvider) SendOne(ctx context.Context, msg *dispatch.Message, retryTimes int) (*dispatch.ProviderResult, error) {
	args := m.Called(ctx, msg, retryTimes)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*dispatch.ProviderResult), args.Error(1)
}

func (m *mockProvider) SendBatch(ctx context.Context, msg *dispatch.Message, retryTimes int) (*dispatch.ProviderBatchResult, error) {
	args := m.Called(ctx, msg, retryTimes)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*dispatch.ProviderBatchResult), args.Error(1)
}

type failingSource struct{}

func (failingSource) ForUnit(lifecycle.Registrar) (*dispatcher.Dispatcher, error) {
	return nil, errors.New("credentials unavailable")
}

func newFactory(client *mockProvider, cfg dispatcher.ProviderConfig) *dispatcher.Factory {
	return dispatcher.NewFactory(newTestLogger(), map[dispatch.Provider]dispatcher.ProviderSpec{
		dispatch.ProviderAndroid: {
			New:    func() (dispatch.ProviderClient, error) { return client, nil },
			Config: cfg,
		},
	})
}

func TestProcessor_Routing(t *testing.T) {
	ctx := context.Background()
	original := messagepipeline.Message{MessageData: messagepipeline.MessageData{ID: "msg-1"}}

	t.Run("Single recipient goes through SendOne and is released", func(t *testing.T) {
		client := new(mockProvider)
		client.On("Connect", mock.Anything).Return(nil)
		client.On("SendOne", mock.Anything, mock.Anything, 3).Return(&dispatch.ProviderResult{ID: "m-1"}, nil)
		client.On("Disconnect").Return(nil).Once()

		processor := pipeline.NewProcessor(newFactory(client, dispatcher.DefaultProviderConfig()), newTestLogger())
		err := processor(ctx, original, &dispatch.SendRequest{Provider: "android", Recipients: []string{"a"}, Text: "hi"})

		require.NoError(t, err)
		client.AssertExpectations(t)
	})

	t.Run("Rejected recipients are final", func(t *testing.T) {
		client := new(mockProvider)
		client.On("Connect", mock.Anything).Return(nil)
		client.On("SendBatch", mock.Anything, mock.Anything, 3).Return(&dispatch.ProviderBatchResult{
			Sent:     2,
			Failures: map[string]error{"b": &dispatch.RecipientError{Recipient: "b", Code: "unregistered"}},
		}, nil)
		client.On("Disconnect").Return(nil)

		processor := pipeline.NewProcessor(newFactory(client, dispatcher.DefaultProviderConfig()), newTestLogger())
		err := processor(ctx, original, &dispatch.SendRequest{Provider: "android", Recipients: []string{"a", "b", "c"}, Text: "hi"})

		require.NoError(t, err)
		client.AssertExpectations(t)
	})

	t.Run("Global transport failure asks for redelivery", func(t *testing.T) {
		client := new(mockProvider)
		client.On("Connect", mock.Anything).Return(nil)
		client.On("SendBatch", mock.Anything, mock.Anything, 3).Return(nil, &dispatch.TransportError{Code: "transport", Message: "down"})
		client.On("Disconnect").Return(nil)

		processor := pipeline.NewProcessor(newFactory(client, dispatcher.DefaultProviderConfig()), newTestLogger())
		err := processor(ctx, original, &dispatch.SendRequest{Provider: "android", Recipients: []string{"a", "b"}, Text: "hi"})

		require.Error(t, err)
		assert.Contains(t, err.Error(), "down")
		client.AssertNumberOfCalls(t, "Disconnect", 1)
	})

	t.Run("Unknown provider is dropped", func(t *testing.T) {
		client := new(mockProvider)
		processor := pipeline.NewProcessor(newFactory(client, dispatcher.DefaultProviderConfig()), newTestLogger())

		err := processor(ctx, original, &dispatch.SendRequest{Provider: "windows", Recipients: []string{"a"}, Text: "hi"})

		require.NoError(t, err)
		client.AssertNotCalled(t, "Connect", mock.Anything)
	})

	t.Run("Dry run acknowledges without I/O", func(t *testing.T) {
		client := new(mockProvider)
		processor := pipeline.NewProcessor(newFactory(client, dispatcher.ProviderConfig{DryRun: true}), newTestLogger())

		err := processor(ctx, original, &dispatch.SendRequest{Provider: "gcm", Recipients: []string{"a", "b"}, Text: "hi"})

		require.NoError(t, err)
		client.AssertNotCalled(t, "Connect", mock.Anything)
		client.AssertNotCalled(t, "Disconnect")
	})

	t.Run("Dispatcher build failure is retried", func(t *testing.T) {
		processor := pipeline.NewProcessor(failingSource{}, newTestLogger())
		err := processor(ctx, original, &dispatch.SendRequest{Provider: "android", Recipients: []string{"a"}, Text: "hi"})
		require.Error(t, err)
	})
}
