// --- File: internal/platform/fcm/fcmclient_test.go ---
package fcm_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"

	"github.com/tinywideclouds/go-push-dispatch/internal/platform/fcm"
	"github.com/tinywideclouds/go-push-dispatch/internal/retry"
	"github.com/tinywideclouds/go-push-dispatch/pkg/dispatch"
)

// MockClient satisfies the MessagingClient interface
type MockClient struct {
	mock.Mock
}

func (m *MockClient) Send(ctx context.Context, msg *messaging.Message) (string, error) {
	args := m.Called(ctx, msg)
	return args.String(0), args.Error(1)
}

func (m *MockClient) SendEachForMulticast(ctx context.Context, msg *messaging.MulticastMessage) (*messaging.BatchResponse, error) {
	args := m.Called(ctx, msg)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*messaging.BatchResponse), args.Error(1)
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeCredentials(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "service-account.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"type":"service_account","project_id":"test"}`), 0o600))
	return path
}

func newTestClient(t *testing.T, mockClient *MockClient, dials *int) *fcm.Client {
	t.Helper()
	client, err := fcm.NewClient(fcm.Config{CredentialsFile: writeCredentials(t)}, newTestLogger(),
		fcm.WithDialer(func(context.Context, fcm.Config) (fcm.MessagingClient, error) {
			if dials != nil {
				*dials++
			}
			return mockClient, nil
		}),
		fcm.WithRetryRunner(retry.Runner{NewBackOff: func() backoff.BackOff { return &backoff.ZeroBackOff{} }}),
	)
	require.NoError(t, err)
	return client
}

func TestNewClient_ValidatesCredentials(t *testing.T) {
	_, err := fcm.NewClient(fcm.Config{}, newTestLogger())
	require.Error(t, err)
	assert.True(t, dispatch.IsConfigError(err))

	_, err = fcm.NewClient(fcm.Config{CredentialsFile: filepath.Join(t.TempDir(), "nope.json")}, newTestLogger())
	require.Error(t, err)
	assert.True(t, dispatch.IsConfigError(err))

	_, err = fcm.NewClient(fcm.Config{CredentialsFile: t.TempDir()}, newTestLogger())
	assert.True(t, dispatch.IsConfigError(err))
}

func TestFCMClient_Lifecycle(t *testing.T) {
	ctx := context.Background()

	t.Run("Connect is idempotent", func(t *testing.T) {
		dials := 0
		client := newTestClient(t, new(MockClient), &dials)

		require.NoError(t, client.Connect(ctx))
		require.NoError(t, client.Connect(ctx))
		assert.Equal(t, 1, dials)

		require.NoError(t, client.Disconnect())
		require.NoError(t, client.Connect(ctx))
		assert.Equal(t, 2, dials)
	})

	t.Run("Happy Path - SendOne builds the Android message", func(t *testing.T) {
		mockClient := new(MockClient)
		client := newTestClient(t, mockClient, nil)

		var sentMsg *messaging.Message
		mockClient.On("Send", ctx, mock.Anything).Run(func(args mock.Arguments) {
			sentMsg = args.Get(1).(*messaging.Message)
		}).Return("projects/test/messages/1", nil)

		msg := dispatch.NewMessage([]string{"token-1"}, "hello", map[string]any{"custom1": "v1", "n": 3},
			map[string]any{"badge": 2, "sound": "ding", "expiry": 60, "priority": "high", "title": "Hi", "collapse_key": "news"})

		res, err := client.SendOne(ctx, msg, 3)

		require.NoError(t, err)
		assert.Equal(t, "projects/test/messages/1", res.ID)
		assert.Empty(t, res.Warnings)

		require.NotNil(t, sentMsg)
		assert.Equal(t, "token-1", sentMsg.Token)
		assert.Equal(t, "hello", sentMsg.Data["message"])
		assert.Equal(t, "v1", sentMsg.Data["custom1"])
		assert.Equal(t, "3", sentMsg.Data["n"])
		assert.Equal(t, "Hi", sentMsg.Notification.Title)
		assert.Equal(t, "hello", sentMsg.Notification.Body)
		assert.Equal(t, "high", sentMsg.Android.Priority)
		assert.Equal(t, "news", sentMsg.Android.CollapseKey)
		require.NotNil(t, sentMsg.Android.TTL)
		assert.Equal(t, time.Minute, *sentMsg.Android.TTL)
		assert.Equal(t, "ding", sentMsg.Android.Notification.Sound)
		require.NotNil(t, sentMsg.Android.Notification.NotificationCount)
		assert.Equal(t, 2, *sentMsg.Android.Notification.NotificationCount)
	})

	t.Run("Apple-only options are warnings", func(t *testing.T) {
		mockClient := new(MockClient)
		client := newTestClient(t, mockClient, nil)
		mockClient.On("Send", ctx, mock.Anything).Return("id", nil)

		msg := dispatch.NewMessage([]string{"token-1"}, "hello", nil, map[string]any{"thread_id": "chat-1"})
		res, err := client.SendOne(ctx, msg, 0)

		require.NoError(t, err)
		require.Len(t, res.Warnings, 1)
		assert.Equal(t, "thread_id", res.Warnings[0].Option)
	})

	t.Run("Transport Failure - retried up to the budget", func(t *testing.T) {
		mockClient := new(MockClient)
		client := newTestClient(t, mockClient, nil)
		mockClient.On("Send", ctx, mock.Anything).Return("", errors.New("network down"))

		_, err := client.SendOne(ctx, dispatch.NewMessage([]string{"token-1"}, "hi", nil, nil), 2)

		var trErr *dispatch.TransportError
		require.ErrorAs(t, err, &trErr)
		mockClient.AssertNumberOfCalls(t, "Send", 3)
	})
}

func TestFCMClient_SendBatch(t *testing.T) {
	ctx := context.Background()

	t.Run("Happy Path - All Success", func(t *testing.T) {
		mockClient := new(MockClient)
		client := newTestClient(t, mockClient, nil)
		mockClient.On("SendEachForMulticast", ctx, mock.Anything).Return(&messaging.BatchResponse{
			SuccessCount: 2,
			Responses: []*messaging.SendResponse{
				{Success: true, MessageID: "msg-1"},
				{Success: true, MessageID: "msg-2"},
			},
		}, nil)

		res, err := client.SendBatch(ctx, dispatch.NewMessage([]string{"token-1", "token-2"}, "hi", nil, nil), 3)

		require.NoError(t, err)
		assert.Equal(t, 2, res.Sent)
		assert.Empty(t, res.Failures)
		mockClient.AssertExpectations(t)
	})

	t.Run("Transient token failures are re-sent alone", func(t *testing.T) {
		mockClient := new(MockClient)
		client := newTestClient(t, mockClient, nil)

		mockClient.On("SendEachForMulticast", ctx, mock.MatchedBy(func(m *messaging.MulticastMessage) bool {
			return len(m.Tokens) == 3
		})).Return(&messaging.BatchResponse{
			SuccessCount: 2,
			FailureCount: 1,
			Responses: []*messaging.SendResponse{
				{Success: true},
				{Success: false, Error: errors.New("unavailable")},
				{Success: true},
			},
		}, nil).Once()
		mockClient.On("SendEachForMulticast", ctx, mock.MatchedBy(func(m *messaging.MulticastMessage) bool {
			return len(m.Tokens) == 1 && m.Tokens[0] == "B"
		})).Return(&messaging.BatchResponse{
			SuccessCount: 1,
			Responses:    []*messaging.SendResponse{{Success: true}},
		}, nil).Once()

		res, err := client.SendBatch(ctx, dispatch.NewMessage([]string{"A", "B", "C"}, "hi", nil, nil), 3)

		require.NoError(t, err)
		assert.Equal(t, 3, res.Sent)
		assert.Empty(t, res.Failures)
		mockClient.AssertExpectations(t)
	})

	t.Run("Exhausted token failures are reported per recipient", func(t *testing.T) {
		mockClient := new(MockClient)
		client := newTestClient(t, mockClient, nil)
		mockClient.On("SendEachForMulticast", ctx, mock.MatchedBy(func(m *messaging.MulticastMessage) bool {
			return len(m.Tokens) == 2
		})).Return(&messaging.BatchResponse{
			SuccessCount: 1,
			FailureCount: 1,
			Responses: []*messaging.SendResponse{
				{Success: true},
				{Success: false, Error: errors.New("unavailable")},
			},
		}, nil).Once()

		res, err := client.SendBatch(ctx, dispatch.NewMessage([]string{"A", "B"}, "hi", nil, nil), 0)

		require.NoError(t, err)
		assert.Equal(t, 1, res.Sent)
		require.Contains(t, res.Failures, "B")
		mockClient.AssertExpectations(t)
	})

	t.Run("Transport Failure - whole batch", func(t *testing.T) {
		mockClient := new(MockClient)
		client := newTestClient(t, mockClient, nil)
		mockClient.On("SendEachForMulticast", ctx, mock.Anything).Return(nil, errors.New("network down"))

		res, err := client.SendBatch(ctx, dispatch.NewMessage([]string{"A", "B"}, "hi", nil, nil), 1)

		require.Error(t, err)
		assert.Contains(t, err.Error(), "fcm transport failed")
		assert.Empty(t, res.Failures)
		mockClient.AssertNumberOfCalls(t, "SendEachForMulticast", 2)
	})

	t.Run("Tokens missing from the response are transport failures", func(t *testing.T) {
		mockClient := new(MockClient)
		client := newTestClient(t, mockClient, nil)
		mockClient.On("SendEachForMulticast", ctx, mock.Anything).Return(&messaging.BatchResponse{
			SuccessCount: 1,
			Responses:    []*messaging.SendResponse{{Success: true}},
		}, nil)

		res, err := client.SendBatch(ctx, dispatch.NewMessage([]string{"A", "B", "C"}, "hi", nil, nil), 0)

		require.NoError(t, err)
		assert.Equal(t, 1, res.Sent)
		require.Len(t, res.Failures, 2)
		for _, token := range []string{"B", "C"} {
			var trErr *dispatch.TransportError
			require.ErrorAs(t, res.Failures[token], &trErr)
			assert.Equal(t, "missing-response", trErr.Code)
		}
	})
}

// fakeFCM serves the FCM v1 send endpoint. Tokens named in rejections get the
// given error body; everything else is accepted.
type fakeFCM struct {
	mu         sync.Mutex
	calls      map[string]int
	rejections map[string]string
}

const (
	unregisteredBody = `{"error": {"code": 404, "status": "NOT_FOUND", "message": "Requested entity was not found.", "details": [` +
		`{"@type": "type.googleapis.com/google.firebase.fcm.v1.FcmError", "errorCode": "UNREGISTERED"}]}}`
	invalidArgumentBody = `{"error": {"code": 400, "status": "INVALID_ARGUMENT", "message": "The registration token is not a valid FCM registration token", "details": [` +
		`{"@type": "type.googleapis.com/google.firebase.fcm.v1.FcmError", "errorCode": "INVALID_ARGUMENT"}]}}`
)

func (f *fakeFCM) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Message struct {
			Token string `json:"token"`
		} `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	token := req.Message.Token

	f.mu.Lock()
	f.calls[token]++
	body, rejected := f.rejections[token]
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if rejected {
		var parsed struct {
			Error struct {
				Code int `json:"code"`
			} `json:"error"`
		}
		_ = json.Unmarshal([]byte(body), &parsed)
		w.WriteHeader(parsed.Error.Code)
		_, _ = w.Write([]byte(body))
		return
	}
	_, _ = w.Write([]byte(`{"name": "projects/test-project/messages/` + token + `"}`))
}

func (f *fakeFCM) callsFor(token string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[token]
}

// newFirebaseBackedClient wires a real Firebase messaging client to srv.
func newFirebaseBackedClient(t *testing.T, rejections map[string]string) (*fcm.Client, *fakeFCM) {
	t.Helper()
	backend := &fakeFCM{calls: make(map[string]int), rejections: rejections}
	srv := httptest.NewServer(backend)
	t.Cleanup(srv.Close)

	client, err := fcm.NewClient(fcm.Config{CredentialsFile: writeCredentials(t)}, newTestLogger(),
		fcm.WithDialer(func(ctx context.Context, _ fcm.Config) (fcm.MessagingClient, error) {
			app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: "test-project"},
				option.WithEndpoint(srv.URL),
				option.WithHTTPClient(srv.Client()),
				option.WithoutAuthentication(),
			)
			if err != nil {
				return nil, err
			}
			return app.Messaging(ctx)
		}),
		fcm.WithRetryRunner(retry.Runner{NewBackOff: func() backoff.BackOff { return &backoff.ZeroBackOff{} }}),
	)
	require.NoError(t, err)
	return client, backend
}

func TestFCMClient_RecipientRejections(t *testing.T) {
	ctx := context.Background()

	t.Run("Unregistered token is final and not retried", func(t *testing.T) {
		client, backend := newFirebaseBackedClient(t, map[string]string{"gone": unregisteredBody})

		_, err := client.SendOne(ctx, dispatch.NewMessage([]string{"gone"}, "hi", nil, nil), 3)

		var recErr *dispatch.RecipientError
		require.ErrorAs(t, err, &recErr)
		assert.Equal(t, "unregistered", recErr.Code)
		assert.Equal(t, "gone", recErr.Recipient)
		assert.Equal(t, 1, backend.callsFor("gone"))
	})

	t.Run("Bad token is isolated within a batch", func(t *testing.T) {
		client, backend := newFirebaseBackedClient(t, map[string]string{
			"B": invalidArgumentBody,
			"D": unregisteredBody,
		})

		res, err := client.SendBatch(ctx, dispatch.NewMessage([]string{"A", "B", "C", "D"}, "hi", nil, nil), 3)

		require.NoError(t, err)
		assert.Equal(t, 2, res.Sent)
		require.Len(t, res.Failures, 2)

		var recErr *dispatch.RecipientError
		require.ErrorAs(t, res.Failures["B"], &recErr)
		assert.Equal(t, "invalid-argument", recErr.Code)
		require.ErrorAs(t, res.Failures["D"], &recErr)
		assert.Equal(t, "unregistered", recErr.Code)

		for _, token := range []string{"A", "B", "C", "D"} {
			assert.Equal(t, 1, backend.callsFor(token), "token %s", token)
		}
	})
}
