package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/Shivanand-hulikatti/session-waitlist/internal/events"
	"github.com/Shivanand-hulikatti/session-waitlist/internal/logger"
)

type MockGateway struct {
	mock.Mock
}

func (m *MockGateway) NotifyPromotion(ctx context.Context, n Notification) error {
	args := m.Called(ctx, n)
	return args.Error(0)
}

func (m *MockGateway) NotifyExpired(ctx context.Context, n Notification) error {
	args := m.Called(ctx, n)
	return args.Error(0)
}

func TestDispatcher_RoutesByType(t *testing.T) {
	gw := new(MockGateway)
	d := NewDispatcher(gw, logger.NewNop())
	expires := time.Date(2026, 3, 3, 9, 0, 0, 0, time.UTC)

	gw.On("NotifyPromotion", mock.Anything, mock.MatchedBy(func(n Notification) bool {
		return n.Kind == KindPromotion && n.RegistrationID == "r1" && n.ExpiresAt != nil && n.ExpiresAt.Equal(expires)
	})).Return(nil).Once()
	gw.On("NotifyExpired", mock.Anything, mock.MatchedBy(func(n Notification) bool {
		return n.Kind == KindExpired && n.RegistrationID == "r2"
	})).Return(nil).Once()

	ch := make(chan events.Event, 4)
	ch <- events.Event{Type: events.PromotionOffered, SessionID: "s1", RegistrationID: "r1", ExpiresAt: &expires}
	ch <- events.Event{Type: events.PromotionAccepted, SessionID: "s1", RegistrationID: "r1"}
	ch <- events.Event{Type: events.PromotionExpired, SessionID: "s1", RegistrationID: "r2"}
	ch <- events.Event{Type: events.RegistrationCancelled, SessionID: "s1", RegistrationID: "r3"}
	close(ch)

	d.Run(context.Background(), ch)
	gw.AssertExpectations(t)
}

func TestDispatcher_GatewayFailureIsSwallowed(t *testing.T) {
	gw := new(MockGateway)
	d := NewDispatcher(gw, logger.NewNop())

	gw.On("NotifyPromotion", mock.Anything, mock.Anything).Return(errors.New("push service down")).Twice()

	ch := make(chan events.Event, 2)
	ch <- events.Event{Type: events.PromotionOffered, RegistrationID: "r1"}
	ch <- events.Event{Type: events.PromotionOffered, RegistrationID: "r2"}
	close(ch)

	d.Run(context.Background(), ch)
	gw.AssertNumberOfCalls(t, "NotifyPromotion", 2)
}

func TestDispatcher_StopsOnContextCancel(t *testing.T) {
	gw := new(MockGateway)
	d := NewDispatcher(gw, logger.NewNop())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		d.Run(ctx, make(chan events.Event))
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop")
	}
}

func TestPubNubGateway_PublishesToRegistrationChannel(t *testing.T) {
	var channel, message string
	gw := &PubNubGateway{publish: func(c, m string) error {
		channel, message = c, m
		return nil
	}}

	err := gw.NotifyPromotion(context.Background(), Notification{SessionID: "s1", RegistrationID: "r1", UserID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, "registration-r1", channel)

	var got Notification
	require.NoError(t, json.Unmarshal([]byte(message), &got))
	assert.Equal(t, KindPromotion, got.Kind)
	assert.Equal(t, "u1", got.UserID)
}

func TestPubNubGateway_WrapsPublishError(t *testing.T) {
	gw := &PubNubGateway{publish: func(string, string) error { return errors.New("403") }}
	err := gw.NotifyExpired(context.Background(), Notification{RegistrationID: "r1"})
	assert.ErrorContains(t, err, "pubnub publish")
}

func TestNewPubNubGateway_RequiresKeys(t *testing.T) {
	_, err := NewPubNubGateway(PubNubConfig{})
	assert.Error(t, err)
}

func TestLogGateway(t *testing.T) {
	gw := NewLogGateway(logger.NewNop())
	assert.NoError(t, gw.NotifyPromotion(context.Background(), Notification{RegistrationID: "r1"}))
	assert.NoError(t, gw.NotifyExpired(context.Background(), Notification{RegistrationID: "r1"}))
}
