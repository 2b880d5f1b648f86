package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/wastedispatch/auth"
	"github.com/kilianp07/wastedispatch/core/factory"
	corenotify "github.com/kilianp07/wastedispatch/core/notify"
)

func TestSendGridSend(t *testing.T) {
	var got map[string]any
	var authz string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v3/mail/send", r.URL.Path)
		authz = r.Header.Get("Authorization")
		b, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(b, &got)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	sg, err := NewSendGrid(SendGridConfig{APIKey: "SG.key", FromEmail: "noreply@example.com", BaseURL: srv.URL})
	require.NoError(t, err)
	require.NoError(t, sg.Send(context.Background(), corenotify.ChannelEmail, "alice@example.com",
		corenotify.Message{Subject: "Collector assigned", Body: "A collector is on the way"}))

	assert.Equal(t, "Bearer SG.key", authz)
	assert.Equal(t, "Collector assigned", got["subject"])
	from := got["from"].(map[string]any)
	assert.Equal(t, "noreply@example.com", from["email"])
}

func TestSendGridClassifiesStatus(t *testing.T) {
	for _, tc := range []struct {
		status    int
		temporary bool
	}{
		{http.StatusBadRequest, false},
		{http.StatusTooManyRequests, true},
		{http.StatusBadGateway, true},
	} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(tc.status)
		}))
		sg, err := NewSendGrid(SendGridConfig{APIKey: "k", FromEmail: "a@b.c", BaseURL: srv.URL})
		require.NoError(t, err)
		err = sg.Send(context.Background(), corenotify.ChannelEmail, "x@y.z", corenotify.Message{Body: "b"})
		srv.Close()

		var de *corenotify.DeliveryError
		require.True(t, errors.As(err, &de), "status %d", tc.status)
		assert.Equal(t, tc.temporary, de.Temporary, "status %d", tc.status)
	}
}

func TestSendGridConfigValidate(t *testing.T) {
	_, err := NewSendGrid(SendGridConfig{APIKey: "k"})
	assert.Error(t, err)
}

func newTokenServer(t *testing.T, issued *int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		n := atomic.AddInt32(issued, 1)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "tok" + string(rune('0'+n)),
			"token_type":   "bearer",
			"expires_in":   3600,
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestSMSGatewaySend(t *testing.T) {
	var issued int32
	tokens := newTokenServer(t, &issued)
	var req smsRequest
	gw := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok1", r.Header.Get("Authorization"))
		_ = json.NewDecoder(r.Body).Decode(&req)
		w.WriteHeader(http.StatusOK)
	}))
	defer gw.Close()

	sms, err := NewSMSGateway(SMSConfig{URL: gw.URL, Sender: "WASTE", Auth: auth.Conf{ClientID: "id", ClientSecret: "s", AuthURL: tokens.URL}})
	require.NoError(t, err)
	require.NoError(t, sms.Send(context.Background(), corenotify.ChannelSMS, "+33600000000", corenotify.Message{Body: "hello"}))
	assert.Equal(t, smsRequest{To: "+33600000000", From: "WASTE", Text: "hello"}, req)
	assert.Equal(t, int32(1), atomic.LoadInt32(&issued))
}

func TestSMSGatewayRefreshesOn401(t *testing.T) {
	var issued int32
	tokens := newTokenServer(t, &issued)
	var calls int32
	gw := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		if r.Header.Get("Authorization") == "Bearer tok1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer gw.Close()

	sms, err := NewSMSGateway(SMSConfig{URL: gw.URL, Auth: auth.Conf{ClientID: "id", ClientSecret: "s", AuthURL: tokens.URL}})
	require.NoError(t, err)
	require.NoError(t, sms.Send(context.Background(), corenotify.ChannelSMS, "+1", corenotify.Message{Body: "x"}))
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	assert.Equal(t, int32(2), atomic.LoadInt32(&issued))
}

func TestSMSGatewayPermanentFailure(t *testing.T) {
	var issued int32
	tokens := newTokenServer(t, &issued)
	gw := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "invalid number", http.StatusUnprocessableEntity)
	}))
	defer gw.Close()

	sms, err := NewSMSGateway(SMSConfig{URL: gw.URL, Auth: auth.Conf{ClientID: "id", ClientSecret: "s", AuthURL: tokens.URL}})
	require.NoError(t, err)
	err = sms.Send(context.Background(), corenotify.ChannelSMS, "bad", corenotify.Message{Body: "x"})
	var de *corenotify.DeliveryError
	require.ErrorAs(t, err, &de)
	assert.False(t, de.Temporary)
	assert.Contains(t, de.Error(), "invalid number")
}

func TestBuildRouter(t *testing.T) {
	r, err := BuildRouter(Config{SMS: factory.ModuleConfig{Type: "log"}}, nil)
	require.NoError(t, err)
	assert.Equal(t, []corenotify.Channel{corenotify.ChannelSMS}, r.Channels())
	require.NoError(t, r.Send(context.Background(), corenotify.ChannelSMS, "+1", corenotify.Message{Body: "x"}))
	assert.ErrorIs(t, r.Send(context.Background(), corenotify.ChannelEmail, "a@b.c", corenotify.Message{}), corenotify.ErrNoRoute)

	_, err = BuildRouter(Config{Email: factory.ModuleConfig{Type: "pigeon"}}, nil)
	assert.ErrorIs(t, err, factory.ErrUnknownType)

	_, err = BuildRouter(Config{Email: factory.ModuleConfig{Type: "sendgrid", Conf: map[string]any{"api_key": "k"}}}, nil)
	assert.Error(t, err)
}
