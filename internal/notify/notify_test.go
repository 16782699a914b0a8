package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"dynamic-load-balancer/internal/balancer"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var alert = balancer.Alert{Title: "⚡ Electrical Overload Detected", Message: "Overload on L1: 30.0 A.", Target: "phone"}

func TestWebhook_Send(t *testing.T) {
	var got webhookPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	w := NewWebhook(srv.URL, time.Second)
	require.NoError(t, w.Send(context.Background(), alert))
	assert.Equal(t, webhookPayload{Title: alert.Title, Message: alert.Message, Target: "phone"}, got)
}

func TestWebhook_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	err := NewWebhook(srv.URL, time.Second).Send(context.Background(), alert)
	assert.ErrorContains(t, err, "502")
}

func TestWebhook_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	err := NewWebhook(srv.URL, 50*time.Millisecond).Send(context.Background(), alert)
	assert.Error(t, err)
}

func TestLog_Send(t *testing.T) {
	logger, hook := test.NewNullLogger()
	require.NoError(t, NewLog(logger).Send(context.Background(), alert))

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, logrus.WarnLevel, entry.Level)
	assert.Equal(t, "phone", entry.Data["target"])
	assert.Contains(t, entry.Message, "Overload on L1")
}

type failing struct{ name string }

func (f failing) Name() string { return f.name }
func (f failing) Send(context.Context, balancer.Alert) error {
	return errors.New("down")
}

func TestFanout(t *testing.T) {
	logger, hook := test.NewNullLogger()
	f := Fanout{failing{"mqtt"}, NewLog(logger)}

	assert.Equal(t, "mqtt+log", f.Name())
	err := f.Send(context.Background(), alert)
	assert.ErrorContains(t, err, "mqtt: down")
	assert.Len(t, hook.AllEntries(), 1, "later channels still receive the alert")

	assert.NoError(t, Fanout{NewLog(logger)}.Send(context.Background(), alert))
}
