package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/dropwatch/internal/core/domain"
	"github.com/vietddude/dropwatch/internal/indexing/emitter"
)

func testConfig() Config {
	return Config{Timeout: time.Second, RetryAttempts: 3, RetryBase: time.Millisecond}
}

func testEvent(url string) domain.NotificationEvent {
	return domain.NotificationEvent{
		NotificationID: "transfer-0xabc-fid:7",
		Title:          "💸 Transfer Detected!",
		Body:           "0xaaaa...aaaa transferred 0.05 ETH",
		TargetURL:      DefaultAppURL,
		Channel:        domain.Channel{FID: 7, URL: url, Token: "tok-7"},
		ChannelKey:     "fid:7",
		Kind:           domain.KindTransfer,
		TxHash:         "0xabc",
	}
}

type fakeRemover struct {
	deleted []int64
}

func (f *fakeRemover) Delete(ctx context.Context, fid int64) error {
	f.deleted = append(f.deleted, fid)
	return nil
}

type recordingEmitter struct {
	recs []emitter.Record
}

func (r *recordingEmitter) Emit(ctx context.Context, rec emitter.Record) error {
	r.recs = append(r.recs, rec)
	return nil
}

func (r *recordingEmitter) EmitBatch(ctx context.Context, recs []emitter.Record) error {
	r.recs = append(r.recs, recs...)
	return nil
}

func (r *recordingEmitter) Close() error { return nil }

func TestDispatch_Delivered(t *testing.T) {
	var got domain.Payload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"result":{"successfulTokens":["tok-7"],"invalidTokens":[],"rateLimitedTokens":[]}}`))
	}))
	defer srv.Close()

	rec := &recordingEmitter{}
	d := NewDispatcher(testConfig(), nil, WithEmitter(rec))
	res := d.Dispatch(context.Background(), testEvent(srv.URL))

	require.NoError(t, res.Err)
	assert.True(t, res.Delivered)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "transfer-0xabc-fid:7", got.NotificationID)
	assert.Equal(t, []string{"tok-7"}, got.Tokens)
	require.Len(t, rec.recs, 1)
	assert.Equal(t, "0xabc", rec.recs[0].TxHash)
}

func TestDispatch_EmptyBodyIsDelivered(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	res := NewDispatcher(testConfig(), nil).Dispatch(context.Background(), testEvent(srv.URL))
	assert.True(t, res.Delivered)
	assert.NoError(t, res.Err)
}

func TestDispatch_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	res := NewDispatcher(testConfig(), nil).Dispatch(context.Background(), testEvent(srv.URL))
	assert.True(t, res.Delivered)
	assert.Equal(t, 3, res.Attempts)
}

func TestDispatch_ExhaustedRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	res := NewDispatcher(testConfig(), nil).Dispatch(context.Background(), testEvent(srv.URL))
	assert.False(t, res.Delivered)
	assert.True(t, res.RateLimited)
	assert.ErrorIs(t, res.Err, domain.ErrRateLimited)
	assert.Equal(t, int32(3), calls.Load())
}

func TestDispatch_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	res := NewDispatcher(testConfig(), nil).Dispatch(context.Background(), testEvent(srv.URL))
	assert.False(t, res.Delivered)
	assert.Error(t, res.Err)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	assert.Equal(t, int32(1), calls.Load())
}

func TestDispatch_InvalidTokenRemovesChannel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"result":{"successfulTokens":[],"invalidTokens":["tok-7"],"rateLimitedTokens":[]}}`))
	}))
	defer srv.Close()

	remover := &fakeRemover{}
	res := NewDispatcher(testConfig(), remover).Dispatch(context.Background(), testEvent(srv.URL))
	assert.False(t, res.Delivered)
	assert.True(t, res.InvalidToken)
	assert.ErrorIs(t, res.Err, domain.ErrChannelNotRegistered)
	assert.Equal(t, []int64{7}, remover.deleted)
}

func TestDispatch_RateLimitedToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"result":{"rateLimitedTokens":["tok-7"]}}`))
	}))
	defer srv.Close()

	res := NewDispatcher(testConfig(), nil).Dispatch(context.Background(), testEvent(srv.URL))
	assert.False(t, res.Delivered)
	assert.True(t, res.RateLimited)
}

func TestDispatch_NoChannel(t *testing.T) {
	ev := testEvent("")
	res := NewDispatcher(testConfig(), nil).Dispatch(context.Background(), ev)
	assert.ErrorIs(t, res.Err, domain.ErrChannelNotRegistered)
	assert.Equal(t, 0, res.Attempts)
}

func TestDispatchAll_ContinuesAfterFailure(t *testing.T) {
	ok := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer ok.Close()
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer bad.Close()

	d := NewDispatcher(testConfig(), nil)
	results := d.DispatchAll(context.Background(), []domain.NotificationEvent{
		testEvent(bad.URL),
		testEvent(ok.URL),
	})
	require.Len(t, results, 2)
	assert.False(t, results[0].Delivered)
	assert.True(t, results[1].Delivered)
}

func TestDispatch_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	res := NewDispatcher(testConfig(), nil).Dispatch(context.Background(), testEvent(url))
	assert.False(t, res.Delivered)
	assert.ErrorIs(t, res.Err, domain.ErrUpstreamUnavailable)
	assert.Equal(t, 3, res.Attempts)
}
