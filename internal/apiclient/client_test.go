package apiclient

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
	"github.com/suPer8Hu/qupid/internal/analysis"
)

func TestCreatePersonaSession_Envelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/sessions", r.URL.Path)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "ava", body["personaId"])
		assert.Equal(t, "be nice", body["systemInstruction"])
		_, _ = io.WriteString(w, `{"code":0,"message":"ok","data":{"sessionId":"s-1"}}`)
	}))
	defer srv.Close()

	id, err := New(srv.URL).CreatePersonaSession(context.Background(), "ava", "be nice")
	require.NoError(t, err)
	assert.Equal(t, "s-1", id)
}

func TestCreateCoachSession_BarePayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/coaches/sessions", r.URL.Path)
		_, _ = io.WriteString(w, `{"sessionId":"c-1"}`)
	}))
	defer srv.Close()

	id, err := New(srv.URL).CreateCoachSession(context.Background(), "mia", "u1")
	require.NoError(t, err)
	assert.Equal(t, "c-1", id)
}

func TestCreateSession_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, `{"code":50001,"message":"internal error","data":null}`)
	}))
	defer srv.Close()

	_, err := New(srv.URL).CreatePersonaSession(context.Background(), "ava", "")
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusInternalServerError, se.StatusCode)
	assert.Equal(t, "internal error", se.Message)
}

func TestAnalyze_RetriesOnceOnServerError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = io.WriteString(w, `{"code":0,"message":"ok","data":{"overallScore":70,"messageCount":2}}`)
	}))
	defer srv.Close()

	r, err := New(srv.URL).Analyze(context.Background(), []analysis.Turn{{Sender: "user", Text: "hi"}})
	require.NoError(t, err)
	assert.Equal(t, 70, r.OverallScore)
	assert.Equal(t, int32(2), calls.Load())
}

func TestAnalyze_GivesUpAfterOneRetry(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := New(srv.URL).Analyze(context.Background(), nil)
	require.Error(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestEndCoachingSession_NoRetryOnClientError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "/coaches/sessions/c-1/end", r.URL.Path)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := New(srv.URL).EndCoachingSession(context.Background(), "c-1")
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestOpenStream_NonOK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))
	defer srv.Close()

	_, err := New(srv.URL).OpenStream(context.Background(), "s-1", "hi", false)
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusConflict, se.StatusCode)
}

func TestIncrGuestChatCount(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/guests/g%2F1/chat-count", r.URL.EscapedPath())
		_, _ = io.WriteString(w, `{"code":0,"message":"ok","data":{"guestId":"g/1","chatCount":3}}`)
	}))
	defer srv.Close()

	n, err := New(srv.URL).IncrGuestChatCount(context.Background(), "g/1")
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)
}

func TestIncrGuestChatCount_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, `{"code":50003,"message":"internal error","data":null}`)
	}))
	defer srv.Close()

	_, err := New(srv.URL).IncrGuestChatCount(context.Background(), "g-1")
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusInternalServerError, se.StatusCode)
}
