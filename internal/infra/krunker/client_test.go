package krunker

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sifan077/KrunkLink/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(config.KrunkerConfig{BaseURL: srv.URL + "/", APIKey: "test-key", Timeout: time.Second}, nil)
}

func TestFetchRecentPosts(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/player/PlayerX/posts", r.URL.Path)
		assert.Equal(t, "2", r.URL.Query().Get("limit"))
		assert.Equal(t, "test-key", r.Header.Get(apiKeyHeader))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"posts":[
			{"post_id":3,"post_text":"VERIFY-ABCD1234"},
			{"post_id":2,"post_text":"gg"},
			{"post_id":1,"post_text":"old"}
		]}`))
	})

	posts, err := client.FetchRecentPosts(context.Background(), "PlayerX", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"VERIFY-ABCD1234", "gg"}, posts)
}

func TestFetchRecentPosts_Empty(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"posts":null}`))
	})

	posts, err := client.FetchRecentPosts(context.Background(), "Quiet", 5)
	require.NoError(t, err)
	assert.Empty(t, posts)
}

func TestFetchRecentPosts_APIError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":"forbidden","message":"Not allowed"}`))
	})

	_, err := client.FetchRecentPosts(context.Background(), "PlayerX", 5)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusForbidden, apiErr.StatusCode)
	assert.Equal(t, "Not allowed", apiErr.Message)
}

func TestFetchProfile(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/player/PlayerX", r.URL.Path)
		_, _ = w.Write([]byte(`{"player_name":"PlayerX","player_region":"EU","player_level":42}`))
	})

	profile, err := client.FetchProfile(context.Background(), "PlayerX")
	require.NoError(t, err)
	assert.Equal(t, "EU", profile.Region)
	assert.Equal(t, 42, profile.Level)
}

func TestFetchProfile_NotFound(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	_, err := client.FetchProfile(context.Background(), "Ghost")
	assert.True(t, errors.Is(err, ErrPlayerNotFound))
}

func TestFetchProfile_MalformedBody(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html>`))
	})

	_, err := client.FetchProfile(context.Background(), "PlayerX")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode krunker response")
}

func TestFetchRecentPosts_RejectsOversizedBody(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"posts":[{"post_text":"`))
		_, _ = w.Write([]byte(strings.Repeat("a", maxBodyBytes)))
		_, _ = w.Write([]byte(`"}]}`))
	})

	_, err := client.FetchRecentPosts(context.Background(), "PlayerX", 5)
	assert.ErrorIs(t, err, ErrResponseTooLarge)
}

func TestFetchRecentPosts_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()
	client := NewClient(config.KrunkerConfig{BaseURL: srv.URL, Timeout: time.Second}, nil)

	_, err := client.FetchRecentPosts(context.Background(), "PlayerX", 5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "send krunker request")
}
