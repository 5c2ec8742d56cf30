package client

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDoSendsRequestIDAndHeaders(t *testing.T) {
	var gotID, gotCT, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotID = r.Header.Get("X-Request-Id")
		gotCT = r.Header.Get("Content-Type")
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c := NewHTTPClient(time.Second)
	resp, err := c.Post(context.Background(), srv.URL, map[string]string{"Content-Type": "application/json"}, strings.NewReader(`{"a":1}`))
	require.NoError(t, err)

	assert.True(t, resp.OK())
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.JSONEq(t, `{"ok":true}`, string(resp.Body))
	assert.NotEmpty(t, gotID)
	assert.Equal(t, "application/json", gotCT)
	assert.Equal(t, `{"a":1}`, gotBody)
}

func TestDoKeepsCookiesBetweenRequests(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/login":
			http.SetCookie(w, &http.Cookie{Name: "session", Value: "abc", Path: "/"})
		case "/me":
			if c, err := r.Cookie("session"); err != nil || c.Value != "abc" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewHTTPClient(time.Second)
	ctx := context.Background()

	_, err := c.Post(ctx, srv.URL+"/login", nil, nil)
	require.NoError(t, err)
	resp, err := c.Get(ctx, srv.URL+"/me", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestDoReturnsNon2xxWithoutError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"bad"}`))
	}))
	defer srv.Close()

	resp, err := NewHTTPClient(time.Second).Delete(context.Background(), srv.URL, nil)
	require.NoError(t, err)
	assert.False(t, resp.OK())
	assert.Equal(t, `{"error":"bad"}`, string(resp.Body))
}
