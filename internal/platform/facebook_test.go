package platform

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/djlord-it/easy-post/internal/domain"
)

func TestFacebook_PublishWithLink(t *testing.T) {
	var gotPath, gotMessage, gotLink, gotToken string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		gotPath = r.URL.Path
		gotMessage = r.PostForm.Get("message")
		gotLink = r.PostForm.Get("link")
		gotToken = r.PostForm.Get("access_token")
		w.Write([]byte(`{"id":"123_456"}`))
	}))
	defer srv.Close()

	fb := NewFacebook(srv.URL)
	res := fb.Publish(context.Background(), PublishRequest{
		Content:    "hello",
		MediaRefs:  []string{"https://example.com/article"},
		Connection: testConn(domain.PlatformFacebook),
	})

	require.True(t, res.IsSuccess(), res.Err)
	assert.Equal(t, "123_456", res.PostID)
	assert.Equal(t, "/acct-1/feed", gotPath)
	assert.Equal(t, "hello", gotMessage)
	assert.Equal(t, "https://example.com/article", gotLink)
	assert.Equal(t, "token-1", gotToken)
}

func TestFacebook_PublishRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"message":"Duplicate status message"}}`))
	}))
	defer srv.Close()

	res := NewFacebook(srv.URL).Publish(context.Background(), PublishRequest{
		Content:    "hello",
		Connection: testConn(domain.PlatformFacebook),
	})

	require.False(t, res.IsSuccess())
	assert.Equal(t, domain.FailurePlatformRejected, res.Err.Kind)
	assert.Equal(t, "Duplicate status message", res.Err.Message)
}

func TestFacebook_PublishWithoutToken(t *testing.T) {
	res := NewFacebook("http://127.0.0.1:1").Publish(context.Background(), PublishRequest{Content: "x"})

	require.False(t, res.IsSuccess())
	assert.Equal(t, domain.FailureCredentialsMissing, res.Err.Kind)
}

func TestFacebook_FetchMetrics(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/123_456":
			w.Write([]byte(`{"shares":{"count":3},"reactions":{"summary":{"total_count":10}},"comments":{"summary":{"total_count":2}}}`))
		case "/123_456/insights":
			w.Write([]byte(`{"data":[{"name":"post_impressions","values":[{"value":400}]},{"name":"post_impressions_unique","values":[{"value":250}]}]}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	m, err := NewFacebook(srv.URL).FetchMetrics(context.Background(), "123_456", testConn(domain.PlatformFacebook))

	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"reactions": 10, "comments": 2, "shares": 3}, m.Engagement)
	assert.Equal(t, map[string]int64{"impressions": 400, "reach": 250}, m.Reach)
}
