package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPostmarkServer(t *testing.T, response string, captured *map[string]any) *httptest.Server {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/email", r.URL.Path)
		assert.Equal(t, "server-token", r.Header.Get("X-Postmark-Server-Token"))
		if captured != nil {
			require.NoError(t, json.NewDecoder(r.Body).Decode(captured))
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(response))
	}))
	t.Cleanup(server.Close)
	return server
}

func TestPostmarkProviderSend(t *testing.T) {
	t.Parallel()

	var body map[string]any
	server := newPostmarkServer(t, `{"To":"user@example.com","MessageID":"pm-1","ErrorCode":0,"Message":"OK"}`, &body)

	p, err := NewPostmarkProvider(PostmarkConfig{
		ServerToken: "server-token",
		From:        "no-reply@example.com",
		BaseURL:     server.URL,
	})
	require.NoError(t, err)
	assert.Equal(t, "postmark", p.Name())

	resp, err := p.Send(context.Background(), testMessage)
	require.NoError(t, err)
	assert.Equal(t, "pm-1", resp.MessageID)

	assert.Equal(t, "no-reply@example.com", body["From"])
	assert.Equal(t, "user@example.com", body["To"])
	assert.Equal(t, "Welcome", body["Subject"])
	assert.Equal(t, "<p>Hello</p>", body["HtmlBody"])
}

func TestPostmarkProviderErrorCodes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		response      string
		wantPermanent bool
	}{
		{name: "inactive recipient", response: `{"ErrorCode":406,"Message":"inactive recipient"}`, wantPermanent: true},
		{name: "invalid email", response: `{"ErrorCode":300,"Message":"invalid email request"}`, wantPermanent: true},
		{name: "rate limited", response: `{"ErrorCode":429,"Message":"rate limit exceeded"}`, wantPermanent: false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			server := newPostmarkServer(t, tt.response, nil)
			p, err := NewPostmarkProvider(PostmarkConfig{ServerToken: "server-token", From: "a@b.com", BaseURL: server.URL})
			require.NoError(t, err)

			_, err = p.Send(context.Background(), testMessage)
			require.Error(t, err)
			assert.Equal(t, tt.wantPermanent, IsPermanent(err))
			assert.Equal(t, !tt.wantPermanent, IsTransient(err))
		})
	}
}

func TestNewPostmarkProviderValidates(t *testing.T) {
	t.Parallel()

	_, err := NewPostmarkProvider(PostmarkConfig{From: "a@b.com"})
	assert.ErrorContains(t, err, "server token")

	_, err = NewPostmarkProvider(PostmarkConfig{ServerToken: "t"})
	assert.ErrorContains(t, err, "sender")
}
