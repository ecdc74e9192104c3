package notify

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/diyartec/calassist/internal/oauth"
)

func TestNewLoginEvent_HidesRefreshToken(t *testing.T) {
	ev := NewLoginEvent(oauth.Profile{Sub: "sub-1"}, &oauth.TokenSet{
		AccessToken:  "access-1",
		RefreshToken: "refresh-secret",
		ExpiresIn:    3599,
	})
	raw, err := json.Marshal(ev)
	require.NoError(t, err)

	assert.NotContains(t, string(raw), "refresh-secret")
	assert.Contains(t, string(raw), `"refresh_token":"[ENCRYPTED_STORED]"`)

	ev = NewLoginEvent(oauth.Profile{Sub: "sub-1"}, &oauth.TokenSet{AccessToken: "access-1"})
	raw, err = json.Marshal(ev)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"refresh_token":null`)
}

func TestWebhook_Delivers(t *testing.T) {
	var (
		mu   sync.Mutex
		body string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		body = string(b)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	wh := NewWebhook(srv.URL, nil, nil)
	wh.LoginCompleted(NewLoginEvent(oauth.Profile{Sub: "sub-1", Email: "jane@example.com"}, &oauth.TokenSet{AccessToken: "a"}))
	wh.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.True(t, strings.Contains(body, `"sub":"sub-1"`), body)
}

func TestWebhook_FailuresAreSwallowed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	wh := NewWebhook(srv.URL, nil, nil)
	wh.LoginCompleted(LoginEvent{})
	wh.Wait()
}

func TestWebhook_NilIsNoop(t *testing.T) {
	wh := NewWebhook("", nil, nil)
	assert.Nil(t, wh)
	wh.LoginCompleted(LoginEvent{})
	wh.Wait()
}
