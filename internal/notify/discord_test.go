package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/fyrsmithlabs/crewd/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capture struct {
	path, auth, content string
}

func discordServer(t *testing.T, status int) (*httptest.Server, *capture) {
	t.Helper()
	got := &capture{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.path = r.URL.Path
		got.auth = r.Header.Get("Authorization")
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		got.content = body["content"]
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"message": "nope"}`))
	}))
	t.Cleanup(srv.Close)
	return srv, got
}

func TestNewDiscord_DisabledWithoutToken(t *testing.T) {
	assert.Nil(t, NewDiscord(config.DiscordConfig{ChannelID: "1"}))
}

func TestDiscord_Notify(t *testing.T) {
	srv, got := discordServer(t, http.StatusOK)
	d := NewDiscord(config.DiscordConfig{BotToken: "bot-token", ChannelID: "123", APIURL: srv.URL})

	require.NoError(t, d.Notify(t.Context(), "run finished"))
	assert.Equal(t, "/channels/123/messages", got.path)
	assert.Equal(t, "Bot bot-token", got.auth)
	assert.Equal(t, "run finished", got.content)
}

func TestDiscord_SendTruncates(t *testing.T) {
	srv, got := discordServer(t, http.StatusOK)
	d := NewDiscord(config.DiscordConfig{BotToken: "bot-token", ChannelID: "123", APIURL: srv.URL})

	require.NoError(t, d.Send(t.Context(), "456", strings.Repeat("가", 2500)))
	assert.Equal(t, "/channels/456/messages", got.path)
	assert.Equal(t, MaxDiscordMessage, utf8.RuneCountInString(got.content))
	assert.True(t, strings.HasSuffix(got.content, "..."))
}

func TestDiscord_Errors(t *testing.T) {
	srv, _ := discordServer(t, http.StatusForbidden)

	d := NewDiscord(config.DiscordConfig{BotToken: "bot-token", APIURL: srv.URL})
	assert.ErrorIs(t, d.Notify(t.Context(), "x"), ErrNoChannel)

	err := d.Send(t.Context(), "1", "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 403")
}

type failing struct{ err error }

func (f failing) Notify(context.Context, string) error { return f.err }

func TestMulti_JoinsErrors(t *testing.T) {
	boom := errors.New("boom")
	m := Multi{Nop{}, failing{boom}, Nop{}}

	assert.ErrorIs(t, m.Notify(t.Context(), "x"), boom)
	assert.NoError(t, Multi{Nop{}}.Notify(t.Context(), "x"))
}
