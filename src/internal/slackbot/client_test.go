package slackbot

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ce-fello/slack-reviewer-bot/src/internal/broker"

	"github.com/slack-go/slack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestClient(t *testing.T, routes map[string]http.HandlerFunc) *Client {
	t.Helper()
	mux := http.NewServeMux()
	for path, h := range routes {
		mux.HandleFunc(path, h)
	}
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return New("xoxb-test", zap.NewNop(), slack.OptionAPIURL(srv.URL+"/"))
}

func respond(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}
}

func TestUserProfile(t *testing.T) {
	c := newTestClient(t, map[string]http.HandlerFunc{
		"/users.info": respond(`{"ok":true,"user":{"id":"bob","name":"bob","real_name":"Bob Bobsson","profile":{"email":"bob@example.com"}}}`),
	})

	p, err := c.UserProfile(context.Background(), "bob")
	require.NoError(t, err)
	assert.Equal(t, &broker.UserProfile{DisplayName: "Bob Bobsson", Email: "bob@example.com"}, p)
}

func TestUserProfile_NotFoundIsAbsent(t *testing.T) {
	c := newTestClient(t, map[string]http.HandlerFunc{
		"/users.info": respond(`{"ok":false,"error":"user_not_found"}`),
	})

	p, err := c.UserProfile(context.Background(), "ghost")
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestUserProfile_OtherErrorsPropagate(t *testing.T) {
	c := newTestClient(t, map[string]http.HandlerFunc{
		"/users.info": respond(`{"ok":false,"error":"invalid_auth"}`),
	})

	_, err := c.UserProfile(context.Background(), "bob")
	assert.Error(t, err)
}

func TestChannelInfo(t *testing.T) {
	c := newTestClient(t, map[string]http.HandlerFunc{
		"/conversations.info": respond(`{"ok":true,"channel":{"id":"C1","name":"reviews"}}`),
	})

	info, err := c.ChannelInfo(context.Background(), "C1")
	require.NoError(t, err)
	assert.Equal(t, "reviews", info.Name)
}

func TestChannelInfo_NotFoundIsAbsent(t *testing.T) {
	c := newTestClient(t, map[string]http.HandlerFunc{
		"/conversations.info": respond(`{"ok":false,"error":"channel_not_found"}`),
	})

	info, err := c.ChannelInfo(context.Background(), "C404")
	require.NoError(t, err)
	assert.Nil(t, info)
}

func TestChannelMembers_PassesCursor(t *testing.T) {
	c := newTestClient(t, map[string]http.HandlerFunc{
		"/conversations.members": func(w http.ResponseWriter, r *http.Request) {
			require.NoError(t, r.ParseForm())
			w.Header().Set("Content-Type", "application/json")
			if r.Form.Get("cursor") == "" {
				_, _ = w.Write([]byte(`{"ok":true,"members":["bob","jane"],"response_metadata":{"next_cursor":"page2"}}`))
				return
			}
			assert.Equal(t, "page2", r.Form.Get("cursor"))
			_, _ = w.Write([]byte(`{"ok":true,"members":["sam"],"response_metadata":{"next_cursor":""}}`))
		},
	})

	first, next, err := c.ChannelMembers(context.Background(), "C1", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"bob", "jane"}, first)
	assert.Equal(t, "page2", next)

	second, next, err := c.ChannelMembers(context.Background(), "C1", next)
	require.NoError(t, err)
	assert.Equal(t, []string{"sam"}, second)
	assert.Empty(t, next)
}

func TestUserPresence(t *testing.T) {
	c := newTestClient(t, map[string]http.HandlerFunc{
		"/users.getPresence": respond(`{"ok":true,"presence":"away"}`),
	})

	status, err := c.UserPresence(context.Background(), "bob")
	require.NoError(t, err)
	assert.Equal(t, "away", status)
}

func TestPost(t *testing.T) {
	var gotChannel, gotText string
	c := newTestClient(t, map[string]http.HandlerFunc{
		"/chat.postMessage": func(w http.ResponseWriter, r *http.Request) {
			require.NoError(t, r.ParseForm())
			gotChannel = r.Form.Get("channel")
			gotText = r.Form.Get("text")
			respond(`{"ok":true,"channel":"C1","ts":"1700000000.000100"}`)(w, r)
		},
	})

	require.NoError(t, c.Post(context.Background(), "C1", "Review request received"))
	assert.Equal(t, "C1", gotChannel)
	assert.Equal(t, "Review request received", gotText)
}

func TestPost_WithBlocks(t *testing.T) {
	var gotBlocks string
	c := newTestClient(t, map[string]http.HandlerFunc{
		"/chat.postMessage": func(w http.ResponseWriter, r *http.Request) {
			require.NoError(t, r.ParseForm())
			gotBlocks = r.Form.Get("blocks")
			respond(`{"ok":true,"channel":"C1","ts":"1700000000.000100"}`)(w, r)
		},
	})

	button := slack.NewButtonBlockElement("assignment-acknowledge", "7", slack.NewTextBlockObject(slack.PlainTextType, "Acknowledge", false, false))
	require.NoError(t, c.Post(context.Background(), "C1", "Bob to review", slack.NewActionBlock("assignment-7", button)))
	assert.Contains(t, gotBlocks, `"action_id":"assignment-acknowledge"`)
	assert.Contains(t, gotBlocks, `"value":"7"`)
}

func TestPublishHome(t *testing.T) {
	var gotUser, gotView string
	c := newTestClient(t, map[string]http.HandlerFunc{
		"/views.publish": func(w http.ResponseWriter, r *http.Request) {
			body, err := io.ReadAll(r.Body)
			require.NoError(t, err)
			var req struct {
				UserID string          `json:"user_id"`
				View   json.RawMessage `json:"view"`
			}
			require.NoError(t, json.Unmarshal(body, &req))
			gotUser, gotView = req.UserID, string(req.View)
			respond(`{"ok":true,"view":{"id":"V1","type":"home"}}`)(w, r)
		},
	})

	header := slack.NewHeaderBlock(slack.NewTextBlockObject(slack.PlainTextType, "Your reviews", false, false))
	require.NoError(t, c.PublishHome(context.Background(), "bob", []slack.Block{header}))
	assert.Equal(t, "bob", gotUser)
	assert.Contains(t, gotView, `"type":"home"`)
	assert.Contains(t, gotView, "Your reviews")
}

func TestPublishHome_ErrorPropagates(t *testing.T) {
	c := newTestClient(t, map[string]http.HandlerFunc{
		"/views.publish": respond(`{"ok":false,"error":"not_enabled"}`),
	})

	err := c.PublishHome(context.Background(), "bob", nil)
	assert.Error(t, err)
}
