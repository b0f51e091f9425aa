package channel

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relaybot/internal/domain"
)

type fakeSlackAPI struct {
	mu      sync.Mutex
	authErr error
	posts   []string
	postErr error
	files   map[string][]byte
}

func (f *fakeSlackAPI) AuthTestContext(context.Context) (*slack.AuthTestResponse, error) {
	if f.authErr != nil {
		return nil, f.authErr
	}
	return &slack.AuthTestResponse{User: "relay", UserID: "UBOT"}, nil
}

func (f *fakeSlackAPI) PostMessageContext(_ context.Context, channelID string, _ ...slack.MsgOption) (string, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.posts = append(f.posts, channelID)
	return channelID, "1700000000.000100", f.postErr
}

func (f *fakeSlackAPI) GetConversationInfoContext(_ context.Context, in *slack.GetConversationInfoInput) (*slack.Channel, error) {
	ch := &slack.Channel{}
	ch.Name = "general"
	if in.ChannelID != "C1" {
		return nil, errors.New("channel_not_found")
	}
	return ch, nil
}

func (f *fakeSlackAPI) GetUserInfoContext(_ context.Context, user string) (*slack.User, error) {
	u := &slack.User{ID: user, Name: "alice", RealName: "Alice Liddell"}
	u.Profile.DisplayName = "Alice"
	return u, nil
}

func (f *fakeSlackAPI) GetFileContext(_ context.Context, url string, w io.Writer) error {
	data, ok := f.files[url]
	if !ok {
		return errors.New("file_not_found")
	}
	_, err := w.Write(data)
	return err
}

func newSlackFixture(t *testing.T, groups map[string]domain.RegisteredGroup, voice VoiceTranscriber) (*Slack, *fakeSlackAPI, chan domain.InboundMessage) {
	t.Helper()
	api := &fakeSlackAPI{files: map[string][]byte{}}
	messages := make(chan domain.InboundMessage, 10)
	s := NewSlack(SlackConfig{
		BotToken:      "xoxb-test",
		AppToken:      "xapp-test",
		AssistantName: "Andy",
		Voice:         voice,
		Logger:        testLogger(),
		Callbacks: domain.Callbacks{
			OnMessage:        func(_ string, msg domain.InboundMessage) { messages <- msg },
			OnChatMetadata:   func(string, string, string) error { return nil },
			RegisteredGroups: func() map[string]domain.RegisteredGroup { return groups },
		},
	})
	s.dial = func() (slackAPI, *socketmode.Client) { return api, nil }
	require.NoError(t, s.Connect(context.Background()))
	t.Cleanup(func() { _ = s.Disconnect(context.Background()) })
	return s, api, messages
}

func slackMessage(ev *slackevents.MessageEvent) slackevents.EventsAPIEvent {
	if ev.Channel == "" {
		ev.Channel = "C1"
	}
	if ev.User == "" {
		ev.User = "U1"
	}
	if ev.TimeStamp == "" {
		ev.TimeStamp = "1700000000.000100"
	}
	return slackevents.EventsAPIEvent{
		Type:       slackevents.CallbackEvent,
		InnerEvent: slackevents.EventsAPIInnerEvent{Type: "message", Data: ev},
	}
}

func TestSlack_MentionRewrite(t *testing.T) {
	groups := map[string]domain.RegisteredGroup{"slack:C1": {Folder: "general"}}
	s, _, messages := newSlackFixture(t, groups, nil)
	assert.True(t, s.IsConnected())

	s.handleEventsAPI(context.Background(), slackMessage(&slackevents.MessageEvent{Text: "<@UBOT> standup notes?"}))

	msg := <-messages
	assert.Equal(t, "@Andy @relay standup notes?", msg.Content)
	assert.Equal(t, "slack:C1", msg.ChatJID)
	assert.Equal(t, "Alice", msg.SenderName)
	assert.Equal(t, "1700000000.000100", msg.ID)
	assert.Equal(t, "2023-11-14T22:13:20.000Z", msg.Timestamp)
}

func TestSlack_SkipsBotsAndEdits(t *testing.T) {
	groups := map[string]domain.RegisteredGroup{"slack:C1": {Folder: "general"}}
	s, _, messages := newSlackFixture(t, groups, nil)
	ctx := context.Background()

	s.handleEventsAPI(ctx, slackMessage(&slackevents.MessageEvent{User: "UBOT", Text: "my own reply"}))
	s.handleEventsAPI(ctx, slackMessage(&slackevents.MessageEvent{BotID: "B9", Text: "other bot"}))
	s.handleEventsAPI(ctx, slackMessage(&slackevents.MessageEvent{SubType: "message_changed", Text: "edit"}))
	s.handleEventsAPI(ctx, slackMessage(&slackevents.MessageEvent{Text: "real message"}))

	msg := <-messages
	assert.Equal(t, "real message", msg.Content)
	assert.Empty(t, messages)
}

func TestSlack_Files(t *testing.T) {
	groups := map[string]domain.RegisteredGroup{"slack:C1": {Folder: "general"}}
	voice := &fakeVoice{transcript: "call me back", ok: true}
	s, api, messages := newSlackFixture(t, groups, voice)
	api.files["https://files.example/clip"] = []byte("OggS")
	ctx := context.Background()

	s.handleEventsAPI(ctx, slackMessage(&slackevents.MessageEvent{
		SubType: "file_share",
		Text:    "see attached",
		Message: &slack.Msg{Files: []slack.File{{Name: "q3.pdf", Mimetype: "application/pdf"}}},
	}))
	assert.Equal(t, "[Document: q3.pdf] see attached", (<-messages).Content)

	s.handleEventsAPI(ctx, slackMessage(&slackevents.MessageEvent{
		SubType: "file_share",
		Message: &slack.Msg{Files: []slack.File{{
			Name:               "audio_message.m4a",
			Mimetype:           "audio/mp4",
			URLPrivateDownload: "https://files.example/clip",
		}}},
	}))
	assert.Equal(t, "[Voice: call me back]", (<-messages).Content)
	assert.Equal(t, []byte("OggS"), voice.gotAudio)
	assert.Equal(t, "general", voice.gotFolder)
}

func TestSlack_DirectMessageNamedAfterSender(t *testing.T) {
	var names []string
	s := NewSlack(SlackConfig{BotToken: "b", AppToken: "a", Logger: testLogger()})
	s.api = &fakeSlackAPI{}
	names = append(names,
		s.chatName(context.Background(), "D1", "im", "Alice"),
		s.chatName(context.Background(), "C1", "channel", "Alice"),
		s.chatName(context.Background(), "C404", "channel", "Alice"),
	)
	assert.Equal(t, []string{"Alice", "general", "slack:C404"}, names)
}

func TestSlack_SendMessageChunks(t *testing.T) {
	s, api, _ := newSlackFixture(t, nil, nil)

	require.NoError(t, s.SendMessage(context.Background(), "slack:C1", strings.Repeat("w", 9000)))
	assert.Equal(t, []string{"C1", "C1", "C1"}, api.posts)
}

func TestSlack_SendMessageErrorLogged(t *testing.T) {
	s, api, _ := newSlackFixture(t, nil, nil)
	api.postErr = errors.New("channel_not_found")

	assert.NoError(t, s.SendMessage(context.Background(), "slack:C1", "hello"))
	assert.Len(t, api.posts, 1)
}

func TestSlack_ConnectRequiresTokens(t *testing.T) {
	s := NewSlack(SlackConfig{BotToken: "xoxb", Logger: testLogger()})
	err := s.Connect(context.Background())

	var connErr *ConnectionError
	require.ErrorAs(t, err, &connErr)
	assert.Equal(t, "slack", connErr.Channel)
	assert.False(t, s.IsConnected())
}

func TestSlack_SendOnlyOpensNoSocket(t *testing.T) {
	api := &fakeSlackAPI{}
	s := NewSlack(SlackConfig{BotToken: "xoxb-test", SendOnly: true, Logger: testLogger()})
	s.dial = func() (slackAPI, *socketmode.Client) {
		return api, socketmode.New(slack.New("xoxb-test", slack.OptionAppLevelToken("xapp-test")))
	}

	require.NoError(t, s.Connect(context.Background()))
	assert.True(t, s.IsConnected())
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	select {
	case <-done:
	default:
		t.Fatal("send-only connect started the socket mode loop")
	}

	require.NoError(t, s.SendMessage(context.Background(), "slack:C1", "hello"))
	assert.Equal(t, []string{"C1"}, api.posts)
	require.NoError(t, s.Disconnect(context.Background()))
}

func TestSlack_AuthFailure(t *testing.T) {
	s := NewSlack(SlackConfig{BotToken: "b", AppToken: "a", Logger: testLogger()})
	s.dial = func() (slackAPI, *socketmode.Client) {
		return &fakeSlackAPI{authErr: errors.New("invalid_auth")}, nil
	}

	err := s.Connect(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid_auth")
	assert.Equal(t, StateDisconnected, s.State())
}

func TestSlack_DisconnectIdempotent(t *testing.T) {
	s, _, _ := newSlackFixture(t, nil, nil)

	require.NoError(t, s.Disconnect(context.Background()))
	assert.False(t, s.IsConnected())
	require.NoError(t, s.Disconnect(context.Background()))
}

func TestSlackEpoch(t *testing.T) {
	assert.Equal(t, int64(1700000000), slackEpoch("1700000000.000100"))
	assert.Equal(t, int64(1700000000), slackEpoch("1700000000"))
	assert.Equal(t, int64(0), slackEpoch("garbage"))
}

func TestIsSlackVoiceClip(t *testing.T) {
	assert.True(t, isSlackVoiceClip(slack.File{Name: "audio_message.webm", Mimetype: "audio/webm"}))
	assert.False(t, isSlackVoiceClip(slack.File{Name: "podcast.mp3", Mimetype: "audio/mpeg"}))
	assert.False(t, isSlackVoiceClip(slack.File{Name: "audio_message.txt", Mimetype: "text/plain"}))
}
