package channel

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relaybot/internal/domain"
)

type fakeDiscordSession struct {
	mu       sync.Mutex
	onReady  func(*discordgo.Session, *discordgo.Ready)
	onMsg    func(*discordgo.Session, *discordgo.MessageCreate)
	openErr  error
	closed   int
	sent     []string
	typing   []string
	channels map[string]string
	sendErr  error
}

func (f *fakeDiscordSession) AddHandler(h interface{}) func() {
	switch fn := h.(type) {
	case func(*discordgo.Session, *discordgo.Ready):
		f.onReady = fn
	case func(*discordgo.Session, *discordgo.MessageCreate):
		f.onMsg = fn
	}
	return func() {}
}

func (f *fakeDiscordSession) Open() error {
	if f.openErr != nil {
		return f.openErr
	}
	f.onReady(nil, &discordgo.Ready{User: &discordgo.User{ID: "B1", Username: "relay"}})
	return nil
}

func (f *fakeDiscordSession) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

func (f *fakeDiscordSession) ChannelMessageSend(channelID, content string, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, channelID+"|"+content)
	return &discordgo.Message{}, f.sendErr
}

func (f *fakeDiscordSession) ChannelTyping(channelID string, _ ...discordgo.RequestOption) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.typing = append(f.typing, channelID)
	return nil
}

func (f *fakeDiscordSession) Channel(channelID string, _ ...discordgo.RequestOption) (*discordgo.Channel, error) {
	if name, ok := f.channels[channelID]; ok {
		return &discordgo.Channel{ID: channelID, Name: name}, nil
	}
	return nil, errors.New("unknown channel")
}

func newDiscordFixture(t *testing.T, groups map[string]domain.RegisteredGroup, voice VoiceTranscriber) (*Discord, *fakeDiscordSession, chan domain.InboundMessage) {
	t.Helper()
	sess := &fakeDiscordSession{channels: map[string]string{"C1": "general"}}
	messages := make(chan domain.InboundMessage, 10)
	d := NewDiscord(DiscordConfig{
		Token:         "tok",
		AssistantName: "Andy",
		Voice:         voice,
		Logger:        testLogger(),
		Callbacks: domain.Callbacks{
			OnMessage:        func(_ string, msg domain.InboundMessage) { messages <- msg },
			OnChatMetadata:   func(string, string, string) error { return nil },
			RegisteredGroups: func() map[string]domain.RegisteredGroup { return groups },
		},
	})
	d.newSession = func(string) (discordSession, error) { return sess, nil }
	require.NoError(t, d.Connect(context.Background()))
	t.Cleanup(func() { _ = d.Disconnect(context.Background()) })
	return d, sess, messages
}

func discordMessage(content string) *discordgo.MessageCreate {
	return &discordgo.MessageCreate{Message: &discordgo.Message{
		ID:        "M1",
		ChannelID: "C1",
		GuildID:   "G1",
		Content:   content,
		Timestamp: time.Unix(1700000000, 0),
		Author:    &discordgo.User{ID: "U1", Username: "alice", GlobalName: "Alice"},
	}}
}

func TestDiscord_MentionRewrite(t *testing.T) {
	groups := map[string]domain.RegisteredGroup{"dc:C1": {Folder: "general"}}
	d, sess, messages := newDiscordFixture(t, groups, nil)
	assert.True(t, d.IsConnected())

	m := discordMessage("<@B1> what's the weather")
	m.Mentions = []*discordgo.User{{ID: "B1", Username: "relay"}}
	sess.onMsg(nil, m)

	msg := waitFor(t, messages)
	assert.Equal(t, "@Andy @relay what's the weather", msg.Content)
	assert.Equal(t, "dc:C1", msg.ChatJID)
	assert.Equal(t, "Alice", msg.SenderName)
	assert.Equal(t, "2023-11-14T22:13:20.000Z", msg.Timestamp)
}

func TestDiscord_IgnoresOwnMessages(t *testing.T) {
	groups := map[string]domain.RegisteredGroup{"dc:C1": {Folder: "general"}}
	_, sess, messages := newDiscordFixture(t, groups, nil)

	own := discordMessage("echo")
	own.Author = &discordgo.User{ID: "B1", Username: "relay"}
	sess.onMsg(nil, own)
	sess.onMsg(nil, discordMessage("real"))

	assert.Equal(t, "real", waitFor(t, messages).Content)
}

func TestDiscord_Attachments(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ogg-bytes"))
	}))
	defer srv.Close()

	groups := map[string]domain.RegisteredGroup{"dc:C1": {Folder: "general"}}
	voice := &fakeVoice{transcript: "hello", ok: true}
	_, sess, messages := newDiscordFixture(t, groups, voice)

	doc := discordMessage("see attached")
	doc.Attachments = []*discordgo.MessageAttachment{{Filename: "plan.pdf", ContentType: "application/pdf"}}
	sess.onMsg(nil, doc)
	assert.Equal(t, "[Document: plan.pdf] see attached", waitFor(t, messages).Content)

	vn := discordMessage("")
	vn.Flags = discordgo.MessageFlagsIsVoiceMessage
	vn.Attachments = []*discordgo.MessageAttachment{{URL: srv.URL + "/voice.ogg", ContentType: "audio/ogg"}}
	sess.onMsg(nil, vn)
	assert.Equal(t, "[Voice: hello]", waitFor(t, messages).Content)
	assert.Equal(t, []byte("ogg-bytes"), voice.gotAudio)
}

func TestDiscord_SendMessageChunks(t *testing.T) {
	d, sess, _ := newDiscordFixture(t, nil, nil)

	require.NoError(t, d.SendMessage(context.Background(), "dc:C9", strings.Repeat("z", 4500)))
	sess.mu.Lock()
	defer sess.mu.Unlock()
	require.Len(t, sess.sent, 3)
	assert.True(t, strings.HasPrefix(sess.sent[0], "C9|"))
	assert.Len(t, sess.sent[2], len("C9|")+500)
}

func TestDiscord_SetTypingAndDisconnect(t *testing.T) {
	d, sess, _ := newDiscordFixture(t, nil, nil)

	d.SetTyping(context.Background(), "dc:C1", false)
	d.SetTyping(context.Background(), "dc:C1", true)
	require.NoError(t, d.Disconnect(context.Background()))
	require.NoError(t, d.Disconnect(context.Background()))

	assert.False(t, d.IsConnected())
	assert.Equal(t, []string{"C1"}, sess.typing)
	assert.Equal(t, 1, sess.closed)
}

func TestDiscord_SendOnlyIgnoresMessages(t *testing.T) {
	sess := &fakeDiscordSession{}
	d := NewDiscord(DiscordConfig{Token: "tok", SendOnly: true, Logger: testLogger()})
	d.newSession = func(string) (discordSession, error) { return sess, nil }

	require.NoError(t, d.Connect(context.Background()))
	assert.True(t, d.IsConnected())
	assert.Nil(t, sess.onMsg, "send-only session must not register a message handler")

	require.NoError(t, d.SendMessage(context.Background(), "dc:C1", "hello"))
	assert.Equal(t, []string{"C1|hello"}, sess.sent)

	require.NoError(t, d.Disconnect(context.Background()))
	assert.Equal(t, 1, sess.closed)
}

func TestDiscord_FullQueueWaitsInsteadOfDropping(t *testing.T) {
	groups := map[string]domain.RegisteredGroup{"dc:C1": {Folder: "general"}}
	release := make(chan struct{})
	var forwarded sync.WaitGroup
	total := discordQueueSize + 20
	forwarded.Add(total)

	sess := &fakeDiscordSession{channels: map[string]string{"C1": "general"}}
	d := NewDiscord(DiscordConfig{
		Token:         "tok",
		AssistantName: "Andy",
		Logger:        testLogger(),
		Callbacks: domain.Callbacks{
			OnMessage: func(string, domain.InboundMessage) {
				<-release
				forwarded.Done()
			},
			OnChatMetadata:   func(string, string, string) error { return nil },
			RegisteredGroups: func() map[string]domain.RegisteredGroup { return groups },
		},
	})
	d.newSession = func(string) (discordSession, error) { return sess, nil }
	require.NoError(t, d.Connect(context.Background()))
	t.Cleanup(func() { _ = d.Disconnect(context.Background()) })

	var handlers sync.WaitGroup
	for i := 0; i < total; i++ {
		handlers.Add(1)
		go func() {
			defer handlers.Done()
			sess.onMsg(nil, discordMessage("hi"))
		}()
	}
	close(release)

	done := make(chan struct{})
	go func() {
		handlers.Wait()
		forwarded.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("not every queued message was forwarded")
	}
}

func TestDiscord_ConnectFailure(t *testing.T) {
	d := NewDiscord(DiscordConfig{Token: "tok", Logger: testLogger()})
	d.newSession = func(string) (discordSession, error) {
		return &fakeDiscordSession{openErr: errors.New("4004 authentication failed")}, nil
	}
	err := d.Connect(context.Background())
	var connErr *ConnectionError
	require.ErrorAs(t, err, &connErr)
	assert.Equal(t, "discord", connErr.Channel)
	assert.False(t, d.IsConnected())

	assert.Error(t, NewDiscord(DiscordConfig{Logger: testLogger()}).Connect(context.Background()))
}

func TestAttachmentKind(t *testing.T) {
	tests := []struct {
		ct, name   string
		kind       ContentKind
		wantDetail string
	}{
		{"image/png", "a.png", KindPhoto, ""},
		{"video/mp4", "a.mp4", KindVideo, ""},
		{"audio/mpeg", "a.mp3", KindAudio, ""},
		{"", "notes.txt", KindDocument, "notes.txt"},
	}
	for _, tt := range tests {
		kind, detail := attachmentKind(tt.ct, tt.name)
		assert.Equal(t, tt.kind, kind, tt.ct)
		assert.Equal(t, tt.wantDetail, detail, tt.ct)
	}
}
