package channel

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubChannel struct {
	name       string
	prefix     string
	connected  bool
	connectErr error
	sent       []string
	typing     []string
	disconnect int
}

func (s *stubChannel) Name() string { return s.name }

func (s *stubChannel) Connect(context.Context) error {
	if s.connectErr != nil {
		return s.connectErr
	}
	s.connected = true
	return nil
}

func (s *stubChannel) SendMessage(_ context.Context, jid, text string) error {
	s.sent = append(s.sent, jid+"|"+text)
	return nil
}

func (s *stubChannel) SetTyping(_ context.Context, jid string, _ bool) {
	s.typing = append(s.typing, jid)
}

func (s *stubChannel) IsConnected() bool { return s.connected }

func (s *stubChannel) OwnsJID(jid string) bool { return strings.HasPrefix(jid, s.prefix) }

func (s *stubChannel) Disconnect(context.Context) error {
	s.disconnect++
	s.connected = false
	return nil
}

func TestRouter_SendPicksOwner(t *testing.T) {
	tg := &stubChannel{name: "telegram", prefix: "tg:", connected: true}
	dc := &stubChannel{name: "discord", prefix: "dc:", connected: true}
	r := NewRouter(testLogger(), tg, dc)

	require.NoError(t, r.Send(context.Background(), "dc:42", "hi"))
	assert.Equal(t, []string{"dc:42|hi"}, dc.sent)
	assert.Empty(t, tg.sent)

	err := r.Send(context.Background(), "slack:C1", "hi")
	assert.ErrorIs(t, err, ErrNoChannel)
}

func TestRouter_SendRequiresConnection(t *testing.T) {
	tg := &stubChannel{name: "telegram", prefix: "tg:"}
	r := NewRouter(testLogger(), tg)

	err := r.Send(context.Background(), "tg:1", "hi")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not connected")
	assert.Empty(t, tg.sent)
}

func TestRouter_SetTyping(t *testing.T) {
	tg := &stubChannel{name: "telegram", prefix: "tg:", connected: true}
	r := NewRouter(testLogger(), tg)

	r.SetTyping(context.Background(), "tg:1", true)
	r.SetTyping(context.Background(), "xx:1", true)
	assert.Equal(t, []string{"tg:1"}, tg.typing)
}

func TestRouter_ConnectAllRollsBack(t *testing.T) {
	tg := &stubChannel{name: "telegram", prefix: "tg:"}
	dc := &stubChannel{name: "discord", prefix: "dc:", connectErr: errors.New("bad token")}
	r := NewRouter(testLogger(), tg, dc)

	err := r.ConnectAll(context.Background())
	require.EqualError(t, err, "bad token")
	assert.Equal(t, 1, tg.disconnect)
	assert.False(t, tg.IsConnected())
	assert.Equal(t, "telegram=disconnected discord=disconnected", r.Status())
}

func TestRouter_ConnectAndDisconnectAll(t *testing.T) {
	tg := &stubChannel{name: "telegram", prefix: "tg:"}
	dc := &stubChannel{name: "discord", prefix: "dc:"}
	r := NewRouter(testLogger(), tg, dc)

	require.NoError(t, r.ConnectAll(context.Background()))
	assert.Equal(t, "telegram=connected discord=connected", r.Status())
	require.NoError(t, r.DisconnectAll(context.Background()))
	assert.Equal(t, 1, dc.disconnect)
	assert.Len(t, r.Channels(), 2)
}
