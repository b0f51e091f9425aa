package channel

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"relaybot/internal/domain"
)

const (
	slackJIDPrefix = "slack:"
	slackMaxMsgLen = 4000
)

// slackAPI is the subset of *slack.Client the channel uses.
type slackAPI interface {
	AuthTestContext(ctx context.Context) (*slack.AuthTestResponse, error)
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
	GetConversationInfoContext(ctx context.Context, input *slack.GetConversationInfoInput) (*slack.Channel, error)
	GetUserInfoContext(ctx context.Context, user string) (*slack.User, error)
	GetFileContext(ctx context.Context, downloadURL string, writer io.Writer) error
}

// SlackConfig configures the Slack channel.
type SlackConfig struct {
	BotToken      string
	AppToken      string
	AssistantName string
	Trigger       *regexp.Regexp
	Callbacks     domain.Callbacks
	Voice         VoiceTranscriber
	Logger        *slog.Logger

	// SendOnly authenticates the bot token without opening a socket mode
	// connection, so no events are taken from the gateway's socket.
	SendOnly bool
}

// Slack implements domain.Channel over Socket Mode.
type Slack struct {
	Lifecycle

	botToken string
	appToken string
	ingest   *Ingestor
	logger   *slog.Logger
	sendOnly bool

	// dial builds the Web API client and, when it can, the socket mode client.
	dial func() (slackAPI, *socketmode.Client)

	mu     sync.Mutex
	api    slackAPI
	botUID string
	cancel context.CancelFunc
	done   chan struct{}
	names  map[string]string
}

func NewSlack(cfg SlackConfig) *Slack {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	s := &Slack{
		botToken: cfg.BotToken,
		appToken: cfg.AppToken,
		ingest: NewIngestor(IngestConfig{
			Channel:       "slack",
			AssistantName: cfg.AssistantName,
			Trigger:       cfg.Trigger,
			Callbacks:     cfg.Callbacks,
			Voice:         cfg.Voice,
			Logger:        cfg.Logger,
		}),
		logger:   cfg.Logger,
		sendOnly: cfg.SendOnly,
		names:    make(map[string]string),
	}
	s.dial = func() (slackAPI, *socketmode.Client) {
		out := slogOutput{logger: s.logger.With("component", "slack")}
		api := slack.New(s.botToken, slack.OptionAppLevelToken(s.appToken), slack.OptionLog(out))
		return api, socketmode.New(api, socketmode.OptionLog(out))
	}
	return s
}

// slogOutput adapts slog to the Output(calldepth, s) logger slack-go expects.
type slogOutput struct{ logger *slog.Logger }

func (o slogOutput) Output(_ int, s string) error {
	o.logger.Debug(strings.TrimSpace(s))
	return nil
}

func (s *Slack) Name() string { return "slack" }

func (s *Slack) OwnsJID(jid string) bool { return strings.HasPrefix(jid, slackJIDPrefix) }

// Connect authenticates the bot token and starts the socket mode loop. A
// send-only channel needs no app token and starts no loop.
func (s *Slack) Connect(ctx context.Context) error {
	if s.botToken == "" || (s.appToken == "" && !s.sendOnly) {
		return &ConnectionError{Channel: s.Name(), Err: errors.New("bot token and app token are required")}
	}
	start, err := s.beginConnect()
	if err != nil || !start {
		return err
	}

	api, socket := s.dial()
	if s.sendOnly {
		socket = nil
	}
	auth, err := api.AuthTestContext(ctx)
	if err != nil {
		return s.finishConnect(s.Name(), fmt.Errorf("auth test: %w", err))
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.mu.Lock()
	s.api = api
	s.botUID = auth.UserID
	s.cancel = cancel
	s.done = done
	s.mu.Unlock()
	s.ingest.SetOwnHandle(auth.User)

	if err := s.finishConnect(s.Name(), nil); err != nil {
		cancel()
		return err
	}
	s.logger.Info("slack bot connected", "user", auth.User, "user_id", auth.UserID)

	if socket == nil {
		close(done)
		return nil
	}
	go s.run(runCtx, socket, done)
	return nil
}

// run drives socket mode until ctx ends. Events are handled one at a time.
func (s *Slack) run(ctx context.Context, socket *socketmode.Client, done chan struct{}) {
	defer close(done)

	errCh := make(chan error, 1)
	go func() { errCh <- socket.RunContext(ctx) }()

	for {
		select {
		case <-ctx.Done():
			s.beginDisconnect()
			return
		case err := <-errCh:
			if err != nil && ctx.Err() == nil {
				s.logger.Error("slack socket mode stopped", "err", err)
			}
			s.beginDisconnect()
			return
		case evt := <-socket.Events:
			s.dispatch(ctx, socket, evt)
		}
	}
}

func (s *Slack) dispatch(ctx context.Context, socket *socketmode.Client, evt socketmode.Event) {
	switch evt.Type {
	case socketmode.EventTypeConnected:
		s.logger.Info("slack socket mode connected")
	case socketmode.EventTypeConnectionError:
		s.logger.Warn("slack socket mode connection error", "data", evt.Data)
	case socketmode.EventTypeEventsAPI:
		if evt.Request != nil {
			socket.Ack(*evt.Request)
		}
		if ev, ok := evt.Data.(slackevents.EventsAPIEvent); ok {
			s.handleEventsAPI(ctx, ev)
		}
	default:
		// Unacknowledged envelopes make Slack retry and eventually drop the socket.
		if evt.Request != nil {
			socket.Ack(*evt.Request)
		}
	}
}

func (s *Slack) handleEventsAPI(ctx context.Context, event slackevents.EventsAPIEvent) {
	if event.Type != slackevents.CallbackEvent {
		return
	}
	// app_mention duplicates the message event in channels the bot is in.
	ev, ok := event.InnerEvent.Data.(*slackevents.MessageEvent)
	if !ok {
		return
	}
	s.mu.Lock()
	botUID := s.botUID
	s.mu.Unlock()
	if ev.User == "" || ev.User == botUID || ev.BotID != "" {
		return
	}
	if ev.SubType != "" && ev.SubType != "file_share" {
		return
	}
	s.ingest.Ingest(ctx, s.toEvent(ctx, ev, botUID))
}

func (s *Slack) toEvent(ctx context.Context, ev *slackevents.MessageEvent, botUID string) Event {
	jid := slackJIDPrefix + ev.Channel
	senderName := s.userName(ctx, ev.User)

	out := Event{
		ChatJID:    jid,
		ChatName:   s.chatName(ctx, ev.Channel, ev.ChannelType, senderName),
		MessageID:  ev.TimeStamp,
		SenderID:   ev.User,
		SenderName: senderName,
		Date:       slackEpoch(ev.TimeStamp),
	}

	text := ev.Text
	if botUID != "" && strings.Contains(text, "<@"+botUID+">") {
		handle := s.ingest.OwnHandle()
		text = strings.ReplaceAll(text, "<@"+botUID+">", "@"+handle)
		out.Entities = append(out.Entities, resolvedMention(handle))
	}

	var files []slack.File
	if ev.Message != nil {
		files = ev.Message.Files
	}
	if len(files) == 0 {
		out.Kind = KindText
		out.Text = text
		return out
	}

	f := files[0]
	out.Caption = text
	if isSlackVoiceClip(f) {
		out.Kind = KindVoice
		url := f.URLPrivateDownload
		out.FetchAudio = func(ctx context.Context) ([]byte, error) {
			return s.download(ctx, url)
		}
		return out
	}
	out.Kind, out.Detail = attachmentKind(f.Mimetype, f.Name)
	return out
}

// isSlackVoiceClip reports whether f is a recorded audio clip rather than
// an uploaded audio file.
func isSlackVoiceClip(f slack.File) bool {
	return strings.HasPrefix(f.Mimetype, "audio/") && strings.HasPrefix(f.Name, "audio_message")
}

func (s *Slack) download(ctx context.Context, url string) ([]byte, error) {
	s.mu.Lock()
	api := s.api
	s.mu.Unlock()
	if api == nil {
		return nil, errors.New("slack not connected")
	}
	var buf bytes.Buffer
	if err := api.GetFileContext(ctx, url, &buf); err != nil {
		return nil, fmt.Errorf("download slack file: %w", err)
	}
	return buf.Bytes(), nil
}

func (s *Slack) userName(ctx context.Context, userID string) string {
	s.mu.Lock()
	api := s.api
	name, ok := s.names["u:"+userID]
	s.mu.Unlock()
	if ok {
		return name
	}
	name = userID
	if api != nil {
		if u, err := api.GetUserInfoContext(ctx, userID); err == nil {
			switch {
			case u.Profile.DisplayName != "":
				name = u.Profile.DisplayName
			case u.RealName != "":
				name = u.RealName
			case u.Name != "":
				name = u.Name
			}
		} else {
			s.logger.Debug("slack user lookup failed", "user", userID, "err", err)
		}
	}
	if name == "" {
		name = "Unknown"
	}
	s.mu.Lock()
	s.names["u:"+userID] = name
	s.mu.Unlock()
	return name
}

func (s *Slack) chatName(ctx context.Context, channelID, channelType, senderName string) string {
	if channelType == "im" {
		return senderName
	}
	s.mu.Lock()
	api := s.api
	name, ok := s.names["c:"+channelID]
	s.mu.Unlock()
	if ok {
		return name
	}
	name = slackJIDPrefix + channelID
	if api != nil {
		ch, err := api.GetConversationInfoContext(ctx, &slack.GetConversationInfoInput{ChannelID: channelID})
		if err == nil && ch.Name != "" {
			name = ch.Name
		}
	}
	s.mu.Lock()
	s.names["c:"+channelID] = name
	s.mu.Unlock()
	return name
}

// slackEpoch parses a Slack "seconds.micros" timestamp.
func slackEpoch(ts string) int64 {
	sec, _, _ := strings.Cut(ts, ".")
	n, err := strconv.ParseInt(sec, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// Disconnect stops the socket mode loop.
func (s *Slack) Disconnect(ctx context.Context) error {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done, s.api = nil, nil, nil
	s.mu.Unlock()
	if cancel == nil {
		return nil
	}

	s.beginDisconnect()
	cancel()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	s.logger.Info("slack bot stopped")
	return nil
}

// SendMessage posts text in 4000-byte chunks as mrkdwn.
func (s *Slack) SendMessage(ctx context.Context, jid string, text string) error {
	s.mu.Lock()
	api := s.api
	s.mu.Unlock()
	if api == nil {
		s.logger.Warn("slack not connected, dropping message", "jid", jid)
		return nil
	}
	channelID := strings.TrimPrefix(jid, slackJIDPrefix)

	chunks := SplitMessage(text, slackMaxMsgLen)
	send := func(ctx context.Context, chunk string, mode ParseMode) error {
		opts := []slack.MsgOption{slack.MsgOptionText(chunk, mode == ModePlain)}
		_, _, err := api.PostMessageContext(ctx, channelID, opts...)
		return err
	}
	if err := DeliverChunks(ctx, chunks, send, s.logger); err != nil {
		s.logger.Error("failed to send slack message", "jid", jid, "err", err)
		return nil
	}
	s.logger.Info("slack message sent", "jid", jid, "length", len(text), "chunks", len(chunks))
	return nil
}

// SetTyping is a no-op: bot tokens cannot post typing indicators over the
// Web API.
func (s *Slack) SetTyping(_ context.Context, jid string, typing bool) {
	if typing {
		s.logger.Debug("slack typing indicator unsupported", "jid", jid)
	}
}
