package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"relaybot/internal/domain"
	"relaybot/internal/metrics"
)

const (
	discordJIDPrefix = "dc:"
	discordMaxMsgLen = 2000
	discordQueueSize = 100

	discordReadyTimeout = 30 * time.Second
)

// discordSession is the subset of *discordgo.Session the channel uses.
type discordSession interface {
	AddHandler(handler interface{}) func()
	Open() error
	Close() error
	ChannelMessageSend(channelID string, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelTyping(channelID string, options ...discordgo.RequestOption) error
	Channel(channelID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
}

// DiscordConfig configures the Discord channel.
type DiscordConfig struct {
	Token         string
	GuildID       string // optional: only accept messages from this guild
	AssistantName string
	Trigger       *regexp.Regexp
	Callbacks     domain.Callbacks
	Voice         VoiceTranscriber
	HTTPClient    *http.Client // attachment downloads
	Logger        *slog.Logger

	// SendOnly opens the session without a message handler.
	SendOnly bool
}

// Discord implements domain.Channel over the Discord gateway.
type Discord struct {
	Lifecycle

	token      string
	guildID    string
	ingest     *Ingestor
	httpClient *http.Client
	logger     *slog.Logger
	sendOnly   bool

	newSession func(token string) (discordSession, error)

	mu       sync.Mutex
	session  discordSession
	cancel   context.CancelFunc
	done     chan struct{}
	removeFn func()
	names    map[string]string
}

func NewDiscord(cfg DiscordConfig) *Discord {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 60 * time.Second}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Discord{
		token:   cfg.Token,
		guildID: cfg.GuildID,
		ingest: NewIngestor(IngestConfig{
			Channel:       "discord",
			AssistantName: cfg.AssistantName,
			Trigger:       cfg.Trigger,
			Callbacks:     cfg.Callbacks,
			Voice:         cfg.Voice,
			Logger:        cfg.Logger,
		}),
		httpClient: cfg.HTTPClient,
		logger:     cfg.Logger,
		sendOnly:   cfg.SendOnly,
		newSession: func(token string) (discordSession, error) {
			s, err := discordgo.New("Bot " + token)
			if err != nil {
				return nil, err
			}
			s.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsDirectMessages | discordgo.IntentsMessageContent
			return s, nil
		},
		names: make(map[string]string),
	}
}

func (d *Discord) Name() string { return "discord" }

func (d *Discord) OwnsJID(jid string) bool { return strings.HasPrefix(jid, discordJIDPrefix) }

// Connect opens the gateway session. Gateway handlers run on discordgo's
// goroutines, so events are queued and processed by one receive goroutine.
// A full queue makes the handler wait until the channel disconnects.
func (d *Discord) Connect(ctx context.Context) error {
	if d.token == "" {
		return &ConnectionError{Channel: d.Name(), Err: errors.New("bot token is empty")}
	}
	start, err := d.beginConnect()
	if err != nil || !start {
		return err
	}

	session, err := d.newSession(d.token)
	if err != nil {
		return d.finishConnect(d.Name(), err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	queue := make(chan *discordgo.MessageCreate, discordQueueSize)
	var ready sync.Once
	selfCh := make(chan *discordgo.User, 1)
	removeReady := session.AddHandler(func(_ *discordgo.Session, r *discordgo.Ready) {
		ready.Do(func() { selfCh <- r.User })
	})
	removeMsg := func() {}
	if !d.sendOnly {
		removeMsg = session.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageCreate) {
			select {
			case queue <- m:
			case <-runCtx.Done():
				metrics.EventsAbandoned.Inc()
				d.logger.Warn("discord disconnected before message was queued", "channel_id", m.ChannelID)
			}
		})
	}
	abort := func(err error) error {
		removeReady()
		removeMsg()
		cancel()
		return d.finishConnect(d.Name(), err)
	}

	if err := session.Open(); err != nil {
		return abort(err)
	}

	var self *discordgo.User
	readyTimer := time.NewTimer(discordReadyTimeout)
	defer readyTimer.Stop()
	select {
	case self = <-selfCh:
	case <-readyTimer.C:
		err = errors.New("timed out waiting for READY")
	case <-ctx.Done():
		err = ctx.Err()
	}
	if self == nil {
		_ = session.Close()
		if err == nil {
			err = errors.New("READY carried no user")
		}
		return abort(err)
	}
	removeReady()
	d.ingest.SetOwnHandle(self.Username)

	done := make(chan struct{})
	d.mu.Lock()
	d.session = session
	d.cancel = cancel
	d.done = done
	d.removeFn = removeMsg
	d.mu.Unlock()

	if err := d.finishConnect(d.Name(), nil); err != nil {
		return err
	}
	if d.sendOnly {
		close(done)
		d.logger.Info("discord bot connected for sending", "user", self.Username, "id", self.ID)
		return nil
	}
	d.logger.Info("discord bot connected", "user", self.Username, "id", self.ID)

	go d.receive(runCtx, session, self, queue, done)
	return nil
}

func (d *Discord) receive(ctx context.Context, session discordSession, self *discordgo.User, queue <-chan *discordgo.MessageCreate, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			if d.beginDisconnect() {
				d.logger.Info("discord bot disconnecting")
				_ = session.Close()
			}
			return
		case m := <-queue:
			d.handleMessage(ctx, session, self, m)
		}
	}
}

// Disconnect closes the gateway session.
func (d *Discord) Disconnect(ctx context.Context) error {
	d.mu.Lock()
	session, cancel, done, remove := d.session, d.cancel, d.done, d.removeFn
	d.session, d.cancel, d.done, d.removeFn = nil, nil, nil, nil
	d.mu.Unlock()
	if session == nil {
		return nil
	}

	var closeErr error
	if d.beginDisconnect() {
		closeErr = session.Close()
	}
	remove()
	cancel()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	if closeErr != nil {
		return fmt.Errorf("discord close: %w", closeErr)
	}
	d.logger.Info("discord bot stopped")
	return nil
}

func (d *Discord) current() discordSession {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.session
}

func (d *Discord) handleMessage(ctx context.Context, session discordSession, self *discordgo.User, m *discordgo.MessageCreate) {
	if m.Message == nil || m.Author == nil || (self != nil && m.Author.ID == self.ID) {
		return
	}
	if d.guildID != "" && m.GuildID != d.guildID {
		return
	}
	d.ingest.Ingest(ctx, d.toEvent(session, self, m.Message))
}

func (d *Discord) toEvent(session discordSession, self *discordgo.User, m *discordgo.Message) Event {
	jid := discordJIDPrefix + m.ChannelID
	senderName := discordDisplayName(m.Author)

	ev := Event{
		ChatJID:    jid,
		ChatName:   d.chatName(session, m, senderName),
		MessageID:  m.ID,
		SenderID:   m.Author.ID,
		SenderName: senderName,
		Date:       m.Timestamp.Unix(),
	}
	content := m.Content
	if self != nil {
		content = replaceDiscordMention(content, self)
		for _, u := range m.Mentions {
			if u != nil && u.ID == self.ID {
				ev.Entities = append(ev.Entities, resolvedMention(self.Username))
				break
			}
		}
	}

	switch {
	case m.Flags&discordgo.MessageFlagsIsVoiceMessage != 0 && len(m.Attachments) > 0:
		ev.Kind = KindVoice
		ev.Caption = content
		url := m.Attachments[0].URL
		ev.FetchAudio = func(ctx context.Context) ([]byte, error) {
			return fetchURL(ctx, d.httpClient, url, nil)
		}
	case len(m.Attachments) > 0:
		ev.Kind, ev.Detail = attachmentKind(m.Attachments[0].ContentType, m.Attachments[0].Filename)
		ev.Caption = content
	case len(m.StickerItems) > 0:
		ev.Kind = KindSticker
		ev.Detail = m.StickerItems[0].Name
	default:
		ev.Kind = KindText
		ev.Text = content
	}
	return ev
}

// chatName resolves the channel name, caching it. DMs use the sender name.
func (d *Discord) chatName(session discordSession, m *discordgo.Message, senderName string) string {
	if m.GuildID == "" {
		return senderName
	}
	d.mu.Lock()
	name, ok := d.names[m.ChannelID]
	d.mu.Unlock()
	if ok {
		return name
	}
	ch, err := session.Channel(m.ChannelID)
	if err != nil || ch.Name == "" {
		d.logger.Debug("discord channel lookup failed", "channel_id", m.ChannelID, "err", err)
		return discordJIDPrefix + m.ChannelID
	}
	d.mu.Lock()
	d.names[m.ChannelID] = ch.Name
	d.mu.Unlock()
	return ch.Name
}

func discordDisplayName(u *discordgo.User) string {
	switch {
	case u.GlobalName != "":
		return u.GlobalName
	case u.Username != "":
		return u.Username
	case u.ID != "":
		return u.ID
	default:
		return "Unknown"
	}
}

// replaceDiscordMention rewrites <@id> and <@!id> tokens for the bot into
// "@username" so the text reads the way users typed it.
func replaceDiscordMention(content string, self *discordgo.User) string {
	handle := "@" + self.Username
	content = strings.ReplaceAll(content, "<@"+self.ID+">", handle)
	return strings.ReplaceAll(content, "<@!"+self.ID+">", handle)
}

// attachmentKind maps a MIME type to a content kind; documents carry the
// filename as detail.
func attachmentKind(contentType, filename string) (ContentKind, string) {
	switch {
	case strings.HasPrefix(contentType, "image/"):
		return KindPhoto, ""
	case strings.HasPrefix(contentType, "video/"):
		return KindVideo, ""
	case strings.HasPrefix(contentType, "audio/"):
		return KindAudio, ""
	default:
		return KindDocument, filename
	}
}

// SendMessage delivers text in 2000-byte chunks. Discord renders markdown
// itself and never rejects it, so every chunk goes out in one attempt.
func (d *Discord) SendMessage(ctx context.Context, jid string, text string) error {
	session := d.current()
	if session == nil {
		d.logger.Warn("discord not connected, dropping message", "jid", jid)
		return nil
	}
	channelID := strings.TrimPrefix(jid, discordJIDPrefix)

	chunks := SplitMessage(text, discordMaxMsgLen)
	send := func(ctx context.Context, chunk string, _ ParseMode) error {
		_, err := session.ChannelMessageSend(channelID, chunk, discordgo.WithContext(ctx))
		return err
	}
	if err := DeliverChunks(ctx, chunks, send, d.logger); err != nil {
		d.logger.Error("failed to send discord message", "jid", jid, "err", err)
		return nil
	}
	d.logger.Info("discord message sent", "jid", jid, "length", len(text), "chunks", len(chunks))
	return nil
}

func (d *Discord) SetTyping(ctx context.Context, jid string, typing bool) {
	session := d.current()
	if !typing || session == nil {
		return
	}
	if err := session.ChannelTyping(strings.TrimPrefix(jid, discordJIDPrefix), discordgo.WithContext(ctx)); err != nil {
		d.logger.Debug("failed to send discord typing indicator", "jid", jid, "err", err)
	}
}
