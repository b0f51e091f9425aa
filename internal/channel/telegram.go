package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"relaybot/internal/domain"
)

const (
	telegramJIDPrefix   = "tg:"
	telegramMaxMsgLen   = 4096
	telegramPollTimeout = 30
)

// telegramAPI is the subset of *tgbotapi.BotAPI the channel uses.
type telegramAPI interface {
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetFileDirectURL(fileID string) (string, error)
}

// TelegramConfig configures the Telegram channel.
type TelegramConfig struct {
	Token            string
	ParseMode        string // default "Markdown"
	MaxMessageLength int    // default 4096
	AssistantName    string
	Trigger          *regexp.Regexp
	Callbacks        domain.Callbacks
	Voice            VoiceTranscriber
	HTTPClient       *http.Client // voice downloads
	Logger           *slog.Logger

	// SendOnly connects without polling so pending updates stay queued
	// for the gateway.
	SendOnly bool
}

// Telegram implements domain.Channel over the Bot API with long polling.
type Telegram struct {
	Lifecycle

	token         string
	parseMode     string
	maxLen        int
	assistantName string
	ingest        *Ingestor
	httpClient    *http.Client
	logger        *slog.Logger
	sendOnly      bool

	newBot func(token string) (telegramAPI, tgbotapi.User, error)

	mu   sync.Mutex
	sess *telegramSession
}

// telegramSession is one connected polling run.
type telegramSession struct {
	bot      telegramAPI
	updates  tgbotapi.UpdatesChannel
	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
}

// stop ends polling. StopReceivingUpdates panics when called twice, and the
// update channel is drained so the library's poller can exit.
func (s *telegramSession) stop() {
	s.stopOnce.Do(func() {
		s.cancel()
		if s.updates == nil {
			return
		}
		s.bot.StopReceivingUpdates()
		go func() {
			for range s.updates {
			}
		}()
	})
}

func NewTelegram(cfg TelegramConfig) *Telegram {
	if cfg.ParseMode == "" {
		cfg.ParseMode = tgbotapi.ModeMarkdown
	}
	if cfg.MaxMessageLength <= 0 {
		cfg.MaxMessageLength = telegramMaxMsgLen
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 60 * time.Second}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Telegram{
		token:         cfg.Token,
		parseMode:     cfg.ParseMode,
		maxLen:        cfg.MaxMessageLength,
		assistantName: cfg.AssistantName,
		ingest: NewIngestor(IngestConfig{
			Channel:       "telegram",
			AssistantName: cfg.AssistantName,
			Trigger:       cfg.Trigger,
			Callbacks:     cfg.Callbacks,
			Voice:         cfg.Voice,
			Logger:        cfg.Logger,
		}),
		httpClient: cfg.HTTPClient,
		logger:     cfg.Logger,
		sendOnly:   cfg.SendOnly,
		newBot:     dialTelegram(cfg.Logger),
	}
}

var setTelegramLogger sync.Once

func dialTelegram(logger *slog.Logger) func(string) (telegramAPI, tgbotapi.User, error) {
	return func(token string) (telegramAPI, tgbotapi.User, error) {
		setTelegramLogger.Do(func() {
			_ = tgbotapi.SetLogger(botLogger{logger: logger.With("component", "tgbotapi")})
		})
		bot, err := tgbotapi.NewBotAPI(token)
		if err != nil {
			return nil, tgbotapi.User{}, err
		}
		return bot, bot.Self, nil
	}
}

// botLogger routes the library's log output to slog at debug level.
type botLogger struct{ logger *slog.Logger }

func (l botLogger) Println(v ...interface{}) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintln(v...)))
}

func (l botLogger) Printf(format string, v ...interface{}) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (t *Telegram) Name() string { return "telegram" }

func (t *Telegram) OwnsJID(jid string) bool { return strings.HasPrefix(jid, telegramJIDPrefix) }

// Connect verifies the token with getMe and starts polling. The polling
// goroutine lives until ctx is cancelled or Disconnect is called. A send-only
// channel stops after getMe.
func (t *Telegram) Connect(ctx context.Context) error {
	if t.token == "" {
		return &ConnectionError{Channel: t.Name(), Err: errors.New("bot token is empty")}
	}
	start, err := t.beginConnect()
	if err != nil || !start {
		return err
	}

	bot, self, err := t.dial(ctx)
	if err != nil {
		return t.finishConnect(t.Name(), err)
	}
	t.ingest.SetOwnHandle(self.UserName)

	if t.sendOnly {
		done := make(chan struct{})
		close(done)
		t.mu.Lock()
		t.sess = &telegramSession{bot: bot, cancel: func() {}, done: done}
		t.mu.Unlock()
		if err := t.finishConnect(t.Name(), nil); err != nil {
			return err
		}
		t.logger.Info("telegram bot connected for sending", "username", self.UserName, "id", self.ID)
		return nil
	}

	u := tgbotapi.NewUpdate(0)
	u.Timeout = telegramPollTimeout
	runCtx, cancel := context.WithCancel(ctx)
	sess := &telegramSession{
		bot:     bot,
		updates: bot.GetUpdatesChan(u),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	t.mu.Lock()
	t.sess = sess
	t.mu.Unlock()

	if err := t.finishConnect(t.Name(), nil); err != nil {
		return err
	}
	t.logger.Info("telegram bot connected", "username", self.UserName, "id", self.ID)

	go t.receive(runCtx, sess)
	return nil
}

// dial runs the blocking getMe handshake without outliving ctx.
func (t *Telegram) dial(ctx context.Context) (telegramAPI, tgbotapi.User, error) {
	type dialResult struct {
		bot  telegramAPI
		self tgbotapi.User
		err  error
	}
	ch := make(chan dialResult, 1)
	go func() {
		bot, self, err := t.newBot(t.token)
		ch <- dialResult{bot, self, err}
	}()
	select {
	case r := <-ch:
		return r.bot, r.self, r.err
	case <-ctx.Done():
		return nil, tgbotapi.User{}, ctx.Err()
	}
}

func (t *Telegram) receive(ctx context.Context, sess *telegramSession) {
	defer close(sess.done)
	for {
		select {
		case <-ctx.Done():
			t.logger.Info("telegram channel stopping")
			sess.stop()
			t.beginDisconnect()
			return
		case update, ok := <-sess.updates:
			if !ok {
				t.beginDisconnect()
				return
			}
			t.handleUpdate(ctx, sess.bot, update)
		}
	}
}

// Disconnect stops polling and waits for the receive goroutine to exit.
func (t *Telegram) Disconnect(ctx context.Context) error {
	t.mu.Lock()
	sess := t.sess
	t.sess = nil
	t.mu.Unlock()
	if sess == nil {
		return nil
	}

	t.beginDisconnect()
	sess.stop()
	select {
	case <-sess.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	t.logger.Info("telegram bot stopped")
	return nil
}

func (t *Telegram) bot() telegramAPI {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sess == nil {
		return nil
	}
	return t.sess.bot
}

func (t *Telegram) handleUpdate(ctx context.Context, bot telegramAPI, update tgbotapi.Update) {
	msg := update.Message
	if msg == nil || msg.Chat == nil {
		return
	}
	if strings.HasPrefix(msg.Text, "/") {
		t.handleCommand(bot, msg)
		return
	}
	t.ingest.Ingest(ctx, t.toEvent(bot, msg))
}

// handleCommand answers the operator commands. Commands are never forwarded.
func (t *Telegram) handleCommand(bot telegramAPI, msg *tgbotapi.Message) {
	var reply tgbotapi.MessageConfig
	switch msg.Command() {
	case "chatid":
		name := msg.Chat.Title
		if msg.Chat.IsPrivate() {
			name = "Private"
			if msg.From != nil && msg.From.FirstName != "" {
				name = msg.From.FirstName
			}
		} else if name == "" {
			name = "Unknown"
		}
		reply = tgbotapi.NewMessage(msg.Chat.ID, fmt.Sprintf("Chat ID: `%s%d`\nName: %s\nType: %s",
			telegramJIDPrefix, msg.Chat.ID, name, msg.Chat.Type))
		reply.ParseMode = tgbotapi.ModeMarkdown
	case "ping":
		reply = tgbotapi.NewMessage(msg.Chat.ID, t.assistantName+" is online.")
	default:
		t.logger.Debug("ignoring telegram command", "command", msg.Command(), "chat_id", msg.Chat.ID)
		return
	}
	if _, err := bot.Send(reply); err != nil {
		t.logger.Warn("telegram command reply failed", "command", msg.Command(), "err", err)
	}
}

func (t *Telegram) toEvent(bot telegramAPI, msg *tgbotapi.Message) Event {
	jid := telegramJIDPrefix + strconv.FormatInt(msg.Chat.ID, 10)
	senderName, senderID := telegramSender(msg.From)

	chatName := msg.Chat.Title
	if msg.Chat.IsPrivate() {
		chatName = senderName
	} else if chatName == "" {
		chatName = jid
	}

	ev := Event{
		ChatJID:    jid,
		ChatName:   chatName,
		MessageID:  strconv.Itoa(msg.MessageID),
		SenderID:   senderID,
		SenderName: senderName,
		Date:       int64(msg.Date),
		Caption:    msg.Caption,
	}

	switch {
	case msg.Text != "":
		ev.Kind = KindText
		ev.Text = msg.Text
		for _, e := range msg.Entities {
			ev.Entities = append(ev.Entities, Entity{Type: e.Type, Offset: e.Offset, Length: e.Length})
		}
	case msg.Voice != nil:
		ev.Kind = KindVoice
		ev.FetchAudio = t.fileFetcher(bot, msg.Voice.FileID)
	case len(msg.Photo) > 0:
		ev.Kind = KindPhoto
	case msg.Video != nil:
		ev.Kind = KindVideo
	case msg.Audio != nil:
		ev.Kind = KindAudio
	case msg.Document != nil:
		ev.Kind = KindDocument
		ev.Detail = msg.Document.FileName
	case msg.Sticker != nil:
		ev.Kind = KindSticker
		ev.Detail = msg.Sticker.Emoji
	case msg.Location != nil:
		ev.Kind = KindLocation
	case msg.Contact != nil:
		ev.Kind = KindContact
	default:
		ev.Kind = KindUnknown
	}
	return ev
}

// telegramSender returns the display name (first name, username, id,
// "Unknown") and the sender id.
func telegramSender(from *tgbotapi.User) (name, id string) {
	if from == nil {
		return "Unknown", ""
	}
	id = strconv.FormatInt(from.ID, 10)
	switch {
	case from.FirstName != "":
		name = from.FirstName
	case from.UserName != "":
		name = from.UserName
	default:
		name = id
	}
	return name, id
}

func (t *Telegram) fileFetcher(bot telegramAPI, fileID string) func(context.Context) ([]byte, error) {
	return func(ctx context.Context) ([]byte, error) {
		url, err := bot.GetFileDirectURL(fileID)
		if err != nil {
			return nil, fmt.Errorf("resolve telegram file: %w", err)
		}
		return fetchURL(ctx, t.httpClient, url, nil)
	}
}

// SendMessage splits text to the Telegram ceiling and delivers each chunk,
// falling back to plain text when Telegram rejects the markup. Delivery
// failures are logged.
func (t *Telegram) SendMessage(ctx context.Context, jid string, text string) error {
	bot := t.bot()
	if bot == nil {
		t.logger.Warn("telegram not connected, dropping message", "jid", jid)
		return nil
	}
	chatID, err := telegramChatID(jid)
	if err != nil {
		t.logger.Error("telegram send skipped", "jid", jid, "error", err)
		return nil
	}

	chunks := SplitMessage(text, t.maxLen)
	send := func(_ context.Context, chunk string, mode ParseMode) error {
		m := tgbotapi.NewMessage(chatID, chunk)
		if mode == ModeRich {
			m.ParseMode = t.parseMode
		}
		_, err := bot.Send(m)
		return err
	}
	if err := DeliverChunks(ctx, chunks, send, t.logger); err != nil {
		t.logger.Error("failed to send telegram message", "jid", jid, "err", err)
		return nil
	}
	t.logger.Info("telegram message sent", "jid", jid, "length", len(text), "chunks", len(chunks))
	return nil
}

// SetTyping sends the "typing" chat action. Stopping is a no-op.
func (t *Telegram) SetTyping(ctx context.Context, jid string, typing bool) {
	bot := t.bot()
	if !typing || bot == nil {
		return
	}
	chatID, err := telegramChatID(jid)
	if err != nil {
		t.logger.Debug("telegram typing: bad jid", "jid", jid, "err", err)
		return
	}
	if _, err := bot.Request(tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping)); err != nil {
		t.logger.Debug("failed to send telegram typing indicator", "jid", jid, "err", err)
	}
}

func telegramChatID(jid string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimPrefix(jid, telegramJIDPrefix), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid telegram jid %q: %w", jid, err)
	}
	return id, nil
}
