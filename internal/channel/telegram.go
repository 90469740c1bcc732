package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"mediagrab/internal/domain"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const (
	telegramMaxMsgLen      = 4000
	telegramMaxSendRetries = 3
	telegramPollTimeout    = 30
)

var (
	_ domain.Channel   = (*Telegram)(nil)
	_ domain.Messenger = (*Telegram)(nil)
)

// Telegram implements domain.Channel and domain.Messenger for a Telegram bot.
type Telegram struct {
	token     string
	allowFrom []int64 // Allowed user IDs (empty = allow all)
	parseMode string
	helpText  string
	endpoint  string
	client    *http.Client
	retryBase time.Duration

	bot    *tgbotapi.BotAPI
	bus    domain.MessageBus
	logger *slog.Logger
}

type TelegramConfig struct {
	Token     string
	AllowFrom []string // User IDs as strings
	ParseMode string   // empty = plain text
	HelpText  string   // reply to /start and /help
	Logger    *slog.Logger

	// APIEndpoint and HTTPClient override the Bot API server (tests, local bot API).
	APIEndpoint string
	HTTPClient  *http.Client
	RetryBase   time.Duration
}

func NewTelegram(cfg TelegramConfig) *Telegram {
	var allowed []int64
	for _, s := range cfg.AllowFrom {
		if id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil {
			allowed = append(allowed, id)
		}
	}
	// "plain" means no parse mode.
	cfg.ParseMode = strings.TrimSpace(cfg.ParseMode)
	if strings.EqualFold(cfg.ParseMode, "plain") {
		cfg.ParseMode = ""
	}
	if cfg.APIEndpoint == "" {
		cfg.APIEndpoint = tgbotapi.APIEndpoint
	}
	if cfg.HTTPClient == nil {
		// uploads of large videos need a generous timeout
		cfg.HTTPClient = &http.Client{Timeout: 5 * time.Minute}
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Telegram{
		token:     cfg.Token,
		allowFrom: allowed,
		parseMode: cfg.ParseMode,
		helpText:  cfg.HelpText,
		endpoint:  cfg.APIEndpoint,
		client:    cfg.HTTPClient,
		retryBase: cfg.RetryBase,
		logger:    cfg.Logger,
	}
}

func (t *Telegram) Name() string { return "telegram" }

// Connect authenticates with the Bot API. Start calls it when needed.
func (t *Telegram) Connect() error {
	if t.bot != nil {
		return nil
	}
	bot, err := tgbotapi.NewBotAPIWithClient(t.token, t.endpoint, t.client)
	if err != nil {
		return fmt.Errorf("telegram bot init: %w", err)
	}
	t.bot = bot
	t.logger.Info("telegram bot connected",
		"username", bot.Self.UserName,
		"id", bot.Self.ID,
	)
	return nil
}

// Start connects to Telegram and begins polling for updates.
func (t *Telegram) Start(ctx context.Context, bus domain.MessageBus) error {
	t.bus = bus
	if err := t.Connect(); err != nil {
		return err
	}

	u := tgbotapi.NewUpdate(0)
	u.Timeout = telegramPollTimeout
	updates := t.bot.GetUpdatesChan(u)

	t.logger.Info("telegram polling started")

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("telegram channel stopping")
			t.bot.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			t.handleUpdate(ctx, update)
		}
	}
}

// Stop is a no-op: the bot stops when Start's context is cancelled, and
// StopReceivingUpdates panics when called twice.
func (t *Telegram) Stop() error {
	return nil
}

func (t *Telegram) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	if update.Message == nil || update.Message.From == nil || update.Message.Chat == nil {
		return
	}

	userID := update.Message.From.ID
	chatID := update.Message.Chat.ID

	if !t.isAllowed(userID) {
		t.logger.Warn("unauthorized telegram user",
			"user_id", userID,
			"username", update.Message.From.UserName,
		)
		_ = t.sendMessage(ctx, chatID, "⛔ Unauthorized. Your user ID is not in the allow list.")
		return
	}

	text := strings.TrimSpace(update.Message.Text)
	if text == "" {
		return
	}

	if update.Message.IsCommand() {
		t.handleCommand(ctx, chatID, update.Message)
		return
	}

	t.logger.Info("telegram message received",
		"user_id", userID,
		"chat_id", chatID,
		"text_len", len(text),
	)

	t.bus.Publish(domain.InboundMessage{
		Channel:   "telegram",
		ChatID:    strconv.FormatInt(chatID, 10),
		SenderID:  strconv.FormatInt(userID, 10),
		Content:   text,
		Timestamp: time.Unix(int64(update.Message.Date), 0),
	})
}

func (t *Telegram) handleCommand(ctx context.Context, chatID int64, msg *tgbotapi.Message) {
	switch msg.Command() {
	case "start", "help":
		if t.helpText != "" {
			_ = t.sendMessage(ctx, chatID, t.helpText)
		}
	default:
		t.logger.Debug("ignoring telegram command", "command", msg.Command(), "chat_id", chatID)
	}
}

func (t *Telegram) isAllowed(userID int64) bool {
	if len(t.allowFrom) == 0 {
		return true // Empty list = allow all
	}
	for _, id := range t.allowFrom {
		if id == userID {
			return true
		}
	}
	return false
}

// SendText implements domain.Messenger.
func (t *Telegram) SendText(ctx context.Context, chatID, text string) error {
	id, err := parseChatID(chatID)
	if err != nil {
		return err
	}
	return t.sendMessage(ctx, id, text)
}

// SendPhoto uploads the file at path as a photo.
func (t *Telegram) SendPhoto(ctx context.Context, chatID, path string) error {
	id, err := parseChatID(chatID)
	if err != nil {
		return err
	}
	return t.send(ctx, tgbotapi.NewPhoto(id, tgbotapi.FilePath(path)), false)
}

// SendVideo uploads the file at path as a video.
func (t *Telegram) SendVideo(ctx context.Context, chatID, path string) error {
	id, err := parseChatID(chatID)
	if err != nil {
		return err
	}
	video := tgbotapi.NewVideo(id, tgbotapi.FilePath(path))
	video.SupportsStreaming = true
	return t.send(ctx, video, false)
}

func parseChatID(chatID string) (int64, error) {
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid chat ID: %w", err)
	}
	return id, nil
}

// sendMessage splits text at Telegram's length limit and sends each chunk.
func (t *Telegram) sendMessage(ctx context.Context, chatID int64, text string) error {
	for _, chunk := range splitMessage(text, telegramMaxMsgLen) {
		msg := tgbotapi.NewMessage(chatID, chunk)
		msg.ParseMode = t.parseMode
		msg.DisableWebPagePreview = true
		if err := t.send(ctx, msg, t.parseMode != ""); err != nil {
			return err
		}
	}
	return nil
}

// splitMessage cuts text into chunks of at most maxLen bytes, preferring to
// break at a newline in the second half of a chunk.
func splitMessage(text string, maxLen int) []string {
	var chunks []string
	for len(text) > 0 {
		if len(text) <= maxLen {
			chunks = append(chunks, text)
			break
		}
		cutAt := strings.LastIndex(text[:maxLen], "\n")
		if cutAt < maxLen/2 {
			cutAt = maxLen
		}
		chunks = append(chunks, text[:cutAt])
		text = text[cutAt:]
	}
	return chunks
}

// send delivers c with retry and rate limit handling.
// A message with a parse mode that Telegram rejects is resent as plain text.
func (t *Telegram) send(ctx context.Context, c tgbotapi.Chattable, hasParseMode bool) error {
	if t.bot == nil {
		return errors.New("telegram bot not connected")
	}

	var lastErr error
	for attempt := 0; attempt <= telegramMaxSendRetries; attempt++ {
		_, err := t.bot.Send(c)
		if err == nil {
			return nil
		}
		lastErr = err

		var apiErr *tgbotapi.Error
		isAPIErr := errors.As(err, &apiErr)

		var wait time.Duration
		switch {
		case isAPIErr && isRateLimited(apiErr):
			wait = time.Duration(apiErr.RetryAfter) * time.Second
			if wait <= 0 {
				wait = time.Duration(attempt+1) * 3 * t.retryBase
			}
			t.logger.Warn("telegram rate limited, backing off",
				"retry_after", wait, "attempt", attempt+1,
			)
		case hasParseMode && strings.Contains(err.Error(), "can't parse entities"):
			if msg, ok := c.(tgbotapi.MessageConfig); ok {
				t.logger.Warn("telegram markdown parse error, retrying as plain text", "err", err)
				msg.ParseMode = ""
				c = msg
				hasParseMode = false
				continue
			}
			return err
		case isAPIErr && isPermanent(apiErr):
			return err
		default:
			wait = time.Duration(attempt+1) * t.retryBase
			t.logger.Warn("telegram send error, retrying", "err", err, "backoff", wait)
		}

		if attempt == telegramMaxSendRetries {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}

	t.logger.Error("telegram send failed after retries", "err", lastErr, "attempts", telegramMaxSendRetries+1)
	return lastErr
}

// Upload errors from the Bot API library carry no Code, only the description
// and response parameters, so both checks fall back to those.

func isRateLimited(e *tgbotapi.Error) bool {
	if e.Code == http.StatusTooManyRequests || e.RetryAfter > 0 {
		return true
	}
	return e.Code == 0 && strings.HasPrefix(e.Message, "Too Many Requests")
}

// isPermanent reports client errors that a retry cannot fix, such as a file
// over the upload limit or a chat that blocked the bot.
func isPermanent(e *tgbotapi.Error) bool {
	if e.Code != 0 {
		return e.Code >= 400 && e.Code < 500
	}
	for _, prefix := range permanentErrorPrefixes {
		if strings.HasPrefix(e.Message, prefix) {
			return true
		}
	}
	return false
}

var permanentErrorPrefixes = []string{
	"Bad Request",
	"Forbidden",
	"Unauthorized",
	"Not Found",
	"Request Entity Too Large",
}
