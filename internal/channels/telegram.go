package channels

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/nanoclaw/host/internal/bus"
)

// TelegramChannel implements the Channel interface for Telegram, binding a
// single chat bot to a single group_folder's FIFO queue.
type TelegramChannel struct {
	token       string
	groupFolder string
	allowedIDs  map[int64]struct{}
	router      Router
	logger      *slog.Logger
	bot         *tgbotapi.BotAPI
	eventBus    *bus.Bus

	pendingMu  sync.Mutex
	pendingRuns map[string]int64 // run_id -> chatID, for reply routing
}

// NewTelegramChannel creates a new Telegram channel bound to groupFolder.
func NewTelegramChannel(token string, allowedIDs []int64, groupFolder string, router Router, eventBus *bus.Bus, logger *slog.Logger) *TelegramChannel {
	allowed := make(map[int64]struct{})
	for _, id := range allowedIDs {
		allowed[id] = struct{}{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TelegramChannel{
		token:       token,
		groupFolder: groupFolder,
		allowedIDs:  allowed,
		router:      router,
		logger:      logger,
		eventBus:    eventBus,
		pendingRuns: make(map[string]int64),
	}
}

func (t *TelegramChannel) Name() string {
	return "telegram"
}

func (t *TelegramChannel) Start(ctx context.Context) error {
	var err error
	t.bot, err = tgbotapi.NewBotAPI(t.token)
	if err != nil {
		return fmt.Errorf("telegram init failed: %w", err)
	}

	t.logger.Info("telegram bot started", "user", t.bot.Self.UserName, "group_folder", t.groupFolder)

	if t.eventBus != nil {
		go t.monitorRunEvents(ctx)
	}

	// Reconnection loop with exponential backoff.
	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		u := tgbotapi.NewUpdate(0)
		u.Timeout = 60
		updates := t.bot.GetUpdatesChan(u)

		pollErr := t.pollUpdates(ctx, updates)

		// Always clean up the old polling goroutine before reconnecting.
		t.bot.StopReceivingUpdates()

		if pollErr != nil {
			t.logger.Warn("telegram poll disconnected, reconnecting", "error", pollErr, "backoff", backoff)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}

		// pollUpdates returned nil means ctx was cancelled.
		return nil
	}
}

// pollUpdates reads from the update channel until ctx is done, the channel
// closes, or no updates arrive within 2x the long-poll timeout (stall detection).
// Returns nil on context cancellation, or an error to trigger reconnection.
func (t *TelegramChannel) pollUpdates(ctx context.Context, updates tgbotapi.UpdatesChannel) error {
	// tgbotapi uses a 60s long-poll timeout. If we see nothing for 2.5 minutes,
	// the connection is likely dead (the library blocks rather than closing the channel).
	const stallTimeout = 150 * time.Second

	timer := time.NewTimer(stallTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-updates:
			if !ok {
				return fmt.Errorf("update channel closed")
			}

			// Reset stall timer on every received update (including empty long-poll returns).
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(stallTimeout)

			if update.Message == nil {
				continue
			}
			if _, ok := t.allowedIDs[update.Message.From.ID]; !ok {
				t.logger.Warn("telegram access denied", "user_id", update.Message.From.ID, "user_name", update.Message.From.UserName)
				continue
			}
			t.handleMessage(ctx, update.Message)

		case <-timer.C:
			return fmt.Errorf("no updates received for %v (possible disconnect)", stallTimeout)
		}
	}
}

func (t *TelegramChannel) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	content := strings.TrimSpace(msg.Text)
	if content == "" {
		return
	}

	ingestSeq, err := t.router.RouteMessage(ctx, t.groupFolder, content)
	if err != nil {
		t.logger.Error("failed to route telegram message", "error", err, "group_folder", t.groupFolder)
		t.reply(msg.Chat.ID, fmt.Sprintf("Error: could not route message: %v", err))
		return
	}

	t.logger.Info("routed telegram message", "group_folder", t.groupFolder, "ingest_seq", ingestSeq, "chat_id", msg.Chat.ID)
}

// TrackRun remembers which chat originated a run, so progress/completion
// events can be replied to the right chat. The dispatch layer calls this
// once a worker_run row is created from a message this channel routed.
func (t *TelegramChannel) TrackRun(runID string, chatID int64) {
	t.pendingMu.Lock()
	t.pendingRuns[runID] = chatID
	t.pendingMu.Unlock()
}

func (t *TelegramChannel) chatForRun(runID string) (int64, bool) {
	t.pendingMu.Lock()
	defer t.pendingMu.Unlock()
	chatID, ok := t.pendingRuns[runID]
	return chatID, ok
}

// monitorRunEvents forwards run.progress/run.completed/run.failed bus events
// for runs this channel originated back into the chat.
func (t *TelegramChannel) monitorRunEvents(ctx context.Context) {
	sub := t.eventBus.Subscribe("run.")
	defer t.eventBus.Unsubscribe(sub)

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-sub.Ch():
			switch payload := ev.Payload.(type) {
			case bus.RunProgressEvent:
				if chatID, ok := t.chatForRun(payload.RunID); ok {
					t.reply(chatID, fmt.Sprintf("[%s] ↻ %s", payload.RunID, payload.Summary))
				}
			case bus.RunCompletedEvent:
				if chatID, ok := t.chatForRun(payload.RunID); ok {
					t.reply(chatID, fmt.Sprintf("[%s] done (commit %s)", payload.RunID, payload.CommitSHA))
				}
			case bus.RunStateChangedEvent:
				if payload.NewState == "failed" || payload.NewState == "failed_contract" {
					if chatID, ok := t.chatForRun(payload.RunID); ok {
						t.reply(chatID, fmt.Sprintf("[%s] %s", payload.RunID, payload.NewState))
					}
				}
			}
		}
	}
}

func (t *TelegramChannel) reply(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := t.bot.Send(msg); err != nil {
		t.logger.Error("failed to send telegram reply", "error", err)
	}
}
