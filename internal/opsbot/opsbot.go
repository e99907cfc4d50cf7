// Package opsbot is the Telegram control surface: the operator manages
// monitored posts, reads statistics, and triggers ad-hoc scans from a chat.
// Only the configured admin chat is honored; everyone else is ignored.
package opsbot

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/smile69cm/smile69cm/internal/monitor"
	"github.com/smile69cm/smile69cm/internal/session"
	"github.com/smile69cm/smile69cm/internal/store"
)

const (
	cbMainMenu = "menu"
	cbAddPost  = "add"
	cbPosts    = "posts"
	cbStats    = "stats"
	cbStatus   = "status"
	cbScanNow  = "scan"

	cbPostPrefix     = "post:"
	cbTogglePrefix   = "toggle:"
	cbDeletePrefix   = "delete:"
	cbRefreshPrefix  = "refresh:"
	cbKeywordsPrefix = "editkw:"
	cbMessagePrefix  = "editdm:"
)

type conversationState int

const (
	stateName conversationState = iota
	stateURL
	stateKeywords
	stateMessage
	stateEditKeywords
	stateEditMessage
)

type conversation struct {
	state    conversationState
	itemID   string
	name     string
	url      string
	keywords []string
}

// API is the slice of *tgbotapi.BotAPI the bot uses, split out so tests can
// substitute a fake.
type API interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(cfg tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
}

// Config wires a Bot. TriggerScan runs one monitor cycle on demand;
// CooldownRemaining reports the active rate-limit cooldown for the status
// view.
type Config struct {
	API               API
	AdminChatID       int64
	Store             *store.Store
	Sessions          *session.Manager
	TriggerScan       func(ctx context.Context) error
	CooldownRemaining func() time.Duration
	DMRecipients      func() int
}

type Bot struct {
	api               API
	adminChatID       int64
	store             *store.Store
	sessions          *session.Manager
	triggerScan       func(ctx context.Context) error
	cooldownRemaining func() time.Duration
	dmRecipients      func() int

	mu      sync.Mutex
	pending map[int64]*conversation
}

func New(cfg Config) (*Bot, error) {
	if cfg.API == nil {
		return nil, errors.New("telegram api is required")
	}
	if cfg.AdminChatID == 0 {
		return nil, errors.New("admin chat id is required")
	}
	if cfg.Store == nil {
		return nil, errors.New("item store is required")
	}
	if cfg.Sessions == nil {
		return nil, errors.New("session manager is required")
	}
	b := &Bot{
		api:               cfg.API,
		adminChatID:       cfg.AdminChatID,
		store:             cfg.Store,
		sessions:          cfg.Sessions,
		triggerScan:       cfg.TriggerScan,
		cooldownRemaining: cfg.CooldownRemaining,
		dmRecipients:      cfg.DMRecipients,
		pending:           map[int64]*conversation{},
	}
	if b.triggerScan == nil {
		b.triggerScan = func(context.Context) error { return errors.New("scan trigger not wired") }
	}
	if b.cooldownRemaining == nil {
		b.cooldownRemaining = func() time.Duration { return 0 }
	}
	return b, nil
}

// Run consumes updates until the context is cancelled.
func (b *Bot) Run(ctx context.Context) {
	updateConfig := tgbotapi.NewUpdate(0)
	updateConfig.Timeout = 60
	updates := b.api.GetUpdatesChan(updateConfig)

	log.Printf("event=opsbot_started admin_chat=%d", b.adminChatID)
	for {
		select {
		case <-ctx.Done():
			log.Printf("event=opsbot_stopped reason=%v", ctx.Err())
			return
		case update, ok := <-updates:
			if !ok {
				log.Printf("event=opsbot_stopped reason=updates_closed")
				return
			}
			b.handleUpdate(ctx, update)
		}
	}
}

func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	switch {
	case update.Message != nil:
		b.handleMessage(update.Message)
	case update.CallbackQuery != nil:
		b.handleCallback(ctx, update.CallbackQuery)
	}
}

func (b *Bot) handleMessage(msg *tgbotapi.Message) {
	if msg.Chat == nil || msg.Chat.ID != b.adminChatID {
		return
	}

	text := strings.TrimSpace(msg.Text)
	if strings.HasPrefix(text, "/") {
		b.handleCommand(text)
		return
	}

	b.mu.Lock()
	conv, active := b.pending[msg.Chat.ID]
	b.mu.Unlock()
	if !active {
		b.sendMainMenu("Pick an action:")
		return
	}
	b.advanceConversation(conv, text)
}

func (b *Bot) handleCommand(text string) {
	command, _, _ := strings.Cut(text, " ")
	switch strings.TrimPrefix(command, "/") {
	case "start", "menu":
		b.clearConversation()
		b.sendMainMenu("What would you like to do?")
	case "cancel":
		b.clearConversation()
		b.sendText("Cancelled.")
	default:
		b.sendText("Unknown command. Use /menu.")
	}
}

func (b *Bot) advanceConversation(conv *conversation, text string) {
	if text == "" {
		b.sendText("I need a non-empty value. Try again or /cancel.")
		return
	}

	switch conv.state {
	case stateName:
		conv.name = text
		conv.state = stateURL
		b.sendText("Send the post URL.")
	case stateURL:
		if !strings.Contains(text, "/p/") && !strings.Contains(text, "/reel/") {
			b.sendText("That does not look like a post or reel link. Try again or /cancel.")
			return
		}
		conv.url = text
		conv.state = stateKeywords
		b.sendText("Send the keywords, comma separated.")
	case stateKeywords:
		keywords := splitKeywords(text)
		if len(keywords) == 0 {
			b.sendText("At least one keyword is required. Try again or /cancel.")
			return
		}
		conv.keywords = keywords
		conv.state = stateMessage
		b.sendText("Send the DM text for matching commenters.")
	case stateMessage:
		item, err := b.store.Add(conv.name, conv.url, text, conv.keywords)
		b.clearConversation()
		if err != nil {
			b.sendText(fmt.Sprintf("Could not save the post: %v", err))
			return
		}
		log.Printf("event=post_added id=%s name=%q keywords=%d", item.ID, item.Name, len(item.Keywords))
		b.sendMainMenu(fmt.Sprintf("Added %q with %d keyword(s). Monitoring starts on the next cycle.", item.Name, len(item.Keywords)))
	case stateEditKeywords:
		keywords := splitKeywords(text)
		if len(keywords) == 0 {
			b.sendText("At least one keyword is required. Try again or /cancel.")
			return
		}
		id := conv.itemID
		b.clearConversation()
		if _, err := b.store.Update(id, func(it *store.Item) { it.Keywords = keywords }); err != nil {
			b.sendText(fmt.Sprintf("Could not update keywords: %v", err))
			return
		}
		log.Printf("event=post_keywords_updated id=%s keywords=%d", id, len(keywords))
		b.sendPostDetail(id)
	case stateEditMessage:
		id := conv.itemID
		b.clearConversation()
		if _, err := b.store.Update(id, func(it *store.Item) { it.Message = text }); err != nil {
			b.sendText(fmt.Sprintf("Could not update the DM text: %v", err))
			return
		}
		log.Printf("event=post_message_updated id=%s", id)
		b.sendPostDetail(id)
	}
}

func (b *Bot) handleCallback(ctx context.Context, callback *tgbotapi.CallbackQuery) {
	if _, err := b.api.Request(tgbotapi.NewCallback(callback.ID, "")); err != nil {
		log.Printf("event=callback_ack_failed err=%v", err)
	}
	if callback.Message == nil || callback.Message.Chat == nil || callback.Message.Chat.ID != b.adminChatID {
		return
	}

	data := callback.Data
	switch {
	case data == cbMainMenu:
		b.clearConversation()
		b.sendMainMenu("Pick an action:")
	case data == cbAddPost:
		b.mu.Lock()
		b.pending[b.adminChatID] = &conversation{state: stateName}
		b.mu.Unlock()
		b.sendText("Send a short name for the post.")
	case data == cbPosts:
		b.sendPostList()
	case data == cbStats:
		b.sendText(b.statsText())
	case data == cbStatus:
		b.sendText(b.statusText())
	case data == cbScanNow:
		b.runScan(ctx)
	case strings.HasPrefix(data, cbPostPrefix):
		b.sendPostDetail(strings.TrimPrefix(data, cbPostPrefix))
	case strings.HasPrefix(data, cbTogglePrefix):
		id := strings.TrimPrefix(data, cbTogglePrefix)
		enabled, err := b.store.Toggle(id)
		if err != nil {
			b.sendText(fmt.Sprintf("Toggle failed: %v", err))
			return
		}
		log.Printf("event=post_toggled id=%s enabled=%t", id, enabled)
		b.sendPostDetail(id)
	case strings.HasPrefix(data, cbDeletePrefix):
		id := strings.TrimPrefix(data, cbDeletePrefix)
		if err := b.store.Delete(id); err != nil {
			b.sendText(fmt.Sprintf("Delete failed: %v", err))
			return
		}
		log.Printf("event=post_deleted id=%s", id)
		b.sendPostList()
	case strings.HasPrefix(data, cbRefreshPrefix):
		id := strings.TrimPrefix(data, cbRefreshPrefix)
		if err := b.store.SetPostID(id, ""); err != nil {
			b.sendText(fmt.Sprintf("Refresh failed: %v", err))
			return
		}
		b.sendText("Post id cleared; it will be resolved again on the next cycle.")
	case strings.HasPrefix(data, cbKeywordsPrefix):
		b.startEdit(strings.TrimPrefix(data, cbKeywordsPrefix), stateEditKeywords, "Send the new keywords, comma separated.")
	case strings.HasPrefix(data, cbMessagePrefix):
		b.startEdit(strings.TrimPrefix(data, cbMessagePrefix), stateEditMessage, "Send the new DM text.")
	}
}

func (b *Bot) startEdit(id string, state conversationState, prompt string) {
	if _, err := b.store.Get(id); err != nil {
		b.sendText(fmt.Sprintf("Post not found: %v", err))
		return
	}
	b.mu.Lock()
	b.pending[b.adminChatID] = &conversation{state: state, itemID: id}
	b.mu.Unlock()
	b.sendText(prompt)
}

func (b *Bot) runScan(ctx context.Context) {
	b.sendText("Starting a scan cycle...")
	scanCtx, cancel := context.WithTimeout(ctx, 10*time.Minute)
	defer cancel()
	err := b.triggerScan(scanCtx)
	switch {
	case err == nil:
		b.sendText("Scan cycle finished.")
	case errors.Is(err, monitor.ErrCycleRunning):
		b.sendText("A scan cycle is already running.")
	default:
		b.sendText(fmt.Sprintf("Scan cycle failed: %v", err))
	}
}

func (b *Bot) sendMainMenu(text string) {
	msg := tgbotapi.NewMessage(b.adminChatID, text)
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("➕ Add Post", cbAddPost),
			tgbotapi.NewInlineKeyboardButtonData("\U0001F4CB Manage Posts", cbPosts),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("\U0001F4CA Statistics", cbStats),
			tgbotapi.NewInlineKeyboardButtonData("⚙ Status", cbStatus),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("\U0001F50D Scan Now", cbScanNow),
		),
	)
	if _, err := b.api.Send(msg); err != nil {
		log.Printf("event=telegram_send_failed err=%v", err)
	}
}

func (b *Bot) sendPostList() {
	items := b.store.List()
	if len(items) == 0 {
		b.sendText("No posts are configured yet. Use Add Post.")
		return
	}

	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(items)+1)
	for _, item := range items {
		marker := "▶"
		if !item.Enabled {
			marker = "⏸"
		}
		label := fmt.Sprintf("%s %s", marker, item.Name)
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(label, cbPostPrefix+item.ID),
		))
	}
	rows = append(rows, tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("⬅ Back", cbMainMenu),
	))

	msg := tgbotapi.NewMessage(b.adminChatID, fmt.Sprintf("Monitored posts (%d):", len(items)))
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(rows...)
	if _, err := b.api.Send(msg); err != nil {
		log.Printf("event=telegram_send_failed err=%v", err)
	}
}

func (b *Bot) sendPostDetail(id string) {
	item, err := b.store.Get(id)
	if err != nil {
		b.sendText(fmt.Sprintf("Post not found: %v", err))
		return
	}

	toggleLabel := "⏸ Disable"
	if !item.Enabled {
		toggleLabel = "▶ Enable"
	}
	msg := tgbotapi.NewMessage(b.adminChatID, formatItemDetail(item))
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(toggleLabel, cbTogglePrefix+item.ID),
			tgbotapi.NewInlineKeyboardButtonData("\U0001F5D1 Delete", cbDeletePrefix+item.ID),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("✏ Keywords", cbKeywordsPrefix+item.ID),
			tgbotapi.NewInlineKeyboardButtonData("✏ DM Text", cbMessagePrefix+item.ID),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("\U0001F504 Re-resolve", cbRefreshPrefix+item.ID),
			tgbotapi.NewInlineKeyboardButtonData("⬅ Back", cbPosts),
		),
	)
	if _, err := b.api.Send(msg); err != nil {
		log.Printf("event=telegram_send_failed err=%v", err)
	}
}

func (b *Bot) statsText() string {
	items := b.store.List()
	if len(items) == 0 {
		return "No posts configured."
	}

	var sb strings.Builder
	var seen, dms, replies int
	sb.WriteString("Statistics\n")
	for _, item := range items {
		seen += item.Stats.CommentsSeen
		dms += item.Stats.DMs
		replies += item.Stats.Replies
		fmt.Fprintf(&sb, "\n%s\n  comments: %d (total on post: %d)\n  dms: %d  replies: %d\n",
			item.Name, item.Stats.CommentsSeen, item.Stats.TotalComments, item.Stats.DMs, item.Stats.Replies)
	}
	fmt.Fprintf(&sb, "\nTotals: %d comments, %d dms, %d replies", seen, dms, replies)
	return sb.String()
}

func (b *Bot) statusText() string {
	var sb strings.Builder
	sb.WriteString("Status\n")
	for _, role := range []session.Role{session.RoleMonitor, session.RoleMain} {
		state := "missing"
		if s, ok := b.sessions.Get(role); ok {
			state = "ok"
			if s.Username != "" {
				state = "ok (" + s.Username + ")"
			}
		}
		fmt.Fprintf(&sb, "\n%s session: %s", role, state)
	}
	if remaining := b.cooldownRemaining(); remaining > 0 {
		fmt.Fprintf(&sb, "\ncooldown: %s remaining", remaining.Round(time.Second))
	} else {
		sb.WriteString("\ncooldown: none")
	}
	if b.dmRecipients != nil {
		fmt.Fprintf(&sb, "\ndm recipients this run: %d", b.dmRecipients())
	}
	return sb.String()
}

func (b *Bot) sendText(text string) {
	if _, err := b.api.Send(tgbotapi.NewMessage(b.adminChatID, text)); err != nil {
		log.Printf("event=telegram_send_failed err=%v", err)
	}
}

func (b *Bot) clearConversation() {
	b.mu.Lock()
	delete(b.pending, b.adminChatID)
	b.mu.Unlock()
}

func splitKeywords(text string) []string {
	parts := strings.Split(text, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		trimmed := strings.TrimSpace(p)
		if trimmed == "" {
			continue
		}
		out = append(out, trimmed)
	}
	return out
}

func formatItemDetail(item store.Item) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s\n%s\n", item.Name, item.URL)
	fmt.Fprintf(&sb, "\nenabled: %t", item.Enabled)
	if item.PostID != "" {
		fmt.Fprintf(&sb, "\npost id: %s", item.PostID)
	}
	fmt.Fprintf(&sb, "\nkeywords: %s", strings.Join(item.Keywords, ", "))
	fmt.Fprintf(&sb, "\ncomments seen: %d  dms: %d  replies: %d", item.Stats.CommentsSeen, item.Stats.DMs, item.Stats.Replies)
	return sb.String()
}
