package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"diet-coach/internal/calendar"
	"diet-coach/internal/coach"
	"diet-coach/internal/config"
	"diet-coach/internal/logging"
	"diet-coach/internal/mealplan"
	"diet-coach/internal/metrics"
	"diet-coach/internal/swap"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

const (
	updateTimeout = 2 * time.Minute
	// maxUpload caps photos and voice notes downloaded from Telegram.
	maxUpload = 10 << 20

	helpText = "/today shows today's meals\n/week shows the whole week\n/evaluate scores the week\n/regenerate builds a new plan"
)

// sender is the part of the Telegram API the bot uses.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetFileDirectURL(fileID string) (string, error)
}

type screen string

const (
	screenDay  screen = "day"
	screenWeek screen = "week"
	screenEval screen = "eval"
	screenSwap screen = "swap"
)

// viewRef is the message currently showing a user's calendar.
type viewRef struct {
	chatID    int64
	messageID int
	screen    screen
}

// Bot is the mobile surface: a Telegram chat driving each user's calendar and swap flow.
type Bot struct {
	api        sender
	cfg        *config.Config
	sessions   *calendar.Registry
	metrics    *metrics.Store
	chats      *ChatRepository
	logger     *zap.Logger
	httpClient *http.Client
	wg         sync.WaitGroup

	mu    sync.Mutex
	views map[string]viewRef
}

// NewBot initializes the Telegram Bot and sets the Webhook.
func NewBot(
	cfg *config.Config,
	client *coach.Client,
	transcriber swap.Transcriber,
	metricsStore *metrics.Store,
	chats *ChatRepository,
	logger *zap.Logger,
) (*Bot, error) {
	logger = logging.OrNop(logger)
	api, err := tgbotapi.NewBotAPI(cfg.TelegramBotToken)
	if err != nil {
		return nil, fmt.Errorf("failed to init telegram api: %w", err)
	}
	logger.Info("authorized on telegram", zap.String("account", api.Self.UserName))

	if cfg.TelegramWebhookURL != "" {
		wh, err := tgbotapi.NewWebhook(cfg.TelegramWebhookURL)
		if err != nil {
			return nil, fmt.Errorf("invalid webhook url %s: %w", cfg.TelegramWebhookURL, err)
		}
		resp, err := api.Request(wh)
		if err != nil {
			return nil, fmt.Errorf("failed to set webhook to %s: %w", cfg.TelegramWebhookURL, err)
		}
		logger.Info("webhook set", zap.String("description", resp.Description))
	}

	b := newBot(api, cfg, metricsStore, chats, logger)
	b.sessions = calendar.NewRegistry(calendar.CoachSessions(client, calendar.SessionOptions{
		Calendar: calendar.Options{Logger: logger, Notifier: b, Location: cfg.Location},
		Swap: swap.Options{
			Transcriber: transcriber,
			Debounce:    cfg.SearchDebounce,
			ResultDelay: cfg.SwapResultDelay,
			Logger:      logger,
		},
		OnSwapChange: b.onSwapChange,
	}))
	return b, nil
}

func newBot(api sender, cfg *config.Config, metricsStore *metrics.Store, chats *ChatRepository, logger *zap.Logger) *Bot {
	return &Bot{
		api:        api,
		cfg:        cfg,
		metrics:    metricsStore,
		chats:      chats,
		logger:     logging.OrNop(logger),
		httpClient: &http.Client{Timeout: time.Minute},
		views:      make(map[string]viewRef),
	}
}

// RegisterHandlers registers the webhook and health handlers on mux.
func (b *Bot) RegisterHandlers(mux *http.ServeMux) {
	mux.HandleFunc("POST /webhook", b.handleWebhook)
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
}

// Wait blocks until every update being processed has finished.
func (b *Bot) Wait() {
	b.wg.Wait()
}

func (b *Bot) handleWebhook(w http.ResponseWriter, r *http.Request) {
	var update tgbotapi.Update
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		b.logger.Warn("error parsing update", zap.Error(err))
		http.Error(w, "bad update", http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusOK)

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), updateTimeout)
		defer cancel()
		b.HandleUpdate(ctx, update)
	}()
}

// HandleUpdate processes one update from an allowed user.
func (b *Bot) HandleUpdate(ctx context.Context, update tgbotapi.Update) {
	var from *tgbotapi.User
	switch {
	case update.CallbackQuery != nil:
		from = update.CallbackQuery.From
	case update.Message != nil:
		from = update.Message.From
	}
	if from == nil {
		return
	}
	if !b.cfg.IsAllowed(from.ID) {
		b.logger.Warn("unauthorized access attempt", zap.Int64("telegram_id", from.ID), zap.String("username", from.UserName))
		return
	}

	if update.CallbackQuery != nil {
		b.handleCallbackQuery(ctx, update.CallbackQuery)
		return
	}
	b.processMessage(ctx, update.Message)
}

func userKey(telegramID int64) string {
	return strconv.FormatInt(telegramID, 10)
}

func (b *Bot) processMessage(ctx context.Context, msg *tgbotapi.Message) {
	userID := userKey(msg.From.ID)
	chatID := msg.Chat.ID
	b.rememberChat(ctx, userID, chatID)

	if msg.IsCommand() {
		b.handleCommand(ctx, userID, msg)
		return
	}

	sess := b.sessions.Get(userID)
	st := sess.Swap.Status()
	if st.State == swap.StateClosed {
		b.reply(chatID, "Tap 🔄 next to a meal to swap it.\n\n"+helpText)
		return
	}

	b.typing(chatID)
	var err error
	switch {
	case len(msg.Photo) > 0:
		var image []byte
		// sizes are ordered smallest first
		if image, err = b.download(ctx, msg.Photo[len(msg.Photo)-1].FileID); err == nil {
			err = sess.Swap.SubmitImage(ctx, "meal.jpg", image)
		}
	case msg.Voice != nil:
		var audio []byte
		if audio, err = b.download(ctx, msg.Voice.FileID); err == nil {
			err = sess.Swap.SubmitVoice(ctx, msg.Voice.MimeType, audio)
		}
	case msg.Text != "" && st.Mode == swap.ModeSearch:
		_, err = sess.Swap.Search(ctx, msg.Text, 0)
	case msg.Text != "":
		err = sess.Swap.SubmitText(ctx, msg.Text)
	default:
		return
	}
	// failed attempts show up in the swap screen, rejected ones only as a reply
	if err != nil && sess.Swap.Status().Error == "" {
		if text := userText(err); text != "" {
			b.reply(chatID, text)
		}
		return
	}
	b.show(ctx, userID, chatID, 0, screenSwap)
}

func (b *Bot) handleCommand(ctx context.Context, userID string, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	sess := b.sessions.Get(userID)

	switch msg.Command() {
	case "start", "today":
		if b.ensureLoaded(ctx, userID, sess, chatID) {
			sess.Calendar.ShowToday()
			b.show(ctx, userID, chatID, 0, screenDay)
		}
	case "week":
		if b.ensureLoaded(ctx, userID, sess, chatID) {
			b.show(ctx, userID, chatID, 0, screenWeek)
		}
	case "evaluate":
		if b.ensureLoaded(ctx, userID, sess, chatID) {
			b.show(ctx, userID, chatID, 0, screenEval)
		}
	case "regenerate":
		b.typing(chatID)
		if err := sess.Calendar.Regenerate(ctx); err != nil {
			b.reply(chatID, userText(err))
			return
		}
		b.show(ctx, userID, chatID, 0, screenDay)
	case "metrics":
		b.handleMetricsRequest(ctx, msg)
	case "help":
		b.reply(chatID, helpText)
	default:
		b.reply(chatID, "Unknown command.\n\n"+helpText)
	}
}

// ensureLoaded fetches the plan on first use. A missing plan offers to create one.
func (b *Bot) ensureLoaded(ctx context.Context, userID string, sess *calendar.Session, chatID int64) bool {
	err := sess.Calendar.EnsureLoaded(ctx)
	switch {
	case err == nil:
		return true
	case coach.IsNotFound(err):
		b.show(ctx, userID, chatID, 0, screenDay)
	default:
		b.reply(chatID, userText(err))
	}
	return false
}

func (b *Bot) handleCallbackQuery(ctx context.Context, q *tgbotapi.CallbackQuery) {
	if q.Message == nil {
		return
	}
	userID := userKey(q.From.ID)
	chatID, messageID := q.Message.Chat.ID, q.Message.MessageID
	sess := b.sessions.Get(userID)
	action, args := parseCallback(q.Data)

	next, toast, err := b.dispatch(ctx, userID, sess, action, args)
	if err != nil {
		toast = userText(err)
		b.logger.Debug("callback rejected", zap.String("user_id", userID), zap.String("data", q.Data), zap.Error(err))
	}
	if _, err := b.api.Request(tgbotapi.NewCallback(q.ID, toast)); err != nil {
		b.logger.Debug("failed to answer callback", zap.Error(err))
	}
	if next != "" {
		b.show(ctx, userID, chatID, messageID, next)
	}
}

// dispatch runs a button action and returns the screen to show next.
func (b *Bot) dispatch(ctx context.Context, userID string, sess *calendar.Session, action string, args []string) (screen, string, error) {
	cal, flow := sess.Calendar, sess.Swap

	if action == actGenerate {
		return screenDay, "Your plan is ready!", cal.Generate(ctx)
	}
	if action == actNoop {
		return "", "", nil
	}
	if !cal.Loaded() {
		if err := cal.Load(ctx); err != nil {
			return screenDay, "", err
		}
	}

	switch action {
	case actDay:
		i, err := intArg(args, 0)
		if err != nil {
			return "", "", err
		}
		return screenDay, "", cal.SelectDay(i)
	case actWeek:
		if len(args) > 0 && args[0] == "prev" {
			cal.Prev()
		} else {
			cal.Next()
		}
		return b.currentScreen(userID), "", nil
	case actView:
		if len(args) == 0 {
			return screenDay, "", nil
		}
		return screen(args[0]), "", nil
	case actCheckIn:
		id, err := int64Arg(args, 0)
		if err != nil {
			return "", "", err
		}
		if err := cal.CheckIn(ctx, id); err != nil {
			return screenDay, "", err
		}
		return screenDay, "Checked in ✅", nil
	case actAll:
		day, err := intArg(args, 0)
		if err != nil || len(args) < 2 {
			return "", "", fmt.Errorf("bad mark-all callback: %v", args)
		}
		mealType, err := mealplan.ParseMealType(args[1])
		if err != nil {
			return "", "", err
		}
		outcomes, err := cal.MarkAllDone(ctx, day, mealType)
		if err != nil {
			return screenDay, "", err
		}
		return screenDay, formatOutcomes(outcomes), nil
	case actSwap:
		id, err := int64Arg(args, 0)
		if err != nil {
			return "", "", err
		}
		target, err := cal.OpenSwap(id)
		if err != nil {
			return screenDay, "", err
		}
		flow.Close()
		return screenSwap, "", flow.Open(target)
	case actMode:
		if len(args) == 0 {
			return "", "", fmt.Errorf("bad mode callback")
		}
		mode, err := swap.ParseMode(args[0])
		if err != nil {
			return "", "", err
		}
		return screenSwap, "", flow.SelectMode(mode)
	case actDish:
		id, err := int64Arg(args, 0)
		if err != nil {
			return "", "", err
		}
		dish, ok := flow.Dish(id)
		if !ok {
			return screenSwap, "", swap.ErrFlowClosed
		}
		if err := flow.SelectDish(ctx, dish); err != nil {
			return screenSwap, "", err
		}
		return screenSwap, "Swapped ✅", nil
	case actMore:
		page, err := intArg(args, 0)
		if err != nil {
			return "", "", err
		}
		_, err = flow.Search(ctx, flow.Status().Keyword, page)
		return screenSwap, "", err
	case actCancel:
		flow.Close()
		return screenDay, "", nil
	case actEval:
		if len(args) > 0 && args[0] == "reset" {
			if err := cal.ResetToWeekOne(ctx); err != nil {
				return screenEval, "", err
			}
			return screenDay, "Back to week 1", nil
		}
		if err := cal.AdvanceWeek(ctx); err != nil {
			return screenEval, "", err
		}
		return screenDay, fmt.Sprintf("Welcome to week %d!", cal.Evaluation().Week), nil
	}
	return "", "", fmt.Errorf("unknown callback action %q", action)
}

func intArg(args []string, i int) (int, error) {
	if i >= len(args) {
		return 0, fmt.Errorf("missing callback argument %d", i)
	}
	return strconv.Atoi(args[i])
}

func int64Arg(args []string, i int) (int64, error) {
	if i >= len(args) {
		return 0, fmt.Errorf("missing callback argument %d", i)
	}
	return strconv.ParseInt(args[i], 10, 64)
}

// render builds the text and keyboard of a screen. A closed swap falls back to the day.
func (b *Bot) render(sess *calendar.Session, s screen) (string, tgbotapi.InlineKeyboardMarkup) {
	if !sess.Calendar.Loaded() {
		return "You don't have a meal plan yet.", tgbotapi.NewInlineKeyboardMarkup(
			tgbotapi.NewInlineKeyboardRow(button("✨ Create my plan", actGenerate)),
		)
	}
	switch s {
	case screenWeek:
		g := sess.Calendar.Grid()
		return formatWeek(g), weekKeyboard(g)
	case screenEval:
		e := sess.Calendar.Evaluation()
		return formatEvaluation(e), evaluationKeyboard(e)
	case screenSwap:
		if st := sess.Swap.Status(); st.State != swap.StateClosed {
			return formatSwap(st), swapKeyboard(st)
		}
	}
	v := sess.Calendar.Day()
	return formatDay(v), dayKeyboard(v)
}

// show renders a screen, editing messageID in place or sending a new message when it is 0.
func (b *Bot) show(ctx context.Context, userID string, chatID int64, messageID int, s screen) {
	sess := b.sessions.Get(userID)
	text, markup := b.render(sess, s)
	if s == screenSwap && sess.Swap.Status().State == swap.StateClosed {
		s = screenDay
	}

	if messageID == 0 {
		msg := tgbotapi.NewMessage(chatID, text)
		msg.ParseMode = tgbotapi.ModeMarkdown
		if len(markup.InlineKeyboard) > 0 {
			msg.ReplyMarkup = markup
		}
		sent, err := b.send(msg)
		if err != nil {
			return
		}
		messageID = sent.MessageID
	} else {
		edit := tgbotapi.NewEditMessageText(chatID, messageID, text)
		edit.ParseMode = tgbotapi.ModeMarkdown
		if len(markup.InlineKeyboard) > 0 {
			edit.ReplyMarkup = &markup
		}
		if _, err := b.send(edit); err != nil {
			return
		}
	}

	b.mu.Lock()
	b.views[userID] = viewRef{chatID: chatID, messageID: messageID, screen: s}
	b.mu.Unlock()
}

func (b *Bot) currentScreen(userID string) screen {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ref, ok := b.views[userID]; ok && ref.screen == screenWeek {
		return screenWeek
	}
	return screenDay
}

// onSwapChange refreshes the user's view when the swap flow changes on its own.
func (b *Bot) onSwapChange(userID string, st swap.Status) {
	b.mu.Lock()
	ref, ok := b.views[userID]
	b.mu.Unlock()
	if !ok || ref.screen != screenSwap {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), updateTimeout)
	defer cancel()
	b.show(ctx, userID, ref.chatID, ref.messageID, screenSwap)
}

// Notify delivers a calendar notice as a chat message.
func (b *Bot) Notify(userID string, n calendar.Notice) {
	chatID, err := b.chatFor(userID)
	if err != nil {
		b.logger.Warn("no chat for notice", zap.String("user_id", userID), zap.Error(err))
		return
	}
	prefix := "🔔 "
	if n.Kind == calendar.NoticeNewWeek {
		prefix = "🎉 "
	}
	b.send(tgbotapi.NewMessage(chatID, prefix+n.Message))
}

func (b *Bot) chatFor(userID string) (int64, error) {
	b.mu.Lock()
	ref, ok := b.views[userID]
	b.mu.Unlock()
	if ok {
		return ref.chatID, nil
	}
	if b.chats != nil {
		chatID, err := b.chats.ChatID(context.Background(), userID)
		if err == nil {
			return chatID, nil
		}
		if !errors.Is(err, ErrChatNotFound) {
			return 0, err
		}
	}
	// a private chat shares the user's id
	return strconv.ParseInt(userID, 10, 64)
}

func (b *Bot) rememberChat(ctx context.Context, userID string, chatID int64) {
	if b.chats == nil {
		return
	}
	if err := b.chats.Save(ctx, userID, chatID); err != nil {
		b.logger.Warn("failed to save chat", zap.String("user_id", userID), zap.Error(err))
	}
}

func (b *Bot) handleMetricsRequest(ctx context.Context, msg *tgbotapi.Message) {
	if msg.From.ID != b.cfg.AdminTelegramID {
		b.reply(msg.Chat.ID, "⛔ Access Denied: Admin only.")
		return
	}
	if b.metrics == nil {
		b.reply(msg.Chat.ID, "Metrics are disabled.")
		return
	}

	usage, err := b.metrics.GetDailyUsage(ctx, 7)
	if err != nil {
		b.logger.Error("failed to fetch metrics", zap.Error(err))
		b.reply(msg.Chat.ID, "❌ Error fetching metrics.")
		return
	}
	endpoints, err := b.metrics.GetEndpointUsage(ctx, 7)
	if err != nil {
		b.logger.Error("failed to fetch endpoint metrics", zap.Error(err))
		b.reply(msg.Chat.ID, "❌ Error fetching metrics.")
		return
	}
	users := 0
	if b.chats != nil {
		users, _ = b.chats.Count(ctx)
	}
	health := metrics.GetSysHealth(filepath.Dir(b.cfg.DatabasePath))

	out := tgbotapi.NewMessage(msg.Chat.ID, formatMetrics(usage, endpoints, users, health))
	out.ParseMode = tgbotapi.ModeMarkdown
	b.send(out)
}

func (b *Bot) download(ctx context.Context, fileID string) ([]byte, error) {
	url, err := b.api.GetFileDirectURL(fileID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve file: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download file: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to download file: status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxUpload+1))
	if err != nil {
		return nil, fmt.Errorf("failed to download file: %w", err)
	}
	if len(data) > maxUpload {
		return nil, errFileTooLarge
	}
	return data, nil
}

var errFileTooLarge = errors.New("file too large")

func (b *Bot) send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	msg, err := b.api.Send(c)
	if err != nil {
		b.logger.Warn("telegram send failed", zap.Error(err))
	}
	return msg, err
}

func (b *Bot) reply(chatID int64, text string) {
	b.send(tgbotapi.NewMessage(chatID, text))
}

func (b *Bot) typing(chatID int64) {
	if _, err := b.api.Request(tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping)); err != nil {
		b.logger.Debug("failed to send chat action", zap.Error(err))
	}
}

// userText maps an error to what the chat shows. Stale responses are silent.
func userText(err error) string {
	switch {
	case errors.Is(err, calendar.ErrStale), errors.Is(err, swap.ErrStale):
		return ""
	case errors.Is(err, calendar.ErrFutureDay):
		return "You can only check in meals up to today."
	case errors.Is(err, calendar.ErrBusy), errors.Is(err, swap.ErrSubmitting):
		return "Already working on it..."
	case errors.Is(err, calendar.ErrNotPassed):
		return fmt.Sprintf("Reach %d%% on meals and calories to move on.", mealplan.PassThreshold)
	case errors.Is(err, mealplan.ErrNoPlan):
		return "You don't have a meal plan yet. Use /today to create one."
	case errors.Is(err, mealplan.ErrMealNotFound), errors.Is(err, mealplan.ErrDayNotFound):
		return "That meal is no longer in your plan."
	case errors.Is(err, swap.ErrVoiceUnsupported):
		return "Voice input isn't available, type the meal instead."
	case errors.Is(err, swap.ErrFlowClosed):
		return "That swap is no longer open."
	case errors.Is(err, swap.ErrWrongMode):
		return "Switch to the matching tab first."
	case errors.Is(err, coach.ErrInvalidPayload):
		return "Please describe what you ate."
	case errors.Is(err, errFileTooLarge):
		return "That file is too large."
	}
	return coach.UserMessage(err)
}
