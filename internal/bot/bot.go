// Package bot is the Telegram side of unibot: it prompts chats to log in,
// reports login outcomes and serves the timetable, people and file menus of
// logged-in chats.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	login "github.com/tcomad/unibot"
	"github.com/tcomad/unibot/internal/education"
	"golang.org/x/time/rate"
)

const (
	wrongCommandMessage = "Неверная команда"
	noElementsMessage   = "Данные отсутствуют"
	selectMessage       = "Выберите для подробностей"
	authorizeButton     = "Авторизироваться"
	authorizeMessage    = "Пожалуйста, авторизируйтесь"
	welcomeMessage      = "Добро пожаловать"
	failMessage         = "Вы не являетесь студентом группы"
	unavailableMessage  = "Не удалось получить данные, попробуйте позже"
)

// Telegram allows about 30 messages per second across all chats.
const defaultSendRPS = 20

// API is the subset of *tgbotapi.BotAPI the bot uses.
type API interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Education is the education app data the menus are built from.
type Education interface {
	GetUser(ctx context.Context, id string) (*education.User, error)
	GetStudents(ctx context.Context, groupID int64) ([]education.User, error)
	GetTeachers(ctx context.Context, groupID int64) ([]education.User, error)
	GetFiles(ctx context.Context, groupID int64) ([]education.File, error)
	GetLessons(ctx context.Context, groupID int64) ([]education.Lesson, error)
	DownloadFile(ctx context.Context, id int64) (*education.Download, error)
}

var _ login.Notifier = (*Bot)(nil)

type Bot struct {
	api            API
	users          login.UserStore
	edu            Education
	limiter        *rate.Limiter
	loginUrl       string
	firstWeekStart time.Time
	now            func() time.Time
	logger         *slog.Logger
}

type Args struct {
	API       API
	Users     login.UserStore
	Education Education
	// LoginUrl receives the Telegram login payload.
	LoginUrl string
	// FirstWeekStart anchors week parity. When zero every day counts as week 1.
	FirstWeekStart time.Time
	SendRPS        int
	Logger         *slog.Logger
}

func New(args Args) (*Bot, error) {
	switch {
	case args.API == nil:
		return nil, fmt.Errorf("no telegram api provided")
	case args.Users == nil:
		return nil, fmt.Errorf("no user store provided")
	case args.Education == nil:
		return nil, fmt.Errorf("no education client provided")
	case args.LoginUrl == "":
		return nil, fmt.Errorf("no login url provided")
	}

	if args.SendRPS <= 0 {
		args.SendRPS = defaultSendRPS
	}

	if args.Logger == nil {
		args.Logger = slog.Default()
	}

	return &Bot{
		api:            args.API,
		users:          args.Users,
		edu:            args.Education,
		limiter:        rate.NewLimiter(rate.Limit(args.SendRPS), args.SendRPS),
		loginUrl:       args.LoginUrl,
		firstWeekStart: args.FirstWeekStart,
		now:            time.Now,
		logger:         args.Logger.With("component", "bot"),
	}, nil
}

// Run long-polls for updates until ctx is done.
func (b *Bot) Run(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30

	updates := b.api.GetUpdatesChan(u)
	b.logger.Info("bot started")

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return nil
		case upd, ok := <-updates:
			if !ok {
				return nil
			}
			b.HandleUpdate(ctx, upd)
		}
	}
}

func (b *Bot) HandleUpdate(ctx context.Context, upd tgbotapi.Update) {
	switch {
	case upd.CallbackQuery != nil:
		cq := upd.CallbackQuery
		if _, err := b.api.Request(tgbotapi.NewCallback(cq.ID, "")); err != nil {
			b.logger.Warn("could not answer callback", "err", err)
		}

		if cq.Message == nil || cq.Message.Chat == nil {
			return
		}

		b.handleCallback(ctx, cq.Message.Chat.ID, cq.Data)

	case upd.Message != nil && upd.Message.IsCommand():
		if upd.Message.Command() == "start" {
			b.logError(upd.Message.Chat.ID, b.sendWelcome(ctx, upd.Message.Chat.ID))
		}
	}
}

// OnLoginComplete greets a chat whose login succeeded and shows the menu.
func (b *Bot) OnLoginComplete(ctx context.Context, chatID int64, firstName string) {
	if err := b.sendText(ctx, chatID, welcomeMessage+" "+firstName); err != nil {
		b.logError(chatID, err)
		return
	}

	b.logError(chatID, b.sendMenu(ctx, chatID))
}

// OnLoginFail tells a chat its login was refused.
func (b *Bot) OnLoginFail(ctx context.Context, chatID int64) {
	b.logError(chatID, b.sendText(ctx, chatID, failMessage))
}

func (b *Bot) sendWelcome(ctx context.Context, chatID int64) error {
	_, err := b.users.Get(ctx, chatID)
	if err == nil {
		return b.sendMenu(ctx, chatID)
	}

	if !errors.Is(err, login.ErrUserNotFound) {
		return err
	}

	button := tgbotapi.InlineKeyboardButton{
		Text: authorizeButton,
		LoginURL: &tgbotapi.LoginURL{
			URL:                b.loginUrl,
			RequestWriteAccess: true,
		},
	}

	msg := tgbotapi.NewMessage(chatID, authorizeMessage)
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(button))

	return b.send(ctx, msg)
}

func (b *Bot) send(ctx context.Context, c tgbotapi.Chattable) error {
	if err := b.limiter.Wait(ctx); err != nil {
		return err
	}

	_, err := b.api.Send(c)
	return err
}

func (b *Bot) sendText(ctx context.Context, chatID int64, text string) error {
	if text == "" {
		text = noElementsMessage
	}

	return b.send(ctx, tgbotapi.NewMessage(chatID, text))
}

func (b *Bot) logError(chatID int64, err error) {
	if err != nil {
		b.logger.Error("could not serve chat", "chat_id", chatID, "err", err)
	}
}
