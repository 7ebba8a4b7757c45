package bot

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	login "github.com/tcomad/unibot"
	"github.com/tcomad/unibot/internal/education"
)

// menuCommand is a top-level menu entry. Its data is sent back verbatim as
// callback data when the button is pressed.
type menuCommand struct {
	data  string
	label string
	run   func(b *Bot, ctx context.Context, chatID, groupID int64) error
}

var menu = []menuCommand{
	{data: "timetable", label: "Расписание", run: (*Bot).sendDays},
	{data: "students", label: "Студенты", run: (*Bot).sendStudents},
	{data: "teachers", label: "Преподаватели", run: (*Bot).sendTeachers},
	{data: "lectures", label: "Лекции", run: (*Bot).sendLectures},
	{data: "tasks", label: "Задания", run: (*Bot).sendTasks},
}

// detailCommand answers "<kind> <id>" callback data.
type detailCommand func(b *Bot, ctx context.Context, chatID, groupID int64, id string) error

var details = map[string]detailCommand{
	"student": (*Bot).sendUser,
	"teacher": (*Bot).sendUser,
	"day":     (*Bot).sendDay,
	"lecture": (*Bot).sendFile,
	"task":    (*Bot).sendFile,
}

var days = []string{
	"Понедельник",
	"Вторник",
	"Среда",
	"Четверг",
	"Пятница",
	"Суббота",
}

type listItem struct {
	label string
	data  string
}

func (b *Bot) sendMenu(ctx context.Context, chatID int64) error {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(menu))
	for _, cmd := range menu {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(cmd.label, cmd.data),
		))
	}

	msg := tgbotapi.NewMessage(chatID, selectMessage)
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(rows...)

	return b.send(ctx, msg)
}

func (b *Bot) handleCallback(ctx context.Context, chatID int64, data string) {
	user, err := b.users.Get(ctx, chatID)
	if errors.Is(err, login.ErrUserNotFound) {
		b.logError(chatID, b.sendWelcome(ctx, chatID))
		return
	}
	if err != nil {
		b.logError(chatID, err)
		return
	}

	if err := b.dispatch(ctx, chatID, user.GroupID, data); err != nil {
		b.logError(chatID, err)
		b.logError(chatID, b.sendText(ctx, chatID, unavailableMessage))
	}
}

func (b *Bot) dispatch(ctx context.Context, chatID, groupID int64, data string) error {
	for _, cmd := range menu {
		if cmd.data == data {
			return cmd.run(b, ctx, chatID, groupID)
		}
	}

	kind, id, ok := strings.Cut(data, " ")
	if cmd, found := details[kind]; ok && found && id != "" {
		return cmd(b, ctx, chatID, groupID, id)
	}

	b.logger.Debug("unknown callback", "chat_id", chatID, "data", data)
	return b.sendText(ctx, chatID, wrongCommandMessage)
}

func (b *Bot) sendList(ctx context.Context, chatID int64, items []listItem) error {
	if len(items) == 0 {
		return b.sendText(ctx, chatID, noElementsMessage)
	}

	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(items))
	for _, it := range items {
		label := it.label
		if label == "" {
			label = it.data
		}
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(label, it.data),
		))
	}

	msg := tgbotapi.NewMessage(chatID, selectMessage)
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(rows...)

	return b.send(ctx, msg)
}

func (b *Bot) sendDays(ctx context.Context, chatID, _ int64) error {
	items := make([]listItem, 0, len(days))
	for i, name := range days {
		items = append(items, listItem{label: name, data: fmt.Sprintf("day %d", i+1)})
	}

	return b.sendList(ctx, chatID, items)
}

func (b *Bot) sendStudents(ctx context.Context, chatID, groupID int64) error {
	users, err := b.edu.GetStudents(ctx, groupID)
	if err != nil {
		return err
	}

	return b.sendList(ctx, chatID, userItems("student", users))
}

func (b *Bot) sendTeachers(ctx context.Context, chatID, groupID int64) error {
	users, err := b.edu.GetTeachers(ctx, groupID)
	if err != nil {
		return err
	}

	return b.sendList(ctx, chatID, userItems("teacher", users))
}

func (b *Bot) sendLectures(ctx context.Context, chatID, groupID int64) error {
	return b.sendFiles(ctx, chatID, groupID, education.FileTypeLecture, "lecture")
}

func (b *Bot) sendTasks(ctx context.Context, chatID, groupID int64) error {
	return b.sendFiles(ctx, chatID, groupID, education.FileTypeTask, "task")
}

func (b *Bot) sendFiles(ctx context.Context, chatID, groupID int64, fileType int, kind string) error {
	files, err := b.edu.GetFiles(ctx, groupID)
	if err != nil {
		return err
	}

	var items []listItem
	for _, f := range files {
		if f.Type != fileType {
			continue
		}
		items = append(items, listItem{
			label: f.DisplayName(),
			data:  fmt.Sprintf("%s %d", kind, f.ID),
		})
	}

	return b.sendList(ctx, chatID, items)
}

func (b *Bot) sendUser(ctx context.Context, chatID, _ int64, id string) error {
	user, err := b.edu.GetUser(ctx, id)
	if errors.Is(err, education.ErrNotFound) {
		return b.sendText(ctx, chatID, noElementsMessage)
	}
	if err != nil {
		return err
	}

	return b.sendText(ctx, chatID, user.Data())
}

func (b *Bot) sendDay(ctx context.Context, chatID, groupID int64, id string) error {
	day, err := strconv.Atoi(id)
	if err != nil || day < 1 || day > len(days) {
		return b.sendText(ctx, chatID, wrongCommandMessage)
	}

	lessons, err := b.edu.GetLessons(ctx, groupID)
	if err != nil {
		return err
	}

	now := b.now()
	start := b.firstWeekStart
	if start.IsZero() {
		start = now
	}
	week := WeekNumber(start, now)

	var today []education.Lesson
	for _, l := range lessons {
		if l.WeekDay == int64(day) && l.WeekNumber == week {
			today = append(today, l)
		}
	}

	sort.Slice(today, func(i, j int) bool {
		return today[i].LessonTime < today[j].LessonTime
	})

	lines := make([]string, 0, len(today))
	for _, l := range today {
		lines = append(lines, l.Data())
	}

	return b.sendText(ctx, chatID, strings.Join(lines, "\n"))
}

func (b *Bot) sendFile(ctx context.Context, chatID, _ int64, id string) error {
	fileID, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return b.sendText(ctx, chatID, wrongCommandMessage)
	}

	dl, err := b.edu.DownloadFile(ctx, fileID)
	if errors.Is(err, education.ErrNotFound) {
		return b.sendText(ctx, chatID, noElementsMessage)
	}
	if err != nil {
		return err
	}
	defer dl.Body.Close()

	doc := tgbotapi.NewDocument(chatID, tgbotapi.FileReader{
		Name:   dl.Name,
		Reader: dl.Body,
	})

	return b.send(ctx, doc)
}

func userItems(kind string, users []education.User) []listItem {
	items := make([]listItem, 0, len(users))
	for _, u := range users {
		items = append(items, listItem{
			label: u.DisplayName(),
			data:  fmt.Sprintf("%s %d", kind, u.ID),
		})
	}
	return items
}
