package telegram

import (
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

type Update struct {
	UpdateID      int64
	Message       *Message
	CallbackQuery *CallbackQuery
}

type Chat struct {
	ID int64
}

type User struct {
	ID       int64
	Username string
}

type PhotoSize struct {
	FileID   string
	Width    int
	Height   int
	FileSize int64
}

type Document struct {
	FileID   string
	FileName string
	MimeType string
}

type Message struct {
	MessageID int64
	Chat      Chat
	From      *User
	Text      string
	Photo     []PhotoSize
	Document  *Document
}

// ImageFileID returns the largest photo size, or an image sent as a file.
func (m *Message) ImageFileID() string {
	if m == nil {
		return ""
	}
	if n := len(m.Photo); n > 0 {
		return m.Photo[n-1].FileID
	}
	if m.Document != nil && strings.HasPrefix(m.Document.MimeType, "image/") {
		return m.Document.FileID
	}
	return ""
}

type CallbackQuery struct {
	ID      string
	From    User
	Message *Message
	Data    string
}

// Button is an inline keyboard button carrying callback data.
type Button struct {
	Text         string
	CallbackData string
}

// Keyboard is an inline keyboard laid out in rows.
type Keyboard [][]Button

func (kb Keyboard) markup() tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(kb))
	for _, row := range kb {
		buttons := make([]tgbotapi.InlineKeyboardButton, 0, len(row))
		for _, b := range row {
			buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonData(b.Text, b.CallbackData))
		}
		rows = append(rows, buttons)
	}
	return tgbotapi.InlineKeyboardMarkup{InlineKeyboard: rows}
}

func fromAPIUpdate(u tgbotapi.Update) Update {
	out := Update{UpdateID: int64(u.UpdateID), Message: fromAPIMessage(u.Message)}
	if q := u.CallbackQuery; q != nil {
		out.CallbackQuery = &CallbackQuery{
			ID:      q.ID,
			Message: fromAPIMessage(q.Message),
			Data:    q.Data,
		}
		if q.From != nil {
			out.CallbackQuery.From = *fromAPIUser(q.From)
		}
	}
	return out
}

func fromAPIMessage(m *tgbotapi.Message) *Message {
	if m == nil {
		return nil
	}
	out := &Message{
		MessageID: int64(m.MessageID),
		From:      fromAPIUser(m.From),
		Text:      m.Text,
	}
	if m.Chat != nil {
		out.Chat.ID = m.Chat.ID
	}
	for _, p := range m.Photo {
		out.Photo = append(out.Photo, PhotoSize{
			FileID:   p.FileID,
			Width:    p.Width,
			Height:   p.Height,
			FileSize: int64(p.FileSize),
		})
	}
	if d := m.Document; d != nil {
		out.Document = &Document{FileID: d.FileID, FileName: d.FileName, MimeType: d.MimeType}
	}
	return out
}

func fromAPIUser(u *tgbotapi.User) *User {
	if u == nil {
		return nil
	}
	return &User{ID: u.ID, Username: u.UserName}
}
