package telegram

import (
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"levels-telegram-bot/internal/alert"
	"levels-telegram-bot/internal/price"
)

// BotConfig configuration of the bot
type BotConfig struct {
	Token             string
	Debug             bool
	UpdatesTimeout    int
	RelaySourceChatID int64
	RelayTargetChatID int64
}

// Bot telegram interaction client
type Bot struct {
	Bot    *tgbotapi.BotAPI
	Config BotConfig
	engine *alert.Engine
	prices *price.Service
}

// Message a telegram message struct
type Message struct {
	ChatID    int64
	MessageID int
	Text      string
}
