package telegram

import (
	"context"
	"fmt"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"levels-telegram-bot/internal/alert"
	"levels-telegram-bot/internal/commands"
	"levels-telegram-bot/internal/price"
	"levels-telegram-bot/lib/helpers"
	"levels-telegram-bot/lib/translation"
	"strings"
)

var _ alert.Notifier = (*Bot)(nil)

// NewBot creates new telegram bot
func NewBot(c BotConfig, prices *price.Service) (*Bot, error) {
	bot, err := tgbotapi.NewBotAPI(c.Token)
	if err != nil {
		return nil, errors.Wrap(err, "could not create telegram bot")
	}

	bot.Debug = c.Debug

	return &Bot{
		Bot:    bot,
		Config: c,
		prices: prices,
	}, nil
}

// AttachEngine wires the alert engine in after construction.
func (b *Bot) AttachEngine(engine *alert.Engine) {
	b.engine = engine
}

// GetUpdatesChannel gets new updates updates
func (b *Bot) GetUpdatesChannel() (tgbotapi.UpdatesChannel, error) {
	updatesConfig := tgbotapi.NewUpdate(0)
	if b.Config.UpdatesTimeout > 0 {
		updatesConfig.Timeout = b.Config.UpdatesTimeout
	}
	return b.Bot.GetUpdatesChan(updatesConfig), nil
}

// SendMessage sends a telegram message
func (b *Bot) SendMessage(m Message) error {
	msg := tgbotapi.NewMessage(m.ChatID, m.Text)
	msg.ReplyToMessageID = m.MessageID
	msg.DisableWebPagePreview = true
	msg.ParseMode = "MarkdownV2"
	_, err := b.Bot.Send(msg)
	return errors.Wrapf(err, "could not send message: %v", m)
}

// Send delivers a fired level notification to the chat that registered it.
func (b *Bot) Send(_ context.Context, dest alert.Destination, text string) error {
	return b.SendMessage(Message{
		ChatID:    dest.ChatID,
		MessageID: dest.MessageID,
		Text:      helpers.EscapeMarkdownV2(text),
	})
}

// HandleUpdate processes Telegram updates. An empty return means there is
// nothing to reply with.
func (b *Bot) HandleUpdate(u tgbotapi.Update) string {
	m := u.Message
	if m == nil {
		return ""
	}

	// Messages from the levels channel get mirrored before anything else, a
	// watch block posted there still falls through to registration below.
	if b.Config.RelaySourceChatID != 0 && m.Chat.ID == b.Config.RelaySourceChatID {
		b.relay(m)
	}

	if m.Command() == "" {
		if commands.IsWatchBlock(m.Text) {
			return b.registerWatch(m.Text, m)
		}
		return ""
	}

	log.Debugf("received command: %s", m.Command())

	text := ""
	var err error

	switch m.Command() {
	case "watch":
		args := strings.TrimSpace(m.CommandArguments())
		if args == "" || strings.EqualFold(args, "list") {
			text = commands.CommandWatchList(b.engine, m.Chat.ID)
		} else {
			text = b.registerWatch(args, m)
		}
	case "p":
		if text, err = commands.CommandPrice(b.prices, m.CommandArguments()); err != nil {
			text = translation.Translate("Coin not found")
			log.Error(err)
		}
	case "source":
		text = "https://github\\.com/levels\\-bot/levels\\-telegram\\-bot"
	case "help", "start":
		text = helpers.EscapeMarkdownV2(translation.Translate("Paste a level block to start watching it, or use /watch list and /p <coin>."))
	}

	return text
}

func (b *Bot) registerWatch(block string, m *tgbotapi.Message) string {
	a, err := b.engine.RegisterFromMessage(context.Background(), block, alert.Destination{
		ChatID:    m.Chat.ID,
		MessageID: m.MessageID,
	})
	if err != nil {
		var parseErr *alert.ParseError
		if errors.As(err, &parseErr) {
			log.Debugf("ignoring malformed level block: %v", parseErr)
			return helpers.EscapeMarkdownV2(translation.Translate("Could not read that level block: %v.", parseErr))
		}
		log.Error(err)
		return helpers.EscapeMarkdownV2(translation.Translate("Could not save the watch, please try again later."))
	}

	return commands.ConfirmWatch(a)
}

func (b *Bot) relay(m *tgbotapi.Message) {
	if strings.TrimSpace(m.Text) == "" {
		return
	}

	err := b.SendMessage(Message{
		ChatID: b.Config.RelayTargetChatID,
		Text:   helpers.EscapeMarkdownV2(relayText(m)),
	})
	if err != nil {
		log.Error("could not relay message: ", err)
	}
}

func relayText(m *tgbotapi.Message) string {
	return fmt.Sprintf("[%s] %s", senderName(m), helpers.NeutralizeMentions(m.Text))
}

func senderName(m *tgbotapi.Message) string {
	if m.From == nil {
		return "unknown"
	}
	if m.From.UserName != "" {
		return m.From.UserName
	}
	return strings.TrimSpace(m.From.FirstName + " " + m.From.LastName)
}
