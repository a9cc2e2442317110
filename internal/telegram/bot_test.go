package telegram

import (
	"context"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"levels-telegram-bot/internal/alert"
	"levels-telegram-bot/internal/types"
	"strings"
	"testing"
	"time"
)

const spyBlock = `Ticker
SPY
Current Price
683.63
Lambda Level
684.5
Fail-Safe
681
Upside PT1
690
Upside PT2
687
Upside PT3
693
Downside PT1
680
Downside PT2
677
Downside PT3
674`

type nullFeed struct{}

func (nullFeed) Stream(ctx context.Context, symbols []string, interval time.Duration) <-chan types.PriceResult {
	ch := make(chan types.PriceResult)
	go func() {
		defer close(ch)
		<-ctx.Done()
	}()
	return ch
}

type nullNotifier struct{}

func (nullNotifier) Send(context.Context, alert.Destination, string) error { return nil }

// newTestBot skips NewBot, which would call the Telegram API on construction.
func newTestBot() *Bot {
	b := &Bot{}
	b.AttachEngine(alert.NewEngine(nullFeed{}, nullNotifier{}, nil))
	return b
}

func messageUpdate(chatID int64, messageID int, text string) tgbotapi.Update {
	return tgbotapi.Update{Message: &tgbotapi.Message{
		MessageID: messageID,
		Chat:      &tgbotapi.Chat{ID: chatID},
		Text:      text,
	}}
}

func commandUpdate(chatID int64, text string) tgbotapi.Update {
	u := messageUpdate(chatID, 1, text)
	u.Message.Entities = []tgbotapi.MessageEntity{
		{Type: "bot_command", Offset: 0, Length: len(strings.Fields(text)[0])},
	}
	return u
}

func TestHandleUpdateRegistersWatchBlock(t *testing.T) {
	bot := newTestBot()

	reply := bot.HandleUpdate(messageUpdate(42, 7, spyBlock))
	assert.Contains(t, reply, "Watching SPY")
	assert.Equal(t, 1, bot.engine.ActiveWatches())

	watches := bot.engine.Snapshot()["SPY"]
	require.Len(t, watches, 1)
	assert.Equal(t, alert.Destination{ChatID: 42, MessageID: 7}, watches[0].Destination)
}

func TestHandleUpdateRegistersWatchBlockViaCommand(t *testing.T) {
	bot := newTestBot()

	reply := bot.HandleUpdate(commandUpdate(42, "/watch\n"+spyBlock))
	assert.Contains(t, reply, "Watching SPY")
	assert.Equal(t, 1, bot.engine.ActiveWatches())
}

func TestHandleUpdateRejectsBadBlock(t *testing.T) {
	bot := newTestBot()

	truncated := strings.Join(strings.Split(spyBlock, "\n")[:18], "\n")
	reply := bot.HandleUpdate(messageUpdate(42, 7, truncated))
	assert.Contains(t, reply, "Could not read that level block")
	assert.Contains(t, reply, "Downside PT3")
	assert.Zero(t, bot.engine.ActiveWatches())
}

func TestHandleUpdateWatchListCommand(t *testing.T) {
	bot := newTestBot()
	bot.HandleUpdate(messageUpdate(42, 7, spyBlock))

	reply := bot.HandleUpdate(commandUpdate(42, "/watch list"))
	assert.Contains(t, reply, "*SPY*")

	// Bare /watch is a list too.
	reply = bot.HandleUpdate(commandUpdate(42, "/watch"))
	assert.Contains(t, reply, "*SPY*")

	reply = bot.HandleUpdate(commandUpdate(99, "/watch list"))
	assert.Contains(t, reply, "No active watches")
}

func TestHandleUpdateIgnoresChatter(t *testing.T) {
	bot := newTestBot()

	assert.Empty(t, bot.HandleUpdate(messageUpdate(42, 1, "hello there")))
	assert.Empty(t, bot.HandleUpdate(commandUpdate(42, "/frobnicate")))
	assert.Empty(t, bot.HandleUpdate(tgbotapi.Update{}))
}

func TestHandleUpdateHelp(t *testing.T) {
	bot := newTestBot()

	assert.NotEmpty(t, bot.HandleUpdate(commandUpdate(42, "/help")))
	assert.Contains(t, bot.HandleUpdate(commandUpdate(42, "/source")), "github")
}

func TestRelayText(t *testing.T) {
	m := &tgbotapi.Message{
		From: &tgbotapi.User{UserName: "lambda"},
		Text: "big @everyone move",
	}
	assert.Equal(t, "[lambda] big @​everyone move", relayText(m))
}

func TestSenderName(t *testing.T) {
	assert.Equal(t, "unknown", senderName(&tgbotapi.Message{}))
	assert.Equal(t, "lambda", senderName(&tgbotapi.Message{From: &tgbotapi.User{UserName: "lambda", FirstName: "Jane"}}))
	assert.Equal(t, "Jane Doe", senderName(&tgbotapi.Message{From: &tgbotapi.User{FirstName: "Jane", LastName: "Doe"}}))
}
