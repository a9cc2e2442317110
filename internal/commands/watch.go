package commands

import (
	"fmt"
	"github.com/dustin/go-humanize"
	log "github.com/sirupsen/logrus"
	"levels-telegram-bot/internal/alert"
	"sort"
	"strings"
)

// IsWatchBlock reports whether a plain chat message looks like a level block,
// i.e. its first non-blank line is the Ticker label.
func IsWatchBlock(text string) bool {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		return strings.EqualFold(line, "Ticker")
	}
	return false
}

// ConfirmWatch renders the MarkdownV2 confirmation sent right after a watch
// is registered.
func ConfirmWatch(a alert.Alert) string {
	var b strings.Builder
	fmt.Fprintf(&b, "*Watching %s* from `%.2f`\n", escapeMarkdownV2(a.Symbol), a.CreatedPrice)
	for _, lvl := range a.Levels {
		fmt.Fprintf(&b, "%s %s `%.2f`\n", directionArrow(lvl.Direction), escapeMarkdownV2(lvl.Label), lvl.Target)
	}
	return b.String()
}

func CommandWatchList(engine *alert.Engine, chatID int64) string {
	log.Debugf("processing command /watch list for chat %d", chatID)

	var entries []string
	for _, alerts := range engine.Snapshot() {
		for _, a := range alerts {
			if a.Destination.ChatID != chatID {
				continue
			}
			entries = append(entries, watchEntry(a))
		}
	}
	if len(entries) == 0 {
		return escapeMarkdownV2("No active watches in this chat.")
	}

	sort.Strings(entries)
	return strings.Join(entries, "\n")
}

func watchEntry(a alert.Alert) string {
	var b strings.Builder
	fmt.Fprintf(&b, "*%s* \\(registered %s\\)\n", escapeMarkdownV2(a.Symbol), escapeMarkdownV2(humanize.Time(a.CreatedAt)))
	for _, lvl := range a.Levels {
		if lvl.Fired {
			continue
		}
		fmt.Fprintf(&b, "%s %s `%.2f`\n", directionArrow(lvl.Direction), escapeMarkdownV2(lvl.Label), lvl.Target)
	}
	return b.String()
}

func directionArrow(d alert.Direction) string {
	if d == alert.AtOrAbove {
		return "🔺"
	}
	return "🔻"
}
