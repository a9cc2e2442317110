package helpers

import (
	"strings"
)

func EscapeMarkdownV2(text string) string {
	charactersToEscape := []string{".", "-", "_", "*", "[", "]", "(", ")", "~", "`", ">", "#", "+", "=", "|", "{", "}", "!"}

	for _, char := range charactersToEscape {
		text = strings.ReplaceAll(text, char, "\\"+char)
	}
	return text
}

// NeutralizeMentions breaks @mentions with a zero width space so relayed text
// cannot ping anyone.
func NeutralizeMentions(text string) string {
	return strings.ReplaceAll(text, "@", "@​")
}
