package engine

import "strings"

var (
	cancelWords = []string{
		"cancel", "nevermind", "never mind", "forget it", "stop", "abort", "quit", "exit",
	}
	affirmWords = []string{
		"yes", "y", "yeah", "yep", "yup", "sure", "correct", "right", "ok", "okay", "confirm", "that's right", "exactly",
	}
	denyWords = []string{
		"no", "n", "nope", "nah", "wrong", "incorrect", "not that", "that's wrong",
	}
)

func normalizeCommand(text string) string {
	t := strings.ToLower(strings.TrimSpace(text))
	return strings.TrimRight(t, ".!?")
}

// isCancel matches only when the whole turn is a cancel command. A sentence
// that merely contains "stop" is a normal turn.
func isCancel(text string) bool {
	return matchWord(text, cancelWords)
}

func isAffirm(text string) bool {
	return matchWord(text, affirmWords)
}

func isDeny(text string) bool {
	return matchWord(text, denyWords)
}

func matchWord(text string, words []string) bool {
	t := normalizeCommand(text)
	for _, w := range words {
		if t == w {
			return true
		}
	}
	return false
}
