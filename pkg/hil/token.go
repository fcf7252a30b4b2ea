package hil

import (
	"regexp"
	"slices"
	"strings"
	"unicode"
)

var tokenPattern = regexp.MustCompile(`\[ref:([0-9a-fA-F-]{36})\]`)

// WithToken appends the correlation token of an interaction to an outbound
// message, so a reply quoting it can be matched on channels without threading.
func WithToken(message, token string) string {
	if token == "" || strings.Contains(message, "[ref:"+token+"]") {
		return message
	}

	return strings.TrimRight(message, " \n") + "\n\n[ref:" + token + "]"
}

// ExtractToken returns the first correlation token quoted in text.
func ExtractToken(text string) (string, bool) {
	match := tokenPattern.FindStringSubmatch(text)
	if match == nil {
		return "", false
	}

	return strings.ToLower(match[1]), true
}

// StripToken removes quoted correlation tokens from a reply.
func StripToken(text string) string {
	return strings.TrimSpace(tokenPattern.ReplaceAllString(text, ""))
}

var (
	approvalWords = []string{"approve", "approved", "yes", "y", "ok", "okay", "lgtm", "accept", "accepted", "confirm", "confirmed", "sure"}
	rejectWords   = []string{"reject", "rejected", "no", "n", "deny", "denied", "decline", "declined", "stop", "cancel"}
	negations     = []string{"not", "don't", "dont", "never", "can't", "cannot", "won't"}
	softeners     = []string{"problem", "problems", "worries", "objection", "objections", "issue", "issues"}
)

// approves reads an approval decision from free text. The first decisive word or
// phrase wins, so "no problem, approved" approves. A leading "no" followed by a
// softener agrees, and a negation in front of an approval word rejects: "no, do
// not approve" and "I don't approve" are rejections.
func approves(text string) bool {
	text = strings.ReplaceAll(strings.ToLower(text), "’", "'")
	words := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && r != '\''
	})

	for i, word := range words {
		word = strings.Trim(word, "'")
		next := ""

		if i+1 < len(words) {
			next = strings.Trim(words[i+1], "'")
		}

		switch {
		case word == "no" && slices.Contains(softeners, next):
			return true
		case word == "go" && next == "ahead":
			return true
		case slices.Contains(negations, word) && slices.Contains(approvalWords, next):
			return false
		case slices.Contains(rejectWords, word):
			return false
		case slices.Contains(approvalWords, word):
			return true
		}
	}

	return false
}
