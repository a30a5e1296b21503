package gate

import (
	"fmt"
	"html"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

// Subkind identifies which content check rejected a submission.
type Subkind string

const (
	SubkindEmpty      Subkind = "EMPTY"
	SubkindTooLong    Subkind = "TOO_LONG"
	SubkindEmojiOnly  Subkind = "EMOJI_ONLY"
	SubkindWallOfText Subkind = "WALL_OF_TEXT"
	SubkindSpam       Subkind = "SPAM"
	SubkindProfanity  Subkind = "PROFANITY"
)

// ValidationError is terminal for the request that produced it; the
// optimistic engine rolls back and surfaces Message per subkind.
type ValidationError struct {
	Subkind Subkind
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Subkind, e.Message)
}

var urlPattern = regexp.MustCompile(`(?i)\b(https?://|www\.)\S+`)

// Validator applies the active profile's content policy. Free text is
// sanitized (markup stripped) before any check so persisted and
// validated text are the same bytes.
type Validator struct {
	profile   Profile
	sanitizer *bluemonday.Policy
	profanity *regexp.Regexp
}

func NewValidator(profile Profile) *Validator {
	v := &Validator{
		profile:   profile,
		sanitizer: bluemonday.StrictPolicy(),
	}
	if len(profile.ProfanityList) > 0 {
		escaped := make([]string, 0, len(profile.ProfanityList))
		for _, word := range profile.ProfanityList {
			escaped = append(escaped, regexp.QuoteMeta(word))
		}
		v.profanity = regexp.MustCompile(`(?i)\b(` + strings.Join(escaped, "|") + `)\b`)
	}
	return v
}

// ValidateContent sanitizes and checks the idea's two text fields,
// returning the cleaned values to persist. The first failing check
// wins; its error is a *ValidationError.
func (v *Validator) ValidateContent(content, details string) (string, string, error) {
	content = v.Sanitize(content)
	details = v.Sanitize(details)

	if content == "" {
		return "", "", &ValidationError{SubkindEmpty, "content must not be empty"}
	}
	if utf8.RuneCountInString(content) > v.profile.MaxContentLen {
		return "", "", &ValidationError{SubkindTooLong, fmt.Sprintf("content exceeds %d characters", v.profile.MaxContentLen)}
	}
	if utf8.RuneCountInString(details) > v.profile.MaxDetailsLen {
		return "", "", &ValidationError{SubkindTooLong, fmt.Sprintf("details exceed %d characters", v.profile.MaxDetailsLen)}
	}
	if emojiOnly(content) {
		return "", "", &ValidationError{SubkindEmojiOnly, "content must include some text"}
	}
	for _, text := range []string{content, details} {
		if text == "" {
			continue
		}
		if run := longestUnbrokenRun(text); run > v.profile.WallOfTextLen {
			return "", "", &ValidationError{SubkindWallOfText, fmt.Sprintf("unbroken run of %d characters", run)}
		}
		if err := v.checkSpam(text); err != nil {
			return "", "", err
		}
		if v.profanity != nil && v.profanity.MatchString(text) {
			return "", "", &ValidationError{SubkindProfanity, "content contains blocked language"}
		}
	}
	return content, details, nil
}

// Sanitize strips markup and executable content from free text and
// normalizes surrounding whitespace.
func (v *Validator) Sanitize(text string) string {
	// bluemonday escapes entities after stripping tags; unescape so
	// plain text like "a & b" round-trips.
	return strings.TrimSpace(html.UnescapeString(v.sanitizer.Sanitize(text)))
}

func (v *Validator) checkSpam(text string) error {
	if !v.profile.AllowURLs && urlPattern.MatchString(text) {
		return &ValidationError{SubkindSpam, "links are not allowed"}
	}
	if run := longestRepeatRun(text); run > v.profile.MaxRepeatRun {
		return &ValidationError{SubkindSpam, fmt.Sprintf("character repeated %d times", run)}
	}
	letters, uppers := 0, 0
	for _, r := range text {
		if unicode.IsLetter(r) {
			letters++
			if unicode.IsUpper(r) {
				uppers++
			}
		}
	}
	if letters >= v.profile.MinLettersForRatio &&
		float64(uppers)/float64(letters) > v.profile.MaxUppercaseRatio {
		return &ValidationError{SubkindSpam, "excessive capitalization"}
	}
	return nil
}

// emojiOnly reports whether non-empty text consists solely of emoji,
// symbols and whitespace.
func emojiOnly(text string) bool {
	for _, r := range text {
		if unicode.IsSpace(r) {
			continue
		}
		if !isEmoji(r) {
			return false
		}
	}
	return true
}

func isEmoji(r rune) bool {
	switch {
	case r >= 0x1F000 && r <= 0x1FAFF: // pictographs, transport, supplemental
		return true
	case r >= 0x2600 && r <= 0x27BF: // misc symbols, dingbats
		return true
	case r >= 0x2190 && r <= 0x21FF: // arrows
		return true
	case r == 0x200D || (r >= 0xFE00 && r <= 0xFE0F): // ZWJ, variation selectors
		return true
	case r >= 0x1F1E6 && r <= 0x1F1FF: // regional indicators
		return true
	}
	return false
}

func longestUnbrokenRun(text string) int {
	longest, current := 0, 0
	for _, r := range text {
		if unicode.IsSpace(r) || unicode.IsPunct(r) {
			current = 0
			continue
		}
		current++
		if current > longest {
			longest = current
		}
	}
	return longest
}

func longestRepeatRun(text string) int {
	longest, current := 0, 0
	var prev rune = -1
	for _, r := range text {
		if r == prev {
			current++
		} else {
			current = 1
			prev = r
		}
		if current > longest {
			longest = current
		}
	}
	return longest
}
