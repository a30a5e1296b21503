package gate

import (
	"errors"
	"strings"
	"testing"
)

func rejectSubkind(t *testing.T, err error) Subkind {
	t.Helper()
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	return verr.Subkind
}

func TestValidateContentAccepts(t *testing.T) {
	v := NewValidator(Lenient())
	content, details, err := v.ValidateContent("Ship the quadrant view", "Covers drag, drop and lock feedback.")
	if err != nil {
		t.Fatalf("expected accept, got %v", err)
	}
	if content != "Ship the quadrant view" {
		t.Errorf("content mangled: %q", content)
	}
	if details == "" {
		t.Error("details dropped")
	}
}

func TestValidateContentLengthCeilings(t *testing.T) {
	v := NewValidator(Lenient())

	long := strings.Repeat("idea ", 100) // 500 chars > 280 ceiling
	if _, _, err := v.ValidateContent(long, ""); rejectSubkind(t, err) != SubkindTooLong {
		t.Error("over-length content not rejected as TOO_LONG")
	}

	// Details ceiling is independent of the content ceiling.
	longDetails := strings.Repeat("word ", 500)
	if _, _, err := v.ValidateContent("fine", longDetails); rejectSubkind(t, err) != SubkindTooLong {
		t.Error("over-length details not rejected as TOO_LONG")
	}
}

func TestValidateContentEmpty(t *testing.T) {
	v := NewValidator(Lenient())

	// Whitespace and markup-only submissions sanitize down to nothing.
	for _, text := range []string{"", "   ", "<b></b>"} {
		if _, _, err := v.ValidateContent(text, ""); rejectSubkind(t, err) != SubkindEmpty {
			t.Errorf("%q not rejected as EMPTY", text)
		}
	}
}

func TestValidateContentEmojiOnly(t *testing.T) {
	v := NewValidator(Lenient())

	for _, text := range []string{"🚀🔥✨", "  🎉  "} {
		if _, _, err := v.ValidateContent(text, ""); rejectSubkind(t, err) != SubkindEmojiOnly {
			t.Errorf("%q not rejected as EMOJI_ONLY", text)
		}
	}

	// Emoji mixed with real text is fine.
	if _, _, err := v.ValidateContent("ship it 🚀", ""); err != nil {
		t.Errorf("emoji with text rejected: %v", err)
	}
}

func TestValidateContentWallOfText(t *testing.T) {
	v := NewValidator(Lenient())

	wall := strings.Repeat("ab", 80) // 160 unbroken chars > 120
	if _, _, err := v.ValidateContent(wall, ""); rejectSubkind(t, err) != SubkindWallOfText {
		t.Error("unbroken run not rejected as WALL_OF_TEXT")
	}
}

func TestValidateContentSpam(t *testing.T) {
	lenient := NewValidator(Lenient())
	strict := NewValidator(Strict())

	// URLs: allowed on the lenient profile, spam on strict.
	withURL := "see https://example.com/pitch for details"
	if _, _, err := lenient.ValidateContent(withURL, ""); err != nil {
		t.Errorf("lenient rejected URL: %v", err)
	}
	if _, _, err := strict.ValidateContent(withURL, ""); rejectSubkind(t, err) != SubkindSpam {
		t.Error("strict did not reject URL as SPAM")
	}

	if _, _, err := lenient.ValidateContent("soooooooooooooo good", ""); rejectSubkind(t, err) != SubkindSpam {
		t.Error("character repetition not rejected as SPAM")
	}

	shouting := "THIS IS THE MOST IMPORTANT IDEA WE HAVE EVER HAD HERE"
	if _, _, err := strict.ValidateContent(shouting, ""); rejectSubkind(t, err) != SubkindSpam {
		t.Error("all-caps not rejected as SPAM on strict")
	}
}

func TestValidateContentProfanity(t *testing.T) {
	v := NewValidator(Lenient())

	if _, _, err := v.ValidateContent("this plan is bullshit", ""); rejectSubkind(t, err) != SubkindProfanity {
		t.Error("profanity not rejected")
	}
	if _, _, err := v.ValidateContent("This Plan Is BULLSHIT", ""); rejectSubkind(t, err) != SubkindProfanity {
		t.Error("profanity match is not case-insensitive")
	}
	// Word-boundary match: no Scunthorpe problem.
	if _, _, err := v.ValidateContent("review the class hierarchy", ""); err != nil {
		t.Errorf("substring false positive: %v", err)
	}
}

func TestSanitizeStripsMarkup(t *testing.T) {
	v := NewValidator(Lenient())

	content, _, err := v.ValidateContent(`improve onboarding <script>alert("x")</script> flow`, "")
	if err != nil {
		t.Fatalf("sanitized content rejected: %v", err)
	}
	if strings.Contains(content, "<script>") || strings.Contains(content, "alert") {
		t.Errorf("script content survived sanitization: %q", content)
	}

	content, _, err = v.ValidateContent("<b>bold</b> claim about A & B", "")
	if err != nil {
		t.Fatalf("markup content rejected: %v", err)
	}
	if content != "bold claim about A & B" {
		t.Errorf("sanitize got %q, want tags stripped and entities restored", content)
	}
}
