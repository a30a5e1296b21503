// Package gate is the admission layer in front of the store: content
// policy, sliding-window rate limiting, and session capacity.
package gate

import "time"

// Profile is the full set of gatekeeper thresholds. Profiles are plain
// data selected at startup so both can be exercised deterministically;
// none of the logic reads the environment.
type Profile struct {
	Name string

	// Content validation
	MaxContentLen int
	MaxDetailsLen int
	// WallOfTextLen is the longest allowed run of characters with no
	// whitespace or punctuation.
	WallOfTextLen int
	// MaxRepeatRun is the longest allowed run of one repeated character.
	MaxRepeatRun int
	// MaxUppercaseRatio rejects text whose letters are shouting. Only
	// applied above MinLettersForRatio letters.
	MaxUppercaseRatio  float64
	MinLettersForRatio int
	AllowURLs          bool
	ProfanityList      []string

	// Rate limiting
	RateLimit     int
	RateWindow    time.Duration
	MaxViolations int
	RateCooldown  time.Duration

	// Capacity
	SessionCapacity int
}

var baseProfanity = []string{
	"asshole", "bastard", "bitch", "bullshit", "cunt", "dick",
	"fuck", "motherfucker", "piss", "shit", "slut", "whore",
}

// Lenient is the baseline profile used in early-stage deployments.
func Lenient() Profile {
	return Profile{
		Name:               "lenient",
		MaxContentLen:      280,
		MaxDetailsLen:      2000,
		WallOfTextLen:      120,
		MaxRepeatRun:       12,
		MaxUppercaseRatio:  0.95,
		MinLettersForRatio: 30,
		AllowURLs:          true,
		ProfanityList:      baseProfanity,
		RateLimit:          6,
		RateWindow:         60 * time.Second,
		MaxViolations:      3,
		RateCooldown:       5 * time.Minute,
		SessionCapacity:    50,
	}
}

// Strict tightens every ceiling for abuse-prone deployments.
func Strict() Profile {
	p := Lenient()
	p.Name = "strict"
	p.MaxContentLen = 140
	p.MaxDetailsLen = 1000
	p.WallOfTextLen = 60
	p.MaxRepeatRun = 6
	p.MaxUppercaseRatio = 0.7
	p.MinLettersForRatio = 15
	p.AllowURLs = false
	p.RateLimit = 4
	p.SessionCapacity = 25
	return p
}

// ProfileByName resolves a configured profile name, defaulting to
// lenient for anything unrecognized.
func ProfileByName(name string) Profile {
	if name == "strict" {
		return Strict()
	}
	return Lenient()
}
