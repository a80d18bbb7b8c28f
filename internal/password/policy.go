package password

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/crypto/bcrypt"
)

const (
	DefaultCost          = 12
	DefaultTempLength    = 12
	MinTemporaryLength   = 8
	maxBcryptBytes       = 72
	maxGenerationRetries = 32
)

const (
	lowerChars  = "abcdefghijklmnopqrstuvwxyz"
	upperChars  = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	digitChars  = "0123456789"
	symbolChars = "!@#$%^&*()-_=+[]{}?"
)

var ErrInvalidInput = errors.New("invalid password input")

type Config struct {
	Cost int
}

// Policy hashes, verifies, scores and generates passwords. It holds no
// mutable state and is safe for concurrent use.
type Policy struct {
	cost int
}

func NewPolicy(cfg Config) (*Policy, error) {
	cost := cfg.Cost
	if cost == 0 {
		cost = DefaultCost
	}
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return nil, fmt.Errorf("bcrypt cost must be between %d and %d", bcrypt.MinCost, bcrypt.MaxCost)
	}
	return &Policy{cost: cost}, nil
}

func (p *Policy) Cost() int {
	return p.cost
}

func (p *Policy) Hash(password string) (string, error) {
	if password == "" {
		return "", fmt.Errorf("%w: password is required", ErrInvalidInput)
	}
	if len(password) > maxBcryptBytes {
		return "", fmt.Errorf("%w: password exceeds %d bytes", ErrInvalidInput, maxBcryptBytes)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), p.cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}

	return string(hash), nil
}

// Verify reports whether password matches hash. Empty or malformed input is
// a mismatch, never an error.
func (p *Policy) Verify(password, hash string) bool {
	if password == "" || hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

func (p *Policy) GenerateTemporary(length int) (string, error) {
	if length < MinTemporaryLength {
		return "", fmt.Errorf("%w: temporary password length must be at least %d", ErrInvalidInput, MinTemporaryLength)
	}

	var candidate string
	for i := 0; i < maxGenerationRetries; i++ {
		generated, err := generate(length)
		if err != nil {
			return "", err
		}
		candidate = generated
		if ScoreStrength(candidate).Checks.NoCommonPatterns {
			break
		}
	}

	return candidate, nil
}

func generate(length int) (string, error) {
	classes := []string{lowerChars, upperChars, digitChars, symbolChars}
	all := lowerChars + upperChars + digitChars + symbolChars

	out := make([]byte, 0, length)
	for _, class := range classes {
		c, err := pick(class)
		if err != nil {
			return "", err
		}
		out = append(out, c)
	}
	for len(out) < length {
		c, err := pick(all)
		if err != nil {
			return "", err
		}
		out = append(out, c)
	}

	for i := len(out) - 1; i > 0; i-- {
		j, err := randInt(i + 1)
		if err != nil {
			return "", err
		}
		out[i], out[j] = out[j], out[i]
	}

	return string(out), nil
}

func pick(set string) (byte, error) {
	i, err := randInt(len(set))
	if err != nil {
		return 0, err
	}
	return set[i], nil
}

func randInt(n int) (int, error) {
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0, fmt.Errorf("read random: %w", err)
	}
	return int(v.Int64()), nil
}

type Tier string

const (
	TierWeak       Tier = "weak"
	TierMedium     Tier = "medium"
	TierStrong     Tier = "strong"
	TierVeryStrong Tier = "very-strong"
)

type Checks struct {
	MinLength        bool `json:"minLength"`
	Lowercase        bool `json:"lowercase"`
	Uppercase        bool `json:"uppercase"`
	Digit            bool `json:"digit"`
	Symbol           bool `json:"symbol"`
	NoCommonPatterns bool `json:"noCommonPatterns"`
}

type Strength struct {
	Valid       bool     `json:"valid"`
	Tier        Tier     `json:"tier"`
	Score       int      `json:"score"`
	Checks      Checks   `json:"checks"`
	Suggestions []string `json:"suggestions"`
}

// AtLeast reports whether s is rated t or higher.
func (s Strength) AtLeast(t Tier) bool {
	return tierRank(s.Tier) >= tierRank(t)
}

func tierRank(t Tier) int {
	switch t {
	case TierMedium:
		return 1
	case TierStrong:
		return 2
	case TierVeryStrong:
		return 3
	default:
		return 0
	}
}

var commonWords = []string{"password", "admin", "qwerty", "login"}

func ScoreStrength(password string) Strength {
	if password == "" {
		return Strength{
			Tier:        TierWeak,
			Suggestions: []string{"password is required"},
		}
	}

	length := utf8.RuneCountInString(password)
	checks := Checks{MinLength: length >= 8}
	for _, r := range password {
		switch {
		case unicode.IsLower(r):
			checks.Lowercase = true
		case unicode.IsUpper(r):
			checks.Uppercase = true
		case unicode.IsDigit(r):
			checks.Digit = true
		case !unicode.IsLetter(r) && !unicode.IsSpace(r):
			checks.Symbol = true
		}
	}
	checks.NoCommonPatterns = !hasCommonPattern(password)

	score := 0
	suggestions := make([]string, 0, 6)
	if checks.MinLength {
		score += 2
	} else {
		suggestions = append(suggestions, "use at least 8 characters")
	}
	if checks.Lowercase {
		score++
	} else {
		suggestions = append(suggestions, "add lowercase letters")
	}
	if checks.Uppercase {
		score++
	} else {
		suggestions = append(suggestions, "add uppercase letters")
	}
	if checks.Digit {
		score++
	} else {
		suggestions = append(suggestions, "add numbers")
	}
	if checks.Symbol {
		score += 2
	} else {
		suggestions = append(suggestions, "add symbols such as !@#$%")
	}
	if checks.NoCommonPatterns {
		score++
	} else {
		suggestions = append(suggestions, "avoid repeated characters, sequences and common words")
	}
	if length >= 12 {
		score++
	}
	if length >= 16 {
		score++
	}

	return Strength{
		Valid:       score >= 6 && checks.MinLength && checks.Lowercase && checks.Uppercase && checks.Digit,
		Tier:        tierFor(score),
		Score:       score,
		Checks:      checks,
		Suggestions: suggestions,
	}
}

func tierFor(score int) Tier {
	switch {
	case score <= 3:
		return TierWeak
	case score <= 5:
		return TierMedium
	case score <= 7:
		return TierStrong
	default:
		return TierVeryStrong
	}
}

func hasCommonPattern(password string) bool {
	lower := strings.ToLower(password)
	for _, word := range commonWords {
		if strings.Contains(lower, word) {
			return true
		}
	}

	runes := []rune(lower)
	return hasRepeatedRun(runes) || hasRepeatedSequence(runes) || hasAscendingDigits(runes)
}

// hasRepeatedRun matches three or more identical consecutive characters.
func hasRepeatedRun(runes []rune) bool {
	for i := 2; i < len(runes); i++ {
		if runes[i] == runes[i-1] && runes[i] == runes[i-2] {
			return true
		}
	}
	return false
}

// hasRepeatedSequence matches a 2-4 character chunk immediately repeated ("abab", "123123").
func hasRepeatedSequence(runes []rune) bool {
	for size := 2; size <= 4; size++ {
		for i := 0; i+2*size <= len(runes); i++ {
			if string(runes[i:i+size]) == string(runes[i+size:i+2*size]) {
				return true
			}
		}
	}
	return false
}

func hasAscendingDigits(runes []rune) bool {
	for i := 2; i < len(runes); i++ {
		a, b, c := runes[i-2], runes[i-1], runes[i]
		if a >= '0' && a <= '7' && b == a+1 && c == b+1 {
			return true
		}
	}
	return false
}
