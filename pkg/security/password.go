package security

import (
	"errors"
	"strconv"
	"unicode"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrHashingFailed = errors.New("password hashing failed")
)

// Requirement is one predicate of the password policy.
type Requirement string

const (
	RequireMinLength Requirement = "min_length"
	RequireMaxLength Requirement = "max_length"
	RequireUpper     Requirement = "uppercase"
	RequireLower     Requirement = "lowercase"
	RequireDigit     Requirement = "digit"
	RequireSpecial   Requirement = "special"
)

// Description is the user-displayable wording of r.
func (r Requirement) Description(p PasswordPolicy) string {
	switch r {
	case RequireMinLength:
		return "at least " + strconv.Itoa(p.MinLength) + " characters"
	case RequireMaxLength:
		return "no more than " + strconv.Itoa(p.maxBytes()) + " bytes"
	case RequireUpper:
		return "an uppercase letter"
	case RequireLower:
		return "a lowercase letter"
	case RequireDigit:
		return "a number"
	case RequireSpecial:
		return "a special character"
	}
	return string(r)
}

// PasswordPolicy is a fixed predicate set evaluated against candidate passwords.
type PasswordPolicy struct {
	MinLength      int  `mapstructure:"min_length"`
	MaxLength      int  `mapstructure:"max_length"`
	RequireUpper   bool `mapstructure:"require_upper"`
	RequireLower   bool `mapstructure:"require_lower"`
	RequireDigit   bool `mapstructure:"require_digit"`
	RequireSpecial bool `mapstructure:"require_special"`
}

// PolicyResult is the outcome of evaluating a password.
type PolicyResult struct {
	Valid bool          `json:"is_valid"`
	Unmet []Requirement `json:"unmet_requirements"`
}

// MaxPasswordBytes is the longest input bcrypt accepts.
const MaxPasswordBytes = 72

// DefaultPasswordPolicy requires 12 characters and every character class.
func DefaultPasswordPolicy() PasswordPolicy {
	return PasswordPolicy{
		MinLength:      12,
		MaxLength:      MaxPasswordBytes,
		RequireUpper:   true,
		RequireLower:   true,
		RequireDigit:   true,
		RequireSpecial: true,
	}
}

// maxBytes is MaxLength capped at what the hasher accepts. Unset means the cap.
func (p PasswordPolicy) maxBytes() int {
	if p.MaxLength <= 0 || p.MaxLength > MaxPasswordBytes {
		return MaxPasswordBytes
	}
	return p.MaxLength
}

// Evaluate checks pw against every predicate. It does no I/O and never panics,
// so it can run on every keystroke.
func (p PasswordPolicy) Evaluate(pw string) PolicyResult {
	var upper, lower, digit, special bool
	n := 0
	for _, r := range pw {
		n++
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r) || unicode.IsSpace(r):
			special = true
		}
	}

	unmet := make([]Requirement, 0, 6)
	if n < p.MinLength {
		unmet = append(unmet, RequireMinLength)
	}
	if len(pw) > p.maxBytes() {
		unmet = append(unmet, RequireMaxLength)
	}
	if p.RequireUpper && !upper {
		unmet = append(unmet, RequireUpper)
	}
	if p.RequireLower && !lower {
		unmet = append(unmet, RequireLower)
	}
	if p.RequireDigit && !digit {
		unmet = append(unmet, RequireDigit)
	}
	if p.RequireSpecial && !special {
		unmet = append(unmet, RequireSpecial)
	}

	return PolicyResult{Valid: len(unmet) == 0, Unmet: unmet}
}

// PasswordHasher provides interface for password operations
type PasswordHasher interface {
	Hash(password string) (string, error)
	Compare(hashedPassword, password string) error
}

type bcryptHasher struct {
	cost int
}

// NewBcryptHasher creates a new password hasher using bcrypt
func NewBcryptHasher(cost int) PasswordHasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &bcryptHasher{cost: cost}
}

func (b *bcryptHasher) Hash(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), b.cost)
	if err != nil {
		return "", ErrHashingFailed
	}
	return string(bytes), nil
}

func (b *bcryptHasher) Compare(hashedPassword, password string) error {
	return bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(password))
}
