package chat

import (
	"errors"
	"regexp"
	"strings"
	"unicode/utf8"
)

// Validation constants
const (
	MinUsernameLength = 3
	MaxUsernameLength = 30
	MaxMessageLength  = 5000
)

// Validation errors
var (
	ErrUsernameEmpty    = errors.New("username cannot be empty")
	ErrUsernameTooShort = errors.New("username must be at least 3 characters")
	ErrUsernameTooLong  = errors.New("username exceeds maximum length")
	ErrUsernameInvalid  = errors.New("username can only contain letters, numbers, underscores and hyphens")
	ErrMessageEmpty     = errors.New("message content cannot be empty")
	ErrMessageTooLong   = errors.New("message exceeds maximum length")
	ErrMessageInvalid   = errors.New("message contains invalid characters")
	ErrUsernameTaken    = errors.New("username already taken")
)

var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// NormalizeUsername trims and validates a username.
func NormalizeUsername(username string) (string, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return "", ErrUsernameEmpty
	}
	if len(username) < MinUsernameLength {
		return "", ErrUsernameTooShort
	}
	if len(username) > MaxUsernameLength {
		return "", ErrUsernameTooLong
	}
	if !usernamePattern.MatchString(username) {
		return "", ErrUsernameInvalid
	}
	return username, nil
}

// NormalizeMessage trims and validates message content.
func NormalizeMessage(content string) (string, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return "", ErrMessageEmpty
	}
	if !utf8.ValidString(content) {
		return "", ErrMessageInvalid
	}
	if utf8.RuneCountInString(content) > MaxMessageLength {
		return "", ErrMessageTooLong
	}
	return content, nil
}
