package types

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	maxUserIDLength = 100
	maxTextLength   = 1000
)

var userIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// IsValidUserID checks the identifier format used to key connections,
// sessions and messages.
func IsValidUserID(userID string) bool {
	if len(userID) < 1 || len(userID) > maxUserIDLength {
		return false
	}
	return userIDRegex.MatchString(userID)
}

// ValidateText checks user-authored chat text after trimming. Text must be
// 1-1000 characters.
func ValidateText(text string) error {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return ErrEmptyText
	}
	if utf8.RuneCountInString(trimmed) > maxTextLength {
		return ErrTextTooLong
	}
	return nil
}
