package util

import (
	"regexp"
	"strconv"
)

var publicTokenRe = regexp.MustCompile(`^[A-Za-z0-9_-]{1,256}$`)

// ValidatePublicToken reports whether token looks like a Link public token.
func ValidatePublicToken(token string) bool {
	return publicTokenRe.MatchString(token)
}

// ParseID parses a positive numeric path id.
func ParseID(raw string) (int64, bool) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
