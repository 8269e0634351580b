package http

import (
	"strconv"
	"strings"
)

const maxFormBytes = 64 << 10

// sanitizeInput drops control characters other than tab and newlines and
// trims surrounding whitespace.
func sanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	return strings.Map(func(r rune) rune {
		if (r < 32 && r != '\t' && r != '\n' && r != '\r') || r == 0x7f {
			return -1
		}
		return r
	}, s)
}

// statusURL is the review form target for a claim.
func statusURL(id int64) string {
	return "/expenses/" + strconv.FormatInt(id, 10) + "/status"
}
