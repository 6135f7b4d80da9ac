package relay

import (
	"errors"
	"strings"

	"google.golang.org/api/googleapi"
)

// Rejection classifies why the relay transport refused a message.
type Rejection int

const (
	// RejectNone means the error is nil.
	RejectNone Rejection = iota
	// RejectDuplicate means the same content was posted too recently.
	RejectDuplicate
	// RejectRateLimited means the platform throttled the bot.
	RejectRateLimited
	// RejectAuth means the token is missing, expired or lacks scope.
	RejectAuth
	// RejectOther covers everything else.
	RejectOther
)

// String returns a human-readable name for the rejection.
func (r Rejection) String() string {
	switch r {
	case RejectNone:
		return "none"
	case RejectDuplicate:
		return "duplicate"
	case RejectRateLimited:
		return "rate_limited"
	case RejectAuth:
		return "auth"
	default:
		return "other"
	}
}

// Classify maps a transport error to a Rejection. API error reasons are
// checked first, then the message text.
func Classify(err error) Rejection {
	if err == nil {
		return RejectNone
	}

	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		for _, item := range gerr.Errors {
			switch item.Reason {
			case "duplicate", "duplicateMessage", "liveChatMessageDuplicate":
				return RejectDuplicate
			case "rateLimitExceeded", "userRateLimitExceeded", "quotaExceeded":
				return RejectRateLimited
			case "authError", "insufficientPermissions", "forbidden":
				return RejectAuth
			}
		}
		switch gerr.Code {
		case 429:
			return RejectRateLimited
		case 401, 403:
			return RejectAuth
		}
	}

	lower := strings.ToLower(err.Error())
	if strings.Contains(lower, "status is a duplicate") ||
		strings.Contains(lower, "duplicate") ||
		strings.Contains(lower, "already been posted") {
		return RejectDuplicate
	}
	if strings.Contains(lower, "rate limit") ||
		strings.Contains(lower, "too many requests") ||
		strings.Contains(lower, "quota") {
		return RejectRateLimited
	}
	if strings.Contains(lower, "no youtube token") ||
		strings.Contains(lower, "unauthorized") ||
		strings.Contains(lower, "invalid_grant") {
		return RejectAuth
	}
	return RejectOther
}

// IsDuplicate reports whether err is a duplicate-content rejection.
func IsDuplicate(err error) bool { return Classify(err) == RejectDuplicate }
