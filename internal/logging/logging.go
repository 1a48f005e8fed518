// Package logging provides slog attribute helpers with consistent key names.
package logging

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"strings"
)

// Common log attribute keys.
const (
	KeyOperation = "operation"
	KeySession   = "session_id"
	KeyAction    = "action"
	KeyPhase     = "phase"
	KeyMeeting   = "meeting_id"
	KeyUserHash  = "user_hash"
	KeyError     = "error"
)

// Operation returns an attribute naming the operation.
func Operation(op string) slog.Attr {
	return slog.String(KeyOperation, op)
}

// Session returns an attribute for the negotiation session id.
func Session(id string) slog.Attr {
	return slog.String(KeySession, id)
}

// Action returns an attribute for a negotiation outcome.
func Action(action string) slog.Attr {
	return slog.String(KeyAction, action)
}

// Meeting returns an attribute for a meeting id.
func Meeting(id string) slog.Attr {
	return slog.String(KeyMeeting, id)
}

// Err returns an error attribute, or an empty group that slog omits when err
// is nil.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Group("")
	}
	return slog.String(KeyError, err.Error())
}

// AnonymizeEmail hashes an address so log lines can be correlated without
// exposing it.
func AnonymizeEmail(email string) string {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return ""
	}
	hash := sha256.Sum256([]byte(email))
	return "user:" + hex.EncodeToString(hash[:8])
}

// UserHash returns an attribute with the anonymized email.
func UserHash(email string) slog.Attr {
	return slog.String(KeyUserHash, AnonymizeEmail(email))
}
