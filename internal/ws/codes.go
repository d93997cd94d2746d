package ws

import (
	"errors"

	"github.com/gebre-tech/backend/internal/auth"
	"github.com/gebre-tech/backend/internal/chat"
)

// Close codes are part of the wire contract: client UIs branch on them to
// decide between "retry with a new credential" and "give up". Do not renumber.
const (
	CloseNoCredential      = 4001 // no token supplied
	CloseCredentialExpired = 4002 // token expired; a refreshed token may work
	CloseCredentialInvalid = 4003 // token malformed or unverifiable
	CloseNotParticipant    = 4004 // authenticated user is not a participant
	CloseNotFound          = 4005 // conversation does not exist
	CloseWrongKind         = 4006 // direct conversation on the group endpoint or vice versa
	CloseNoMemberships     = 4007 // "all groups" endpoint with zero memberships
	CloseInvalidChannel    = 4008 // channel name derived from input is invalid
	CloseInternal          = 1011
)

func authCloseCode(err error) int {
	switch {
	case errors.Is(err, auth.ErrNoToken):
		return CloseNoCredential
	case errors.Is(err, auth.ErrTokenExpired):
		return CloseCredentialExpired
	default:
		return CloseCredentialInvalid
	}
}

func resolveCloseCode(err error) int {
	switch {
	case errors.Is(err, chat.ErrConversationNotFound):
		return CloseNotFound
	case errors.Is(err, chat.ErrNotParticipant):
		return CloseNotParticipant
	case errors.Is(err, chat.ErrWrongKind):
		return CloseWrongKind
	case errors.Is(err, chat.ErrNoMemberships):
		return CloseNoMemberships
	default:
		return CloseInternal
	}
}
