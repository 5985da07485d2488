package mtproto

import (
	"errors"
	"fmt"

	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/tgerr"

	"github.com/flemzord/tgmonitor/internal/bridge"
)

// errorMap translates RPC error types into bridge sentinels.
var errorMap = map[string]error{
	"PHONE_CODE_INVALID":       bridge.ErrCodeInvalid,
	"PHONE_CODE_EMPTY":         bridge.ErrCodeInvalid,
	"PHONE_CODE_EXPIRED":       bridge.ErrCodeExpired,
	"SESSION_PASSWORD_NEEDED":  bridge.ErrPasswordNeeded,
	"PASSWORD_HASH_INVALID":    bridge.ErrPasswordInvalid,
	"USER_ALREADY_PARTICIPANT": bridge.ErrAlreadyMember,
	"INVITE_HASH_EXPIRED":      bridge.ErrInviteExpired,
	"INVITE_HASH_INVALID":      bridge.ErrInviteInvalid,
	"INVITE_HASH_EMPTY":        bridge.ErrInviteInvalid,
	"USERNAME_NOT_OCCUPIED":    bridge.ErrPeerNotFound,
	"USERNAME_INVALID":         bridge.ErrPeerNotFound,
	"PEER_ID_INVALID":          bridge.ErrPeerNotFound,
	"CHANNEL_INVALID":          bridge.ErrPeerNotFound,
	"CHANNEL_PRIVATE":          bridge.ErrPeerNotFound,
	"AUTH_KEY_UNREGISTERED":    bridge.ErrNotAuthorized,
	"SESSION_REVOKED":          bridge.ErrNotAuthorized,
	"USER_DEACTIVATED":         bridge.ErrNotAuthorized,
}

// mapError wraps err with the matching bridge error so callers can use
// errors.Is without knowing the client.
func mapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if d, ok := tgerr.AsFloodWait(err); ok {
		return &bridge.RateLimitError{Wait: d}
	}
	switch {
	case errors.Is(err, auth.ErrPasswordAuthNeeded):
		return fmt.Errorf("mtproto: %s: %w", op, bridge.ErrPasswordNeeded)
	case errors.Is(err, auth.ErrPasswordInvalid):
		return fmt.Errorf("mtproto: %s: %w", op, bridge.ErrPasswordInvalid)
	}
	var rpcErr *tgerr.Error
	if errors.As(err, &rpcErr) {
		if sentinel, ok := errorMap[rpcErr.Type]; ok {
			return fmt.Errorf("mtproto: %s: %w", op, sentinel)
		}
	}
	return fmt.Errorf("mtproto: %s: %w", op, err)
}
