package hooks

import (
	"github.com/mate71pl/meshtastic-matrix-relay/pkg/auth"
)

func (h *RelayHook) validateUser(user, pass string) bool {
	u, ok := h.users[user]
	if !ok {
		return false
	}
	return auth.VerifyPassword(pass, u.Salt, u.PasswordHash)
}
