package auth

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestVerifyPassword(t *testing.T) {
	hash, salt := GenerateHashAndSalt("hunter2")
	require.Len(t, salt, 32)

	require.True(t, VerifyPassword("hunter2", salt, hash))
	require.False(t, VerifyPassword("hunter3", salt, hash))
	require.False(t, VerifyPassword("hunter2", "othersalt", hash))
	require.False(t, VerifyPassword("", "", ""))
}

func TestHashPasswordWithSaltIsStable(t *testing.T) {
	require.Equal(t, HashPasswordWithSalt("pw", "salt"), HashPasswordWithSalt("pw", "salt"))
	require.NotEqual(t, HashPasswordWithSalt("pw", "salt"), HashPasswordWithSalt("pw", "salu"))
}
