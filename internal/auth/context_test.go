package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFromContext(t *testing.T) {
	_, ok := FromContext(context.Background())
	require.False(t, ok)

	_, ok = FromContext(SetUserID(context.Background(), ""))
	require.False(t, ok)

	id, ok := FromContext(SetUserID(context.Background(), "meister"))
	require.True(t, ok)
	require.Equal(t, Identity{UserID: "meister"}, id)

	id, ok = FromContext(SetAuthContext(context.Background(), "meister", "van-1"))
	require.True(t, ok)
	require.Equal(t, Identity{UserID: "meister", DeviceID: "van-1"}, id)
}
