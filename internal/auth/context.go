// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"context"
)

type contextKey string

const (
	deviceIDKey contextKey = "device_id"
	userIDKey   contextKey = "user_id"
)

// SetDeviceID sets the device ID in the context
func SetDeviceID(ctx context.Context, deviceID string) context.Context {
	return context.WithValue(ctx, deviceIDKey, deviceID)
}

// GetDeviceID retrieves the device ID from the context
func GetDeviceID(ctx context.Context) (string, bool) {
	deviceID, ok := ctx.Value(deviceIDKey).(string)
	return deviceID, ok
}

// SetUserID sets the user ID in the context
func SetUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// GetUserID retrieves the user ID from the context
func GetUserID(ctx context.Context) (string, bool) {
	userID, ok := ctx.Value(userIDKey).(string)
	return userID, ok
}

// SetAuthContext sets both user and device ID in context
func SetAuthContext(ctx context.Context, userID, deviceID string) context.Context {
	ctx = SetUserID(ctx, userID)
	ctx = SetDeviceID(ctx, deviceID)
	return ctx
}

// Identity is the authenticated caller of a request
type Identity struct {
	UserID   string
	DeviceID string
}

// FromContext returns the caller placed on ctx by SetAuthContext. It reports
// false when no non-empty user id is present; the device id may be empty.
func FromContext(ctx context.Context) (Identity, bool) {
	userID, ok := GetUserID(ctx)
	if !ok || userID == "" {
		return Identity{}, false
	}
	deviceID, _ := GetDeviceID(ctx)
	return Identity{UserID: userID, DeviceID: deviceID}, true
}
