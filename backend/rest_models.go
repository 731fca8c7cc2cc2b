// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package backend

import "github.com/reid15halo-ops/Local-Buisness-automizer-sub002/remote"

// ErrorResponse is the JSON body of every non-2xx response
type ErrorResponse = remote.ErrorResponse

// HealthResponse is returned by GET /health
type HealthResponse struct {
	Status string `json:"status"`
	Time   string `json:"time"`
}

// TokenRequest is accepted by the sign-in endpoint of the example server
type TokenRequest struct {
	User   string `json:"user"`
	Device string `json:"device"`
}

// TokenResponse carries a freshly minted JWT
type TokenResponse struct {
	Token     string `json:"token"`
	ExpiresIn int    `json:"expires_in"` // seconds
}
