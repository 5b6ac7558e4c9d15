// Package common contains shared constants and sentinel errors used across
// authcore components.
package common

// AuthorizationHeaderName is the HTTP header used to carry the access token
// on inbound requests ("Bearer <token>").
const AuthorizationHeaderName = "Authorization"

// BearerSchemePrefix is the expected scheme prefix of the Authorization header.
const BearerSchemePrefix = "Bearer "
