// Package jwt issues and verifies the access tokens returned by credential
// sign-in. Ed25519 is the default algorithm; HS256 is available for setups
// that share a secret with the verifier.
package jwt
