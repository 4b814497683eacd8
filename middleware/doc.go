// Package middleware holds the HTTP middleware used by the reference backend:
// bearer-token authentication for access tokens issued at sign-in and request
// logging.
package middleware
