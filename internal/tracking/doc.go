// Package tracking builds and resolves the tracked URLs embedded in outbound
// email, rewrites message HTML to carry them, and serves the open, click and
// unsubscribe endpoints those URLs point at.
//
// Tokens are HMAC-signed and bound to a message id (and, for clicks, the
// original URL), so the HTTP endpoints need no database lookup to validate a
// request.
package tracking
