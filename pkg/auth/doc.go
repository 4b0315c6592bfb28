// Package auth verifies the identity that accompanies a WebSocket handshake.
// Session handling lives in the web application; beacon only checks the
// HS256 token it mints (or, with no secret configured, trusts the identity
// header set by a fronting proxy).
package auth
