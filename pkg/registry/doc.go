// Package registry tracks which connections are subscribed to which topics.
// It holds connection ids only, so removing a connection never has to touch
// the connection itself.
package registry
