// Package cache wraps jellydator/ttlcache with the conventions beacon
// relies on: a fixed lifetime from the moment of writing, no background
// janitor, and a Sweeper interface so the cleanup scheduler is the only
// thing that ever removes an entry.
package cache
