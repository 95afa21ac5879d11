// Package events defines the typed events the engine publishes on the
// internal event bus. Subscribers get an audit trail of expansion, grouping
// and assignment activity without coupling to the packages producing it.
package events
