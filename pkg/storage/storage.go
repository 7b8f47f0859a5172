// Package storage publishes transfer sources and destinations for script
// commands. Payloads sent to a provider are uploaded to shared storage
// first; the provider fetches them by URL.
package storage

import (
	"context"
	"io"
)

// Source is published content a provider can fetch by URL.
type Source interface {
	// URL is the transfer address handed to the provider.
	URL() string

	// Close withdraws the published content.
	Close(ctx context.Context) error
}

// Destination is a pre-allocated slot a provider can upload results into.
type Destination interface {
	// URL is the transfer address handed to the provider.
	URL() string

	// Open returns the uploaded content for reading.
	Open(ctx context.Context) (io.ReadCloser, error)

	// Bytes reads the uploaded content, failing when it exceeds limit
	// bytes. A zero limit reads without bound.
	Bytes(ctx context.Context, limit int64) ([]byte, error)

	// Close withdraws the slot and its content.
	Close(ctx context.Context) error
}

// Provider publishes sources and allocates destinations on some shared
// storage reachable by both requestor and provider.
type Provider interface {
	// Upload publishes the content of r and returns its source handle.
	Upload(ctx context.Context, r io.Reader) (Source, error)

	// NewDestination allocates an empty slot for a provider-side upload.
	NewDestination(ctx context.Context) (Destination, error)
}
