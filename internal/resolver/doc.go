// Package resolver wraps a provider behind a call that always yields a
// MediaDescriptor. It owns URL normalization, source selection, and filename
// sanitization.
package resolver
