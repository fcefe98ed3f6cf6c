// Package stream relays finished jobs to HTTP clients: upstream byte ranges
// for direct locators, concatenated segments for HLS, and one-shot staged
// files that are deleted once the response ends.
package stream
