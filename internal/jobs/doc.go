// Package jobs coordinates media descriptors and download jobs.
//
// The Manager is the single writer of both TTL stores. Executors publish
// progress through a Reporter bound to their job; the stream layer moves jobs
// through streaming with BeginStream and EndStream. Every write replaces the
// whole Job value, so readers always see a complete snapshot.
package jobs
