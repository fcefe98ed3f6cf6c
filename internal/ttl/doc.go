// Package ttl provides a generic expiring key-value store.
//
// Records live for a fixed duration after their last write. A single
// goroutine per Store owns a deadline heap and one timer, so the number of
// pending expiries never turns into a number of sleeping goroutines. Storage
// is sharded; operations on different keys rarely contend.
package ttl
