// Package claude manages long-lived local Claude CLI sessions keyed by
// sender ID.
//
// Each key owns one child process and a serialization lock, so concurrent
// requests for the same key queue instead of interleaving writes on the
// same pipe. Dead processes are replaced transparently, and a background
// reaper evicts sessions that have been idle past a threshold. All state
// is in-memory; sessions are rebuilt lazily after a restart.
package claude
