// Package stores persists runner state and the execution journal.
//
// FileStore and RedisStore implement engine.StateStore. SQLiteJournal
// implements engine.Journal and keeps a queryable history of every step
// attempt across runs.
package stores
