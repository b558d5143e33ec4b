// Package directory persists users, their registered device tokens, and
// their notification preferences.
//
// Two drivers exist: a JSON file backend (default, dependency-free) and an
// optional SQLite backend behind the "sqlite" build tag. The file driver
// keeps everything in memory and writes through on every mutation; the
// SQLite driver additionally caches preferences, which are read on every
// batch flush.
package directory
