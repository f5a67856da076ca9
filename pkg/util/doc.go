// Package util provides shared value-level helpers used across stubd packages:
// structural clones and merges for map-backed configuration, presence checks
// for loosely-typed fields, client identity strings for connection tracking,
// and body truncation for safe logging.
package util
