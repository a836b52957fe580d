// Package interval turns a time-ordered sequence of allocation/free events
// into lifetime intervals over the byte axis, and indexes those intervals
// for fast overlap queries.
//
// It assumes every address fits in a uint64, and that a pool never exceeds
// that range.
package interval
