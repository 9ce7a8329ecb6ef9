// Package storage persists scheduled tasks across process restarts.
//
// It is the durable mirror of the in-memory registry: every create, reschedule
// and cancel is followed by a full Save, and startup does a single Load.
package storage
