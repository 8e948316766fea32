// Package sentinel names the storage facts services translate into coded
// errors. Stores return them, optionally wrapped; validation failures use
// pkg/domain-errors instead.
package sentinel

import "errors"

var (
	// ErrNotFound: no request, job, session, certificate or audit event with that key.
	ErrNotFound = errors.New("not found")
	// ErrConflict: a stale version, a duplicate ID, a second READY export
	// for one request, or an audit chain head that moved underneath the writer.
	ErrConflict = errors.New("conflict")
	// ErrExpired: the export passed its retention window before the download.
	ErrExpired = errors.New("expired")
)
