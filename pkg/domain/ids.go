// Package domain holds typed identifiers shared across the DSR engine.
//
// Request, export, deletion and certificate identifiers are UUID-backed and
// distinct types, so a DeletionID can never be passed where an ExportID is expected.
// Subject identifiers come from the surrounding system and are opaque strings.
package domain

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"

	dErrors "dsrengine/pkg/domain-errors"
)

type (
	RequestID     uuid.UUID
	ExportID      uuid.UUID
	DeletionID    uuid.UUID
	CertificateID uuid.UUID
)

// SubjectID identifies a data subject in the surrounding system.
type SubjectID string

const maxSubjectIDLength = 256

func NewRequestID() RequestID         { return RequestID(uuid.New()) }
func NewExportID() ExportID           { return ExportID(uuid.New()) }
func NewDeletionID() DeletionID       { return DeletionID(uuid.New()) }
func NewCertificateID() CertificateID { return CertificateID(uuid.New()) }

func (id RequestID) String() string     { return uuid.UUID(id).String() }
func (id ExportID) String() string      { return uuid.UUID(id).String() }
func (id DeletionID) String() string    { return uuid.UUID(id).String() }
func (id CertificateID) String() string { return uuid.UUID(id).String() }
func (id SubjectID) String() string     { return string(id) }

func (id RequestID) IsNil() bool     { return uuid.UUID(id) == uuid.Nil }
func (id ExportID) IsNil() bool      { return uuid.UUID(id) == uuid.Nil }
func (id DeletionID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }
func (id CertificateID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }

// Text encoding keeps IDs as canonical UUID strings in JSON and XML.
func (id RequestID) MarshalText() ([]byte, error)     { return []byte(id.String()), nil }
func (id ExportID) MarshalText() ([]byte, error)      { return []byte(id.String()), nil }
func (id DeletionID) MarshalText() ([]byte, error)    { return []byte(id.String()), nil }
func (id CertificateID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }

func (id *RequestID) UnmarshalText(b []byte) error     { return unmarshalUUID(b, (*uuid.UUID)(id)) }
func (id *ExportID) UnmarshalText(b []byte) error      { return unmarshalUUID(b, (*uuid.UUID)(id)) }
func (id *DeletionID) UnmarshalText(b []byte) error    { return unmarshalUUID(b, (*uuid.UUID)(id)) }
func (id *CertificateID) UnmarshalText(b []byte) error { return unmarshalUUID(b, (*uuid.UUID)(id)) }

func unmarshalUUID(b []byte, dst *uuid.UUID) error {
	u, err := uuid.ParseBytes(b)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInvalidInput, "invalid identifier")
	}
	*dst = u
	return nil
}

func ParseRequestID(s string) (RequestID, error) {
	u, err := parseUUID(s, "request ID")
	return RequestID(u), err
}

func ParseExportID(s string) (ExportID, error) {
	u, err := parseUUID(s, "export ID")
	return ExportID(u), err
}

func ParseDeletionID(s string) (DeletionID, error) {
	u, err := parseUUID(s, "deletion ID")
	return DeletionID(u), err
}

func ParseCertificateID(s string) (CertificateID, error) {
	u, err := parseUUID(s, "certificate ID")
	return CertificateID(u), err
}

// ParseSubjectID trims and validates an external subject identifier.
func ParseSubjectID(s string) (SubjectID, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "subject ID is required")
	}
	if len(trimmed) > maxSubjectIDLength {
		return "", dErrors.New(dErrors.CodeInvalidInput, "subject ID is too long")
	}
	if !utf8.ValidString(trimmed) {
		return "", dErrors.New(dErrors.CodeInvalidInput, "subject ID must be valid UTF-8")
	}
	for _, r := range trimmed {
		if unicode.IsControl(r) || r == '\u200b' {
			return "", dErrors.New(dErrors.CodeInvalidInput, "subject ID contains control characters")
		}
	}
	return SubjectID(trimmed), nil
}

func parseUUID(s, label string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, label+" is required")
	}
	if len(s) > 64 || !utf8.ValidString(s) {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "invalid "+label)
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "invalid "+label)
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, label+" cannot be nil")
	}
	return u, nil
}
