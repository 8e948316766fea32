package models

import (
	"strings"
	"time"

	"dsrengine/pkg/domain"
)

type Format string

const (
	FormatJSON Format = "JSON"
	FormatCSV  Format = "CSV"
	FormatXML  Format = "XML"
)

// ParseFormat accepts any casing; empty input defaults to JSON.
func ParseFormat(s string) (Format, bool) {
	switch Format(strings.ToUpper(strings.TrimSpace(s))) {
	case "", FormatJSON:
		return FormatJSON, true
	case FormatCSV:
		return FormatCSV, true
	case FormatXML:
		return FormatXML, true
	}
	return "", false
}

type Status string

const (
	StatusReady   Status = "READY"
	StatusExpired Status = "EXPIRED"
)

// KDFParams are the key-derivation settings stored with the job so the
// subject can re-derive the key.
type KDFParams struct {
	Algorithm string `json:"algorithm"`
	Time      uint32 `json:"time"`
	MemoryKiB uint32 `json:"memory_kib"`
	Threads   uint8  `json:"threads"`
	KeyLen    uint32 `json:"key_len"`
}

// CipherParams describe the authenticated encryption applied to the package.
type CipherParams struct {
	Algorithm string `json:"algorithm"`
	Nonce     []byte `json:"nonce"`
}

// ExportJob is a produced export. It never holds the password or the derived key.
type ExportJob struct {
	ID              domain.ExportID  `json:"export_id"`
	RequestID       domain.RequestID `json:"request_id"`
	Format          Format           `json:"format"`
	Status          Status           `json:"status"`
	Salt            []byte           `json:"salt"`
	KDF             KDFParams        `json:"kdf"`
	Cipher          CipherParams     `json:"cipher"`
	BlobKey         string           `json:"-"`
	Size            int64            `json:"size"`
	ItemCount       int              `json:"item_count"`
	CreatedAt       time.Time        `json:"created_at"`
	ExpiresAt       time.Time        `json:"expires_at"`
	DownloadCount   int              `json:"download_count"`
	FirstDownloadAt *time.Time       `json:"first_download_at,omitempty"`
	ExpiredAt       *time.Time       `json:"expired_at,omitempty"`
}

// IsAvailableAt reports whether the export can still be downloaded.
func (j *ExportJob) IsAvailableAt(now time.Time) bool {
	return j.Status == StatusReady && now.Before(j.ExpiresAt)
}

// AAD binds the ciphertext to this export and format.
func (j *ExportJob) AAD() []byte {
	return AAD(j.ID, j.Format)
}

func AAD(id domain.ExportID, format Format) []byte {
	return []byte(id.String() + "|" + string(format))
}

// Package is the plaintext content of an export before encryption.
type Package struct {
	RequestID   domain.RequestID `json:"request_id"`
	SubjectID   domain.SubjectID `json:"subject_id"`
	GeneratedAt time.Time        `json:"generated_at"`
	Items       []PackageItem    `json:"items"`
}

// PackageItem is one manifest entry with its content.
type PackageItem struct {
	Module   string `json:"module"`
	ItemID   string `json:"item_id"`
	Kind     string `json:"kind"`
	Priority bool   `json:"priority"`
	Content  []byte `json:"content"`
}

// Download is a ciphertext handed back to the subject with what they need to decrypt it.
type Download struct {
	Job        ExportJob
	Ciphertext []byte
}
