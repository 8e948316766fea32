package models

import (
	"time"

	"dsrengine/internal/collaborator"
	"dsrengine/pkg/domain"
)

type Status string

const (
	StatusRunning   Status = "RUNNING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
)

type ItemStatus string

const (
	ItemPending ItemStatus = "PENDING"
	ItemErased  ItemStatus = "ERASED"
	ItemFailed  ItemStatus = "FAILED"
)

// Item is one target of a deletion job with the read-back hash of each pass.
type Item struct {
	Module     string     `json:"module"`
	ItemID     string     `json:"item_id"`
	Kind       string     `json:"kind"`
	Status     ItemStatus `json:"status"`
	PassHashes [3]string  `json:"pass_hashes"`
	// Empty items hold no bytes to overwrite and are removed without passes.
	Empty     bool       `json:"empty,omitempty"`
	Attempts  int        `json:"attempts"`
	ErasedAt  *time.Time `json:"erased_at,omitempty"`
	LastError string     `json:"last_error,omitempty"`
}

func (i Item) Key() string {
	return collaborator.Item{Module: i.Module, ItemID: i.ItemID}.Key()
}

// HashesDistinct reports whether the three pass hashes are set and pairwise different.
func (i Item) HashesDistinct() bool {
	h := i.PassHashes
	if h[0] == "" || h[1] == "" || h[2] == "" {
		return false
	}
	return h[0] != h[1] && h[1] != h[2] && h[0] != h[2]
}

// DeletionJob erases every item of a manifest. Jobs are resumable: items
// already ERASED are skipped when the job runs again.
type DeletionJob struct {
	ID            domain.DeletionID     `json:"deletion_id"`
	RequestID     domain.RequestID      `json:"request_id"`
	SubjectHash   string                `json:"subject_hash"`
	Method        string                `json:"method"`
	Status        Status                `json:"status"`
	Items         []Item                `json:"items"`
	CertificateID *domain.CertificateID `json:"certificate_id,omitempty"`
	FailureReason string                `json:"failure_reason,omitempty"`
	CreatedAt     time.Time             `json:"created_at"`
	CompletedAt   *time.Time            `json:"completed_at,omitempty"`
}

// Pending returns the indexes of items not yet erased.
func (j *DeletionJob) Pending() []int {
	var out []int
	for i, it := range j.Items {
		if it.Status != ItemErased {
			out = append(out, i)
		}
	}
	return out
}

// Proven reports whether an erased item carries a consistent proof: distinct
// pass hashes, or the empty marker with no hashes at all.
func (i Item) Proven() bool {
	if i.Status != ItemErased {
		return false
	}
	if i.Empty {
		return i.PassHashes == [3]string{}
	}
	return i.HashesDistinct()
}

// Succeeded holds only when every item is erased with a consistent proof.
func (j *DeletionJob) Succeeded() bool {
	for _, it := range j.Items {
		if !it.Proven() {
			return false
		}
	}
	return true
}

func (j *DeletionJob) ErasedCount() int {
	n := 0
	for _, it := range j.Items {
		if it.Status == ItemErased {
			n++
		}
	}
	return n
}

// CertificateItem is the per-item proof listed on a certificate.
type CertificateItem struct {
	Module     string    `json:"module"`
	ItemID     string    `json:"item_id"`
	PassHashes [3]string `json:"pass_hashes"`
	Empty      bool      `json:"empty,omitempty"`
}

// Certificate is a signed record of a completed deletion. Large jobs carry
// ItemsDigest instead of Items. Certificates are never deleted.
type Certificate struct {
	ID          domain.CertificateID `json:"certificate_id"`
	DeletionID  domain.DeletionID    `json:"deletion_id"`
	RequestID   domain.RequestID     `json:"request_id"`
	SubjectHash string               `json:"subject_hash"`
	ItemCount   int                  `json:"item_count"`
	Method      string               `json:"method"`
	Items       []CertificateItem    `json:"items,omitempty"`
	ItemsDigest string               `json:"items_digest,omitempty"`
	IssuedAt    time.Time            `json:"issued_at"`
	RetainUntil time.Time            `json:"retain_until"`
	KeyID       string               `json:"key_id"`
	Signature   []byte               `json:"signature"`
}
