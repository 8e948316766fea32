package handler

import (
	"time"

	deletionModels "dsrengine/internal/deletion/models"
	"dsrengine/internal/dsr/models"
	exportModels "dsrengine/internal/export/models"
	verificationModels "dsrengine/internal/verification/models"
	"dsrengine/pkg/domain"
)

// SubmitResponse is returned by POST /dsr/requests.
type SubmitResponse struct {
	RequestID     domain.RequestID `json:"request_id"`
	Type          models.Type      `json:"type"`
	Priority      models.Priority  `json:"priority"`
	Status        models.Status    `json:"status"`
	Deadline      time.Time        `json:"deadline"`
	DaysRemaining int              `json:"days_remaining"`
}

func FromRequest(r *models.Request, now time.Time) *SubmitResponse {
	return &SubmitResponse{
		RequestID:     r.ID,
		Type:          r.Type,
		Priority:      r.Priority,
		Status:        r.Status,
		Deadline:      r.Deadline,
		DaysRemaining: r.DaysRemaining(now),
	}
}

// VerificationResponse lists the factors the subject still has to pass.
type VerificationResponse struct {
	RequestID domain.RequestID            `json:"request_id"`
	Required  []verificationModels.Method `json:"required_methods"`
	Completed []verificationModels.Method `json:"completed_methods"`
	ExpiresAt time.Time                   `json:"expires_at"`
}

// FromSession omits the risk score; subjects do not see how they were rated.
func FromSession(id domain.RequestID, v *verificationModels.SessionView) *VerificationResponse {
	return &VerificationResponse{
		RequestID: id,
		Required:  v.Required,
		Completed: v.Completed,
		ExpiresAt: v.ExpiresAt,
	}
}

// VerificationResultResponse is returned by the complete endpoint.
type VerificationResultResponse struct {
	RequestID domain.RequestID            `json:"request_id"`
	Verified  bool                        `json:"verified"`
	Methods   []verificationModels.Method `json:"methods"`
	Missing   []verificationModels.Method `json:"missing,omitempty"`
}

func FromResult(id domain.RequestID, res *verificationModels.Result) *VerificationResultResponse {
	return &VerificationResultResponse{
		RequestID: id,
		Verified:  res.Verified,
		Methods:   res.Methods,
		Missing:   res.Missing,
	}
}

// ExportResponse describes an export job with what a client needs to
// re-derive the key. Salt and nonce are base64 in JSON.
type ExportResponse struct {
	ExportID      domain.ExportID           `json:"export_id"`
	RequestID     domain.RequestID          `json:"request_id"`
	Format        exportModels.Format       `json:"format"`
	Status        exportModels.Status       `json:"status"`
	Size          int64                     `json:"size"`
	ItemCount     int                       `json:"item_count"`
	Salt          []byte                    `json:"salt"`
	KDF           exportModels.KDFParams    `json:"kdf"`
	Cipher        exportModels.CipherParams `json:"cipher"`
	CreatedAt     time.Time                 `json:"created_at"`
	ExpiresAt     time.Time                 `json:"expires_at"`
	DownloadCount int                       `json:"download_count"`
}

func FromExport(j *exportModels.ExportJob) *ExportResponse {
	return &ExportResponse{
		ExportID:      j.ID,
		RequestID:     j.RequestID,
		Format:        j.Format,
		Status:        j.Status,
		Size:          j.Size,
		ItemCount:     j.ItemCount,
		Salt:          j.Salt,
		KDF:           j.KDF,
		Cipher:        j.Cipher,
		CreatedAt:     j.CreatedAt,
		ExpiresAt:     j.ExpiresAt,
		DownloadCount: j.DownloadCount,
	}
}

type ExportListResponse struct {
	Exports []*ExportResponse `json:"exports"`
}

// DownloadResponse carries the ciphertext; it is decrypted client side.
type DownloadResponse struct {
	Export     *ExportResponse `json:"export"`
	Ciphertext []byte          `json:"ciphertext"`
}

func FromDownload(d *exportModels.Download) *DownloadResponse {
	return &DownloadResponse{
		Export:     FromExport(&d.Job),
		Ciphertext: d.Ciphertext,
	}
}

// DeletionResponse is a deletion job without per-pass hashes; those are on
// the certificate.
type DeletionResponse struct {
	DeletionID    domain.DeletionID     `json:"deletion_id"`
	RequestID     domain.RequestID      `json:"request_id"`
	Method        string                `json:"method"`
	Status        deletionModels.Status `json:"status"`
	ItemCount     int                   `json:"item_count"`
	ErasedCount   int                   `json:"erased_count"`
	CertificateID *domain.CertificateID `json:"certificate_id,omitempty"`
	FailureReason string                `json:"failure_reason,omitempty"`
	CreatedAt     time.Time             `json:"created_at"`
	CompletedAt   *time.Time            `json:"completed_at,omitempty"`
}

func FromDeletion(j *deletionModels.DeletionJob) *DeletionResponse {
	return &DeletionResponse{
		DeletionID:    j.ID,
		RequestID:     j.RequestID,
		Method:        j.Method,
		Status:        j.Status,
		ItemCount:     len(j.Items),
		ErasedCount:   j.ErasedCount(),
		CertificateID: j.CertificateID,
		FailureReason: j.FailureReason,
		CreatedAt:     j.CreatedAt,
		CompletedAt:   j.CompletedAt,
	}
}

type SignatureResponse struct {
	CertificateID domain.CertificateID `json:"certificate_id"`
	Valid         bool                 `json:"valid"`
}

type FlagsResponse struct {
	RequestID domain.RequestID        `json:"request_id"`
	Flags     []models.ProcessingFlag `json:"flags"`
}
