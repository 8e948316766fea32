// Package handler exposes the DSR operations over JSON HTTP. Subject routes
// are public; operator routes expect the operator middleware in front.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	deletionModels "dsrengine/internal/deletion/models"
	"dsrengine/internal/dsr/models"
	"dsrengine/internal/dsr/service"
	exportModels "dsrengine/internal/export/models"
	verificationModels "dsrengine/internal/verification/models"
	"dsrengine/pkg/domain"
	"dsrengine/pkg/platform/httputil"
	request "dsrengine/pkg/platform/middleware/request"
	"dsrengine/pkg/requestcontext"
)

// Service is the slice of the DSR manager the transport needs.
type Service interface {
	Submit(ctx context.Context, cmd service.SubmitCommand) (*models.Request, error)
	Status(ctx context.Context, id domain.RequestID) (*models.StatusView, error)
	Cancel(ctx context.Context, id domain.RequestID, reason string) (*models.StatusView, error)
	Annotate(ctx context.Context, id domain.RequestID, note string) error
	Flags(ctx context.Context, id domain.RequestID) ([]models.ProcessingFlag, error)
	Statistics(ctx context.Context) (*models.Stats, error)

	InitiateVerification(ctx context.Context, id domain.RequestID, sourceIP, userAgent string) (*verificationModels.SessionView, error)
	VerifyEmailToken(ctx context.Context, id domain.RequestID, token string) error
	VerifyKnowledgeBased(ctx context.Context, id domain.RequestID, answers map[string]string) error
	CompleteVerification(ctx context.Context, id domain.RequestID, methods []verificationModels.Method) (*verificationModels.Result, error)

	InitiateExport(ctx context.Context, cmd service.ExportCommand) (*exportModels.ExportJob, error)
	ExportStatus(ctx context.Context, id domain.ExportID) (*exportModels.ExportJob, error)
	Exports(ctx context.Context, id domain.RequestID) ([]*exportModels.ExportJob, error)
	DownloadExport(ctx context.Context, id domain.ExportID) (*exportModels.Download, error)

	InitiateSecureDeletion(ctx context.Context, id domain.RequestID) (*deletionModels.DeletionJob, error)
	DeletionStatus(ctx context.Context, id domain.DeletionID) (*deletionModels.DeletionJob, error)
	DeletionForRequest(ctx context.Context, id domain.RequestID) (*deletionModels.DeletionJob, error)
	DeletionCertificate(ctx context.Context, id domain.CertificateID) (*deletionModels.Certificate, error)
	DeletionCertificatePDF(ctx context.Context, id domain.CertificateID) ([]byte, error)
	VerifyCertificateSignature(ctx context.Context, id domain.CertificateID) (bool, error)
}

type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{
		service: service,
		logger:  logger,
	}
}

// Register mounts the subject-facing endpoints.
func (h *Handler) Register(r chi.Router) {
	r.Post("/dsr/requests", h.HandleSubmit)
	r.Get("/dsr/requests/{requestID}", h.HandleStatus)
	r.Post("/dsr/requests/{requestID}/cancel", h.HandleCancel)

	r.Post("/dsr/requests/{requestID}/verification", h.HandleInitiateVerification)
	r.Post("/dsr/requests/{requestID}/verification/token", h.HandleVerifyToken)
	r.Post("/dsr/requests/{requestID}/verification/kba", h.HandleVerifyKnowledge)
	r.Post("/dsr/requests/{requestID}/verification/complete", h.HandleCompleteVerification)

	r.Post("/dsr/requests/{requestID}/exports", h.HandleInitiateExport)
	r.Get("/dsr/requests/{requestID}/exports", h.HandleListExports)
	r.Get("/dsr/exports/{exportID}", h.HandleExportStatus)
	r.Get("/dsr/exports/{exportID}/download", h.HandleDownloadExport)
}

// RegisterOperator mounts the operator endpoints. Callers wrap r with the
// operator auth middleware.
func (h *Handler) RegisterOperator(r chi.Router) {
	r.Post("/dsr/requests/{requestID}/deletion", h.HandleInitiateDeletion)
	r.Get("/dsr/requests/{requestID}/deletion", h.HandleDeletionForRequest)
	r.Get("/dsr/deletions/{deletionID}", h.HandleDeletionStatus)
	r.Get("/dsr/certificates/{certificateID}", h.HandleCertificate)
	r.Get("/dsr/certificates/{certificateID}/pdf", h.HandleCertificatePDF)
	r.Post("/dsr/certificates/{certificateID}/verify", h.HandleVerifySignature)

	r.Post("/dsr/requests/{requestID}/annotations", h.HandleAnnotate)
	r.Get("/dsr/requests/{requestID}/flags", h.HandleFlags)
	r.Get("/dsr/statistics", h.HandleStatistics)
}

// HandleSubmit handles POST /dsr/requests.
func (h *Handler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := request.GetRequestID(ctx)
	start := time.Now()

	req, ok := httputil.DecodeAndPrepare[SubmitRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	created, err := h.service.Submit(ctx, service.SubmitCommand{
		SubjectID:   req.SubjectID,
		Contact:     req.Contact,
		Type:        req.Type,
		Description: req.Description,
		Priority:    req.Priority,
	})
	if err != nil {
		h.logger.WarnContext(ctx, "dsr submission rejected",
			"request_id", requestID,
			"type", req.Type,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "dsr submission accepted",
		"request_id", requestID,
		"dsr_id", created.ID.String(),
		"type", string(created.Type),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	httputil.WriteJSON(w, http.StatusCreated, FromRequest(created, requestcontext.Now(ctx)))
}

// HandleStatus handles GET /dsr/requests/{requestID}.
func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := h.requestIDParam(w, r)
	if !ok {
		return
	}
	view, err := h.service.Status(ctx, id)
	if err != nil {
		h.fail(ctx, w, "status lookup failed", err, "dsr_id", id.String())
		return
	}
	httputil.WriteJSON(w, http.StatusOK, view)
}

// HandleCancel handles POST /dsr/requests/{requestID}/cancel.
func (h *Handler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := h.requestIDParam(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[CancelRequest](w, r, h.logger, ctx, request.GetRequestID(ctx))
	if !ok {
		return
	}
	view, err := h.service.Cancel(ctx, id, req.Reason)
	if err != nil {
		h.fail(ctx, w, "cancellation failed", err, "dsr_id", id.String())
		return
	}
	httputil.WriteJSON(w, http.StatusOK, view)
}

// HandleInitiateVerification handles POST /dsr/requests/{requestID}/verification.
// Risk scoring uses the client address and user agent of this call.
func (h *Handler) HandleInitiateVerification(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := h.requestIDParam(w, r)
	if !ok {
		return
	}
	view, err := h.service.InitiateVerification(ctx, id, requestcontext.ClientIP(ctx), requestcontext.UserAgent(ctx))
	if err != nil {
		h.fail(ctx, w, "verification initiation failed", err, "dsr_id", id.String())
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromSession(id, view))
}

// HandleVerifyToken handles POST /dsr/requests/{requestID}/verification/token.
func (h *Handler) HandleVerifyToken(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := h.requestIDParam(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[TokenRequest](w, r, h.logger, ctx, request.GetRequestID(ctx))
	if !ok {
		return
	}
	if err := h.service.VerifyEmailToken(ctx, id, req.Token); err != nil {
		h.fail(ctx, w, "email token rejected", err, "dsr_id", id.String())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleVerifyKnowledge handles POST /dsr/requests/{requestID}/verification/kba.
func (h *Handler) HandleVerifyKnowledge(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := h.requestIDParam(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[KnowledgeRequest](w, r, h.logger, ctx, request.GetRequestID(ctx))
	if !ok {
		return
	}
	if err := h.service.VerifyKnowledgeBased(ctx, id, req.Answers); err != nil {
		h.fail(ctx, w, "knowledge answers rejected", err, "dsr_id", id.String())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleCompleteVerification handles POST /dsr/requests/{requestID}/verification/complete.
// An unverified result is a 200 listing the missing methods.
func (h *Handler) HandleCompleteVerification(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := h.requestIDParam(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[CompleteRequest](w, r, h.logger, ctx, request.GetRequestID(ctx))
	if !ok {
		return
	}
	res, err := h.service.CompleteVerification(ctx, id, req.ParsedMethods())
	if err != nil {
		h.fail(ctx, w, "verification completion failed", err, "dsr_id", id.String())
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromResult(id, res))
}

// HandleInitiateExport handles POST /dsr/requests/{requestID}/exports.
func (h *Handler) HandleInitiateExport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := h.requestIDParam(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[ExportRequest](w, r, h.logger, ctx, request.GetRequestID(ctx))
	if !ok {
		return
	}
	job, err := h.service.InitiateExport(ctx, service.ExportCommand{
		RequestID: id,
		Format:    req.Format,
		Password:  []byte(req.Password),
	})
	if err != nil {
		h.fail(ctx, w, "export failed", err, "dsr_id", id.String())
		return
	}
	h.logger.InfoContext(ctx, "export created",
		"request_id", request.GetRequestID(ctx),
		"dsr_id", id.String(),
		"export_id", job.ID.String(),
		"format", string(job.Format),
	)
	httputil.WriteJSON(w, http.StatusCreated, FromExport(job))
}

// HandleListExports handles GET /dsr/requests/{requestID}/exports.
func (h *Handler) HandleListExports(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := h.requestIDParam(w, r)
	if !ok {
		return
	}
	jobs, err := h.service.Exports(ctx, id)
	if err != nil {
		h.fail(ctx, w, "export listing failed", err, "dsr_id", id.String())
		return
	}
	resp := ExportListResponse{Exports: make([]*ExportResponse, 0, len(jobs))}
	for _, j := range jobs {
		resp.Exports = append(resp.Exports, FromExport(j))
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

// HandleExportStatus handles GET /dsr/exports/{exportID}.
func (h *Handler) HandleExportStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := domain.ParseExportID(chi.URLParam(r, "exportID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	job, err := h.service.ExportStatus(ctx, id)
	if err != nil {
		h.fail(ctx, w, "export lookup failed", err, "export_id", id.String())
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromExport(job))
}

// HandleDownloadExport handles GET /dsr/exports/{exportID}/download.
func (h *Handler) HandleDownloadExport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := domain.ParseExportID(chi.URLParam(r, "exportID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	d, err := h.service.DownloadExport(ctx, id)
	if err != nil {
		h.fail(ctx, w, "export download failed", err, "export_id", id.String())
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	httputil.WriteJSON(w, http.StatusOK, FromDownload(d))
}

// HandleInitiateDeletion handles POST /dsr/requests/{requestID}/deletion.
func (h *Handler) HandleInitiateDeletion(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := h.requestIDParam(w, r)
	if !ok {
		return
	}
	job, err := h.service.InitiateSecureDeletion(ctx, id)
	if err != nil {
		h.fail(ctx, w, "secure deletion failed", err, "dsr_id", id.String())
		return
	}
	h.logger.InfoContext(ctx, "secure deletion run",
		"request_id", request.GetRequestID(ctx),
		"actor", requestcontext.Actor(ctx),
		"dsr_id", id.String(),
		"deletion_id", job.ID.String(),
		"status", string(job.Status),
	)
	httputil.WriteJSON(w, http.StatusAccepted, FromDeletion(job))
}

// HandleDeletionForRequest handles GET /dsr/requests/{requestID}/deletion.
func (h *Handler) HandleDeletionForRequest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := h.requestIDParam(w, r)
	if !ok {
		return
	}
	job, err := h.service.DeletionForRequest(ctx, id)
	if err != nil {
		h.fail(ctx, w, "deletion lookup failed", err, "dsr_id", id.String())
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromDeletion(job))
}

// HandleDeletionStatus handles GET /dsr/deletions/{deletionID}.
func (h *Handler) HandleDeletionStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := domain.ParseDeletionID(chi.URLParam(r, "deletionID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	job, err := h.service.DeletionStatus(ctx, id)
	if err != nil {
		h.fail(ctx, w, "deletion lookup failed", err, "deletion_id", id.String())
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromDeletion(job))
}

// HandleCertificate handles GET /dsr/certificates/{certificateID}.
func (h *Handler) HandleCertificate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := h.certificateIDParam(w, r)
	if !ok {
		return
	}
	cert, err := h.service.DeletionCertificate(ctx, id)
	if err != nil {
		h.fail(ctx, w, "certificate lookup failed", err, "certificate_id", id.String())
		return
	}
	httputil.WriteJSON(w, http.StatusOK, cert)
}

// HandleCertificatePDF handles GET /dsr/certificates/{certificateID}/pdf.
func (h *Handler) HandleCertificatePDF(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := h.certificateIDParam(w, r)
	if !ok {
		return
	}
	pdf, err := h.service.DeletionCertificatePDF(ctx, id)
	if err != nil {
		h.fail(ctx, w, "certificate rendering failed", err, "certificate_id", id.String())
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", `attachment; filename="certificate-`+id.String()+`.pdf"`)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(pdf); err != nil {
		h.logger.WarnContext(ctx, "failed to write certificate pdf", "error", err)
	}
}

// HandleVerifySignature handles POST /dsr/certificates/{certificateID}/verify.
// A bad signature is reported as valid=false; the service escalates it.
func (h *Handler) HandleVerifySignature(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := h.certificateIDParam(w, r)
	if !ok {
		return
	}
	valid, err := h.service.VerifyCertificateSignature(ctx, id)
	if err != nil {
		h.fail(ctx, w, "signature verification failed", err, "certificate_id", id.String())
		return
	}
	if !valid {
		h.logger.ErrorContext(ctx, "certificate signature invalid",
			"request_id", request.GetRequestID(ctx),
			"certificate_id", id.String(),
		)
	}
	httputil.WriteJSON(w, http.StatusOK, SignatureResponse{CertificateID: id, Valid: valid})
}

// HandleAnnotate handles POST /dsr/requests/{requestID}/annotations.
func (h *Handler) HandleAnnotate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := h.requestIDParam(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[AnnotateRequest](w, r, h.logger, ctx, request.GetRequestID(ctx))
	if !ok {
		return
	}
	if err := h.service.Annotate(ctx, id, req.Note); err != nil {
		h.fail(ctx, w, "annotation failed", err, "dsr_id", id.String())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleFlags handles GET /dsr/requests/{requestID}/flags.
func (h *Handler) HandleFlags(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := h.requestIDParam(w, r)
	if !ok {
		return
	}
	flags, err := h.service.Flags(ctx, id)
	if err != nil {
		h.fail(ctx, w, "flag lookup failed", err, "dsr_id", id.String())
		return
	}
	if flags == nil {
		flags = []models.ProcessingFlag{}
	}
	httputil.WriteJSON(w, http.StatusOK, FlagsResponse{RequestID: id, Flags: flags})
}

// HandleStatistics handles GET /dsr/statistics.
func (h *Handler) HandleStatistics(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	stats, err := h.service.Statistics(ctx)
	if err != nil {
		h.fail(ctx, w, "statistics failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, stats)
}

func (h *Handler) requestIDParam(w http.ResponseWriter, r *http.Request) (domain.RequestID, bool) {
	id, err := domain.ParseRequestID(chi.URLParam(r, "requestID"))
	if err != nil {
		httputil.WriteError(w, err)
		return domain.RequestID{}, false
	}
	return id, true
}

func (h *Handler) certificateIDParam(w http.ResponseWriter, r *http.Request) (domain.CertificateID, bool) {
	id, err := domain.ParseCertificateID(chi.URLParam(r, "certificateID"))
	if err != nil {
		httputil.WriteError(w, err)
		return domain.CertificateID{}, false
	}
	return id, true
}

// fail logs err with the request ID and writes the mapped error reply.
func (h *Handler) fail(ctx context.Context, w http.ResponseWriter, msg string, err error, attrs ...any) {
	args := append([]any{"request_id", request.GetRequestID(ctx), "error", err}, attrs...)
	h.logger.WarnContext(ctx, msg, args...)
	httputil.WriteError(w, err)
}
