package handler

import (
	"strings"

	"dsrengine/internal/dsr/models"
	exportService "dsrengine/internal/export/service"
	verificationModels "dsrengine/internal/verification/models"
	dErrors "dsrengine/pkg/domain-errors"
)

const (
	maxTokenLength    = 128
	maxAnswers        = 10
	maxAnswerLength   = 256
	maxPasswordLength = 1024
)

// SubmitRequest is the body of POST /dsr/requests.
type SubmitRequest struct {
	SubjectID   string `json:"subject_id"`
	Contact     string `json:"contact"`
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
	Priority    string `json:"priority,omitempty"`
}

// Validate checks the fields the transport can judge; subject and contact
// normalization is left to the service.
func (r *SubmitRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	if strings.TrimSpace(r.SubjectID) == "" {
		return dErrors.New(dErrors.CodeValidation, "subject_id is required")
	}
	if strings.TrimSpace(r.Contact) == "" {
		return dErrors.New(dErrors.CodeValidation, "contact is required")
	}
	if _, err := models.ParseType(r.Type); err != nil {
		return err
	}
	return nil
}

// CancelRequest is the body of POST /dsr/requests/{id}/cancel.
type CancelRequest struct {
	Reason string `json:"reason,omitempty"`
}

func (r *CancelRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	r.Reason = strings.TrimSpace(r.Reason)
	if len(r.Reason) > 1024 {
		return dErrors.New(dErrors.CodeValidation, "reason must be at most 1024 characters")
	}
	return nil
}

// TokenRequest is the body of POST /dsr/requests/{id}/verification/token.
type TokenRequest struct {
	Token string `json:"token"`
}

func (r *TokenRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	if len(r.Token) > maxTokenLength {
		return dErrors.Newf(dErrors.CodeValidation, "token must be at most %d characters", maxTokenLength)
	}
	r.Token = strings.TrimSpace(r.Token)
	if r.Token == "" {
		return dErrors.New(dErrors.CodeValidation, "token is required")
	}
	return nil
}

// KnowledgeRequest is the body of POST /dsr/requests/{id}/verification/kba.
type KnowledgeRequest struct {
	Answers map[string]string `json:"answers"`
}

func (r *KnowledgeRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	if len(r.Answers) == 0 {
		return dErrors.New(dErrors.CodeValidation, "answers are required")
	}
	if len(r.Answers) > maxAnswers {
		return dErrors.Newf(dErrors.CodeValidation, "at most %d answers are accepted", maxAnswers)
	}
	for q, a := range r.Answers {
		if len(q) > maxAnswerLength || len(a) > maxAnswerLength {
			return dErrors.Newf(dErrors.CodeValidation, "answers must be at most %d characters", maxAnswerLength)
		}
	}
	return nil
}

// CompleteRequest is the body of POST /dsr/requests/{id}/verification/complete.
type CompleteRequest struct {
	Methods []string `json:"methods"`

	parsedMethods []verificationModels.Method
}

func (r *CompleteRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	if len(r.Methods) == 0 {
		return dErrors.New(dErrors.CodeValidation, "methods are required")
	}
	r.parsedMethods = make([]verificationModels.Method, 0, len(r.Methods))
	for _, m := range r.Methods {
		method := verificationModels.Method(strings.ToUpper(strings.TrimSpace(m)))
		if !method.IsValid() {
			return dErrors.Newf(dErrors.CodeValidation, "unsupported verification method %q", m)
		}
		r.parsedMethods = append(r.parsedMethods, method)
	}
	return nil
}

func (r *CompleteRequest) ParsedMethods() []verificationModels.Method {
	return r.parsedMethods
}

// ExportRequest is the body of POST /dsr/requests/{id}/exports. The password
// is never logged and is handed to the service as bytes it clears.
type ExportRequest struct {
	Format   string `json:"format,omitempty"`
	Password string `json:"password"`
}

func (r *ExportRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	if len(r.Password) > maxPasswordLength {
		return dErrors.Newf(dErrors.CodeValidation, "password must be at most %d characters", maxPasswordLength)
	}
	if len(r.Password) < exportService.MinPasswordLength {
		return dErrors.Newf(dErrors.CodeValidation, "password must be at least %d characters", exportService.MinPasswordLength)
	}
	return nil
}

// AnnotateRequest is the body of POST /dsr/requests/{id}/annotations.
type AnnotateRequest struct {
	Note string `json:"note"`
}

func (r *AnnotateRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	r.Note = strings.TrimSpace(r.Note)
	if r.Note == "" {
		return dErrors.New(dErrors.CodeValidation, "note is required")
	}
	return nil
}
