package jwttoken

import (
	dErrors "dsrengine/pkg/domain-errors"
	authmw "dsrengine/pkg/platform/middleware/auth"
)

// OperatorValidator lets the operator middleware validate tokens without
// depending on the jwt library.
type OperatorValidator struct {
	service *JWTService
}

func NewOperatorValidator(service *JWTService) *OperatorValidator {
	return &OperatorValidator{service: service}
}

// ValidateToken also requires the operator claim to name the token subject,
// since the operator becomes the actor on every audit event of the request.
func (v *OperatorValidator) ValidateToken(tokenString string) (*authmw.JWTClaims, error) {
	claims, err := v.service.ValidateToken(tokenString)
	if err != nil {
		return nil, err
	}
	if claims.Operator == "" || claims.Subject != claims.Operator {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "operator claim does not match token subject")
	}
	return &authmw.JWTClaims{
		Operator: claims.Operator,
		Role:     claims.Role,
		JTI:      claims.ID,
	}, nil
}
