// Package auth consumes the compact tokens issued by the storefront backend.
//
// The service never issues or verifies tokens: the backend signs them and is
// the only party that checks the signature when a request carries one. Here
// the payload segment is decoded for display claims (who is logged in, which
// role, which name) and the token is attached as a bearer credential to
// outgoing calls. Decoding is NOT a security boundary.
//
// COMPACT TOKEN STRUCTURE (three base64url segments separated by dots):
//
//	HEADER.PAYLOAD.SIGNATURE
//	- Payload: {"sub":"42","role":"CUSTOMER","name":"Ana", ...}
package auth

import (
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/sakif/storefront/internal/apperror"
	"github.com/sakif/storefront/internal/model"
)

// Claims are the display claims carried in a token's payload.
type Claims struct {
	Subject string
	Role    model.Role
	Name    string
}

// MalformedTokenError reports a token whose payload could not be decoded or
// that lacks a subject. It matches apperror.ErrMalformed.
type MalformedTokenError struct {
	Reason string
	Err    error
}

func (e *MalformedTokenError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("auth: malformed token: %s: %v", e.Reason, e.Err)
	}
	return "auth: malformed token: " + e.Reason
}

func (e *MalformedTokenError) Unwrap() []error {
	if e.Err == nil {
		return []error{apperror.ErrMalformed}
	}
	return []error{apperror.ErrMalformed, e.Err}
}

var parser = jwt.NewParser()

// DecodeUnverified extracts the display claims without checking the
// signature.
//
// A missing or unknown role claim decodes as CUSTOMER, the role with the
// fewest privileges; a missing name falls back to the subject.
func DecodeUnverified(token string) (Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Claims{}, &MalformedTokenError{Reason: "empty token"}
	}

	var mc jwt.MapClaims
	if _, _, err := parser.ParseUnverified(token, &mc); err != nil {
		return Claims{}, &MalformedTokenError{Reason: "undecodable payload", Err: err}
	}

	sub, err := mc.GetSubject()
	if err != nil {
		return Claims{}, &MalformedTokenError{Reason: "invalid sub claim", Err: err}
	}
	if strings.TrimSpace(sub) == "" {
		return Claims{}, &MalformedTokenError{Reason: "missing sub claim"}
	}

	role, ok := model.ParseRole(stringClaim(mc, "role"))
	if !ok {
		role = model.RoleCustomer
	}

	name := stringClaim(mc, "name")
	if name == "" {
		name = sub
	}

	return Claims{Subject: sub, Role: role, Name: name}, nil
}

// IsMalformed reports whether err is a MalformedTokenError.
func IsMalformed(err error) bool {
	var mt *MalformedTokenError
	return errors.As(err, &mt)
}

func stringClaim(mc jwt.MapClaims, name string) string {
	s, _ := mc[name].(string)
	return strings.TrimSpace(s)
}
