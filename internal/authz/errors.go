package authz

import (
	"errors"
	"fmt"
)

var (
	// ErrResourceNotFound indicates the resource identifier does not resolve.
	ErrResourceNotFound = errors.New("authz: resource not found")
	// ErrPermissionNotFound indicates no live permission row for the pair.
	ErrPermissionNotFound = errors.New("authz: permission not found")
	// ErrResolutionFailed wraps storage failures during permission resolution.
	ErrResolutionFailed = errors.New("authz: permission resolution failed")
)

// AuthorizationError carries the failed operation and subject for
// observability. Storage failures surface through it rather than being
// converted into a silent deny.
type AuthorizationError struct {
	Op        string
	Principal PrincipalRef
	Resource  string
	Err       error
}

func (e *AuthorizationError) Error() string {
	if e.Resource != "" {
		return fmt.Sprintf("authz: %s %s:%d on %q: %v", e.Op, e.Principal.Kind, e.Principal.ID, e.Resource, e.Err)
	}
	return fmt.Sprintf("authz: %s %s:%d: %v", e.Op, e.Principal.Kind, e.Principal.ID, e.Err)
}

func (e *AuthorizationError) Unwrap() error { return e.Err }

func opError(op string, principal PrincipalRef, resource string, err error) error {
	if err == nil {
		return nil
	}
	return &AuthorizationError{Op: op, Principal: principal, Resource: resource, Err: err}
}
