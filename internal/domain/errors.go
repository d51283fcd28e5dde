package domain

import "errors"

// Sentinel errors for accelerator operations
var (
	// ErrAuthFailed indicates the stored credential is invalid or a token
	// refresh was rejected by the authorization endpoint
	ErrAuthFailed = errors.New("authentication failed")

	// ErrNoCredential indicates no credential material exists for the account
	ErrNoCredential = errors.New("no stored credential")

	// ErrServerUnreachable indicates a remote call failed at the transport layer
	ErrServerUnreachable = errors.New("mailbox server is unreachable")

	// ErrAccountNotFound indicates the requested account is not registered
	ErrAccountNotFound = errors.New("account not found")

	// ErrAccountExists indicates an account with the target identifier already exists
	ErrAccountExists = errors.New("account already exists")

	// ErrLabelNotFound indicates no label matched the given identifier or name
	ErrLabelNotFound = errors.New("label not found")
)
