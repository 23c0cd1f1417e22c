package repository

import "errors"

// ErrNotFound indicates an entity was not located.
var ErrNotFound = errors.New("repository: not found")

// ErrConflict indicates the single-active-deployment rule rejected the write.
var ErrConflict = errors.New("repository: conflict")

// ErrSubdomainTaken indicates a subdomain collision on insert.
var ErrSubdomainTaken = errors.New("repository: subdomain taken")

// ErrInvalidArgument indicates the store rejected the payload.
var ErrInvalidArgument = errors.New("repository: invalid argument")
