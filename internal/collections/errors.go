package collections

import (
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/docuchat/internal/vectorstore"
)

// Error kinds returned by Store. Every error returned by a Store method
// matches exactly one of these with errors.Is.
var (
	// ErrNotFound indicates a missing collection or document.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists indicates a rename target is already taken.
	ErrAlreadyExists = errors.New("already exists")

	// ErrValidation indicates unusable caller input.
	ErrValidation = errors.New("validation failed")

	// ErrUpstream indicates the embedder or the vector index failed.
	ErrUpstream = errors.New("upstream failure")

	// ErrRenamePending indicates a collection is the source or target of
	// a rename that failed part way and could not be repaired yet. Writes
	// to it are refused until ResumeRenames succeeds. It matches
	// ErrUpstream.
	ErrRenamePending = fmt.Errorf("%w: unfinished rename", ErrUpstream)
)

// classify maps an error from the vector index onto the store's error
// kinds. The original error stays in the chain.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, vectorstore.ErrCollectionNotFound):
		return fmt.Errorf("%w: %s: %w", ErrNotFound, op, err)
	case errors.Is(err, vectorstore.ErrBatchLengthMismatch),
		errors.Is(err, vectorstore.ErrInvalidCollectionName):
		return fmt.Errorf("%w: %s: %w", ErrValidation, op, err)
	default:
		return fmt.Errorf("%w: %s: %w", ErrUpstream, op, err)
	}
}
