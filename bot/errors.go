/*
errors.go - Command ingestion errors

PURPOSE:
  Errors raised while turning raw chat input into a canonical Command.
  Everything here is a client-facing condition: the dispatcher recovers
  each one into a human-readable chat reply and never lets a
  partially-formed command reach the applier.

SEE ALSO:
  - ledger/errors.go: Engine-level errors (stock, validation, persistence)
  - dispatcher.go: Maps these to reply text
*/
package bot

import (
	"errors"
	"fmt"
	"strings"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrIncompleteCommand is returned when required fields are missing or
	// unparseable. The Normalizer is total-or-nothing: no partial Command
	// is ever produced.
	ErrIncompleteCommand = errors.New("incomplete command")

	// ErrAmbiguousProduct is returned when a fuzzy product reference
	// matches more than one catalog entry and no exact match exists.
	// The Normalizer never guesses.
	ErrAmbiguousProduct = errors.New("ambiguous product reference")

	// ErrCompletionUnavailable is returned when the AI extraction
	// collaborator failed or timed out.
	ErrCompletionUnavailable = errors.New("completion service unavailable")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// IncompleteCommandError names the fields that were missing or invalid.
type IncompleteCommandError struct {
	Missing []string
}

func (e *IncompleteCommandError) Error() string {
	return fmt.Sprintf("incomplete command: missing or invalid %s", strings.Join(e.Missing, ", "))
}

func (e *IncompleteCommandError) Unwrap() error {
	return ErrIncompleteCommand
}

// AmbiguousProductError lists the candidates a fuzzy reference matched.
type AmbiguousProductError struct {
	Query      string
	Candidates []string
}

func (e *AmbiguousProductError) Error() string {
	return fmt.Sprintf("ambiguous product %q: matches %s", e.Query, strings.Join(e.Candidates, ", "))
}

func (e *AmbiguousProductError) Unwrap() error {
	return ErrAmbiguousProduct
}
