package engine

import "errors"

// MaxGenerationLoops bounds the empty-reply retry cycle. One initial try plus
// this many forced retries before the generation fails for good.
const MaxGenerationLoops = 5

var (
	// ErrGenerationInProgress is returned when a command needs the generation
	// slot while another generation holds it.
	ErrGenerationInProgress = errors.New("a generation is already in progress")

	// ErrNoCharacterSelected is returned when generation starts without an
	// active character.
	ErrNoCharacterSelected = errors.New("no character selected")

	// ErrNotConnected is returned when the backend connection has not been
	// established.
	ErrNotConnected = errors.New("not connected to a backend")

	// ErrStreamingURLMissing is a configuration error: streaming is enabled
	// but the backend has no streaming endpoint configured.
	ErrStreamingURLMissing = errors.New("streaming is enabled but no streaming URL is set")

	// ErrCouldNotExtractReply is the terminal circuit-breaker error after the
	// retry ceiling is exhausted on empty replies.
	ErrCouldNotExtractReply = errors.New("could not extract reply in " +
		"6 attempts, try generating again")

	// errEmptyReply is the internal signal that cleanup reduced a reply to
	// nothing; it drives the forced-name retry path.
	errEmptyReply = errors.New("reply was empty after cleanup")
)
