package dialogue

import "errors"

var (
	// ErrRetrievalUnavailable means the knowledge base could not be queried.
	// The turn continues with empty context.
	ErrRetrievalUnavailable = errors.New("retrieval unavailable")

	// ErrGenerationUnavailable means the model could not produce a reply. The
	// turn fails; the session stays usable.
	ErrGenerationUnavailable = errors.New("generation unavailable")
)

// ApologyMessage is shown to the visitor in place of a failed reply.
const ApologyMessage = "Sorry, I wasn't able to answer that just now. Please try asking again in a moment."
