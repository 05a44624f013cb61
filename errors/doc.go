// Package errors provides standardized error handling for the etp toolkit.
//
// # Overview
//
// Errors are classified into three classes: Transient (temporary, retryable),
// Invalid (bad input, non-retryable) and Fatal (unrecoverable, stop processing).
// The toolkit maps its failure taxonomy onto these classes:
//
//   - Framing: ErrBufferOverflow (Invalid)
//   - Parsing: ErrParsingFailed, ErrUnknownFormat, ErrEmptyRecord,
//     ErrMissingSeparator, ErrInvalidRecord (Invalid)
//   - Codec: ErrUnsupportedFieldType (Invalid)
//   - Connection: ErrConnectionLost, ErrConnectionRefused, ErrConnectionTimeout (Transient)
//   - Writer: ErrWriteFailed (Fatal)
//   - Lifecycle: ErrAlreadyStarted, ErrNotStarted
//
// # Error Wrapping Pattern
//
// All error wrapping follows the standardized format:
//
//	"component.method: action failed: %w"
//
// Three wrapper functions attach a classification while keeping the chain
// inspectable with errors.Is and errors.As:
//
//	errors.WrapTransient(err, "Daemon", "Connect", "dial upstream")
//	errors.WrapInvalid(err, "lineproto", "Decode", "split fields")
//	errors.WrapFatal(err, "Writer", "flush", "post batch")
//
// The generic Wrap() adds context without changing the classification.
//
// # Checking errors
//
//	if errors.IsInvalid(err) {
//	    // report back to the peer, keep the connection
//	}
//	if stderrors.Is(err, errors.ErrBufferOverflow) {
//	    // drop the connection
//	}
package errors
