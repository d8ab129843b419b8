// Package claims resolves the claim directive attached to outgoing runtime
// replies. The directive decides what happens to the conversation claim
// after the reply is dispatched: keep holding it, hand it back, or requeue
// the inbound message for platform-side handling.
package claims

// Directive is the per-reply claim instruction.
type Directive string

const (
	// DirectiveExtend keeps the claim held by the bot. This is the default:
	// every reply without an explicit annotation extends the claim.
	DirectiveExtend Directive = "extend"
	// DirectiveRelease hands the claim back to the platform after the reply
	// is delivered.
	DirectiveRelease Directive = "release"
	// DirectiveRevert suppresses delivery of the reply entirely and requeues
	// the triggering inbound message for platform-side handling.
	DirectiveRevert Directive = "revert"
)

// Resolve maps a reply's claim annotation to a Directive. Matching is
// case-sensitive; any unrecognized or absent value resolves to
// DirectiveExtend. Pure function, no side effects.
func Resolve(value string) Directive {
	switch value {
	case string(DirectiveRelease):
		return DirectiveRelease
	case string(DirectiveRevert):
		return DirectiveRevert
	default:
		return DirectiveExtend
	}
}
