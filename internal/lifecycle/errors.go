package lifecycle

import (
	"errors"
	"fmt"
	"time"
)

// Kind classifies a lifecycle failure. The HTTP layer maps kinds to status
// codes; nothing here is retried automatically.
type Kind int

const (
	KindInternal Kind = iota
	KindBadRequest
	KindUnauthorized
	KindForbidden
	KindNotFound
	// KindGone marks resources that existed but whose window closed:
	// consumed codes, accepted/revoked/expired invites. Distinct from
	// NotFound on purpose.
	KindGone
	KindRateLimited
)

// Error is a classified lifecycle failure. RateLimited errors carry the
// limiting values so callers can render "try again in N hours" without
// re-querying.
type Error struct {
	Kind    Kind
	Reason  string
	Message string

	// Quota details, set for quota denials.
	Limit   int
	Pending int

	// RetryAt is set for cooldown denials.
	RetryAt *time.Time

	err error
}

func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.err }

// KindOf returns the kind of a lifecycle error, or KindInternal for anything
// else.
func KindOf(err error) Kind {
	var le *Error
	if errors.As(err, &le) {
		return le.Kind
	}
	return KindInternal
}

// AsError returns the lifecycle error inside err, or nil.
func AsError(err error) *Error {
	var le *Error
	if errors.As(err, &le) {
		return le
	}
	return nil
}

// Deterministic reason codes surfaced in error envelopes.
const (
	ReasonQuotaExceeded   = "quota_exceeded"
	ReasonCooldownActive  = "cooldown_active"
	ReasonPendingExists   = "pending_invite_exists"
	ReasonWrongTier       = "tier_not_eligible"
	ReasonNotInGraph      = "not_in_graph"
	ReasonSelfInvite      = "self_invite"
	ReasonNotAddressed    = "not_addressed_to_caller"
	ReasonNotOwner        = "not_owner"
	ReasonMissingTarget   = "missing_target"
	ReasonAlreadyUsed     = "already_used"
	ReasonExpired         = "expired"
	ReasonWrongStatus     = "wrong_status"
	ReasonNotFound        = "not_found"
	ReasonNotAMember      = "not_a_member"
	ReasonInvalidArgument = "invalid_argument"
)

func badRequest(reason, msg string) *Error {
	return &Error{Kind: KindBadRequest, Reason: reason, Message: msg}
}

func forbidden(reason, msg string) *Error {
	return &Error{Kind: KindForbidden, Reason: reason, Message: msg}
}

func notFound(msg string) *Error {
	return &Error{Kind: KindNotFound, Reason: ReasonNotFound, Message: msg}
}

func gone(reason, msg string) *Error {
	return &Error{Kind: KindGone, Reason: reason, Message: msg}
}

func quotaExceeded(limit, pending int) *Error {
	return &Error{
		Kind:    KindRateLimited,
		Reason:  ReasonQuotaExceeded,
		Message: fmt.Sprintf("invite quota exceeded: %d of %d pending", pending, limit),
		Limit:   limit,
		Pending: pending,
	}
}

func pendingExists() *Error {
	return &Error{
		Kind:    KindRateLimited,
		Reason:  ReasonPendingExists,
		Message: "a pending invite already exists",
	}
}

func cooldownActive(retryAt time.Time) *Error {
	return &Error{
		Kind:    KindRateLimited,
		Reason:  ReasonCooldownActive,
		Message: "invite cooldown active",
		RetryAt: &retryAt,
	}
}

func internal(msg string, err error) *Error {
	return &Error{Kind: KindInternal, Reason: "internal_error", Message: msg, err: err}
}
