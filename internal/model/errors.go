package model

import "errors"

// ErrAlreadyResolved is returned by ApprovalRequest.Resolve when the approval
// has already been decided; resolve_approval is idempotent at the outcome
// level, so callers should read the existing Status rather than treat this
// as a hard failure.
var ErrAlreadyResolved = errors.New("approval already resolved")
