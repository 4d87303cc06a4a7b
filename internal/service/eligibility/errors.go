package eligibility

import "errors"

// ErrNoCandidates is returned when the surviving population for a bucket is
// empty. This is a normal, reportable condition, not a crash: the caller
// records it on the task and alerts the operator channel.
var ErrNoCandidates = errors.New("no eligible candidates for bucket")
