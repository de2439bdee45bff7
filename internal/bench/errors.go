package bench

import "errors"

// ErrRetryExhausted indicates the service kept producing abnormal
// responses past the attempt budget. Fatal to the whole run.
var ErrRetryExhausted = errors.New("retry limit exhausted")
