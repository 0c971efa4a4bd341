package sweep

import "errors"

// ErrConfiguration marks unsupported parameter combinations and wrong
// device state. Configuration errors are fatal: they abort the run
// instead of being skipped or retried.
var ErrConfiguration = errors.New("configuration error")
