package reactor

import "errors"

// ErrCallbackCancelled resolves a timer wait whose Timer was canceled (or
// re-armed) before the deadline fired. Callers select on the wait channel
// and branch with errors.Is.
var ErrCallbackCancelled = errors.New("reactor: callback cancelled")
