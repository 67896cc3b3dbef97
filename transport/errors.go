package transport

import "github.com/kvswarm/kvswarm/faults"

// errUnavailable wraps faults.Unavailable so callers can use
// errors.Is(err, faults.Unavailable) against anything a Router or a
// grpcpeer client returns.
var errUnavailable = faults.Unavailable
