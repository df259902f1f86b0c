package remotestore

import "errors"

// ErrOffline is returned by TestConnection (and may be returned by any
// other Store method) when the remote endpoint is unreachable.
var ErrOffline = errors.New("remotestore: offline")
