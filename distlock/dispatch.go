package distlock

import (
	"fmt"

	"github.com/kvswarm/kvswarm/ids"
)

// Dispatch decodes an inbound lock/unlock RPC and routes it to l's
// remote-side handlers. It's the function a transport.Handler
// registered for MsgLock/MsgUnlock should call.
func Dispatch(l *Lock, from ids.PeerId, msg TransportMessage, payload []byte) ([]byte, error) {
	switch msg {
	case MsgLock:
		if l.HandleLockRequest(from) {
			return []byte{1}, nil
		}

		return []byte{0}, nil
	case MsgUnlock:
		l.HandleUnlockRequest(from)
		return nil, nil
	default:
		return nil, fmt.Errorf("distlock: unrecognized message type %s", msg)
	}
}
