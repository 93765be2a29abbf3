package modbee

import "errors"

var (
	ErrAlreadyInitialized = errors.New("modbee: Begin called twice on the same node")
	ErrNotInitialized     = errors.New("modbee: node not initialized, call Begin first")
	ErrNotConnected       = errors.New("modbee: node is not connected to the ring")
	ErrUnknownNode        = errors.New("modbee: target node is not in the known set")
	ErrAddressUnbound     = errors.New("modbee: address has no bound variable")
	ErrQuantityMismatch   = errors.New("modbee: handle slice length is outside the function's quantity limit")
	ErrTransmitFailed     = errors.New("modbee: bus write did not accept the whole frame")
)
