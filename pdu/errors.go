package pdu

import "errors"

var (
	ErrUnsupportedFunction = errors.New("pdu: unknown or unsupported function code")
	ErrIllegalAddress      = errors.New("pdu: address out of bound range")
	ErrMalformed           = errors.New("pdu: malformed payload")
	ErrIllegalQuantity     = errors.New("pdu: quantity exceeds function limit")
	ErrDeviceFailure       = errors.New("pdu: underlying set failed")
)

// ExceptionCode maps a pdu error to the wire exception byte of spec §4.3.
func ExceptionCode(err error) byte {
	switch err {
	case ErrUnsupportedFunction:
		return ExcIllegalFunction
	case ErrIllegalAddress:
		return ExcIllegalAddress
	case ErrMalformed, ErrIllegalQuantity:
		return ExcIllegalValue
	case ErrDeviceFailure:
		return ExcServerDeviceFailure
	default:
		return ExcServerDeviceFailure
	}
}
