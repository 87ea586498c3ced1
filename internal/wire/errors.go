package wire

import (
	"errors"
	"fmt"
)

var (
	ErrShortDatagram      = errors.New("datagram shorter than header")
	ErrUnknownType        = errors.New("unknown message type")
	ErrUnsupportedVersion = errors.New("unsupported protocol version")
	ErrLengthMismatch     = errors.New("length field does not match payload")
	ErrPayloadSize        = errors.New("payload size invalid for message type")
	ErrAnonymousSender    = errors.New("message requires a sender instance")
	ErrInvalidValue       = errors.New("field value out of range")

	// ошибки кодирования - это ошибки вызывающего кода, а не протокола
	ErrFieldTooLong = errors.New("field too long for fixed layout")
	ErrNilMessage   = errors.New("nil message")
)

// DecodeError описывает отброшенную датаграмму
type DecodeError struct {
	Reason error
	Type   Type
	Size   int
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("wire: decode %d bytes (type %d): %v", e.Size, e.Type, e.Reason)
}

func (e *DecodeError) Unwrap() error {
	return e.Reason
}

func decodeErr(reason error, t Type, size int) *DecodeError {
	return &DecodeError{Reason: reason, Type: t, Size: size}
}

// ReasonLabel возвращает короткую метку причины отказа для счетчиков диагностики
func ReasonLabel(err error) string {
	switch {
	case errors.Is(err, ErrShortDatagram):
		return "short"
	case errors.Is(err, ErrUnknownType):
		return "unknown_type"
	case errors.Is(err, ErrUnsupportedVersion):
		return "version"
	case errors.Is(err, ErrLengthMismatch):
		return "length"
	case errors.Is(err, ErrPayloadSize):
		return "payload_size"
	case errors.Is(err, ErrAnonymousSender):
		return "anonymous"
	case errors.Is(err, ErrInvalidValue):
		return "invalid_value"
	}
	return "other"
}
