package audio

import "errors"

var (
	ErrInvalidFormat     = errors.New("invalid format")
	ErrUnsupportedFormat = errors.New("unsupported format")
	ErrCodecUnavailable  = errors.New("codec unavailable")
	ErrDeviceClosed      = errors.New("audio device closed")
	ErrSessionState      = errors.New("invalid session state")
)
