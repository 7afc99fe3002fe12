package core

import (
	"errors"
	"fmt"

	"github.com/lisuiheng/naudio-go/audio"
	"github.com/lisuiheng/naudio-go/pkg/interfaces"
)

var (
	ErrInvalidArgument     = interfaces.ErrInvalidArgument
	ErrRecordingInProgress = errors.New("recording already in progress")
	ErrDeviceBusy          = errors.New("audio device busy")
	ErrStartFailed         = errors.New("failed to start")
	ErrStopFailed          = errors.New("failed to stop")
	ErrNotFound            = errors.New("file not found")
	ErrFileInUse           = errors.New("file in use")
	ErrIO                  = errors.New("i/o error")
	ErrBridgeClosed        = errors.New("bridge closed")
)

// OpError 携带失败操作涉及的文件路径，Kind 决定错误码
type OpError struct {
	Kind error
	Path string
	Err  error
}

func (e *OpError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%v: %s", e.Kind, e.Path)
	}
	return fmt.Sprintf("%v: %s: %v", e.Kind, e.Path, e.Err)
}

func (e *OpError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// errorCode 将错误映射为通道上的错误码
func errorCode(err error) string {
	var opErr *OpError
	if errors.As(err, &opErr) {
		err = opErr.Kind
	}

	switch {
	case errors.Is(err, ErrRecordingInProgress):
		return interfaces.CodeRecordingInProgress
	case errors.Is(err, ErrDeviceBusy):
		return interfaces.CodeDeviceBusy
	case errors.Is(err, ErrStartFailed):
		return interfaces.CodeStartFailed
	case errors.Is(err, ErrStopFailed):
		return interfaces.CodeStopFailed
	case errors.Is(err, ErrNotFound):
		return interfaces.CodeNotFound
	case errors.Is(err, ErrFileInUse):
		return interfaces.CodeFileInUse
	case errors.Is(err, audio.ErrUnsupportedFormat):
		return interfaces.CodeUnsupportedFormat
	case errors.Is(err, ErrInvalidArgument), errors.Is(err, audio.ErrInvalidFormat):
		return interfaces.CodeInvalidArgument
	case errors.Is(err, ErrIO):
		return interfaces.CodeIOError
	default:
		return interfaces.CodeInternal
	}
}
