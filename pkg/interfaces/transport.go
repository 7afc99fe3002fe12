// pkg/interfaces/transport.go
package interfaces

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrConnectionFailed    = errors.New("connection failed")
	ErrConnectionClosed    = errors.New("connection closed")
	ErrUnsupportedProtocol = errors.New("unsupported protocol")
	ErrInvalidArgument     = errors.New("invalid argument")
)

// TransportProtocol 客户端到通道的传输
type TransportProtocol interface {
	Connect(ctx context.Context) error
	Call(ctx context.Context, call MethodCall) (Response, error)
	Close() error
	ProtocolType() string
}

// MethodCall 一次命令调用
type MethodCall struct {
	ID        int64          `json:"id"`
	Method    string         `json:"method"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// StringArgument 读取字符串参数；缺失或为 null 时 ok 为 false
func (c MethodCall) StringArgument(key string) (value string, ok bool, err error) {
	raw, present := c.Arguments[key]
	if !present || raw == nil {
		return "", false, nil
	}
	s, isString := raw.(string)
	if !isString {
		return "", false, fmt.Errorf("%w: %q must be a string, got %T", ErrInvalidArgument, key, raw)
	}
	return s, true, nil
}

// 通道上的方法名
const (
	MethodStartRecording  = "startRecording"
	MethodStopRecording   = "stopRecording"
	MethodPlayRecording   = "playRecording"
	MethodStopPlaying     = "stopPlaying"
	MethodDeleteRecording = "deleteRecording"
	MethodGetStatus       = "getStatus"
)

// ResponseStatus 调用结果类型
type ResponseStatus string

const (
	StatusSuccess        ResponseStatus = "success"
	StatusError          ResponseStatus = "error"
	StatusNotImplemented ResponseStatus = "notImplemented"
)

// 错误码
const (
	CodeInvalidArgument     = "INVALID_ARGUMENT"
	CodeUnsupportedFormat   = "UNSUPPORTED_FORMAT"
	CodeRecordingInProgress = "RECORDING_IN_PROGRESS"
	CodeDeviceBusy          = "DEVICE_BUSY"
	CodeStartFailed         = "START_FAILED"
	CodeStopFailed          = "STOP_FAILED"
	CodeNotFound            = "NOT_FOUND"
	CodeFileInUse           = "FILE_IN_USE"
	CodeIOError             = "IO_ERROR"
	CodeInternal            = "INTERNAL"
)

// Response 命令的应答
type Response struct {
	ID     int64          `json:"id"`
	Status ResponseStatus `json:"status"`
	Result any            `json:"result"`
	Error  *ErrorDetail   `json:"error,omitempty"`
}

// ErrorDetail 结构化错误
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

func (e *ErrorDetail) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func Success(id int64, result any) Response {
	return Response{ID: id, Status: StatusSuccess, Result: result}
}

func Failure(id int64, code, message string, details any) Response {
	return Response{
		ID:     id,
		Status: StatusError,
		Error:  &ErrorDetail{Code: code, Message: message, Details: details},
	}
}

func NotImplemented(id int64) Response {
	return Response{ID: id, Status: StatusNotImplemented}
}

// ErrNotImplemented 对端没有实现该方法
var ErrNotImplemented = errors.New("method not implemented")

// Err 将非成功应答转换为 error
func (r Response) Err() error {
	switch r.Status {
	case StatusSuccess:
		return nil
	case StatusNotImplemented:
		return ErrNotImplemented
	default:
		if r.Error != nil {
			return r.Error
		}
		return fmt.Errorf("unexpected response status %q", r.Status)
	}
}
