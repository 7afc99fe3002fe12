package core

import (
	"errors"
	"fmt"
	"testing"

	"github.com/lisuiheng/naudio-go/audio"
	"github.com/lisuiheng/naudio-go/pkg/interfaces"
	"github.com/stretchr/testify/assert"
)

func TestErrorCode(t *testing.T) {
	cases := []struct {
		err  error
		code string
	}{
		{fmt.Errorf("x: %w", ErrRecordingInProgress), interfaces.CodeRecordingInProgress},
		{ErrDeviceBusy, interfaces.CodeDeviceBusy},
		{&OpError{Kind: ErrStartFailed, Path: "/a", Err: audio.ErrUnsupportedFormat}, interfaces.CodeStartFailed},
		{&OpError{Kind: ErrStopFailed, Path: "/a", Err: errors.New("flush")}, interfaces.CodeStopFailed},
		{&OpError{Kind: ErrNotFound, Path: "/a"}, interfaces.CodeNotFound},
		{&OpError{Kind: ErrFileInUse, Path: "/a"}, interfaces.CodeFileInUse},
		{&OpError{Kind: ErrIO, Path: "/a", Err: errors.New("perm")}, interfaces.CodeIOError},
		{fmt.Errorf("%w: xyz", audio.ErrUnsupportedFormat), interfaces.CodeUnsupportedFormat},
		{fmt.Errorf("%w: ../x", audio.ErrInvalidFormat), interfaces.CodeInvalidArgument},
		{ErrInvalidArgument, interfaces.CodeInvalidArgument},
		{errors.New("boom"), interfaces.CodeInternal},
	}
	for _, c := range cases {
		assert.Equal(t, c.code, errorCode(c.err), c.err.Error())
	}
}

func TestOpErrorUnwrap(t *testing.T) {
	cause := errors.New("disk full")
	err := error(&OpError{Kind: ErrStopFailed, Path: "/a.wav", Err: cause})

	assert.ErrorIs(t, err, ErrStopFailed)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "failed to stop: /a.wav: disk full", err.Error())
	assert.Equal(t, "file not found: /b", (&OpError{Kind: ErrNotFound, Path: "/b"}).Error())
}
