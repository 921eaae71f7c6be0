package errors

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

type mockCloser struct {
	closeErr error
	closed   bool
}

func (m *mockCloser) Close() error {
	m.closed = true
	return m.closeErr
}

func TestDeferClose(t *testing.T) {
	tests := []struct {
		name       string
		closer     *mockCloser
		wantLogged bool
	}{
		{name: "nil closer"},
		{name: "successful close", closer: &mockCloser{}},
		{name: "close with error", closer: &mockCloser{closeErr: errors.New("close failed")}, wantLogged: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			if tt.closer == nil {
				DeferClose(zerolog.New(&buf), nil, "test close")
			} else {
				DeferClose(zerolog.New(&buf), tt.closer, "test close")
				assert.True(t, tt.closer.closed)
			}
			assert.Equal(t, tt.wantLogged, buf.Len() > 0)
		})
	}
}

func TestDeferShutdown(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	var deadline time.Time
	DeferShutdown(logger, func(ctx context.Context) error {
		deadline, _ = ctx.Deadline()
		return nil
	}, time.Minute, "stop")
	assert.WithinDuration(t, time.Now().Add(time.Minute), deadline, 5*time.Second)
	assert.Zero(t, buf.Len())

	DeferShutdown(logger, func(context.Context) error { return errors.New("busy") }, time.Second, "stop failed")
	assert.Contains(t, buf.String(), "stop failed")
	assert.Contains(t, buf.String(), "busy")

	buf.Reset()
	DeferShutdown(logger, nil, time.Second, "nil")
	assert.Zero(t, buf.Len())
}

func TestMust(t *testing.T) {
	assert.NotPanics(t, func() { Must(nil, "initialization") })
	assert.PanicsWithValue(t, "initialization: failed", func() { Must(errors.New("failed"), "initialization") })
}
