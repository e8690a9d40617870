package llmerrors

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTypeOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorType
	}{
		{
			name: "nil error",
			err:  nil,
			want: TypeUnknown,
		},
		{
			name: "classified error",
			err:  New(TypeTransport, "connect failed"),
			want: TypeTransport,
		},
		{
			name: "wrapped classified error",
			err:  fmt.Errorf("call failed: %w", New(TypeAuth, "rejected")),
			want: TypeAuth,
		},
		{
			name: "context cancellation",
			err:  context.Canceled,
			want: TypeCancelled,
		},
		{
			name: "deadline exceeded",
			err:  context.DeadlineExceeded,
			want: TypeTransport,
		},
		{
			name: "connection refused string",
			err:  errors.New("dial tcp 127.0.0.1:11434: connect: connection refused"),
			want: TypeTransport,
		},
		{
			name: "missing model",
			err:  errors.New(`model "nonexistent" not found, try pulling it first`),
			want: TypeBadRequest,
		},
		{
			name: "json decode failure",
			err:  errors.New("invalid character 'x' looking for beginning of value"),
			want: TypeMalformed,
		},
		{
			name: "unclassifiable",
			err:  errors.New("something odd happened"),
			want: TypeUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, TypeOf(tt.err))
		})
	}
}

func TestErrorFormatting(t *testing.T) {
	base := errors.New("socket closed")
	err := Wrap(TypeTransport, "stream interrupted", base)

	assert.Equal(t, "transport: stream interrupted: socket closed", err.Error())
	require.ErrorIs(t, err, base)
}

func TestIs(t *testing.T) {
	err := New(TypeCancelled, "user cancelled")

	assert.True(t, Is(err, TypeCancelled))
	assert.False(t, Is(err, TypeTransport))
	assert.False(t, Is(nil, TypeCancelled))
}
