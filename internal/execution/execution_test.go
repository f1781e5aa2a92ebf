package execution

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEnvironmentFromSlice(t *testing.T) {
	tests := []struct {
		name string
		env  []string
		want map[string]string
	}{
		{
			name: "parses simple entries",
			env:  []string{"HOME=/home/user", "PATH=/usr/bin"},
			want: map[string]string{"HOME": "/home/user", "PATH": "/usr/bin"},
		},
		{
			name: "value containing an equals sign",
			env:  []string{"FOO=a=b=c"},
			want: map[string]string{"FOO": "a=b=c"},
		},
		{
			name: "last occurrence of a duplicated name wins",
			env:  []string{"FOO=first", "FOO=second"},
			want: map[string]string{"FOO": "second"},
		},
		{
			name: "empty slice",
			env:  nil,
			want: map[string]string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, EnvironmentFromSlice(tt.env))
		})
	}
}

func TestExecution_EnvironmentSlice_RoundTripsThroughEnvironmentFromSlice(t *testing.T) {
	env := []string{"HOME=/home/user", "PATH=/usr/bin", "EMPTY="}
	exec := Execution{Environment: EnvironmentFromSlice(env)}

	got := EnvironmentFromSlice(exec.EnvironmentSlice())
	assert.Equal(t, exec.Environment, got)
}
