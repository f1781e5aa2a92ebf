package pathutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRemoveFromPath(t *testing.T) {
	tests := []struct {
		name  string
		entry string
		path  string
		want  string
	}{
		{name: "removes single occurrence", entry: "/a", path: "/a:/b:/c", want: "/b:/c"},
		{name: "removes repeated occurrences", entry: "/a", path: "/a:/b:/a:/c", want: "/b:/c"},
		{name: "no match leaves path unchanged", entry: "/x", path: "/a:/b", want: "/a:/b"},
		{name: "empty path", entry: "/a", path: "", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, RemoveFromPath(tt.entry, tt.path))
		})
	}
}

func TestKeepFrontInPath(t *testing.T) {
	tests := []struct {
		name  string
		entry string
		path  string
		want  string
	}{
		{name: "prepends when absent", entry: "/shim", path: "/a:/b", want: "/shim:/a:/b"},
		{name: "moves existing entry to front", entry: "/a", path: "/x:/a:/y", want: "/a:/x:/y"},
		{name: "empty path yields just entry", entry: "/shim", path: "", want: "/shim"},
		{name: "already-front entry is not duplicated", entry: "/a", path: "/a:/b", want: "/a:/b"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KeepFrontInPath(tt.entry, tt.path))
		})
	}
}
