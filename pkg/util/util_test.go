package util

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeepClone_MapIndependence(t *testing.T) {
	original := map[string]any{
		"method": "GET",
		"query":  map[string]any{"page": "1"},
		"tags":   []any{"a", "b"},
	}

	clone, ok := DeepClone(original).(map[string]any)
	require.True(t, ok)
	assert.Equal(t, original, clone)

	// Mutating the clone must not leak back into the original.
	clone["method"] = "POST"
	clone["query"].(map[string]any)["page"] = "2"
	clone["tags"].([]any)[0] = "z"

	assert.Equal(t, "GET", original["method"])
	assert.Equal(t, "1", original["query"].(map[string]any)["page"])
	assert.Equal(t, "a", original["tags"].([]any)[0])
}

func TestDeepClone_Scalars(t *testing.T) {
	assert.Equal(t, 42, DeepClone(42))
	assert.Equal(t, "x", DeepClone("x"))
	assert.Nil(t, DeepClone(nil))
}

func TestDeepClone_HeaderMap(t *testing.T) {
	headers := map[string][]string{"Accept": {"application/json"}}
	clone := DeepClone(headers).(map[string][]string)
	clone["Accept"][0] = "text/plain"
	assert.Equal(t, "application/json", headers["Accept"][0])
}

func TestMerge(t *testing.T) {
	tests := []struct {
		name      string
		defaults  map[string]any
		overrides map[string]any
		want      map[string]any
	}{
		{
			name:      "override wins",
			defaults:  map[string]any{"debug": false},
			overrides: map[string]any{"debug": true},
			want:      map[string]any{"debug": true},
		},
		{
			name:      "defaults fill gaps",
			defaults:  map[string]any{"recordRequests": true, "debug": false},
			overrides: map[string]any{"debug": true},
			want:      map[string]any{"recordRequests": true, "debug": true},
		},
		{
			name:      "nested maps merge recursively",
			defaults:  map[string]any{"opts": map[string]any{"a": 1, "b": 2}},
			overrides: map[string]any{"opts": map[string]any{"b": 3}},
			want:      map[string]any{"opts": map[string]any{"a": 1, "b": 3}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Merge(tt.defaults, tt.overrides)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMerge_DoesNotMutateInputs(t *testing.T) {
	defaults := map[string]any{"opts": map[string]any{"a": 1}}
	overrides := map[string]any{"opts": map[string]any{"b": 2}}
	_ = Merge(defaults, overrides)
	assert.Equal(t, map[string]any{"a": 1}, defaults["opts"])
	assert.Equal(t, map[string]any{"b": 2}, overrides["opts"])
}

func TestSocketName(t *testing.T) {
	tcp := &net.TCPAddr{IP: net.ParseIP("10.0.0.7"), Port: 52114}
	assert.Equal(t, "10.0.0.7:52114", SocketName(tcp))

	udp := &net.UDPAddr{IP: net.ParseIP("10.0.0.7"), Port: 52114}
	assert.Equal(t, "10.0.0.7", SocketName(udp))

	assert.Equal(t, "unknown", SocketName(nil))
}

func TestDefined(t *testing.T) {
	assert.False(t, Defined(nil))
	assert.True(t, Defined(0))
	assert.True(t, IsNull(nil))
	assert.False(t, IsNull(""))
}

func TestTruncateBody(t *testing.T) {
	assert.Equal(t, "short", TruncateBody("short", 100))
	assert.Equal(t, "abc...(truncated)", TruncateBody("abcdef", 3))
}
