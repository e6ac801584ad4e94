package engine

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPendingKind_DecodesFromJSON(t *testing.T) {
	// A notification consumer must be able to decode the view payloads
	// the hub emits.
	for _, kind := range []PendingKind{PendingEnter, PendingExit, PendingReturn} {
		data, err := json.Marshal(PendingView{Kind: kind, FenceID: "site-a"})
		require.NoError(t, err)

		var v PendingView
		require.NoError(t, json.Unmarshal(data, &v))
		assert.Equal(t, kind, v.Kind)
	}
}

func TestPendingKind_RejectsUnknownText(t *testing.T) {
	var k PendingKind
	err := k.UnmarshalText([]byte("linger"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "linger")
}
