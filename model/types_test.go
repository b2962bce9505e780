package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFunction(t *testing.T) {
	fn, err := ParseFunction("AUTH")
	require.NoError(t, err)
	assert.Equal(t, FunctionAuth, fn)

	fn, err = ParseFunction("WHITELIST_REQUEST")
	require.NoError(t, err)
	assert.Equal(t, FunctionWhitelistRequest, fn)

	for _, raw := range []string{"", "auth", "SHUTDOWN"} {
		_, err := ParseFunction(raw)
		assert.Error(t, err, raw)
	}
}

func TestWhitelistRequestTolerantDecode(t *testing.T) {
	// Clients are not trusted to send every field.
	var req WhitelistRequest
	require.NoError(t, json.Unmarshal([]byte(`{"requests":["darn"]}`), &req))
	assert.Equal(t, []string{"darn"}, req.Requests)
	assert.Empty(t, req.Username)
	assert.False(t, req.IsUsernameReq)
}

func TestRelayResponseOmitsEmptyData(t *testing.T) {
	frame, err := json.Marshal(RelayResponse{ID: "bot1", Timestamp: "t1", Message: ResponseComplete})
	require.NoError(t, err)
	assert.NotContains(t, string(frame), "data")

	frame, err = json.Marshal(RelayResponse{
		ID:        "srv",
		Timestamp: "t2",
		Message:   ResponseWhitelistUpdate,
		Data:      &UpdateData{Word: "darn"},
	})
	require.NoError(t, err)
	assert.Contains(t, string(frame), `"word":"darn"`)
	assert.Contains(t, string(frame), `"is_username":false`)
}
