package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLog(t *testing.T) {
	var buf bytes.Buffer
	original := log.Logger
	log.Logger = zerolog.New(&buf)
	defer func() { log.Logger = original }()

	Log(context.Background(), Event{
		Type:        EventForcedLogout,
		UserID:      "user-1",
		Fingerprint: "abc123",
		Details: map[string]interface{}{
			"attempt": 1,
			"path":    "/contacts/p-1",
			"cause":   errors.New("refresh rejected"),
		},
	})

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "security", line["audit"])
	assert.Equal(t, "forced_logout", line["event_type"])
	assert.Equal(t, "user-1", line["user_id"])
	assert.Equal(t, "abc123", line["token_fp"])
	assert.Equal(t, "/contacts/p-1", line["path"])
	assert.Equal(t, float64(1), line["attempt"])
	assert.Equal(t, "refresh rejected", line["cause"])
}
