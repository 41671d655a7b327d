package events

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/chainloader/internal/foundation/errors"
)

func TestEncode(t *testing.T) {
	data, err := Encode(Outcome{BootID: "b1", Component: "comp", Outcome: "activated", Version: "2"})
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Equal(t, "activated", decoded["outcome"])
	require.Equal(t, "2", decoded["version"])
	require.NotEmpty(t, decoded["timestamp"])
	require.NotContains(t, decoded, "restartRequired")
}

func TestMemoryPublisher(t *testing.T) {
	var m Memory
	require.NoError(t, m.Publish(context.Background(), Outcome{Outcome: "unchanged"}))
	require.Len(t, m.Outcomes(), 1)
}

func TestNATSConnectFailureIsClassified(t *testing.T) {
	_, err := NewNATSPublisher("nats://127.0.0.1:1", "chainloader.boot")
	require.Error(t, err)
	require.True(t, errors.HasCategory(err, errors.CategoryNetwork))
}
