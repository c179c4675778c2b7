package redisstream

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSettingsValidate(t *testing.T) {
	s := DefaultSettings()
	require.NoError(t, s.Validate())

	s.Enabled = true
	require.NoError(t, s.Validate())

	s.Addr = " "
	require.Error(t, s.Validate())

	s = DefaultSettings()
	s.Enabled = true
	s.Consumer = ""
	require.Error(t, s.Validate())
}

func TestGroupFor(t *testing.T) {
	s := DefaultSettings()
	require.Equal(t, "dsa-tutor.ws-broadcast", s.GroupFor("ws-broadcast"))
	require.Equal(t, "dsa-tutor", s.GroupFor(""))
}

func TestNewTransport_RefusesDisabledSettings(t *testing.T) {
	_, err := NewTransport(context.Background(), DefaultSettings(), nil)
	require.Error(t, err)
}
