package pipeline_test

import (
	"testing"

	"github.com/illmade-knight/go-courier/pkg/courier"
	"github.com/illmade-knight/go-courier/pkg/pipeline"
	"github.com/illmade-knight/go-courier/pkg/provider"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func descriptors() []provider.Descriptor {
	return []provider.Descriptor{
		{Name: "smtp-main", CanMail: true, FactoryKey: "smtp", Enabled: true},
		{Name: "sms-alpha", CanText: true, FactoryKey: "webhook", Enabled: true},
		{Name: "sms-beta", CanText: true, FactoryKey: "webhook", Enabled: true},
		{Name: "sms-off", CanText: true, FactoryKey: "webhook", Enabled: false},
	}
}

func TestSelectProvider_CapabilityFilter(t *testing.T) {
	mail := courier.Message{ID: "m1", Type: courier.TypeMail}

	desc, err := pipeline.SelectProvider(mail, descriptors())
	require.NoError(t, err)
	assert.Equal(t, "smtp-main", desc.Name)
}

func TestSelectProvider_Deterministic(t *testing.T) {
	text := courier.Message{ID: "m1", Type: courier.TypeText}

	// Both sms-alpha and sms-beta qualify; the smaller name wins every time.
	for i := 0; i < 10; i++ {
		desc, err := pipeline.SelectProvider(text, descriptors())
		require.NoError(t, err)
		assert.Equal(t, "sms-alpha", desc.Name)
	}
}

func TestSelectProvider_PreferenceHonored(t *testing.T) {
	text := courier.Message{ID: "m1", Type: courier.TypeText, PreferredProvider: "sms-beta"}

	desc, err := pipeline.SelectProvider(text, descriptors())
	require.NoError(t, err)
	assert.Equal(t, "sms-beta", desc.Name)
}

func TestSelectProvider_UnusablePreferenceFallsThrough(t *testing.T) {
	tests := []struct {
		name      string
		preferred string
	}{
		{"disabled preference", "sms-off"},
		{"incapable preference", "smtp-main"},
		{"unknown preference", "no-such-provider"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			text := courier.Message{ID: "m1", Type: courier.TypeText, PreferredProvider: tc.preferred}

			desc, err := pipeline.SelectProvider(text, descriptors())
			require.NoError(t, err)
			assert.Equal(t, "sms-alpha", desc.Name)
		})
	}
}

func TestSelectProvider_NoCapableProvider(t *testing.T) {
	mail := courier.Message{ID: "m1", Type: courier.TypeMail}
	textOnly := []provider.Descriptor{
		{Name: "sms-alpha", CanText: true, FactoryKey: "webhook", Enabled: true},
	}

	_, err := pipeline.SelectProvider(mail, textOnly)
	require.ErrorIs(t, err, pipeline.ErrNoCapableProvider)
}
