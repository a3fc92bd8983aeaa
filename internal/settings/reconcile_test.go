package settings

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleSchema() []Group {
	return []Group{
		{
			GroupName: "Navigation",
			Parameters: []Parameter{
				{ID: 1, Name: "Speed", Value: map[string]string{"10": "Fast", "2": "Slow", "5": "Medium"}},
				{ID: 2, Name: "Autopilot", Value: map[string]string{"1": "On", "0": "Off"}},
			},
		},
		{
			GroupName: "Info",
			Parameters: []Parameter{
				{ID: 3, Name: "Firmware", Value: map[string]string{}},
				{ID: 4, Name: "Mode", Value: map[string]string{"x": "broken", "7": "Seven"}},
			},
		},
	}
}

func TestParameter_OptionsSortedNumerically(t *testing.T) {
	p := sampleSchema()[0].Parameters[0]
	opts := p.Options()

	require.Len(t, opts, 3)
	assert.Equal(t, []int{2, 5, 10}, []int{opts[0].Value, opts[1].Value, opts[2].Value})
	assert.Equal(t, "Slow", opts[0].Label)
}

func TestReconcile(t *testing.T) {
	groups := Reconcile(sampleSchema(), Values{2: 1, 99: 42})
	require.Len(t, groups, 2)

	speed := groups[0].Parameters[0]
	require.NotNil(t, speed.Current)
	assert.Equal(t, 2, *speed.Current, "lowest numeric key, not lexical or insertion order")
	assert.True(t, speed.Defaulted)

	autopilot := groups[0].Parameters[1]
	require.NotNil(t, autopilot.Current)
	assert.Equal(t, 1, *autopilot.Current)
	assert.False(t, autopilot.Defaulted)

	firmware := groups[1].Parameters[0]
	assert.True(t, firmware.DisplayOnly)
	assert.Nil(t, firmware.Current)

	mode := groups[1].Parameters[1]
	require.Len(t, mode.Options, 1, "non-integer keys are skipped")
	assert.Equal(t, 7, *mode.Current)
}

func TestReconcile_ignoresUnknownIDs(t *testing.T) {
	groups := Reconcile(sampleSchema(), Values{99: 1})
	for _, g := range groups {
		for _, p := range g.Parameters {
			assert.NotEqual(t, 99, p.ID)
		}
	}
}

func TestFindParameter(t *testing.T) {
	p, ok := FindParameter(sampleSchema(), 4)
	require.True(t, ok)
	assert.Equal(t, "Mode", p.Name)
	assert.True(t, p.Allows(7))
	assert.False(t, p.Allows(8))

	_, ok = FindParameter(sampleSchema(), 5)
	assert.False(t, ok)
}

func TestLocalization(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", "en_US"},
		{"en", "en_US"},
		{"uk", "uk_UA"},
		{"ru", "ru_RU"},
		{"de-AT", "de_DE"},
		{"ro", "ro_RO"},
		{"pl-PL", "pl_PL"},
		{"uk_UA", "uk_UA"},
		{"ru_RU", "ru_RU"},
		{"fr", "en_US"},
		{"ja-JP", "en_US"},
		{"uk-UA,uk;q=0.9,en;q=0.8", "uk_UA"},
		{"not a tag!!", "en_US"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, Localization(tt.in))
		})
	}
}
