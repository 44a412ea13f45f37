package helpers

import (
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAddress(t *testing.T) {
	tests := []struct {
		in      string
		want    uint64
		wantErr bool
	}{
		{in: "0x1400000", want: 0x1400000},
		{in: "0X7FF6_1234_0000", want: 0x7ff612340000},
		{in: "4096", want: 4096},
		{in: " 0x10 ", want: 0x10},
		{in: "", wantErr: true},
		{in: "0xZZ", wantErr: true},
		{in: "-1", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseAddress(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFormatAddress(t *testing.T) {
	assert.Equal(t, "0x00400000", FormatAddress(0x400000))
	assert.Equal(t, "0x00007ff612340000", FormatAddress(0x7ff612340000))
}

func TestAddressValue_Flag(t *testing.T) {
	var addr uint64
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.Var(NewAddressValue(0x400000, &addr), "base", "link base")

	assert.Equal(t, uint64(0x400000), addr)
	assert.Equal(t, "0x00400000", fs.Lookup("base").DefValue)

	require.NoError(t, fs.Parse([]string{"--base", "0x1000000"}))
	assert.Equal(t, uint64(0x1000000), addr)

	assert.Error(t, fs.Parse([]string{"--base", "nope"}))
}
