package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coral-mesh/memlens/internal/sys/procmem"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		field  string
	}{
		{name: "defaults are valid"},
		{
			name:   "unknown version",
			mutate: func(c *Config) { c.Version = "9" },
			field:  "version",
		},
		{
			name:   "only empty matchers",
			mutate: func(c *Config) { c.Target.Criteria = []procmem.Matcher{{}} },
			field:  "target.criteria",
		},
		{
			name: "process name without criteria",
			mutate: func(c *Config) {
				c.Target.Criteria = nil
				c.Target.ProcessName = "df.exe"
			},
		},
		{
			name:   "misaligned link base",
			mutate: func(c *Config) { c.Target.DefaultLinkBase = 0x401000 },
			field:  "target.default_link_base",
		},
		{
			name:   "liveness interval too small",
			mutate: func(c *Config) { c.Liveness.Interval = time.Millisecond },
			field:  "liveness.interval",
		},
		{
			name: "disabled liveness ignores interval",
			mutate: func(c *Config) {
				c.Liveness.Enabled = false
				c.Liveness.Interval = 0
			},
		},
		{
			name:   "unknown log level",
			mutate: func(c *Config) { c.Logging.Level = "verbose" },
			field:  "logging.level",
		},
		{
			name:   "no attach attempts",
			mutate: func(c *Config) { c.AttachRetry.MaxRetries = 0 },
			field:  "attach_retry.max_retries",
		},
		{
			name:   "max backoff below initial",
			mutate: func(c *Config) { c.AttachRetry.MaxBackoff = time.Millisecond },
			field:  "attach_retry.max_backoff",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			if tt.mutate != nil {
				tt.mutate(cfg)
			}

			err := cfg.Validate()
			if tt.field == "" {
				assert.NoError(t, err)
				return
			}

			var verr *MultiValidationError
			require.ErrorAs(t, err, &verr)
			require.Len(t, verr.Errors, 1)
			assert.Equal(t, tt.field, verr.Errors[0].Field)
		})
	}
}

func TestMultiValidationError_Error(t *testing.T) {
	single := &MultiValidationError{Errors: []ValidationError{{Field: "a", Message: "bad"}}}
	assert.Equal(t, "a: bad", single.Error())

	multi := &MultiValidationError{Errors: []ValidationError{
		{Field: "a", Message: "bad"},
		{Field: "b", Message: "worse"},
	}}
	assert.Contains(t, multi.Error(), "validation failed with 2 errors")
	assert.Contains(t, multi.Error(), "2. b: worse")
}
