package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCurrent_Defaults(t *testing.T) {
	b := Current()
	assert.NotEmpty(t, b.Version)
	assert.NotEmpty(t, b.Commit)
	assert.NotEmpty(t, b.Date)
	assert.Equal(t, b.Version, GetVersion())
}

func TestBuild_Fields(t *testing.T) {
	b := Build{Version: "v1.4.0", Commit: "abc123", Date: "2026-03-01"}
	fields := b.Fields()
	assert.Equal(t, "v1.4.0", fields["version"])
	assert.Equal(t, "abc123", fields["commit"])
	assert.Equal(t, "2026-03-01", fields["built"])
}

func TestBuild_String(t *testing.T) {
	b := Build{Version: "v1.4.0", Commit: "abc123", Date: "2026-03-01"}
	assert.Equal(t, "pos v1.4.0 (commit abc123, built 2026-03-01)", b.String())
}
