package version

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestShort(t *testing.T) {
	// Under `go test` no VCS metadata is embedded, so the tag degrades to
	// "dev" (possibly dirty-suffixed if a toolchain ever embeds it).
	short := Short()
	assert.NotEmpty(t, short)
	if current.Commit == "" {
		assert.True(t, strings.HasPrefix(short, "dev"))
	} else {
		assert.LessOrEqual(t, len(strings.TrimSuffix(short, "-dirty")), 8)
	}
}

func TestString(t *testing.T) {
	assert.True(t, strings.HasPrefix(String(), AppName+"/"))
}
