package version

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUserAgent(t *testing.T) {
	ua := UserAgent()
	assert.True(t, strings.HasPrefix(ua, "coral-profiler/"+Version+" ("))
	assert.NotEmpty(t, GoVersion)
}
