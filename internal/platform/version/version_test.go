package version

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGet(t *testing.T) {
	info := Get()

	assert.Equal(t, "dev", info.Version)
	assert.Equal(t, runtime.Version(), info.GoVersion)
}

func TestInfo_String(t *testing.T) {
	assert.Equal(t, "v1.4.0 (3f2a9c1)", Info{Version: "v1.4.0", Commit: "3f2a9c1d88e0"}.String())
	assert.Equal(t, "dev (unknown)", Info{Version: "dev", Commit: "unknown"}.String())
}
