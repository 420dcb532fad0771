package version

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGet(t *testing.T) {
	info := Get()
	assert.Equal(t, runtime.Version(), info.GoVersion)
	assert.Equal(t, runtime.GOOS+"/"+runtime.GOARCH, info.Platform)
	assert.NotEmpty(t, info.Version)
}

func TestInfoStrings(t *testing.T) {
	dev := Info{CommitHash: "0123456789abcdef", BuildTime: "now", Version: "dev"}
	assert.Equal(t, "quadstore dev (commit 0123456789abcdef, built now)", dev.String())
	assert.Equal(t, "0123456", dev.Short())

	rel := Info{CommitHash: "abc", BuildTime: "now", Version: "v1.2.0"}
	assert.Equal(t, "quadstore v1.2.0 (commit abc, built now)", rel.String())
	assert.Equal(t, "v1.2.0", rel.Short())
	assert.Equal(t, "abc", Info{CommitHash: "abc", Version: "dev"}.Short())
}
