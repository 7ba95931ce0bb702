package core

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestJoinMapKeys(t *testing.T) {
	assert.Equal(t, "alpha, beta, gamma", JoinMapKeys(map[string]int{"gamma": 3, "alpha": 1, "beta": 2}))
	assert.Equal(t, "", JoinMapKeys(map[string]struct{}{}))
	assert.Equal(t, "1, 2", JoinMapKeys(map[int]bool{2: true, 1: false}))
}

func TestMustFprintf(t *testing.T) {
	var buf bytes.Buffer
	MustFprintf(&buf, "%s=%d\n", "queries", 3)
	assert.Equal(t, "queries=3\n", buf.String())
}
