package core

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBugReportMessage(t *testing.T) {
	bugReport := BugReportMessage()
	assert.Contains(t, bugReport, MaintainerLink)
	assert.NotContains(t, bugReport, "%s")
}

func TestDefaults(t *testing.T) {
	assert.True(t, strings.HasPrefix(DefaultRoute, "/"))
	assert.Equal(t, "127.0.0.1:3000", DefaultListenAddr)
	assert.Equal(t, "mcp_servers.config.json", DefaultConfigFile)
	assert.Equal(t, "brave-search", DefaultServerKey)
	assert.Positive(t, DefaultQueryTimeout)
}
