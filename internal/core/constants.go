package core

import (
	"fmt"
	"time"
)

const (
	MaintainerLink    = "https://github.com/dorcha-inc/mcpbridge/blob/main/MAINTAINERS.md"
	BugReportTemplate = "\n\n[NOTE]This is most likely a bug in mcpbridge, please reach out to the maintainers at %s"
)

func BugReportMessage() string {
	return fmt.Sprintf(BugReportTemplate, MaintainerLink)
}

// EnvPrefix is the prefix of every mcpbridge environment variable.
const EnvPrefix = "MCPBRIDGE"

const (
	DefaultListenAddr    = "127.0.0.1:3000"
	DefaultConfigFile    = "mcp_servers.config.json"
	DefaultServerKey     = "brave-search"
	DefaultRoute         = "/api/mcp"
	DefaultRequestField  = "mcp"
	DefaultQueryTimeout  = 30 * time.Second
	DefaultShutdownGrace = 5 * time.Second
)
