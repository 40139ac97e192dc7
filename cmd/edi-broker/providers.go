package main

import (
	"github.com/nexus-ops/edi-broker/internal/adapter/claude"
	"github.com/nexus-ops/edi-broker/internal/adapter/codex"
	"github.com/nexus-ops/edi-broker/internal/adapter/opencode"
)

// registerBackends installs every supported agent backend into the dispatch
// registry. Add new backends here as they are implemented.
func registerBackends() {
	claude.Register()
	codex.Register()
	opencode.Register()
}
