// Command agentloop-plugin builds the ADI Agent Loop module as a Go plugin:
//
//	go build -buildmode=plugin -o agentloop.so ./cmd/agentloop-plugin
//
// The host loads it by path from the manifest.
package main

import (
	"github.com/morezero/plugin-host/internal/modules/agentloop"
	"github.com/morezero/plugin-host/pkg/module"
)

// PluginEntry is looked up by the host under module.EntrySymbol.
var PluginEntry module.EntryFunc = agentloop.Entry

func main() {}
