// Package agentloop is the ADI Agent Loop module: a command-line service for
// agent operations plus MCP-style tools and resources services. Agent
// execution itself needs an LLM provider and is not part of this module.
package agentloop

import (
	"fmt"
	"sync"

	"github.com/morezero/plugin-host/pkg/module"
	"github.com/morezero/plugin-host/pkg/semver"
	"github.com/morezero/plugin-host/pkg/service"
)

// Module and service identifiers.
const (
	ModuleName       = "adi.agent-loop"
	ServiceCLI       = "adi.agent-loop.cli"
	ServiceTools     = "adi.agent-loop.tools"
	ServiceResources = "adi.agent-loop.resources"

	moduleVersion  = "1.0.0"
	minHostVersion = "0.8.0"
)

var serviceVersion = semver.NewVersion(1, 0, 0)

// Module implements module.Module.
type Module struct {
	toolset *Toolset

	mu         sync.Mutex
	host       module.Host
	registered []string
}

// NewParams holds parameters for New.
type NewParams struct {
	// Tools served by the tools service. Empty by default.
	Tools *Toolset
}

// New creates the module.
func New(params NewParams) *Module {
	tools := params.Tools
	if tools == nil {
		tools = EmptyToolset()
	}
	return &Module{toolset: tools}
}

// Entry is the module's entry point for the host catalog and plugin builds.
func Entry() module.Module {
	return New(NewParams{})
}

// Describe implements module.Module.
func (m *Module) Describe() module.Info {
	return module.Info{
		Name:           ModuleName,
		DisplayName:    "ADI Agent Loop",
		Version:        moduleVersion,
		Category:       "core",
		Author:         "ADI Team",
		Description:    "Autonomous LLM agent with tool execution",
		MinHostVersion: minHostVersion,
	}
}

type registration struct {
	label string
	desc  service.Descriptor
	table service.MethodTable
}

func (m *Module) registrations() []registration {
	return []registration{
		{
			label: "CLI commands",
			desc: service.NewDescriptor(ServiceCLI, serviceVersion, ModuleName).
				WithDescription("CLI commands for agent operations"),
			table: newCLITable(m.toolset),
		},
		{
			label: "tools",
			desc: service.NewDescriptor(ServiceTools, serviceVersion, ModuleName).
				WithDescription("Tools available to the agent"),
			table: newToolsTable(m.toolset),
		},
		{
			label: "resources",
			desc: service.NewDescriptor(ServiceResources, serviceVersion, ModuleName).
				WithDescription("Agent configuration and help resources"),
			table: newResourcesTable(),
		},
	}
}

// Init implements module.Module.
func (m *Module) Init(host module.Host) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.host = host
	m.registered = nil
	for _, r := range m.registrations() {
		if err := host.RegisterService(r.desc, r.table); err != nil {
			status := module.StatusFor(err)
			host.Error(fmt.Sprintf("Failed to register %s service: %d", r.label, status))
			return status
		}
		m.registered = append(m.registered, r.desc.ID)
	}

	host.Info("ADI Agent Loop plugin initialized")
	return 0
}

// Cleanup implements module.Module.
func (m *Module) Cleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.host == nil {
		return
	}
	for idx := len(m.registered) - 1; idx >= 0; idx-- {
		id := m.registered[idx]
		if err := m.host.UnregisterService(id); err != nil {
			m.host.Error(fmt.Sprintf("Failed to unregister %s: %v", id, err))
		}
	}
	m.registered = nil
}
