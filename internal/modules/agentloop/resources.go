package agentloop

import (
	"context"
	"fmt"

	"github.com/morezero/plugin-host/pkg/service"
	"github.com/morezero/plugin-host/pkg/value"
)

// Resource is a readable text document.
type Resource struct {
	URI         string `json:"uri"`
	Name        string `json:"name"`
	Description string `json:"description"`
	MimeType    string `json:"mimeType"`

	read func() string
}

var resources = []Resource{
	{
		URI:         "adi://agent-loop/config",
		Name:        "config",
		Description: "Current agent configuration",
		MimeType:    "text/plain",
		read:        configText,
	},
	{
		URI:         "adi://agent-loop/help",
		Name:        "help",
		Description: "Command help",
		MimeType:    "text/plain",
		read:        func() string { return helpText },
	},
}

func newResourcesTable() *service.Methods {
	return service.NewMethods().
		HandleFunc("list_resources", "List available resources", func(_ context.Context, _ value.Value) (value.Value, error) {
			return value.FromInterface(resources)
		}).
		HandleFunc("read_resource", "Read a resource by URI", func(_ context.Context, args value.Value) (value.Value, error) {
			uri, _ := args.Get("uri")
			for _, r := range resources {
				if r.URI == uri.AsString() {
					return value.Object(
						value.Pair("uri", value.String(r.URI)),
						value.Pair("mimeType", value.String(r.MimeType)),
						value.Pair("text", value.String(r.read())),
					), nil
				}
			}
			return value.Null(), fmt.Errorf("Resource not found: %s", uri.AsString())
		})
}
