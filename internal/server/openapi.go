package server

import (
	"github.com/morezero/plugin-host/pkg/service"
)

// openAPI3 types for generating specs from a service descriptor.
type openAPI3Spec struct {
	OpenAPI string                      `json:"openapi"`
	Info    openAPI3Info                `json:"info"`
	Paths   map[string]openAPI3PathItem `json:"paths"`
}

type openAPI3Info struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Version     string `json:"version"`
}

type openAPI3PathItem struct {
	Post *openAPI3Operation `json:"post,omitempty"`
}

type openAPI3Operation struct {
	Summary     string                      `json:"summary"`
	Description string                      `json:"description,omitempty"`
	OperationID string                      `json:"operationId"`
	RequestBody *openAPI3RequestBody        `json:"requestBody,omitempty"`
	Responses   map[string]openAPI3Response `json:"responses"`
}

type openAPI3RequestBody struct {
	Content map[string]openAPI3MediaType `json:"content"`
}

type openAPI3Response struct {
	Description string                       `json:"description"`
	Content     map[string]openAPI3MediaType `json:"content,omitempty"`
}

type openAPI3MediaType struct {
	Schema map[string]interface{} `json:"schema,omitempty"`
}

// buildOpenAPISpec builds an OpenAPI 3.0 spec with one invoke path per
// method. Arguments and results are free-form JSON.
func buildOpenAPISpec(desc service.Descriptor) *openAPI3Spec {
	anyJSON := map[string]interface{}{}
	envelope := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"id":     map[string]interface{}{"type": "string"},
			"ok":     map[string]interface{}{"type": "boolean"},
			"result": anyJSON,
			"error": map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"code":      map[string]interface{}{"type": "string"},
					"message":   map[string]interface{}{"type": "string"},
					"retryable": map[string]interface{}{"type": "boolean"},
				},
			},
		},
	}

	paths := make(map[string]openAPI3PathItem, len(desc.Methods))
	for _, m := range desc.Methods {
		paths["/services/"+desc.ID+"/invoke/"+m.Name] = openAPI3PathItem{
			Post: &openAPI3Operation{
				Summary:     m.Name,
				Description: m.Description,
				OperationID: m.Name,
				RequestBody: &openAPI3RequestBody{
					Content: map[string]openAPI3MediaType{
						"application/json": {Schema: anyJSON},
					},
				},
				Responses: map[string]openAPI3Response{
					"200": {
						Description: "Success",
						Content:     map[string]openAPI3MediaType{"application/json": {Schema: envelope}},
					},
					"default": {
						Description: "Service error",
						Content:     map[string]openAPI3MediaType{"application/json": {Schema: envelope}},
					},
				},
			},
		}
	}

	description := desc.Description
	if description == "" {
		description = "Service " + desc.ID
	}
	return &openAPI3Spec{
		OpenAPI: "3.0.0",
		Info: openAPI3Info{
			Title:       desc.ID,
			Description: description,
			Version:     desc.Version.String(),
		},
		Paths: paths,
	}
}
