// Package openapi builds the OpenAPI 3.0 document served at /openapi.json.
// The document is assembled by hand and cached; the API surface is small
// enough that reflection-based generation is not worth the machinery.
package openapi

import (
	"sync"

	"github.com/getkin/kin-openapi/openapi3"
)

var (
	specOnce   sync.Once
	cachedSpec *openapi3.T
)

// Spec returns the OpenAPI document for the promoter API.
func Spec() *openapi3.T {
	specOnce.Do(func() {
		cachedSpec = build()
	})
	return cachedSpec
}

func build() *openapi3.T {
	spec := &openapi3.T{
		OpenAPI: "3.0.3",
		Info: &openapi3.Info{
			Title:       "Promoter API",
			Description: "Template promotion workflow with guardrail enforcement",
			Version:     "1.0.0",
		},
		Paths: &openapi3.Paths{},
		Components: &openapi3.Components{
			Schemas: make(openapi3.Schemas),
		},
	}

	addSchemas(spec)
	addTemplatePaths(spec)
	addDashboardPaths(spec)
	addHealthPaths(spec)

	return spec
}

// =============================================================================
// Schemas
// =============================================================================

func stringSchema() *openapi3.SchemaRef {
	return &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"string"}}}
}

func intSchema() *openapi3.SchemaRef {
	return &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"integer"}}}
}

func timeSchema() *openapi3.SchemaRef {
	return &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"string"}, Format: "date-time"}}
}

func enumSchema(values ...interface{}) *openapi3.SchemaRef {
	return &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"string"}, Enum: values}}
}

func addSchemas(spec *openapi3.T) {
	spec.Components.Schemas["Template"] = &openapi3.SchemaRef{
		Value: &openapi3.Schema{
			Type: &openapi3.Types{"object"},
			Properties: openapi3.Schemas{
				"id":           stringSchema(),
				"name":         stringSchema(),
				"slug":         stringSchema(),
				"description":  stringSchema(),
				"content_ref":  stringSchema(),
				"state":        enumSchema("submitted", "in_review", "sandboxed", "approved", "production", "rejected"),
				"category":     enumSchema("", "dev", "main"),
				"submitted_by": stringSchema(),
				"created_at":   timeSchema(),
				"updated_at":   timeSchema(),
			},
		},
	}

	spec.Components.Schemas["Transition"] = &openapi3.SchemaRef{
		Value: &openapi3.Schema{
			Type: &openapi3.Types{"object"},
			Properties: openapi3.Schemas{
				"id":          stringSchema(),
				"template_id": stringSchema(),
				"from_state":  stringSchema(),
				"to_state":    stringSchema(),
				"actor":       stringSchema(),
				"outcome":     enumSchema("applied", "rejected"),
				"reason":      enumSchema("guardrail_failed", "separation_of_duties", "deployment_failed"),
				"detail":      stringSchema(),
				"created_at":  timeSchema(),
			},
		},
	}

	spec.Components.Schemas["SubmitTemplateRequest"] = &openapi3.SchemaRef{
		Value: &openapi3.Schema{
			Type:     &openapi3.Types{"object"},
			Required: []string{"name", "content_ref"},
			Properties: openapi3.Schemas{
				"name":        stringSchema(),
				"description": stringSchema(),
				"content_ref": stringSchema(),
			},
		},
	}

	spec.Components.Schemas["RejectTemplateRequest"] = &openapi3.SchemaRef{
		Value: &openapi3.Schema{
			Type:     &openapi3.Types{"object"},
			Required: []string{"reason"},
			Properties: openapi3.Schemas{
				"reason": stringSchema(),
			},
		},
	}

	spec.Components.Schemas["TemplateList"] = &openapi3.SchemaRef{
		Value: &openapi3.Schema{
			Type: &openapi3.Types{"object"},
			Properties: openapi3.Schemas{
				"templates": {
					Value: &openapi3.Schema{
						Type:  &openapi3.Types{"array"},
						Items: &openapi3.SchemaRef{Ref: "#/components/schemas/Template"},
					},
				},
				"limit":  intSchema(),
				"offset": intSchema(),
			},
		},
	}

	spec.Components.Schemas["Stats"] = &openapi3.SchemaRef{
		Value: &openapi3.Schema{
			Type: &openapi3.Types{"object"},
			Properties: openapi3.Schemas{
				"applied":  intSchema(),
				"rejected": intSchema(),
				"rejected_by_reason": {
					Value: &openapi3.Schema{
						Type:                 &openapi3.Types{"object"},
						AdditionalProperties: openapi3.AdditionalProperties{Schema: intSchema()},
					},
				},
				"templates_by_state": {
					Value: &openapi3.Schema{
						Type:                 &openapi3.Types{"object"},
						AdditionalProperties: openapi3.AdditionalProperties{Schema: intSchema()},
					},
				},
			},
		},
	}

	spec.Components.Schemas["Error"] = &openapi3.SchemaRef{
		Value: &openapi3.Schema{
			Type: &openapi3.Types{"object"},
			Properties: openapi3.Schemas{
				"error": stringSchema(),
				"code":  stringSchema(),
			},
		},
	}
}

// =============================================================================
// Paths
// =============================================================================

func jsonBody(ref string) *openapi3.RequestBodyRef {
	return &openapi3.RequestBodyRef{
		Value: &openapi3.RequestBody{
			Required: true,
			Content: openapi3.Content{
				"application/json": &openapi3.MediaType{
					Schema: &openapi3.SchemaRef{Ref: ref},
				},
			},
		},
	}
}

func idParameter() openapi3.Parameters {
	return openapi3.Parameters{
		&openapi3.ParameterRef{
			Value: &openapi3.Parameter{
				Name:     "id",
				In:       "path",
				Required: true,
				Schema:   stringSchema(),
			},
		},
	}
}

func addTemplatePaths(spec *openapi3.T) {
	spec.Paths.Set("/api/v1/templates", &openapi3.PathItem{
		Get: &openapi3.Operation{
			OperationID: "listTemplates",
			Summary:     "List templates, optionally filtered by state",
			Tags:        []string{"Templates"},
			Responses:   &openapi3.Responses{},
		},
		Post: &openapi3.Operation{
			OperationID: "submitTemplate",
			Summary:     "Submit a template into the review pipeline",
			Tags:        []string{"Templates"},
			RequestBody: jsonBody("#/components/schemas/SubmitTemplateRequest"),
			Responses:   &openapi3.Responses{},
		},
	})

	spec.Paths.Set("/api/v1/templates/{id}", &openapi3.PathItem{
		Parameters: idParameter(),
		Get: &openapi3.Operation{
			OperationID: "getTemplate",
			Summary:     "Get a template",
			Tags:        []string{"Templates"},
			Responses:   &openapi3.Responses{},
		},
	})

	spec.Paths.Set("/api/v1/templates/{id}/history", &openapi3.PathItem{
		Parameters: idParameter(),
		Get: &openapi3.Operation{
			OperationID: "getTemplateHistory",
			Summary:     "Get a template's transition history",
			Tags:        []string{"Templates"},
			Responses:   &openapi3.Responses{},
		},
	})

	spec.Paths.Set("/api/v1/templates/{id}/advance", &openapi3.PathItem{
		Parameters: idParameter(),
		Post: &openapi3.Operation{
			OperationID: "advanceTemplate",
			Summary:     "Attempt the next promotion step",
			Tags:        []string{"Transitions"},
			Responses:   &openapi3.Responses{},
		},
	})

	spec.Paths.Set("/api/v1/templates/{id}/reject", &openapi3.PathItem{
		Parameters: idParameter(),
		Post: &openapi3.Operation{
			OperationID: "rejectTemplate",
			Summary:     "Administrative rejection override",
			Tags:        []string{"Transitions"},
			RequestBody: jsonBody("#/components/schemas/RejectTemplateRequest"),
			Responses:   &openapi3.Responses{},
		},
	})
}

func addDashboardPaths(spec *openapi3.T) {
	spec.Paths.Set("/api/v1/approvals/pending", &openapi3.PathItem{
		Get: &openapi3.Operation{
			OperationID: "listPendingApprovals",
			Summary:     "List templates awaiting review or approval",
			Tags:        []string{"Dashboard"},
			Responses:   &openapi3.Responses{},
		},
	})

	spec.Paths.Set("/api/v1/guardrails", &openapi3.PathItem{
		Get: &openapi3.Operation{
			OperationID: "listGuardrails",
			Summary:     "List configured guardrail rules",
			Tags:        []string{"Dashboard"},
			Responses:   &openapi3.Responses{},
		},
	})

	spec.Paths.Set("/api/v1/dashboard/stats", &openapi3.PathItem{
		Get: &openapi3.Operation{
			OperationID: "getStats",
			Summary:     "Aggregate transition statistics",
			Tags:        []string{"Dashboard"},
			Responses:   &openapi3.Responses{},
		},
	})
}

func addHealthPaths(spec *openapi3.T) {
	spec.Paths.Set("/health", &openapi3.PathItem{
		Get: &openapi3.Operation{
			OperationID: "health",
			Summary:     "Liveness check",
			Tags:        []string{"Health"},
			Responses:   &openapi3.Responses{},
		},
	})

	spec.Paths.Set("/ready", &openapi3.PathItem{
		Get: &openapi3.Operation{
			OperationID: "ready",
			Summary:     "Readiness check",
			Tags:        []string{"Health"},
			Responses:   &openapi3.Responses{},
		},
	})
}
