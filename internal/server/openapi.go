package server

import (
	"encoding/json"
	"net/http"
	"os"

	"github.com/gorilla/mux"
	"gopkg.in/yaml.v2"
)

const openAPISpecPath = "docs/openapi.yaml"

// setupDocsRoutes wires the API documentation endpoints.
func (s *Server) setupDocsRoutes(r *mux.Router) {
	r.HandleFunc("/openapi.yaml", s.handleOpenAPIYAML).Methods("GET")
	r.HandleFunc("/openapi.json", s.handleOpenAPIJSON).Methods("GET")
}

// handleOpenAPIYAML serves the raw OpenAPI specification.
func (s *Server) handleOpenAPIYAML(w http.ResponseWriter, r *http.Request) {
	data, err := os.ReadFile(openAPISpecPath)
	if err != nil {
		s.logger.WithError(err).Error("Failed to read OpenAPI spec")
		s.writeErrorResponse(w, http.StatusInternalServerError, "OpenAPI specification not available")
		return
	}

	w.Header().Set("Content-Type", "application/x-yaml")
	w.Write(data)
}

// handleOpenAPIJSON serves the specification converted to JSON for tooling
// that cannot consume YAML.
func (s *Server) handleOpenAPIJSON(w http.ResponseWriter, r *http.Request) {
	data, err := os.ReadFile(openAPISpecPath)
	if err != nil {
		s.logger.WithError(err).Error("Failed to read OpenAPI spec")
		s.writeErrorResponse(w, http.StatusInternalServerError, "OpenAPI specification not available")
		return
	}

	var yamlDoc interface{}
	if err := yaml.Unmarshal(data, &yamlDoc); err != nil {
		s.logger.WithError(err).Error("Failed to parse OpenAPI spec")
		s.writeErrorResponse(w, http.StatusInternalServerError, "Invalid OpenAPI specification")
		return
	}

	jsonDoc := convertYAMLToJSON(yamlDoc)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(jsonDoc)
}

// convertYAMLToJSON rewrites yaml.v2 map[interface{}]interface{} nodes into
// the string-keyed maps encoding/json requires.
func convertYAMLToJSON(i interface{}) interface{} {
	switch x := i.(type) {
	case map[interface{}]interface{}:
		m := make(map[string]interface{})
		for k, v := range x {
			if key, ok := k.(string); ok {
				m[key] = convertYAMLToJSON(v)
			}
		}
		return m
	case []interface{}:
		for i, v := range x {
			x[i] = convertYAMLToJSON(v)
		}
	}
	return i
}
