package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/getkin/kin-openapi/routers"
	"github.com/getkin/kin-openapi/routers/gorillamux"
	"github.com/sirupsen/logrus"
)

// ValidationMiddleware validates incoming requests against the OpenAPI
// schema of the routing API.
type ValidationMiddleware struct {
	router  routers.Router
	logger  *logrus.Logger
	enabled bool
}

// ValidationConfig configures the validation middleware.
type ValidationConfig struct {
	Enabled    bool   `yaml:"enabled"`
	SpecPath   string `yaml:"spec_path"`
	StrictMode bool   `yaml:"strict_mode"`
}

// NewValidationMiddleware creates a new validation middleware.
func NewValidationMiddleware(config *ValidationConfig, logger *logrus.Logger) (*ValidationMiddleware, error) {
	if config == nil {
		config = &ValidationConfig{
			Enabled:  false,
			SpecPath: "docs/openapi.yaml",
		}
	}

	vm := &ValidationMiddleware{
		logger:  logger,
		enabled: config.Enabled,
	}

	if !config.Enabled {
		logger.Info("API validation middleware disabled")
		return vm, nil
	}

	if err := vm.loadOpenAPISpec(config.SpecPath); err != nil {
		return nil, fmt.Errorf("failed to load OpenAPI spec: %w", err)
	}

	logger.WithField("spec_path", config.SpecPath).Info("API validation middleware enabled")
	return vm, nil
}

// loadOpenAPISpec loads and parses the OpenAPI specification.
func (vm *ValidationMiddleware) loadOpenAPISpec(specPath string) error {
	loader := openapi3.NewLoader()
	loader.IsExternalRefsAllowed = true

	doc, err := loader.LoadFromFile(specPath)
	if err != nil {
		return fmt.Errorf("failed to load OpenAPI spec from %s: %w", specPath, err)
	}

	ctx := context.Background()
	if err := doc.Validate(ctx); err != nil {
		return fmt.Errorf("invalid OpenAPI spec: %w", err)
	}

	router, err := gorillamux.NewRouter(doc)
	if err != nil {
		return fmt.Errorf("failed to create OpenAPI router: %w", err)
	}

	vm.router = router
	return nil
}

// Middleware returns the HTTP middleware function.
func (vm *ValidationMiddleware) Middleware(next http.Handler) http.Handler {
	if !vm.enabled {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := vm.validateRequest(r); err != nil {
			vm.logger.WithError(err).WithFields(logrus.Fields{
				"method": r.Method,
				"path":   r.URL.Path,
			}).Warn("Request validation failed")

			vm.writeValidationError(w, err)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// validateRequest validates an HTTP request against the OpenAPI spec.
func (vm *ValidationMiddleware) validateRequest(r *http.Request) error {
	route, pathParams, err := vm.router.FindRoute(r)
	if err != nil {
		// Routes not documented in the spec (like /metrics) pass through.
		if strings.Contains(err.Error(), "not found") {
			return nil
		}
		return fmt.Errorf("route lookup failed: %w", err)
	}

	var body []byte
	if r.Body != nil {
		body, err = io.ReadAll(r.Body)
		if err != nil {
			return fmt.Errorf("failed to read request body: %w", err)
		}
		// Restore the body for downstream handlers.
		r.Body = io.NopCloser(bytes.NewBuffer(body))
	}

	input := &openapi3filter.RequestValidationInput{
		Request:    r,
		PathParams: pathParams,
		Route:      route,
	}
	if len(body) > 0 {
		input.Request.Body = io.NopCloser(bytes.NewBuffer(body))
	}

	if err := openapi3filter.ValidateRequest(r.Context(), input); err != nil {
		return fmt.Errorf("request validation failed: %w", err)
	}

	return nil
}

// writeValidationError writes a validation error response.
func (vm *ValidationMiddleware) writeValidationError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)

	response := map[string]interface{}{
		"error": map[string]interface{}{
			"message": vm.summarizeValidationError(err),
			"type":    "validation_error",
			"code":    "400",
		},
		"timestamp": time.Now().Unix(),
	}

	json.NewEncoder(w).Encode(response)
}

// summarizeValidationError maps common schema failures to short messages.
func (vm *ValidationMiddleware) summarizeValidationError(err error) string {
	errorStr := err.Error()

	switch {
	case strings.Contains(errorStr, "request body"):
		return "Invalid request body format"
	case strings.Contains(errorStr, "required"):
		return "Missing required field"
	case strings.Contains(errorStr, "enum"):
		return "Invalid enum value"
	default:
		return errorStr
	}
}
