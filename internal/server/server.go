// Package server exposes the claim pipeline over HTTP. Handlers are
// thin: authentication, decoding and the error envelope live here, all
// semantics live in the engine.
package server

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"claimline/internal/agents"
	"claimline/internal/domain"
	"claimline/internal/engine"
	"claimline/internal/ledger"
	"claimline/internal/store"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	Keys     store.KeyStore
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"not_found"`
	Message string         `json:"message" example:"claim not found"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Claimline API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Keys))
	hcfg := huma.DefaultConfig("Claimline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerClaims(group, cfg.Engine)
	registerLedger(group, cfg.Engine)
	registerPipeline(group, cfg.Engine)
	registerRuns(group, cfg.Engine)
	registerKeys(group, cfg.Keys)
	registerOpenAPI(router, api, basePath)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	if errors.Is(err, store.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	if errors.Is(err, ledger.ErrChainBroken) {
		return newAPIError(http.StatusConflict, "ledger_broken", err.Error(), nil)
	}
	if errors.Is(err, engine.ErrStageConflict) || errors.Is(err, domain.ErrInvalidTransition) {
		return newAPIError(http.StatusConflict, "stage_conflict", err.Error(), nil)
	}
	if errors.Is(err, engine.ErrInvalidInput) {
		return newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
	}
	var step *engine.StepError
	if errors.As(err, &step) {
		switch step.Type {
		case engine.ErrTypeUpstream:
			return newAPIError(http.StatusBadGateway, "upstream_error", err.Error(), nil)
		case engine.ErrTypeSchema:
			return newAPIError(http.StatusUnprocessableEntity, "schema_validation_failed", err.Error(), nil)
		default:
			return newAPIError(http.StatusUnprocessableEntity, "invalid_output", err.Error(), nil)
		}
	}
	var upstream *agents.UpstreamError
	if errors.As(err, &upstream) {
		return newAPIError(http.StatusBadGateway, "upstream_error", err.Error(), nil)
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

type claimPath struct {
	ClaimID string `path:"claim_id"`
}

func registerClaims(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "submit-claim",
		Method:        http.MethodPost,
		Path:          "/claims",
		Summary:       "Submit a first notice of loss",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		Body submitClaimBody
	}) (*struct {
		Body claimBody `json:"body"`
	}, error) {
		if _, err := actorIDFromContext(ctx); err != nil {
			return nil, err
		}
		c, err := e.SubmitClaim(ctx, input.Body.intake())
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body claimBody `json:"body"`
		}{Body: presentClaim(e, c)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-claims",
		Method:      http.MethodGet,
		Path:        "/claims",
		Summary:     "List claims",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []claimBody `json:"body"`
	}, error) {
		claims, err := e.Store.ListClaims(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		out := make([]claimBody, 0, len(claims))
		for _, c := range claims {
			out = append(out, presentClaim(e, c))
		}
		return &struct {
			Body []claimBody `json:"body"`
		}{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-claim",
		Method:      http.MethodGet,
		Path:        "/claims/{claim_id}",
		Summary:     "Get one claim",
	}, func(ctx context.Context, input *claimPath) (*struct {
		Body claimBody `json:"body"`
	}, error) {
		c, err := e.Store.GetClaim(ctx, input.ClaimID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body claimBody `json:"body"`
		}{Body: presentClaim(e, c)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "purge-claim",
		Method:      http.MethodDelete,
		Path:        "/claims/{claim_id}",
		Summary:     "Administratively purge a claim and its records",
	}, func(ctx context.Context, input *claimPath) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		if err := e.PurgeClaim(ctx, input.ClaimID); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "purged", "claim_id": input.ClaimID}}, nil
	})
}

func registerLedger(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "get-ledger",
		Method:      http.MethodGet,
		Path:        "/claims/{claim_id}/ledger",
		Summary:     "Full audit ledger for a claim",
	}, func(ctx context.Context, input *claimPath) (*struct {
		Body []domain.ClaimEvent `json:"body"`
	}, error) {
		if _, err := e.Store.GetClaim(ctx, input.ClaimID); err != nil {
			return nil, handleError(err)
		}
		events, err := e.Store.GetEvents(ctx, input.ClaimID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.ClaimEvent `json:"body"`
		}{Body: events}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "verify-ledger",
		Method:      http.MethodGet,
		Path:        "/claims/{claim_id}/ledger/verify",
		Summary:     "Recompute and verify the hash chain",
	}, func(ctx context.Context, input *claimPath) (*struct {
		Body verifyBody `json:"body"`
	}, error) {
		if _, err := e.Store.GetClaim(ctx, input.ClaimID); err != nil {
			return nil, handleError(err)
		}
		events, err := e.Store.GetEvents(ctx, input.ClaimID)
		if err != nil {
			return nil, handleError(err)
		}
		body := verifyBody{ClaimID: input.ClaimID, Events: len(events), Verified: true}
		if verr := ledger.VerifyEvents(events); verr != nil {
			body.Verified = false
			body.Detail = verr.Error()
		}
		return &struct {
			Body verifyBody `json:"body"`
		}{Body: body}, nil
	})
}

func registerPipeline(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "run-pipeline",
		Method:      http.MethodPost,
		Path:        "/claims/{claim_id}/pipeline",
		Summary:     "Run the automated pipeline for a claim",
	}, func(ctx context.Context, input *claimPath) (*struct {
		Body engine.PipelineResult `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.RunPipeline(ctx, input.ClaimID, actorID)
		if err != nil && !res.Halted {
			return nil, handleError(err)
		}
		// A halted pass is still a useful answer: the result carries the
		// halt reason and the claim keeps its last completed stage.
		return &struct {
			Body engine.PipelineResult `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "submit-decision",
		Method:      http.MethodPost,
		Path:        "/claims/{claim_id}/decision",
		Summary:     "Record the reviewer decision and run the finance stage",
	}, func(ctx context.Context, input *struct {
		claimPath
		Body decisionBody
	}) (*struct {
		Body decisionResult `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.SubmitDecision(ctx, domain.ReviewerDecision{
			ClaimID:        input.ClaimID,
			Approved:       input.Body.Approved,
			ApprovedAmount: input.Body.ApprovedAmount,
			Notes:          input.Body.Notes,
			ReviewerID:     actorID,
		}, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		out := decisionResult{Claim: presentClaim(e, c)}
		fin, err := e.RunFinanceStage(ctx, input.ClaimID, actorID)
		out.Finance = &fin
		if err != nil && !fin.Halted {
			return nil, handleError(err)
		}
		if c, err := e.Store.GetClaim(ctx, input.ClaimID); err == nil {
			out.Claim = presentClaim(e, c)
		}
		return &struct {
			Body decisionResult `json:"body"`
		}{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "run-finance",
		Method:      http.MethodPost,
		Path:        "/claims/{claim_id}/finance",
		Summary:     "Retry the payment step for a decided claim",
	}, func(ctx context.Context, input *claimPath) (*struct {
		Body engine.PipelineResult `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.RunFinanceStage(ctx, input.ClaimID, actorID)
		if err != nil && !res.Halted {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.PipelineResult `json:"body"`
		}{Body: res}, nil
	})
}

func registerRuns(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-runs",
		Method:      http.MethodGet,
		Path:        "/claims/{claim_id}/runs",
		Summary:     "All agent runs for a claim",
	}, func(ctx context.Context, input *claimPath) (*struct {
		Body []domain.Run `json:"body"`
	}, error) {
		if _, err := e.Store.GetClaim(ctx, input.ClaimID); err != nil {
			return nil, handleError(err)
		}
		runs, err := e.Store.GetRunsForClaim(ctx, input.ClaimID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Run `json:"body"`
		}{Body: runs}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-run",
		Method:      http.MethodGet,
		Path:        "/runs/{run_id}",
		Summary:     "Get one agent run",
	}, func(ctx context.Context, input *struct {
		RunID string `path:"run_id"`
	}) (*struct {
		Body domain.Run `json:"body"`
	}, error) {
		r, err := e.Store.GetRun(ctx, input.RunID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Run `json:"body"`
		}{Body: r}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-run-events",
		Method:      http.MethodGet,
		Path:        "/runs/{run_id}/events",
		Summary:     "Ordered run sub-events, for progress polling",
	}, func(ctx context.Context, input *struct {
		RunID    string `path:"run_id"`
		AfterSeq int64  `query:"after_seq" minimum:"0"`
	}) (*struct {
		Body []domain.RunEvent `json:"body"`
	}, error) {
		if _, err := e.Store.GetRun(ctx, input.RunID); err != nil {
			return nil, handleError(err)
		}
		events, err := e.Store.GetRunEvents(ctx, input.RunID, input.AfterSeq)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.RunEvent `json:"body"`
		}{Body: events}, nil
	})
}

func registerKeys(api huma.API, keys store.KeyStore) {
	huma.Register(api, huma.Operation{
		OperationID:   "issue-key",
		Method:        http.MethodPost,
		Path:          "/keys",
		Summary:       "Issue an API key; only its hash is stored",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		Body issueKeyBody
	}) (*struct {
		Body issuedKeyBody `json:"body"`
	}, error) {
		if _, err := actorIDFromContext(ctx); err != nil {
			return nil, err
		}
		raw := make([]byte, 24)
		if _, err := rand.Read(raw); err != nil {
			return nil, handleError(fmt.Errorf("generate key: %w", err))
		}
		plaintext := "clk_" + hex.EncodeToString(raw)
		key := domain.APIKey{
			ID:        uuid.New().String(),
			ActorID:   input.Body.ActorID,
			Name:      input.Body.Name,
			KeyHash:   store.HashAPIKey(plaintext),
			CreatedAt: time.Now().UTC().Format(time.RFC3339),
		}
		if err := keys.PutAPIKey(ctx, key); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body issuedKeyBody `json:"body"`
		}{Body: issuedKeyBody{
			ID:        key.ID,
			ActorID:   key.ActorID,
			Name:      key.Name,
			Key:       plaintext,
			CreatedAt: key.CreatedAt,
		}}, nil
	})
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	oas.Components.SecuritySchemes["apiKeyAuth"] = &huma.SecurityScheme{
		Type: "apiKey",
		In:   "header",
		Name: "X-Api-Key",
	}
	security := []map[string][]string{
		{"bearerAuth": {}},
		{"apiKeyAuth": {}},
	}
	oas.Security = security
	healthPath := path.Join(basePath, "health")
	if !strings.HasPrefix(healthPath, "/") {
		healthPath = "/" + healthPath
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if route == healthPath {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Claimline API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Authenticate with Authorization: Bearer &lt;token&gt; or X-Api-Key.
    </p>
  </body>
</html>`, specURL)
}
