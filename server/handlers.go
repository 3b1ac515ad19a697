package server

import (
	"github.com/go-playground/validator/v10"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/memophor/scedge/cache"
	"github.com/memophor/scedge/hydration"
	"github.com/memophor/scedge/policy"
	"github.com/memophor/scedge/types"
	"github.com/memophor/scedge/utils"
)

const apiKeyHeader = "X-API-Key"

// Handlers binds the cache engine, policy engine and optional hydration
// coordinator to the HTTP surface.
type Handlers struct {
	cache          *cache.Manager
	policy         *policy.Engine
	hydrator       *hydration.Coordinator
	metrics        types.MetricsRecorder
	logger         types.Logger
	validator      *validator.Validate
	metricsHandler fasthttp.RequestHandler
	serviceName    string
	version        string
}

type HandlersConfig struct {
	ServiceName string
	Version     string
}

func NewHandlers(
	cacheManager *cache.Manager,
	policyEngine *policy.Engine,
	hydrator *hydration.Coordinator,
	metrics types.MetricsRecorder,
	logger types.Logger,
	config HandlersConfig,
) *Handlers {
	return &Handlers{
		cache:       cacheManager,
		policy:      policyEngine,
		hydrator:    hydrator,
		metrics:     metrics,
		logger:      logger,
		validator:   validator.New(validator.WithRequiredStructEnabled()),
		serviceName: config.ServiceName,
		version:     config.Version,
	}
}

// WithMetricsHandler installs the metrics exposition route. The caller
// bridges the Prometheus net/http handler onto fasthttp via fasthttpadaptor.
func (h *Handlers) WithMetricsHandler(handler fasthttp.RequestHandler) *Handlers {
	h.metricsHandler = handler
	return h
}

func (h *Handlers) Health(ctx *fasthttp.RequestCtx) {
	writeJSON(ctx, fasthttp.StatusOK, types.HealthResponse{
		Status:  "healthy",
		Service: h.serviceName,
		Version: h.version,
	})
}

func (h *Handlers) Store(ctx *fasthttp.RequestCtx) {
	var request types.StoreRequest
	if err := utils.Unmarshal(ctx.PostBody(), &request); err != nil {
		writeError(ctx, fasthttp.StatusBadRequest,
			types.Errorf(types.ErrValidationFailed, "malformed request body").Error())
		return
	}

	if err := h.validator.Struct(&request); err != nil {
		writeError(ctx, fasthttp.StatusBadRequest,
			types.Errorf(types.ErrValidationFailed, "%v", err).Error())
		return
	}

	apiKey := string(ctx.Request.Header.Peek(apiKeyHeader))
	if err := h.policy.ValidateStore(&request.Artifact, apiKey); err != nil {
		h.writePolicyError(ctx, err)
		return
	}

	request.Artifact.TTLSeconds = h.policy.ClampTTL(
		request.Artifact.Policy.Tenant, request.Artifact.TTLSeconds)

	response, err := h.cache.Store(request.Key, &request.Artifact)
	if err != nil {
		h.logger.Error("store failed", zap.String("key", request.Key), zap.Error(err))
		writeError(ctx, fasthttp.StatusInternalServerError, types.ErrInternalError.Error())
		return
	}

	writeJSON(ctx, fasthttp.StatusOK, response)
}

func (h *Handlers) Lookup(ctx *fasthttp.RequestCtx) {
	key := string(ctx.QueryArgs().Peek("key"))
	if key == "" {
		writeError(ctx, fasthttp.StatusBadRequest,
			types.Errorf(types.ErrValidationFailed, "key query parameter is required").Error())
		return
	}

	tenant := string(ctx.QueryArgs().Peek("tenant"))
	apiKey := string(ctx.Request.Header.Peek(apiKeyHeader))

	entry, err := h.cache.Entry(key)
	if err != nil {
		h.logger.Error("lookup failed", zap.String("key", key), zap.Error(err))
		writeError(ctx, fasthttp.StatusInternalServerError, types.ErrInternalError.Error())
		return
	}

	if entry != nil {
		if err := h.policy.ValidateLookup(entry, tenant); err != nil {
			h.metrics.RecordMiss()
			writeError(ctx, fasthttp.StatusNotFound, "cache miss")
			return
		}

		if err := h.policy.ValidateCredential(entry.Tenant, apiKey); err != nil {
			h.writePolicyError(ctx, err)
			return
		}

		response, err := h.cache.Lookup(key)
		if err != nil {
			if types.IsError(err, types.ErrNotFound) {
				writeError(ctx, fasthttp.StatusNotFound, "cache miss")
				return
			}
			writeError(ctx, fasthttp.StatusInternalServerError, types.ErrInternalError.Error())
			return
		}

		writeJSON(ctx, fasthttp.StatusOK, response)
		return
	}

	h.metrics.RecordMiss()

	if h.hydrator == nil {
		writeError(ctx, fasthttp.StatusNotFound, "cache miss")
		return
	}

	response, err := h.hydrator.Hydrate(key, tenant)
	if err != nil {
		if types.IsError(err, types.ErrNotFound) {
			writeError(ctx, fasthttp.StatusNotFound, "cache miss")
			return
		}
		h.logger.Warn("hydration failed", zap.String("key", key), zap.Error(err))
		writeError(ctx, fasthttp.StatusNotFound, "cache miss")
		return
	}

	// The hydrated artifact is subject to the same tenant isolation as a
	// cached hit: a filtered request must never see another tenant's entry.
	if tenant != "" && response.Artifact.Policy.Tenant != tenant {
		h.logger.Warn("Tenant mismatch between request and upstream response",
			zap.String("key", key),
			zap.String("requested", tenant),
			zap.String("owner", response.Artifact.Policy.Tenant))
		writeError(ctx, fasthttp.StatusNotFound, "cache miss")
		return
	}

	if err := h.policy.ValidateCredential(response.Artifact.Policy.Tenant, apiKey); err != nil {
		h.writePolicyError(ctx, err)
		return
	}

	writeJSON(ctx, fasthttp.StatusOK, response)
}

func (h *Handlers) Purge(ctx *fasthttp.RequestCtx) {
	var request types.PurgeRequest
	if err := utils.Unmarshal(ctx.PostBody(), &request); err != nil {
		writeError(ctx, fasthttp.StatusBadRequest,
			types.Errorf(types.ErrValidationFailed, "malformed request body").Error())
		return
	}

	apiKey := string(ctx.Request.Header.Peek(apiKeyHeader))
	if request.Tenant != "" {
		if err := h.policy.ValidateCredential(request.Tenant, apiKey); err != nil {
			h.writePolicyError(ctx, err)
			return
		}
	}

	var purged int
	var err error

	switch {
	case len(request.Keys) > 0 && request.Tenant != "":
		purged, err = h.cache.PurgeTenantKeys(request.Tenant, request.Keys)
	case len(request.Keys) > 0:
		purged, err = h.cache.PurgeKeys(request.Keys)
	case request.ProvenanceHash != "":
		if request.Tenant == "" {
			writeError(ctx, fasthttp.StatusBadRequest, "provenance purge requires a tenant")
			return
		}
		purged, err = h.cache.PurgeProvenance(request.Tenant, request.ProvenanceHash)
	case request.Tenant != "":
		purged, err = h.cache.PurgeTenant(request.Tenant)
	default:
		writeError(ctx, fasthttp.StatusBadRequest, "must specify keys, tenant, or provenance_hash")
		return
	}

	if err != nil {
		h.logger.Error("purge failed", zap.Error(err))
		writeError(ctx, fasthttp.StatusInternalServerError, types.ErrInternalError.Error())
		return
	}

	writeJSON(ctx, fasthttp.StatusOK, types.PurgeResponse{Purged: purged})
}

func (h *Handlers) writePolicyError(ctx *fasthttp.RequestCtx, err error) {
	switch {
	case types.IsError(err, types.ErrNotFound):
		writeError(ctx, fasthttp.StatusNotFound, "cache miss")
	case types.IsError(err, types.ErrTenantUnknown),
		types.IsError(err, types.ErrAPIKeyInvalid),
		types.IsError(err, types.ErrPolicyViolation):
		writeError(ctx, fasthttp.StatusBadRequest, err.Error())
	default:
		writeError(ctx, fasthttp.StatusInternalServerError, types.ErrInternalError.Error())
	}
}

func writeJSON(ctx *fasthttp.RequestCtx, status int, payload interface{}) {
	data, err := utils.Marshal(payload)
	if err != nil {
		ctx.SetStatusCode(fasthttp.StatusInternalServerError)
		return
	}
	ctx.SetStatusCode(status)
	ctx.SetContentType("application/json")
	ctx.SetBody(data)
}

func writeError(ctx *fasthttp.RequestCtx, status int, message string) {
	writeJSON(ctx, status, types.ErrorResponse{Error: message})
}
