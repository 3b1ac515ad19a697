package hydration

import (
	"fmt"
	"net/url"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/memophor/scedge/types"
	"github.com/memophor/scedge/utils"
)

// UpstreamClient fetches artifacts from the origin service on a cache miss.
// A 404 from the origin is a definitive miss, not a failure.
type UpstreamClient struct {
	client  *fasthttp.Client
	logger  types.Logger
	metrics types.MetricsRecorder
	baseURL string
	timeout time.Duration
}

func NewUpstreamClient(config *types.UpstreamConfig, metrics types.MetricsRecorder, logger types.Logger) *UpstreamClient {
	timeout := config.Timeout()

	return &UpstreamClient{
		client: &fasthttp.Client{
			ReadTimeout:  timeout,
			WriteTimeout: timeout,
		},
		logger:  logger,
		metrics: metrics,
		baseURL: config.BaseURL,
		timeout: timeout,
	}
}

// Fetch asks the origin for the artifact under key. Returns nil on a
// definitive origin miss and ErrUpstreamFailure on timeout or origin error.
func (u *UpstreamClient) Fetch(key, tenant string) (*types.LookupResponse, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	query := url.Values{}
	query.Set("key", key)
	if tenant != "" {
		query.Set("tenant", tenant)
	}

	req.SetRequestURI(fmt.Sprintf("%s/lookup?%s", u.baseURL, query.Encode()))
	req.Header.SetMethod(fasthttp.MethodGet)

	start := time.Now()
	u.metrics.RecordUpstreamRequest()

	err := u.client.DoTimeout(req, resp, u.timeout)
	u.metrics.RecordUpstreamLatency(time.Since(start))

	if err != nil {
		u.metrics.RecordUpstreamFailure()
		u.logger.Warn("upstream fetch failed",
			zap.String("key", key),
			zap.Error(err))
		return nil, types.WrapError(err, "upstream fetch failed")
	}

	statusCode := resp.StatusCode()
	if statusCode == fasthttp.StatusNotFound {
		return nil, nil
	}
	if statusCode < 200 || statusCode >= 300 {
		u.metrics.RecordUpstreamFailure()
		u.logger.Warn("upstream returned error status",
			zap.String("key", key),
			zap.Int("status_code", statusCode))
		return nil, types.Errorf(types.ErrUpstreamFailure, "HTTP %d", statusCode)
	}

	var lookup types.LookupResponse
	if err := utils.Unmarshal(resp.Body(), &lookup); err != nil {
		u.metrics.RecordUpstreamFailure()
		return nil, types.WrapError(err, "failed to decode upstream response")
	}

	return &lookup, nil
}
