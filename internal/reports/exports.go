package reports

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/merchbaseco/bidbeacon-sub001/internal/types"
)

// Vendor protocol constants.
const (
	headerClientID = "X-Client-Id"
	headerScope    = "X-Profile-Id"

	granularityHourly = "HOURLY"
	granularityDaily  = "DAILY"

	reportTypeTargeting         = "TARGETING"
	reportTypeAdvertisedProduct = "ADVERTISED_PRODUCT"
)

// metricColumnList is the column set requested on every export. The payload
// decoder expects exactly these metric fields per record.
var metricColumnList = []string{
	"impressions", "clicks", "cost",
	"purchases1d", "purchases7d", "purchases14d", "purchases30d",
	"sales1d", "sales7d", "sales14d", "sales30d",
	"unitsSold14d",
}

// ExportClientConfig holds the configuration for creating an ExportClient.
type ExportClientConfig struct {
	BaseURL  string
	ClientID string
	Tokens   TokenSource
	Logger   *slog.Logger

	// MaxRetries bounds retry attempts per export API call. Zero or
	// negative means the default of 2.
	MaxRetries int

	// DownloadClient fetches payloads from pre-signed URLs. Downloads are
	// large and slow relative to API calls, so they get their own client
	// and timeout. Defaults to a 2-minute client.
	DownloadClient *http.Client
}

// ExportClient implements ReportExportAPI by making direct HTTP calls to the
// vendor's export endpoints through BaseClient. This routes all requests
// through the platform's resilience infrastructure (circuit breaker, retries,
// error mapping) and makes testing with httptest straightforward.
type ExportClient struct {
	base           *BaseClient
	downloadClient *http.Client
	tokens         TokenSource
	clientID       string
	baseURL        string
	logger         *slog.Logger
}

// NewExportClient creates a new ExportClient. The httpClient timeout should
// be set appropriately for the export API (e.g., 30 seconds); payload
// downloads use cfg.DownloadClient instead.
func NewExportClient(httpClient *http.Client, cfg ExportClientConfig) *ExportClient {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	downloadClient := cfg.DownloadClient
	if downloadClient == nil {
		downloadClient = &http.Client{Timeout: 2 * time.Minute}
	}

	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 2
	}

	base := NewBaseClient(
		httpClient,
		"reports-export",
		RetryPolicy{
			MaxRetries: maxRetries,
			MinWait:    1 * time.Second,
			MaxWait:    10 * time.Second,
		},
		"BidBeacon/1.0",
	)

	return &ExportClient{
		base:           base,
		downloadClient: downloadClient,
		tokens:         cfg.Tokens,
		clientID:       cfg.ClientID,
		baseURL:        strings.TrimSuffix(cfg.BaseURL, "/"),
		logger:         logger,
	}
}

// NewExportClientWithBase creates an ExportClient with a pre-configured
// BaseClient. This is useful for testing when you want to control the
// BaseClient configuration (e.g., disable retries).
func NewExportClientWithBase(base *BaseClient, cfg ExportClientConfig) *ExportClient {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	downloadClient := cfg.DownloadClient
	if downloadClient == nil {
		downloadClient = &http.Client{Timeout: 2 * time.Minute}
	}

	return &ExportClient{
		base:           base,
		downloadClient: downloadClient,
		tokens:         cfg.Tokens,
		clientID:       cfg.ClientID,
		baseURL:        strings.TrimSuffix(cfg.BaseURL, "/"),
		logger:         logger,
	}
}

// createExportBody is the filter envelope sent to the export endpoint.
type createExportBody struct {
	PeriodStart string   `json:"periodStart"`
	PeriodEnd   string   `json:"periodEnd"`
	Granularity string   `json:"granularity"`
	ReportType  string   `json:"reportType"`
	Columns     []string `json:"columns"`
}

// exportResponse is the vendor's representation of an export, shared by the
// create and status endpoints.
type exportResponse struct {
	ExportID      string `json:"exportId"`
	Status        string `json:"status"`
	URL           string `json:"url,omitempty"`
	FailureReason string `json:"failureReason,omitempty"`
}

// CreateExport requests a new export for the given period.
// It POSTs the filter body to /v1/exports and returns the vendor's handle.
func (c *ExportClient) CreateExport(ctx context.Context, profileID string, filters types.ExportFilters) (*types.ExportHandle, error) {
	columns := filters.Columns
	if len(columns) == 0 {
		columns = metricColumnList
	}

	body := createExportBody{
		PeriodStart: filters.StartTime.UTC().Format(time.RFC3339),
		PeriodEnd:   filters.EndTime.UTC().Format(time.RFC3339),
		Granularity: granularityFor(filters.Aggregation),
		ReportType:  reportTypeFor(filters.EntityType),
		Columns:     columns,
	}

	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return nil, types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to serialize export filters",
			err,
		)
	}

	url := c.baseURL + "/v1/exports"

	httpReq, err := c.newRequest(ctx, http.MethodPost, url, profileID, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	c.logger.InfoContext(ctx, "creating report export",
		"profile_id", profileID,
		"granularity", body.Granularity,
		"report_type", body.ReportType,
		"period_start", body.PeriodStart,
	)

	resp, err := c.base.Do(httpReq)
	if err != nil {
		return nil, c.wrapError("CreateExport", err)
	}
	defer resp.Body.Close()

	// Handle non-2xx responses that made it past the BaseClient retry logic.
	// BaseClient returns 4xx responses (other than 429) as-is without error.
	if resp.StatusCode >= 400 {
		return nil, c.handleErrorResponse(resp, "CreateExport")
	}

	var created exportResponse
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return nil, types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to decode export creation response",
			err,
		)
	}

	if created.ExportID == "" {
		return nil, types.NewAppError(
			types.ErrCodeUpstreamReportFailed,
			"vendor returned empty export ID",
			nil,
		)
	}

	c.logger.InfoContext(ctx, "report export created",
		"export_id", created.ExportID,
		"status", created.Status,
	)

	return &types.ExportHandle{
		ExportID: created.ExportID,
		State:    types.ExportState(created.Status),
	}, nil
}

// GetExportStatus polls an outstanding export via GET /v1/exports/{exportId}.
func (c *ExportClient) GetExportStatus(ctx context.Context, profileID, exportID string) (*types.ExportStatus, error) {
	if exportID == "" {
		return nil, types.NewAppError(
			types.ErrCodeValidationMissingField,
			"export ID is required for status check",
			nil,
		)
	}

	url := fmt.Sprintf("%s/v1/exports/%s", c.baseURL, exportID)

	httpReq, err := c.newRequest(ctx, http.MethodGet, url, profileID, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.base.Do(httpReq)
	if err != nil {
		return nil, c.wrapError("GetExportStatus", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, c.handleErrorResponse(resp, "GetExportStatus")
	}

	var status exportResponse
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to decode export status response",
			err,
		)
	}

	c.logger.InfoContext(ctx, "report export status retrieved",
		"export_id", status.ExportID,
		"status", status.Status,
	)

	return &types.ExportStatus{
		ExportID:      status.ExportID,
		State:         types.ExportState(status.Status),
		URL:           status.URL,
		FailureReason: status.FailureReason,
	}, nil
}

// DownloadPayload streams the completed export's payload from its pre-signed
// URL. The URL embeds its own authorization, so neither token nor client-id
// headers are sent. The caller must close the returned reader.
func (c *ExportClient) DownloadPayload(ctx context.Context, url string) (io.ReadCloser, error) {
	if url == "" {
		return nil, types.NewAppError(
			types.ErrCodeValidationMissingField,
			"download URL is required",
			nil,
		)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to create payload download request",
			err,
		)
	}

	resp, err := c.downloadClient.Do(req)
	if err != nil {
		return nil, types.NewAppError(
			types.ErrCodeUpstreamDownload,
			"payload download request failed",
			err,
		)
	}

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, types.NewAppError(
			types.ErrCodeUpstreamDownload,
			fmt.Sprintf("payload download returned %d: %s", resp.StatusCode, string(body)),
			nil,
		)
	}

	return resp.Body, nil
}

// newRequest builds a request with the vendor's auth headers: Bearer token,
// client-id, and the profile scope.
func (c *ExportClient) newRequest(ctx context.Context, method, url, profileID string, body io.Reader) (*http.Request, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to create export API request",
			err,
		)
	}

	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set(headerClientID, c.clientID)
	req.Header.Set(headerScope, profileID)
	req.Header.Set("Accept", "application/json")

	return req, nil
}

// handleErrorResponse reads and logs the error body from a non-2xx response,
// then returns an appropriate AppError.
func (c *ExportClient) handleErrorResponse(resp *http.Response, operation string) *types.AppError {
	bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	bodyStr := string(bodyBytes)

	c.logger.Error("export API error",
		"operation", operation,
		"status_code", resp.StatusCode,
		"response_body", bodyStr,
	)

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return types.NewAppError(
			types.ErrCodeUpstreamAuth,
			fmt.Sprintf("export API authentication failed (%d)", resp.StatusCode),
			fmt.Errorf("export %s returned %d: %s", operation, resp.StatusCode, bodyStr),
		)
	case resp.StatusCode == http.StatusNotFound:
		return types.NewAppError(
			types.ErrCodeNotFoundExport,
			fmt.Sprintf("export not found (404): %s", operation),
			fmt.Errorf("export %s returned 404: %s", operation, bodyStr),
		)
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return types.NewAppError(
			types.ErrCodeValidationConfig,
			fmt.Sprintf("export API rejected request (%d): %s", resp.StatusCode, operation),
			fmt.Errorf("export %s returned %d: %s", operation, resp.StatusCode, bodyStr),
		)
	default:
		return types.NewAppError(
			types.ErrCodeUpstreamUnavailable,
			fmt.Sprintf("export API server error (%d): %s", resp.StatusCode, operation),
			fmt.Errorf("export %s returned %d: %s", operation, resp.StatusCode, bodyStr),
		)
	}
}

// wrapError converts errors from BaseClient.Do into export-scoped errors,
// preserving the upstream code.
func (c *ExportClient) wrapError(operation string, err error) error {
	var appErr *types.AppError
	if errors.As(err, &appErr) {
		return types.NewAppError(
			appErr.Code,
			fmt.Sprintf("export %s: %s", operation, appErr.Message),
			appErr.Err,
		)
	}

	return types.NewAppError(
		types.ErrCodeUpstreamUnavailable,
		fmt.Sprintf("export %s failed", operation),
		err,
	)
}

// granularityFor maps the domain aggregation onto the vendor's enum.
func granularityFor(agg types.Aggregation) string {
	if agg == types.AggregationDaily {
		return granularityDaily
	}
	return granularityHourly
}

// reportTypeFor maps the domain entity type onto the vendor's enum.
func reportTypeFor(entity types.EntityType) string {
	if entity == types.EntityProduct {
		return reportTypeAdvertisedProduct
	}
	return reportTypeTargeting
}

// Compile-time interface compliance check.
var _ ReportExportAPI = (*ExportClient)(nil)
