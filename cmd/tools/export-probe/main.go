// Package main implements the export-probe CLI tool for exercising the
// report-export API end to end: create an export, poll it to a terminal
// state, and optionally download and parse the payload.
//
// Usage:
//
//	go run ./cmd/tools/export-probe \
//	  --profile-id=<profile> --country=US \
//	  --aggregation=hourly --entity=target \
//	  --wait --download
//
// Environment variables (used as defaults when flags are not set):
//
//	REPORTS_BASE_URL       - export API base URL
//	REPORTS_TOKEN_URL      - OAuth token endpoint
//	REPORTS_CLIENT_ID      - OAuth client ID
//	REPORTS_CLIENT_SECRET  - OAuth client secret
//	REPORTS_REFRESH_TOKEN  - OAuth refresh token
//	REPORTS_PROFILE_ID     - profile (tenant) handle for the export API
//
// The tool goes through the same client stack the refresh worker uses
// (token source, circuit breaker, retries), so a successful probe means the
// credentials, the endpoint, and the payload schema all line up.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/merchbaseco/bidbeacon-sub001/internal/periods"
	"github.com/merchbaseco/bidbeacon-sub001/internal/reports"
	"github.com/merchbaseco/bidbeacon-sub001/internal/types"
)

func main() {
	// Flags
	baseURL := flag.String("base-url", os.Getenv("REPORTS_BASE_URL"), "Export API base URL (or REPORTS_BASE_URL env)")
	tokenURL := flag.String("token-url", os.Getenv("REPORTS_TOKEN_URL"), "OAuth token endpoint (or REPORTS_TOKEN_URL env)")
	clientID := flag.String("client-id", os.Getenv("REPORTS_CLIENT_ID"), "OAuth client ID (or REPORTS_CLIENT_ID env)")
	clientSecret := flag.String("client-secret", os.Getenv("REPORTS_CLIENT_SECRET"), "OAuth client secret (or REPORTS_CLIENT_SECRET env)")
	refreshToken := flag.String("refresh-token", os.Getenv("REPORTS_REFRESH_TOKEN"), "OAuth refresh token (or REPORTS_REFRESH_TOKEN env)")
	profileID := flag.String("profile-id", os.Getenv("REPORTS_PROFILE_ID"), "Profile (tenant) handle (or REPORTS_PROFILE_ID env)")
	accountID := flag.String("account-id", "probe", "Account ID stamped onto parsed rows")
	country := flag.String("country", "US", "Marketplace country code (drives the bucket timezone)")
	aggregation := flag.String("aggregation", "hourly", "Aggregation: hourly or daily")
	entity := flag.String("entity", "target", "Entity type: target or product")
	period := flag.String("period", "", "Period start (RFC3339). Defaults to the last closed bucket")
	wait := flag.Bool("wait", false, "Poll until the export reaches a terminal state")
	pollInterval := flag.Duration("poll-interval", 5*time.Second, "Polling interval when --wait is set")
	download := flag.Bool("download", false, "Download and parse the payload once the export completes (implies --wait)")

	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	// Validate required flags
	if *baseURL == "" {
		logger.Error("--base-url or REPORTS_BASE_URL is required")
		os.Exit(1)
	}
	if *tokenURL == "" {
		logger.Error("--token-url or REPORTS_TOKEN_URL is required")
		os.Exit(1)
	}
	if *clientID == "" || *clientSecret == "" || *refreshToken == "" {
		logger.Error("--client-id, --client-secret, and --refresh-token (or their env vars) are required")
		os.Exit(1)
	}
	if *profileID == "" {
		logger.Error("--profile-id or REPORTS_PROFILE_ID is required")
		os.Exit(1)
	}

	// Parse aggregation
	var agg types.Aggregation
	switch *aggregation {
	case "hourly":
		agg = types.AggregationHourly
	case "daily":
		agg = types.AggregationDaily
	default:
		logger.Error("unsupported aggregation", "aggregation", *aggregation)
		os.Exit(1)
	}

	// Parse entity type
	var entityType types.EntityType
	switch *entity {
	case "target":
		entityType = types.EntityTarget
	case "product":
		entityType = types.EntityProduct
	default:
		logger.Error("unsupported entity type", "entity", *entity)
		os.Exit(1)
	}

	// Resolve the period start in the marketplace timezone.
	loc := periods.Location(*country)
	var periodStart time.Time
	if *period != "" {
		parsed, err := time.Parse(time.RFC3339, *period)
		if err != nil {
			logger.Error("invalid period", "period", *period, "error", err)
			os.Exit(1)
		}
		periodStart = parsed.UTC()
	} else {
		// Default: the most recent closed bucket, so the source has data.
		now := time.Now().In(loc)
		if agg == types.AggregationDaily {
			yesterday := now.AddDate(0, 0, -1)
			periodStart = time.Date(yesterday.Year(), yesterday.Month(), yesterday.Day(), 0, 0, 0, 0, loc).UTC()
		} else {
			periodStart = time.Date(now.Year(), now.Month(), now.Day(), now.Hour(), 0, 0, 0, loc).Add(-time.Hour).UTC()
		}
	}

	key := types.DatasetKey{
		AccountID:   *accountID,
		CountryCode: *country,
		PeriodStart: periodStart,
		Aggregation: agg,
		EntityType:  entityType,
	}

	filters := types.ExportFilters{
		StartTime:   periodStart,
		EndTime:     periods.PeriodEnd(periodStart, agg, loc),
		Aggregation: agg,
		EntityType:  entityType,
	}

	logger.Info("creating export",
		"profile_id", *profileID,
		"country", *country,
		"aggregation", *aggregation,
		"entity", *entity,
		"period_start", periodStart.Format(time.RFC3339),
	)

	// Build the same client stack the refresh worker uses.
	tokens := reports.NewOAuthTokenSource(&http.Client{Timeout: 10 * time.Second}, reports.OAuthTokenSourceConfig{
		TokenURL:     *tokenURL,
		ClientID:     *clientID,
		ClientSecret: *clientSecret,
		RefreshToken: *refreshToken,
		Logger:       logger,
	})
	client := reports.NewExportClient(&http.Client{Timeout: 30 * time.Second}, reports.ExportClientConfig{
		BaseURL:  *baseURL,
		ClientID: *clientID,
		Tokens:   tokens,
		Logger:   logger,
	})

	// Set up context with signal handling
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Create the export
	handle, err := client.CreateExport(ctx, *profileID, filters)
	if err != nil {
		logger.Error("failed to create export", "error", err)
		os.Exit(1)
	}

	fmt.Printf("Export created: %s\n", handle.ExportID)
	fmt.Printf("Initial state:  %s\n", handle.State)

	if !*wait && !*download {
		fmt.Println("\nUse --wait to poll for completion, or check status manually:")
		fmt.Printf("  GET %s/v1/exports/%s\n", *baseURL, handle.ExportID)
		return
	}

	// Poll for completion
	fmt.Printf("\nPolling every %s...\n", *pollInterval)
	for {
		select {
		case <-ctx.Done():
			fmt.Println("\nInterrupted.")
			os.Exit(1)
		case <-time.After(*pollInterval):
		}

		status, err := client.GetExportStatus(ctx, *profileID, handle.ExportID)
		if err != nil {
			logger.Error("failed to get export status", "error", err)
			os.Exit(1)
		}

		fmt.Printf("  State: %s\n", status.State)

		switch status.State {
		case types.ExportCompleted:
			fmt.Printf("\nExport completed.\n")
			fmt.Printf("Payload URL: %s\n", status.URL)
			if *download {
				if err := downloadAndParse(ctx, client, status.URL, key, handle.ExportID); err != nil {
					logger.Error("payload download/parse failed", "error", err)
					os.Exit(1)
				}
			}
			return
		case types.ExportFailed:
			fmt.Printf("\nExport failed.\n")
			if status.FailureReason != "" {
				fmt.Printf("Reason: %s\n", status.FailureReason)
			}
			os.Exit(1)
		}
		// PROCESSING - keep polling
	}
}

// downloadAndParse fetches the completed payload and runs it through the same
// parser the refresh worker uses, printing the record counters instead of
// writing rows anywhere.
func downloadAndParse(ctx context.Context, client *reports.ExportClient, url string, key types.DatasetKey, reportID string) error {
	body, err := client.DownloadPayload(ctx, url)
	if err != nil {
		return err
	}
	defer body.Close()

	parser := reports.NewPayloadParser()
	result, err := parser.Parse(body, key, reportID)
	if err != nil {
		return err
	}

	fmt.Printf("\nPayload parsed:\n")
	fmt.Printf("  Total records:   %d\n", result.Counts.Total)
	fmt.Printf("  Parsed records:  %d\n", result.Counts.Success)
	fmt.Printf("  Diverted records: %d\n", result.Counts.Error)

	for i, failure := range result.Failures {
		if i >= 5 {
			fmt.Printf("  ... %d more diverted records\n", len(result.Failures)-5)
			break
		}
		fmt.Printf("  [%d] record %d: %s\n", i, failure.RecordIndex, failure.Reason)
	}

	return nil
}
