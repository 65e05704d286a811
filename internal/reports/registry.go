package reports

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/merchbaseco/bidbeacon-sub001/internal/config"
)

// ClientRegistry holds the vendor-facing clients. It is the single point of
// access for the rest of the pipeline to reach the report-export API.
type ClientRegistry struct {
	Exports ReportExportAPI
	Tokens  TokenSource
}

// NewClientRegistry initializes the report-export clients.
// If cfg.IsTestMode is true or cfg.Environment is "local", the registry is
// populated with stub implementations that log actions without requiring real
// credentials. Otherwise, real clients are initialized with strict timeouts.
func NewClientRegistry(cfg *config.Config, logger *slog.Logger) (*ClientRegistry, error) {
	if logger == nil {
		logger = slog.Default()
	}

	useStubs := cfg.IsTestMode || cfg.Environment == "local"

	if useStubs {
		logger.Info("initializing report clients in STUB mode",
			"is_test_mode", cfg.IsTestMode,
			"environment", cfg.Environment,
		)
		return newStubRegistry(logger), nil
	}

	logger.Info("initializing report clients in PRODUCTION mode",
		"environment", cfg.Environment,
	)
	return newProductionRegistry(cfg, logger)
}

// newStubRegistry creates a ClientRegistry populated entirely with stub
// implementations, so workers can run locally without vendor credentials.
func newStubRegistry(logger *slog.Logger) *ClientRegistry {
	stubLogger := logger.With("mode", "stub")

	return &ClientRegistry{
		Exports: NewStubExportAPI(stubLogger),
		Tokens:  StaticTokenSource("token_stub_local"),
	}
}

// newProductionRegistry creates a ClientRegistry with real clients. The token
// client gets a short timeout of its own; export API calls and payload
// downloads use the timeouts from config.
func newProductionRegistry(cfg *config.Config, logger *slog.Logger) (*ClientRegistry, error) {
	tokenHTTPClient := &http.Client{Timeout: 10 * time.Second}
	tokens := NewOAuthTokenSource(tokenHTTPClient, OAuthTokenSourceConfig{
		TokenURL:     cfg.Reports.TokenURL,
		ClientID:     cfg.Reports.ClientID,
		ClientSecret: cfg.Reports.ClientSecret.Unmask(),
		RefreshToken: cfg.Reports.RefreshToken.Unmask(),
		Logger:       logger.With("client", "reports-oauth"),
	})

	exportHTTPClient := &http.Client{Timeout: cfg.Reports.RequestTimeout}
	exports := NewExportClient(exportHTTPClient, ExportClientConfig{
		BaseURL:        cfg.Reports.BaseURL,
		ClientID:       cfg.Reports.ClientID,
		Tokens:         tokens,
		MaxRetries:     cfg.Reports.MaxRetries,
		Logger:         logger.With("client", "reports-export"),
		DownloadClient: &http.Client{Timeout: cfg.Reports.DownloadTimeout},
	})

	return &ClientRegistry{Exports: exports, Tokens: tokens}, nil
}
