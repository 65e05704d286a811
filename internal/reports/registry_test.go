package reports

import (
	"context"
	"testing"
	"time"

	"github.com/merchbaseco/bidbeacon-sub001/internal/config"
	"github.com/merchbaseco/bidbeacon-sub001/internal/types"
)

func registryConfig(env string, testMode bool) *config.Config {
	return &config.Config{
		Environment: env,
		IsTestMode:  testMode,
		Reports: config.ReportsConfig{
			BaseURL:         "https://ads-api.example.com",
			TokenURL:        "https://auth.example.com/oauth/token",
			ClientID:        "client_abc",
			ClientSecret:    config.SecretString("secret_xyz"),
			RefreshToken:    config.SecretString("refresh_123"),
			RequestTimeout:  30 * time.Second,
			DownloadTimeout: 2 * time.Minute,
			MaxRetries:      3,
		},
	}
}

func TestNewClientRegistry_TestModeUsesStubs(t *testing.T) {
	reg, err := NewClientRegistry(registryConfig("prod", true), discardLogger())
	if err != nil {
		t.Fatalf("NewClientRegistry failed: %v", err)
	}

	if _, ok := reg.Exports.(*StubExportAPI); !ok {
		t.Errorf("expected *StubExportAPI in test mode, got %T", reg.Exports)
	}
	if _, ok := reg.Tokens.(StaticTokenSource); !ok {
		t.Errorf("expected StaticTokenSource in test mode, got %T", reg.Tokens)
	}
}

func TestNewClientRegistry_LocalEnvironmentUsesStubs(t *testing.T) {
	reg, err := NewClientRegistry(registryConfig("local", false), discardLogger())
	if err != nil {
		t.Fatalf("NewClientRegistry failed: %v", err)
	}

	if _, ok := reg.Exports.(*StubExportAPI); !ok {
		t.Errorf("expected *StubExportAPI for local environment, got %T", reg.Exports)
	}
}

func TestNewClientRegistry_ProductionUsesRealClients(t *testing.T) {
	reg, err := NewClientRegistry(registryConfig("prod", false), discardLogger())
	if err != nil {
		t.Fatalf("NewClientRegistry failed: %v", err)
	}

	if _, ok := reg.Exports.(*ExportClient); !ok {
		t.Errorf("expected *ExportClient in production, got %T", reg.Exports)
	}
	if _, ok := reg.Tokens.(*OAuthTokenSource); !ok {
		t.Errorf("expected *OAuthTokenSource in production, got %T", reg.Tokens)
	}
}

func TestNewClientRegistry_NilLoggerDefaults(t *testing.T) {
	reg, err := NewClientRegistry(registryConfig("prod", true), nil)
	if err != nil {
		t.Fatalf("NewClientRegistry failed: %v", err)
	}
	if reg.Exports == nil || reg.Tokens == nil {
		t.Error("expected registry populated with nil logger")
	}
}

// The stub clients drive the whole export lifecycle locally: create, poll,
// download, and parse an empty payload.
func TestStubExportAPI_Lifecycle(t *testing.T) {
	reg, err := NewClientRegistry(registryConfig("local", false), discardLogger())
	if err != nil {
		t.Fatalf("NewClientRegistry failed: %v", err)
	}
	ctx := context.Background()

	token, err := reg.Tokens.Token(ctx)
	if err != nil {
		t.Fatalf("Token failed: %v", err)
	}
	if token != "token_stub_local" {
		t.Errorf("unexpected stub token: %s", token)
	}

	key := hourlyTargetKey()
	handle, err := reg.Exports.CreateExport(ctx, "profile_1", types.ExportFilters{
		StartTime:   key.PeriodStart,
		EndTime:     key.PeriodStart.Add(time.Hour),
		Aggregation: key.Aggregation,
		EntityType:  key.EntityType,
	})
	if err != nil {
		t.Fatalf("CreateExport failed: %v", err)
	}
	if handle.ExportID == "" {
		t.Fatal("expected non-empty export ID")
	}
	if handle.State != types.ExportProcessing {
		t.Errorf("expected PROCESSING state, got %s", handle.State)
	}

	status, err := reg.Exports.GetExportStatus(ctx, "profile_1", handle.ExportID)
	if err != nil {
		t.Fatalf("GetExportStatus failed: %v", err)
	}
	if status.State != types.ExportCompleted {
		t.Errorf("expected COMPLETED state, got %s", status.State)
	}
	if status.URL == "" {
		t.Fatal("expected download URL on completed stub export")
	}

	body, err := reg.Exports.DownloadPayload(ctx, status.URL)
	if err != nil {
		t.Fatalf("DownloadPayload failed: %v", err)
	}
	defer body.Close()

	res, err := NewPayloadParser().Parse(body, key, handle.ExportID)
	if err != nil {
		t.Fatalf("Parse failed on stub payload: %v", err)
	}
	if res.Counts.Total != 0 {
		t.Errorf("expected empty stub payload, got %d records", res.Counts.Total)
	}
}
