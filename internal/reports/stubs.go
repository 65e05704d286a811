package reports

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"

	"github.com/merchbaseco/bidbeacon-sub001/internal/types"
)

// StubExportAPI implements ReportExportAPI by logging calls and returning
// predictable values: every export completes immediately and downloads as an
// empty payload, so the full refresh pipeline can run locally without vendor
// credentials. Used when config.IsTestMode is true or APP_ENV=local.
type StubExportAPI struct {
	logger *slog.Logger
}

// NewStubExportAPI creates a new StubExportAPI.
func NewStubExportAPI(logger *slog.Logger) *StubExportAPI {
	return &StubExportAPI{logger: logger}
}

func (s *StubExportAPI) CreateExport(ctx context.Context, profileID string, filters types.ExportFilters) (*types.ExportHandle, error) {
	exportID := fmt.Sprintf("export_stub_%s", uuid.NewString())
	s.logger.InfoContext(ctx, "stub: CreateExport called",
		"profile_id", profileID,
		"aggregation", filters.Aggregation,
		"entity_type", filters.EntityType,
		"start_time", filters.StartTime,
		"export_id", exportID,
	)
	return &types.ExportHandle{
		ExportID: exportID,
		State:    types.ExportProcessing,
	}, nil
}

func (s *StubExportAPI) GetExportStatus(ctx context.Context, profileID, exportID string) (*types.ExportStatus, error) {
	s.logger.InfoContext(ctx, "stub: GetExportStatus called",
		"profile_id", profileID,
		"export_id", exportID,
	)
	return &types.ExportStatus{
		ExportID: exportID,
		State:    types.ExportCompleted,
		URL:      fmt.Sprintf("https://exports.stub.local/%s.json.gz", exportID),
	}, nil
}

func (s *StubExportAPI) DownloadPayload(ctx context.Context, url string) (io.ReadCloser, error) {
	s.logger.InfoContext(ctx, "stub: DownloadPayload called",
		"url", url,
	)

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write([]byte("[]")); err != nil {
		return nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}
	return io.NopCloser(&buf), nil
}

// Interface compliance.
var _ ReportExportAPI = (*StubExportAPI)(nil)
