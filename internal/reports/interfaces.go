package reports

import (
	"context"
	"io"

	"github.com/merchbaseco/bidbeacon-sub001/internal/types"
)

// ReportExportAPI abstracts the vendor's report-export endpoints. The pipeline
// executor consumes this interface; the HTTP implementation and the local
// stub both satisfy it.
type ReportExportAPI interface {
	// CreateExport requests a new export for the given period and returns
	// the vendor's handle for it.
	CreateExport(ctx context.Context, profileID string, filters types.ExportFilters) (*types.ExportHandle, error)

	// GetExportStatus polls an outstanding export.
	GetExportStatus(ctx context.Context, profileID, exportID string) (*types.ExportStatus, error)

	// DownloadPayload streams the completed export's payload from its
	// pre-signed URL. The caller must close the returned reader.
	DownloadPayload(ctx context.Context, url string) (io.ReadCloser, error)
}

// TokenSource yields a valid access token for vendor API calls, refreshing
// behind the scenes as needed.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}
