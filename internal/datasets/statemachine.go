package datasets

import (
	"fmt"

	"github.com/merchbaseco/bidbeacon-sub001/internal/types"
)

// Action is the lifecycle step the executor performs for a claimed dataset
// period, resolved from the row's report linkage and the export's remote
// state.
type Action string

const (
	// ActionNone leaves the row as it is. The outstanding export is still
	// processing remotely, so the only work is rescheduling the next poll.
	ActionNone Action = "none"

	// ActionCreate requests a new export. The row holds no report linkage.
	ActionCreate Action = "create"

	// ActionProcess downloads and parses the completed export the row is
	// linked to.
	ActionProcess Action = "process"
)

// ResolveAction decides the next lifecycle step for a claimed dataset period.
//
// remote is the freshly polled status of the row's outstanding export. It is
// required when the row holds a report linkage and ignored otherwise.
//
// A FAILED or unrecognized remote state resolves to an error rather than an
// action: the caller's failure path records it, and because those error codes
// invalidate the export the linkage is cleared, so the next cycle starts a
// fresh export instead of polling a dead one.
func ResolveAction(period *types.DatasetPeriod, remote *types.ExportStatus) (Action, error) {
	if period.ReportID == nil || *period.ReportID == "" {
		return ActionCreate, nil
	}

	if remote == nil {
		return ActionNone, types.NewAppError(
			types.ErrCodeInternalUnexpected,
			fmt.Sprintf("no remote status for outstanding export %s", *period.ReportID),
			nil,
		)
	}

	switch remote.State {
	case types.ExportProcessing:
		return ActionNone, nil
	case types.ExportCompleted:
		return ActionProcess, nil
	case types.ExportFailed:
		msg := fmt.Sprintf("export %s failed remotely", remote.ExportID)
		if remote.FailureReason != "" {
			msg = fmt.Sprintf("%s: %s", msg, remote.FailureReason)
		}
		return ActionNone, types.NewAppError(types.ErrCodeUpstreamReportFailed, msg, nil)
	default:
		return ActionNone, types.NewAppError(
			types.ErrCodeUpstreamReportFailed,
			fmt.Sprintf("export %s in unrecognized state %q", remote.ExportID, remote.State),
			nil,
		)
	}
}
