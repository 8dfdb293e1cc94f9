package results

import (
	"context"
	"errors"

	"github.com/JakeFAU/sitemap-screenshotter/internal/screenshot"
)

// Multi fans a record out to every recorder and joins their errors.
type Multi []screenshot.ResultRecorder

// Record implements screenshot.ResultRecorder.
func (m Multi) Record(ctx context.Context, jobID string, item screenshot.WorkItem) error {
	var errs []error
	for _, rec := range m {
		if rec == nil {
			continue
		}
		if err := rec.Record(ctx, jobID, item); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
