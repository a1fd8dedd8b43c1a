package port

import (
	"context"
	"time"

	"github.com/garyjia/xpensure/internal/domain/entity"
)

// Clock supplies the current time
type Clock interface {
	Now() time.Time
}

// SystemClock is the wall clock in UTC
type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}

// ReportRow is one line of a finance report
type ReportRow struct {
	Request       *entity.Request
	EmployeeName  string
	Department    string
	FinalApprover string
}

// ReportExporter renders finance reports
type ReportExporter interface {
	ExportRequests(ctx context.Context, title string, rows []ReportRow) ([]byte, error)
	ContentType() string
	FileExtension() string
}
