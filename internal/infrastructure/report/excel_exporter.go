package report

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/garyjia/xpensure/internal/application/port"
)

const (
	xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	dateLayout      = "2006-01-02"
	headerRow       = 3
)

var columns = []string{
	"Kind", "ID", "Employee", "Department", "Amount", "Status",
	"Submitted", "Final Approver", "Paid On", "Paid Amount", "Description",
}

// ExcelExporter renders finance reports as xlsx workbooks
type ExcelExporter struct {
	sheetName string
	logger    *zap.Logger
}

// NewExcelExporter creates a new exporter writing to sheetName
func NewExcelExporter(sheetName string, logger *zap.Logger) *ExcelExporter {
	sheetName = SanitizeSheetName(sheetName)
	if sheetName == "" {
		sheetName = "Requests"
	}
	return &ExcelExporter{sheetName: sheetName, logger: logger}
}

var _ port.ReportExporter = (*ExcelExporter)(nil)

func (e *ExcelExporter) ContentType() string {
	return xlsxContentType
}

func (e *ExcelExporter) FileExtension() string {
	return ".xlsx"
}

// ExportRequests writes a title, a header row, one row per request and a totals row.
func (e *ExcelExporter) ExportRequests(ctx context.Context, title string, rows []port.ReportRow) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), e.sheetName); err != nil {
		return nil, fmt.Errorf("failed to name sheet: %w", err)
	}
	sheet := e.sheetName

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, fmt.Errorf("failed to create style: %w", err)
	}
	money, err := f.NewStyle(&excelize.Style{NumFmt: 4})
	if err != nil {
		return nil, fmt.Errorf("failed to create style: %w", err)
	}

	e.setCell(f, sheet, "A1", title)
	if err := f.SetCellStyle(sheet, "A1", "A1", bold); err != nil {
		return nil, fmt.Errorf("failed to style title: %w", err)
	}

	header := make([]interface{}, len(columns))
	for i, c := range columns {
		header[i] = c
	}
	if err := f.SetSheetRow(sheet, cell(1, headerRow), &header); err != nil {
		return nil, fmt.Errorf("failed to write header: %w", err)
	}
	if err := f.SetCellStyle(sheet, cell(1, headerRow), cell(len(columns), headerRow), bold); err != nil {
		return nil, fmt.Errorf("failed to style header: %w", err)
	}

	total := decimal.Zero
	paid := decimal.Zero
	for i, row := range rows {
		r := row.Request
		var paidOn string
		if r.PaymentDate != nil {
			paidOn = r.PaymentDate.Format(dateLayout)
		}
		values := []interface{}{
			string(r.Kind),
			r.ID,
			row.EmployeeName,
			row.Department,
			r.Amount.InexactFloat64(),
			string(r.Status),
			r.CreatedAt.Format(dateLayout),
			row.FinalApprover,
			paidOn,
			r.TotalPaid().InexactFloat64(),
			r.Description,
		}
		if err := f.SetSheetRow(sheet, cell(1, headerRow+1+i), &values); err != nil {
			return nil, fmt.Errorf("failed to write row %d: %w", i, err)
		}
		total = total.Add(r.Amount)
		paid = paid.Add(r.TotalPaid())
	}

	totalRow := headerRow + len(rows) + 1
	e.setCell(f, sheet, cell(1, totalRow), "Total")
	e.setCell(f, sheet, cell(5, totalRow), total.InexactFloat64())
	e.setCell(f, sheet, cell(10, totalRow), paid.InexactFloat64())
	if err := f.SetCellStyle(sheet, cell(1, totalRow), cell(len(columns), totalRow), bold); err != nil {
		return nil, fmt.Errorf("failed to style totals: %w", err)
	}
	for _, col := range []int{5, 10} {
		if err := f.SetCellStyle(sheet, cell(col, headerRow+1), cell(col, totalRow), money); err != nil {
			return nil, fmt.Errorf("failed to style amounts: %w", err)
		}
	}
	if err := f.SetColWidth(sheet, "C", "D", 20); err != nil {
		return nil, fmt.Errorf("failed to size columns: %w", err)
	}
	if err := f.SetColWidth(sheet, "K", "K", 40); err != nil {
		return nil, fmt.Errorf("failed to size columns: %w", err)
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to write workbook: %w", err)
	}

	e.logger.Info("Finance report rendered",
		zap.String("title", title),
		zap.Int("rows", len(rows)),
		zap.String("total", total.StringFixed(2)))
	return buf.Bytes(), nil
}

func (e *ExcelExporter) setCell(f *excelize.File, sheet, ref string, value interface{}) {
	if err := f.SetCellValue(sheet, ref, value); err != nil {
		e.logger.Warn("Failed to set cell value",
			zap.String("sheet", sheet),
			zap.String("cell", ref),
			zap.Error(err))
	}
}

func cell(col, row int) string {
	name, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		panic(fmt.Sprintf("invalid cell %d,%d: %v", col, row, err))
	}
	return name
}

// SanitizeSheetName trims characters excel rejects in sheet names
func SanitizeSheetName(name string) string {
	name = strings.Map(func(r rune) rune {
		if strings.ContainsRune(`[]:*?/\`, r) {
			return -1
		}
		return r
	}, name)
	if len(name) > 31 {
		name = name[:31]
	}
	return name
}
