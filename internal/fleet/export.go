package fleet

import (
	"context"
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"github.com/runferry/portal/model"
)

const deliverySheet = "Deliveries"

var deliveryHeaders = []string{
	"Point", "Point name", "Date", "Duration (s)", "Distance (m)", "Status",
}

// ExportDeliveriesXLSX writes the reservoir's delivery history as an
// Excel workbook and returns a suggested file name.
func (s *Service) ExportDeliveriesXLSX(ctx context.Context, boatID, reservoirID string, w io.Writer) (string, error) {
	r, err := s.reservoir(ctx, boatID, reservoirID)
	if err != nil {
		return "", err
	}
	points, err := s.store.ListPoints(ctx, reservoirID)
	if err != nil {
		return "", s.storeFailed(ctx, err, model.ErrFetchFailed, "Failed to fetch points")
	}
	deliveries, err := s.ListReservoirDeliveries(ctx, boatID, reservoirID)
	if err != nil {
		return "", err
	}
	byID := make(map[string]Point, len(points))
	for _, p := range points {
		byID[p.ID] = p
	}

	f := excelize.NewFile()
	defer f.Close()
	if err := f.SetSheetName("Sheet1", deliverySheet); err != nil {
		return "", fmt.Errorf("rename sheet: %w", err)
	}

	header, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Size: 11},
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"#D9E1F2"}},
		Border: []excelize.Border{
			{Type: "bottom", Color: "000000", Style: 1},
		},
	})
	if err != nil {
		return "", fmt.Errorf("create header style: %w", err)
	}
	for i, h := range deliveryHeaders {
		col, _ := excelize.ColumnNumberToName(i + 1)
		cell := col + "1"
		f.SetCellValue(deliverySheet, cell, h)
		f.SetCellStyle(deliverySheet, cell, cell, header)
	}

	for i, d := range deliveries {
		row := i + 2
		p := byID[d.PointID]
		f.SetCellValue(deliverySheet, fmt.Sprintf("A%d", row), p.Number)
		f.SetCellValue(deliverySheet, fmt.Sprintf("B%d", row), p.Name)
		f.SetCellValue(deliverySheet, fmt.Sprintf("C%d", row), d.Timestamp.Format("2006-01-02 15:04:05"))
		f.SetCellValue(deliverySheet, fmt.Sprintf("D%d", row), d.Duration)
		f.SetCellValue(deliverySheet, fmt.Sprintf("E%d", row), d.Distance)
		f.SetCellValue(deliverySheet, fmt.Sprintf("F%d", row), string(d.Status))
	}

	widths := []float64{8, 24, 20, 14, 14, 12}
	for i, width := range widths {
		col, _ := excelize.ColumnNumberToName(i + 1)
		f.SetColWidth(deliverySheet, col, col, width)
	}

	if err := f.Write(w); err != nil {
		return "", fmt.Errorf("write workbook: %w", err)
	}
	return fmt.Sprintf("deliveries_%s_%d.xlsx", r.BoatID, r.Number), nil
}
