package apihttp

import (
	"bytes"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"

	alerts "debrisflow-monitor/internal/alerts/domain"
	rainfall "debrisflow-monitor/internal/rainfall/domain"
	risk "debrisflow-monitor/internal/risk/domain"
)

// BuildRiskReportPDF renders a minimal PDF risk report for one location.
func BuildRiskReportPDF(locationID string, assessment *risk.Assessment, events []rainfall.Event, zones []risk.Zone) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, "Debris-Flow Risk Report")
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Location: %s", locationID))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Generated: %s", time.Now().UTC().Format(time.RFC3339)))
	pdf.Ln(8)

	if assessment != nil {
		pdf.Cell(0, 6, fmt.Sprintf("Risk Level: %s", assessment.Level))
		pdf.Ln(5)
		pdf.Cell(0, 6, fmt.Sprintf("Risk Value: %.2f", assessment.RiskValue))
		pdf.Ln(5)
		pdf.Cell(0, 6, fmt.Sprintf("Exceedance: %.2f", assessment.Exceedance))
		pdf.Ln(5)
		pdf.Cell(0, 6, fmt.Sprintf("Saturation: %.2f", assessment.Saturation))
		pdf.Ln(5)
		if assessment.Degraded {
			pdf.Cell(0, 6, "Confidence: degraded (terrain factors defaulted)")
			pdf.Ln(5)
		}
		if assessment.Recommendation != "" {
			pdf.Cell(0, 6, fmt.Sprintf("Suggested: %s", assessment.Recommendation))
			pdf.Ln(5)
		}
		pdf.Cell(0, 6, fmt.Sprintf("Assessed: %s", assessment.At.Format(time.RFC3339)))
		pdf.Ln(5)
	} else {
		pdf.Cell(0, 6, "Risk Level: no assessment recorded")
		pdf.Ln(5)
	}

	pdf.Ln(4)
	pdf.SetFont("Arial", "B", 10)
	pdf.CellFormat(45, 6, "Event Start", "1", 0, "C", false, 0, "")
	pdf.CellFormat(30, 6, "Total (mm)", "1", 0, "C", false, 0, "")
	pdf.CellFormat(30, 6, "Peak (mm/h)", "1", 0, "C", false, 0, "")
	pdf.CellFormat(30, 6, "Duration (h)", "1", 0, "C", false, 0, "")
	pdf.CellFormat(30, 6, "Exceeded", "1", 0, "C", false, 0, "")
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 10)
	for _, event := range events {
		exceeded := "no"
		if event.ThresholdExceeded {
			exceeded = "yes"
		}
		pdf.CellFormat(45, 6, event.StartedAt.Format("2006-01-02 15:04"), "1", 0, "C", false, 0, "")
		pdf.CellFormat(30, 6, fmt.Sprintf("%.1f", event.TotalRainfallMM), "1", 0, "R", false, 0, "")
		pdf.CellFormat(30, 6, fmt.Sprintf("%.1f", event.PeakIntensityMMHr), "1", 0, "R", false, 0, "")
		pdf.CellFormat(30, 6, fmt.Sprintf("%.1f", event.DurationHours()), "1", 0, "R", false, 0, "")
		pdf.CellFormat(30, 6, exceeded, "1", 0, "C", false, 0, "")
		pdf.Ln(-1)
	}

	if len(zones) > 0 {
		pdf.Ln(4)
		pdf.SetFont("Arial", "B", 10)
		pdf.CellFormat(45, 6, "Zone", "1", 0, "C", false, 0, "")
		pdf.CellFormat(25, 6, "Risk", "1", 0, "C", false, 0, "")
		pdf.CellFormat(30, 6, "Level", "1", 0, "C", false, 0, "")
		pdf.CellFormat(35, 6, "Area (m2)", "1", 0, "C", false, 0, "")
		pdf.CellFormat(30, 6, "Depth (m)", "1", 0, "C", false, 0, "")
		pdf.Ln(-1)
		pdf.SetFont("Arial", "", 10)
		for _, zone := range zones {
			pdf.CellFormat(45, 6, zone.CreatedAt.Format("2006-01-02 15:04"), "1", 0, "C", false, 0, "")
			pdf.CellFormat(25, 6, fmt.Sprintf("%.2f", zone.RiskValue), "1", 0, "R", false, 0, "")
			pdf.CellFormat(30, 6, string(zone.Level), "1", 0, "C", false, 0, "")
			pdf.CellFormat(35, 6, fmt.Sprintf("%.0f", zone.AffectedAreaM2), "1", 0, "R", false, 0, "")
			pdf.CellFormat(30, 6, fmt.Sprintf("%.2f", zone.MaxDepthM), "1", 0, "R", false, 0, "")
			pdf.Ln(-1)
		}
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildAlertsXLSX renders an XLSX workbook with one sheet of alerts and one
// of hazard zones.
func BuildAlertsXLSX(list []alerts.Alert, zones []risk.Zone) ([]byte, error) {
	f := excelize.NewFile()
	alertSheet := "alerts"
	zoneSheet := "zones"
	f.SetSheetName("Sheet1", alertSheet)
	f.NewSheet(zoneSheet)

	_ = f.SetCellValue(alertSheet, "A1", "ID")
	_ = f.SetCellValue(alertSheet, "B1", "Type")
	_ = f.SetCellValue(alertSheet, "C1", "Severity")
	_ = f.SetCellValue(alertSheet, "D1", "Location")
	_ = f.SetCellValue(alertSheet, "E1", "Message")
	_ = f.SetCellValue(alertSheet, "F1", "Occurrences")
	_ = f.SetCellValue(alertSheet, "G1", "Acknowledged By")
	_ = f.SetCellValue(alertSheet, "H1", "Created At")
	for i, alert := range list {
		row := i + 2
		_ = f.SetCellValue(alertSheet, fmt.Sprintf("A%d", row), alert.ID)
		_ = f.SetCellValue(alertSheet, fmt.Sprintf("B%d", row), string(alert.Type))
		_ = f.SetCellValue(alertSheet, fmt.Sprintf("C%d", row), string(alert.Severity))
		_ = f.SetCellValue(alertSheet, fmt.Sprintf("D%d", row), alert.LocationID)
		_ = f.SetCellValue(alertSheet, fmt.Sprintf("E%d", row), alert.Message)
		_ = f.SetCellValue(alertSheet, fmt.Sprintf("F%d", row), alert.Occurrences)
		_ = f.SetCellValue(alertSheet, fmt.Sprintf("G%d", row), alert.AcknowledgedBy)
		_ = f.SetCellValue(alertSheet, fmt.Sprintf("H%d", row), alert.CreatedAt.Format(time.RFC3339))
	}

	_ = f.SetCellValue(zoneSheet, "A1", "ID")
	_ = f.SetCellValue(zoneSheet, "B1", "Run")
	_ = f.SetCellValue(zoneSheet, "C1", "Location")
	_ = f.SetCellValue(zoneSheet, "D1", "Risk Value")
	_ = f.SetCellValue(zoneSheet, "E1", "Level")
	_ = f.SetCellValue(zoneSheet, "F1", "Area (m2)")
	_ = f.SetCellValue(zoneSheet, "G1", "Max Depth (m)")
	_ = f.SetCellValue(zoneSheet, "H1", "Max Velocity (m/s)")
	_ = f.SetCellValue(zoneSheet, "I1", "Created At")
	for i, zone := range zones {
		row := i + 2
		_ = f.SetCellValue(zoneSheet, fmt.Sprintf("A%d", row), zone.ID)
		_ = f.SetCellValue(zoneSheet, fmt.Sprintf("B%d", row), zone.RunID)
		_ = f.SetCellValue(zoneSheet, fmt.Sprintf("C%d", row), zone.LocationID)
		_ = f.SetCellValue(zoneSheet, fmt.Sprintf("D%d", row), zone.RiskValue)
		_ = f.SetCellValue(zoneSheet, fmt.Sprintf("E%d", row), string(zone.Level))
		_ = f.SetCellValue(zoneSheet, fmt.Sprintf("F%d", row), zone.AffectedAreaM2)
		_ = f.SetCellValue(zoneSheet, fmt.Sprintf("G%d", row), zone.MaxDepthM)
		_ = f.SetCellValue(zoneSheet, fmt.Sprintf("H%d", row), zone.MaxVelocityMS)
		_ = f.SetCellValue(zoneSheet, fmt.Sprintf("I%d", row), zone.CreatedAt.Format(time.RFC3339))
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
