package audit

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
)

var reportHeader = []string{
	"order_id",
	"shipment_id",
	"sku",
	"quantity",
	"billed_cost",
	"truth_weight",
	"truth_volume",
	"shipment_status",
	"discrepancy_estimate",
}

func WriteCSV(w io.Writer, report Report) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(reportHeader); err != nil {
		return fmt.Errorf("audit: write report header: %w", err)
	}
	for _, record := range report.Records {
		row := []string{
			strconv.FormatInt(record.OrderID, 10),
			record.ShipmentID,
			record.SKU,
			strconv.Itoa(record.Quantity),
			record.BilledCost.String(),
			record.TruthWeight.String(),
			record.TruthVolume,
			string(record.ShipmentStatus),
			record.Discrepancy.String(),
		}
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("audit: write report row for order %d: %w", record.OrderID, err)
		}
	}
	writer.Flush()
	return writer.Error()
}

// WriteCSVFile writes the report next to path and renames it into place.
func WriteCSVFile(path string, report Report) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".report-*.csv")
	if err != nil {
		return fmt.Errorf("audit: create report: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := WriteCSV(tmp, report); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("audit: close report: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("audit: move report into place: %w", err)
	}
	return nil
}
