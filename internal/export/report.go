package export

import (
	"fmt"
	"io"

	"storesync/internal/models"

	"github.com/xuri/excelize/v2"
)

const (
	overviewSheet = "Tasks"
	failuresSheet = "Failures"
)

var overviewHeaders = []string{
	"ID", "Name", "Title", "Type", "Group", "Storekeeper ID",
	"Status", "Times Ran", "Duration (ms)", "Created", "Updated",
}

var failureHeaders = []string{
	"ID", "Name", "Type", "Times Ran", "Error Class", "Error Message", "Reference", "Updated",
}

// WriteTaskReport streams an xlsx workbook with an overview sheet for all
// given tasks and a second sheet breaking failed tasks down by their
// recorded error.
func WriteTaskReport(w io.Writer, tasks []models.Task) error {
	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(overviewSheet)
	if err != nil {
		return fmt.Errorf("create overview sheet: %w", err)
	}
	f.SetActiveSheet(index)

	if _, err := f.NewSheet(failuresSheet); err != nil {
		return fmt.Errorf("create failures sheet: %w", err)
	}

	writeHeaderRow(f, overviewSheet, overviewHeaders)
	writeHeaderRow(f, failuresSheet, failureHeaders)

	failureRow := 2
	for i, task := range tasks {
		row := i + 2
		setRow(f, overviewSheet, row,
			task.ID,
			task.Name,
			task.Title,
			task.Type,
			task.TypeGroup,
			task.StorekeeperID,
			task.Status,
			task.TimesRan,
			task.ExecutionMs,
			task.DateCreated.Format("2006-01-02 15:04:05"),
			task.DateUpdated.Format("2006-01-02 15:04:05"),
		)

		if task.Status != models.StatusFailed {
			continue
		}

		record := failureRecord(task)
		setRow(f, failuresSheet, failureRow,
			task.ID,
			task.Name,
			task.Type,
			task.TimesRan,
			record.Class,
			record.Message,
			record.Reference,
			task.DateUpdated.Format("2006-01-02 15:04:05"),
		)
		failureRow++
	}

	_ = f.SetColWidth(overviewSheet, "A", "A", 8)
	_ = f.SetColWidth(overviewSheet, "B", "D", 28)
	_ = f.SetColWidth(overviewSheet, "E", "I", 14)
	_ = f.SetColWidth(overviewSheet, "J", "K", 20)
	_ = f.SetColWidth(failuresSheet, "A", "A", 8)
	_ = f.SetColWidth(failuresSheet, "B", "C", 28)
	_ = f.SetColWidth(failuresSheet, "D", "E", 16)
	_ = f.SetColWidth(failuresSheet, "F", "F", 50)
	_ = f.SetColWidth(failuresSheet, "G", "H", 24)

	_ = f.DeleteSheet("Sheet1")

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func writeHeaderRow(f *excelize.File, sheet string, headers []string) {
	style, _ := f.NewStyle(&excelize.Style{
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
		Font: &excelize.Font{Bold: true},
	})
	for i, header := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, header)
		_ = f.SetCellStyle(sheet, cell, cell, style)
	}
}

func setRow(f *excelize.File, sheet string, row int, values ...interface{}) {
	for i, value := range values {
		cell, _ := excelize.CoordinatesToCellName(i+1, row)
		_ = f.SetCellValue(sheet, cell, value)
	}
}

// failureRecord tolerates rows whose meta_data is missing or predates
// the error record format.
func failureRecord(task models.Task) models.ErrorRecord {
	meta, err := task.Meta()
	if err != nil {
		return models.ErrorRecord{Class: "Unknown", Message: task.MetaData}
	}
	return models.ErrorRecordFromMeta(meta)
}
