package export

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"daymark/internal/models"

	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"
)

// Exporter writes board and win-log snapshots to Excel files under the
// configured export directory.
type Exporter struct {
	path   string
	logger zerolog.Logger
}

func NewExporter(path string, logger *zerolog.Logger) *Exporter {
	log := zerolog.Nop()
	if logger != nil {
		log = logger.With().Str("component", "export").Logger()
	}
	return &Exporter{path: path, logger: log}
}

// ExportWins creates an Excel file with the anti-todo log, one win per row.
func (e *Exporter) ExportWins(wins []models.WinEntry) (string, error) {
	if err := os.MkdirAll(e.path, 0o755); err != nil {
		return "", fmt.Errorf("error creating export directory: %v", err)
	}

	f := excelize.NewFile()
	defer f.Close()

	sheetName := "Wins"
	index, err := f.NewSheet(sheetName)
	if err != nil {
		return "", fmt.Errorf("error creating sheet: %v", err)
	}
	f.SetActiveSheet(index)

	headers := []string{"Logged At", "Win"}
	for i, header := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheetName, cell, header)
	}
	e.styleHeaderRow(f, sheetName, len(headers))

	for i, win := range wins {
		row := i + 2
		_ = f.SetCellValue(sheetName, fmt.Sprintf("A%d", row), win.LoggedAt.Format("02.01.2006 15:04"))
		_ = f.SetCellValue(sheetName, fmt.Sprintf("B%d", row), win.Text)
	}

	_ = f.SetColWidth(sheetName, "A", "A", 20)
	_ = f.SetColWidth(sheetName, "B", "B", 60)

	_ = f.DeleteSheet("Sheet1")

	fileName := fmt.Sprintf("wins_export_%s.xlsx", time.Now().Format("2006-01-02_15-04-05"))
	filePath := filepath.Join(e.path, fileName)

	if err := f.SaveAs(filePath); err != nil {
		return "", fmt.Errorf("error saving file: %v", err)
	}

	e.logger.Info().Str("file_path", filePath).Int("wins", len(wins)).Msg("Wins Excel file created")
	return filePath, nil
}

// ExportBoard creates an Excel file with one sheet per list.
func (e *Exporter) ExportBoard(board *models.Board) (string, error) {
	if err := os.MkdirAll(e.path, 0o755); err != nil {
		return "", fmt.Errorf("error creating export directory: %v", err)
	}

	f := excelize.NewFile()
	defer f.Close()

	byList := board.ByList()
	sheets := []struct {
		name string
		list models.ListType
	}{
		{"Todo", models.ListTodo},
		{"Watch", models.ListWatch},
		{"Later", models.ListLater},
	}

	for i, sheet := range sheets {
		index, err := f.NewSheet(sheet.name)
		if err != nil {
			return "", fmt.Errorf("error creating sheet: %v", err)
		}
		if i == 0 {
			f.SetActiveSheet(index)
		}

		headers := []string{"Item", "Done", "Created", "Completed"}
		for j, header := range headers {
			cell, _ := excelize.CoordinatesToCellName(j+1, 1)
			_ = f.SetCellValue(sheet.name, cell, header)
		}
		e.styleHeaderRow(f, sheet.name, len(headers))

		for j, item := range byList[sheet.list] {
			row := j + 2
			_ = f.SetCellValue(sheet.name, fmt.Sprintf("A%d", row), item.Text)
			_ = f.SetCellValue(sheet.name, fmt.Sprintf("B%d", row), doneMark(item.Done))
			_ = f.SetCellValue(sheet.name, fmt.Sprintf("C%d", row), item.CreatedAt.Format("02.01.2006"))
			if item.CompletedAt != nil {
				_ = f.SetCellValue(sheet.name, fmt.Sprintf("D%d", row), item.CompletedAt.Format("02.01.2006"))
			}
		}

		_ = f.SetColWidth(sheet.name, "A", "A", 50)
		_ = f.SetColWidth(sheet.name, "B", "D", 14)
	}

	_ = f.DeleteSheet("Sheet1")

	fileName := fmt.Sprintf("board_export_%s.xlsx", time.Now().Format("2006-01-02_15-04-05"))
	filePath := filepath.Join(e.path, fileName)

	if err := f.SaveAs(filePath); err != nil {
		return "", fmt.Errorf("error saving file: %v", err)
	}

	e.logger.Info().Str("file_path", filePath).Int("items", len(board.Items)).Msg("Board Excel file created")
	return filePath, nil
}

func (e *Exporter) styleHeaderRow(f *excelize.File, sheetName string, cols int) {
	style, err := f.NewStyle(&excelize.Style{
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
		Font:      &excelize.Font{Bold: true},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	if err != nil {
		return
	}
	last, _ := excelize.CoordinatesToCellName(cols, 1)
	_ = f.SetCellStyle(sheetName, "A1", last, style)
}

func doneMark(done bool) string {
	if done {
		return "✓"
	}
	return ""
}
