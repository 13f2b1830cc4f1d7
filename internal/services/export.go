package services

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/scanlog/server/internal/models"
)

// ExportFilename is the download name for a day's CSV
func ExportFilename(day string) string {
	return fmt.Sprintf("scanlog-%s.csv", day)
}

// WriteCSV writes a Code,Count header and one row per entry, in the order given
func WriteCSV(w io.Writer, entries []models.CountEntry) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"Code", "Count"}); err != nil {
		return err
	}
	for _, e := range entries {
		if err := cw.Write([]string{e.Code, strconv.Itoa(e.Count)}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
