package services

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/scanlog/server/internal/models"
	"github.com/scanlog/server/internal/observability"
)

// Catalog maps codes to human-readable product names. It only decorates
// output; the tally never consults it.
type Catalog struct {
	names map[string]string
}

// EmptyCatalog returns a catalog with no names
func EmptyCatalog() *Catalog {
	return &Catalog{names: map[string]string{}}
}

// LoadCatalog reads a code,name CSV from path. A missing file yields an
// empty catalog; an empty path does too.
func LoadCatalog(path string) (*Catalog, error) {
	if path == "" {
		return EmptyCatalog(), nil
	}

	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		observability.Warn("catalog file not found, names disabled", "path", path)
		return EmptyCatalog(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	defer f.Close()

	c, err := ParseCatalog(f)
	if err != nil {
		return nil, fmt.Errorf("parse catalog %s: %w", path, err)
	}
	observability.Info("catalog loaded", "path", path, "entries", c.Len())
	return c, nil
}

// ParseCatalog reads code,name rows. A leading header row is skipped,
// quoted fields may contain commas, and rows missing either column are
// ignored.
func ParseCatalog(r io.Reader) (*Catalog, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	reader.LazyQuotes = true

	c := EmptyCatalog()
	first := true
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		if first {
			first = false
			if isCatalogHeader(record) {
				continue
			}
		}
		if len(record) < 2 {
			continue
		}

		code := models.NormalizeCode(record[0])
		name := strings.TrimSpace(record[1])
		if code == "" || name == "" {
			continue
		}
		c.names[code] = name
	}
	return c, nil
}

func isCatalogHeader(record []string) bool {
	if len(record) < 2 {
		return false
	}
	first := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(record[0], "\ufeff")))
	second := strings.ToLower(strings.TrimSpace(record[1]))
	if first != "code" {
		return false
	}
	return second == "zh" || second == "name" || strings.Contains(second, "chinese")
}

// Name returns the catalog name for code
func (c *Catalog) Name(code string) (string, bool) {
	name, ok := c.names[models.NormalizeCode(code)]
	return name, ok
}

// DisplayText returns "CODE  name" when the code is known, otherwise the code
func (c *Catalog) DisplayText(code string) string {
	code = strings.TrimSpace(code)
	if code == "" {
		return ""
	}
	if name, ok := c.Name(code); ok {
		return code + "  " + name
	}
	return code
}

// Len returns the number of named codes
func (c *Catalog) Len() int {
	return len(c.names)
}
