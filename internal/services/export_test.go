package services

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scanlog/server/internal/models"
)

func TestWriteCSV(t *testing.T) {
	t.Run("keeps supplied order", func(t *testing.T) {
		var buf bytes.Buffer
		entries := []models.CountEntry{{Code: "B", Count: 2}, {Code: "A", Count: 2}, {Code: "C", Count: 1}}

		require.NoError(t, WriteCSV(&buf, entries))
		assert.Equal(t, "Code,Count\nB,2\nA,2\nC,1\n", buf.String())
	})

	t.Run("header only when empty", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, WriteCSV(&buf, nil))
		assert.Equal(t, "Code,Count\n", buf.String())
	})

	assert.Equal(t, "scanlog-2024-05-01.csv", ExportFilename("2024-05-01"))
}
