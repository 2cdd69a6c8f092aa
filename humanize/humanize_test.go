package humanize

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatFileSize(t *testing.T) {
	tests := []struct {
		bytes    int64
		decimals int
		want     string
	}{
		{0, 2, "0 Bytes"},
		{-3, 2, "0 Bytes"},
		{500, 2, "500 Bytes"},
		{1024, 2, "1 KB"},
		{1536, 2, "1.5 KB"},
		{1048576, 2, "1 MB"},
		{1234567, 2, "1.18 MB"},
		{1234567, 0, "1 MB"},
		{5 * 1024 * 1024 * 1024, 2, "5 GB"},
		{2 * 1024 * 1024 * 1024 * 1024, 2, "2048 GB"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatFileSize(tt.bytes, tt.decimals), "bytes=%d", tt.bytes)
	}
}

func TestSavingsPercent(t *testing.T) {
	assert.Equal(t, 50, SavingsPercent(1000, 500))
	assert.Equal(t, 75, SavingsPercent(1000, 250))
	assert.Equal(t, 0, SavingsPercent(1000, 1000))
	assert.Equal(t, 0, SavingsPercent(1000, 1500))
	assert.Equal(t, 0, SavingsPercent(0, 10))
	assert.Equal(t, 33, SavingsPercent(3, 2))
}

func TestOutputFilename(t *testing.T) {
	assert.Equal(t, "report_compressed.pdf", OutputFilename("report.pdf", "_compressed", ""))
	assert.Equal(t, "Report_signed.pdf", OutputFilename("Report.PDF", "_signed", ".pdf"))
	assert.Equal(t, "scan_page_1.png", OutputFilename("scan.pdf", "_page_1", ".png"))
	assert.Equal(t, "notes.txt_x.pdf", OutputFilename("notes.txt", "_x", ""))
	assert.Equal(t, "my.pdf.backup_x.pdf", OutputFilename("my.pdf.backup", "_x", ""))
}

func TestSelectionInfo(t *testing.T) {
	assert.Equal(t, "0 pages selected", SelectionInfo(0))
	assert.Equal(t, "1 page selected", SelectionInfo(1))
	assert.Equal(t, "3 pages selected", SelectionInfo(3))
}
