package report

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrUnsupportedFormat is returned when an export format other than csv is
// requested.
var ErrUnsupportedFormat = errors.New("unsupported export format")

// ExportResult is a rendered report ready for download.
type ExportResult struct {
	Data     []byte
	Filename string
	MimeType string
}

// Export renders the quarterly and yearly views of one report as a single
// CSV document. Only "csv" is supported.
func (s *Service) Export(ctx context.Context, format string, f Filter) (ExportResult, error) {
	if format != "csv" {
		return ExportResult{}, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}

	quarterly, err := s.Quarterly(ctx, f)
	if err != nil {
		return ExportResult{}, err
	}
	yearly, err := s.Yearly(ctx, f)
	if err != nil {
		return ExportResult{}, err
	}

	var buf bytes.Buffer

	writeRow(&buf, quoted(fmt.Sprintf("Quarterly Report %d", quarterly.Year)))
	writeRow(&buf, quoted("Quarter"), quoted("Objectives"), quoted("Average Progress"), quoted("Focus"), quoted("Trend"))
	for _, q := range quarterly.Quarters {
		writeRow(&buf,
			quoted(q.Quarter),
			strconv.Itoa(q.OKRs),
			strconv.Itoa(q.AvgProgress),
			quoted(q.Focus),
			quoted(q.Trend),
		)
	}

	writeRow(&buf)
	writeRow(&buf, quoted("Status Summary"))
	writeRow(&buf, quoted("On Track"), quoted("At Risk"), quoted("Off Track"), quoted("Completed"))
	writeRow(&buf,
		strconv.Itoa(quarterly.Summary.OnTrack),
		strconv.Itoa(quarterly.Summary.AtRisk),
		strconv.Itoa(quarterly.Summary.OffTrack),
		strconv.Itoa(quarterly.Summary.Completed),
	)

	writeRow(&buf)
	writeRow(&buf, quoted("Yearly Overview"))
	writeRow(&buf, quoted("Year"), quoted("Average Progress"), quoted("Completed"))
	for _, y := range yearly.Years {
		writeRow(&buf,
			strconv.Itoa(y.Year),
			strconv.Itoa(y.AvgProgress),
			strconv.Itoa(y.Completed),
		)
	}

	return ExportResult{
		Data:     buf.Bytes(),
		Filename: fmt.Sprintf("okr-report-%d.csv", quarterly.Year),
		MimeType: "text/csv",
	}, nil
}

func writeRow(buf *bytes.Buffer, fields ...string) {
	for i, field := range fields {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteString(field)
	}
	buf.WriteByte('\n')
}

// quoted wraps a text field in double quotes, doubling any embedded quotes.
// Numeric fields are written bare.
func quoted(value string) string {
	return `"` + strings.ReplaceAll(value, `"`, `""`) + `"`
}
