package pipeline

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jhillyerd/enmime"
	pdf "github.com/ledongthuc/pdf"
	"github.com/xuri/excelize/v2"

	"shiftdoc/internal/util"
)

// ErrNotText is returned for report input that is not UTF-8 text, such as a
// binary file handed to a text import.
var ErrNotText = errors.New("report input is not text")

// EmailReport is the readable content of one report e-mail: the body plus the
// text of any attachment we know how to read.
type EmailReport struct {
	Subject     string
	From        string
	Text        string
	Attachments []string
}

// DecodeReportText validates pasted or file input and normalises it to a
// string. A UTF-8 byte order mark is dropped.
func DecodeReportText(blob []byte) (string, error) {
	blob = bytes.TrimPrefix(blob, []byte("\xef\xbb\xbf"))
	if !util.IsText(blob) {
		return "", ErrNotText
	}
	return string(blob), nil
}

func ExtractReportFromEmail(raw []byte) (EmailReport, error) {
	env, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		return EmailReport{}, fmt.Errorf("read envelope: %w", err)
	}

	report := EmailReport{
		Subject: env.GetHeader("Subject"),
		From:    env.GetHeader("From"),
	}
	// enmime renders HTML-only bodies to Text.
	sections := []string{}
	if strings.TrimSpace(env.Text) != "" {
		sections = append(sections, env.Text)
	}

	for _, att := range env.Attachments {
		filename := strings.TrimSpace(att.FileName)
		if filename == "" {
			filename = "attachment"
		}
		report.Attachments = append(report.Attachments, filename)

		text, err := attachmentText(filename, att.Content)
		if err != nil || strings.TrimSpace(text) == "" {
			continue
		}
		sections = append(sections, text)
	}

	report.Text = strings.Join(sections, "\n\n")
	return report, nil
}

// ExtractReportFromFile reads a dropped or CLI-supplied report. The extension
// decides the format; anything unrecognised must be plain text.
func ExtractReportFromFile(path string) (string, error) {
	blob, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	if strings.EqualFold(filepath.Ext(path), ".eml") {
		report, err := ExtractReportFromEmail(blob)
		if err != nil {
			return "", err
		}
		return report.Text, nil
	}
	text, err := attachmentText(path, blob)
	if err != nil {
		return "", fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return text, nil
}

func attachmentText(filename string, content []byte) (string, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		return extractPDFText(content)
	case ".xlsx":
		return extractXLSXText(content)
	default:
		return DecodeReportText(content)
	}
}

func extractPDFText(content []byte) (string, error) {
	r, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", err
	}

	pages := []string{}
	for i := 1; i <= r.NumPage(); i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		text, err := p.GetPlainText(nil)
		if err != nil {
			continue
		}
		pages = append(pages, text)
	}
	return strings.Join(pages, "\n"), nil
}

// extractXLSXText flattens every sheet to one line per row so spreadsheet
// exports of the report read like the pasted form.
func extractXLSXText(content []byte) (string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(content))
	if err != nil {
		return "", err
	}
	defer f.Close()

	lines := []string{}
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			continue
		}
		for _, row := range rows {
			cells := make([]string, 0, len(row))
			for _, c := range row {
				if c = util.NormalizeSpaces(c); c != "" {
					cells = append(cells, c)
				}
			}
			lines = append(lines, strings.Join(cells, " "))
		}
	}
	return strings.Join(lines, "\n"), nil
}
