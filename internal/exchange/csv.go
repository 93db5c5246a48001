// Package exchange moves activity collections in and out as CSV with
// Arabic headers and status labels, the format the center staff exchange
// with the ministry.
package exchange

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"example.com/youthcenter/internal/domain"
)

// utf8BOM makes spreadsheet applications detect the encoding.
const utf8BOM = "\ufeff"

var csvHeader = []string{
	"اسم النشاط",
	"المركز",
	"مكان التنفيذ",
	"تاريخ البدء",
	"تاريخ الانتهاء",
	"الحالة",
	"الوصف",
	"عدد المشاركين المتوقع",
}

var statusLabels = map[domain.ActivityStatus]string{
	domain.StatusPreparing:  "في مرحلة الإعداد",
	domain.StatusInProgress: "قيد التنفيذ",
	domain.StatusCompleted:  "مكتمل",
	domain.StatusCancelled:  "ملغي",
}

// StatusLabel returns the Arabic display label for a status.
func StatusLabel(s domain.ActivityStatus) string {
	if label, ok := statusLabels[s]; ok {
		return label
	}
	return statusLabels[domain.StatusPreparing]
}

// Export writes the collection as UTF-8 CSV with a byte order mark.
func Export(w io.Writer, activities []domain.Activity) error {
	if _, err := io.WriteString(w, utf8BOM); err != nil {
		return err
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, a := range activities {
		participants := ""
		if a.ExpectedParticipants != nil {
			participants = strconv.Itoa(*a.ExpectedParticipants)
		}
		record := []string{
			a.Name,
			a.Center,
			a.Location,
			a.StartDate,
			a.EndDate,
			StatusLabel(a.Status),
			a.Description,
			participants,
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// RowError reports one rejected import row. Row numbers are 1-based and
// count the header.
type RowError struct {
	Row     int
	Message string
}

func (e RowError) Error() string {
	return fmt.Sprintf("row %d: %s", e.Row, e.Message)
}

// ImportResult carries the parsed drafts and any per-row rejections. A
// rejected row never aborts the rest of the file.
type ImportResult struct {
	Drafts []domain.ActivityDraft
	Errors []RowError
}

// Import parses a CSV export back into activity drafts. The first row is
// treated as a header. Rows need at least the six core columns; the
// description and participant count are optional.
func Import(r io.Reader) (ImportResult, error) {
	cr := csv.NewReader(bomStripper(r))
	cr.FieldsPerRecord = -1

	var result ImportResult
	row := 0
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		row++
		if err != nil {
			result.Errors = append(result.Errors, RowError{Row: row, Message: err.Error()})
			continue
		}
		if row == 1 {
			continue
		}
		if len(record) < 6 {
			result.Errors = append(result.Errors, RowError{Row: row,
				Message: fmt.Sprintf("expected at least 6 columns, got %d", len(record))})
			continue
		}

		draft := domain.ActivityDraft{
			Name:      strings.TrimSpace(record[0]),
			Center:    strings.TrimSpace(record[1]),
			Location:  strings.TrimSpace(record[2]),
			StartDate: strings.TrimSpace(record[3]),
			EndDate:   strings.TrimSpace(record[4]),
			Status:    statusFromLabel(strings.TrimSpace(record[5])),
		}
		if draft.Name == "" || draft.Center == "" {
			result.Errors = append(result.Errors, RowError{Row: row,
				Message: "name and center are required"})
			continue
		}
		if len(record) > 6 {
			draft.Description = strings.TrimSpace(record[6])
		}
		if len(record) > 7 {
			raw := strings.TrimSpace(record[7])
			if raw != "" {
				n, err := strconv.Atoi(raw)
				if err != nil {
					result.Errors = append(result.Errors, RowError{Row: row,
						Message: fmt.Sprintf("invalid participant count %q", raw)})
					continue
				}
				draft.ExpectedParticipants = &n
			}
		}
		result.Drafts = append(result.Drafts, draft)
	}
	return result, nil
}

// statusFromLabel accepts both the machine statuses and the Arabic
// display labels. Anything unrecognized falls back to preparing.
func statusFromLabel(raw string) domain.ActivityStatus {
	if domain.IsValidStatus(raw) {
		return domain.ActivityStatus(raw)
	}
	switch {
	case strings.Contains(raw, "قيد التنفيذ"):
		return domain.StatusInProgress
	case strings.Contains(raw, "مكتمل"):
		return domain.StatusCompleted
	case strings.Contains(raw, "ملغ"):
		return domain.StatusCancelled
	default:
		return domain.StatusPreparing
	}
}

// bomStripper drops a leading byte order mark if present.
func bomStripper(r io.Reader) io.Reader {
	buf := make([]byte, 3)
	n, _ := io.ReadFull(r, buf)
	if n == 3 && buf[0] == 0xEF && buf[1] == 0xBB && buf[2] == 0xBF {
		return r
	}
	return io.MultiReader(strings.NewReader(string(buf[:n])), r)
}
