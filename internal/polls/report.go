package polls

import (
	"bytes"
	"encoding/csv"

	"github.com/pkg/errors"

	"github.com/nikitkaralius/curatorbot/internal/models"
)

const (
	LabelPresent      = "Present"
	LabelAbsent       = "Absent"
	LabelNotResponded = "Not responded"

	TimeLayout = "2006-01-02 15:04:05"
)

var (
	CSVHeader = []string{"Full Name", "Handle", "Status", "Absence Reason", "Response Time"}
	utf8BOM   = []byte{0xEF, 0xBB, 0xBF}
)

// Aggregate counts the poll against the given roster. Responses from people
// who are no longer members are ignored, so Present+Absent+NotResponded
// always equals Total.
func Aggregate(p models.Poll, members []models.Member) models.Summary {
	s := models.Summary{Total: len(members)}
	for _, m := range members {
		r, ok := p.Responses[m.ID]
		if !ok {
			continue
		}
		switch r.Status {
		case models.Present:
			s.Present++
		case models.Absent:
			s.Absent++
		}
	}
	s.NotResponded = s.Total - s.Present - s.Absent
	return s
}

func StatusLabel(status models.ResponseStatus) string {
	switch status {
	case models.Present:
		return LabelPresent
	case models.Absent:
		return LabelAbsent
	default:
		return LabelNotResponded
	}
}

// ExportCSV renders one row per roster member in roster order, prefixed with
// a UTF-8 BOM so spreadsheets pick the right encoding.
func ExportCSV(p models.Poll, members []models.Member) ([]byte, error) {
	var buf bytes.Buffer
	buf.Write(utf8BOM)

	w := csv.NewWriter(&buf)
	if err := w.Write(CSVHeader); err != nil {
		return nil, errors.Wrap(err, "write csv header")
	}
	for _, m := range members {
		row := []string{m.FullName, m.Username, LabelNotResponded, "", ""}
		if r, ok := p.Responses[m.ID]; ok {
			row[2] = StatusLabel(r.Status)
			row[3] = r.Reason
			row[4] = r.Timestamp.Format(TimeLayout)
		}
		if err := w.Write(row); err != nil {
			return nil, errors.Wrapf(err, "write csv row for %d", m.ID)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, errors.Wrap(err, "flush csv")
	}
	return buf.Bytes(), nil
}

// ExportFilename is the attachment name used for a poll export.
func ExportFilename(p models.Poll) string {
	return "poll_" + p.ID + ".csv"
}
