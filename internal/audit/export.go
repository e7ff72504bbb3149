package audit

import (
	"bytes"
	"encoding/csv"
	"strconv"
	"time"
)

// WriteCSV renders entries as CSV, one row per entry.
func WriteCSV(rows []Entry) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)
	if err := writer.Write([]string{"id", "created_at", "user_id", "username", "ip_address", "action", "module",
		"record_type", "record_id", "description"}); err != nil {
		return nil, err
	}
	for _, e := range rows {
		userID := ""
		if e.UserID != nil {
			userID = strconv.FormatInt(*e.UserID, 10)
		}
		if err := writer.Write([]string{
			strconv.FormatInt(e.ID, 10),
			e.CreatedAt.UTC().Format(time.RFC3339),
			userID,
			e.Username,
			e.IPAddress,
			e.Action,
			e.Module,
			e.RecordType,
			e.RecordID,
			e.Description,
		}); err != nil {
			return nil, err
		}
	}
	writer.Flush()
	return buf.Bytes(), writer.Error()
}
