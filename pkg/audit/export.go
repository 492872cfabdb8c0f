package audit

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Encode serializes events in the requested format. Unknown formats fall
// back to JSON.
func Encode(events []*Event, format ExportFormat) ([]byte, error) {
	switch format {
	case FormatCSV:
		return encodeCSV(events)
	case FormatNDJSON:
		return encodeNDJSON(events)
	default:
		return encodeJSON(events)
	}
}

func encodeJSON(events []*Event) ([]byte, error) {
	return json.MarshalIndent(events, "", "  ")
}

// encodeNDJSON writes one JSON document per line, the format consumed by log
// pipelines and the S3 archive.
func encodeNDJSON(events []*Event) ([]byte, error) {
	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	for _, event := range events {
		if err := encoder.Encode(event); err != nil {
			return nil, fmt.Errorf("failed to encode event: %w", err)
		}
	}
	return buf.Bytes(), nil
}

func encodeCSV(events []*Event) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	header := []string{
		"ID",
		"Timestamp",
		"EventType",
		"Status",
		"AccountID",
		"Username",
		"ExternalID",
		"Provider",
		"Backend",
		"SessionID",
		"IPAddress",
		"UserAgent",
		"RequestID",
		"Message",
		"ErrorMessage",
	}
	if err := writer.Write(header); err != nil {
		return nil, fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, event := range events {
		row := []string{
			strconv.FormatInt(event.ID, 10),
			event.Timestamp.Format(time.RFC3339),
			string(event.EventType),
			string(event.Status),
			event.AccountID,
			event.Username,
			event.ExternalID,
			event.Provider,
			event.Backend,
			event.SessionID,
			event.IPAddress,
			event.UserAgent,
			event.RequestID,
			event.Message,
			event.ErrorMessage,
		}
		if err := writer.Write(row); err != nil {
			return nil, fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}
	return buf.Bytes(), nil
}
