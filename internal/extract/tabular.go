package extract

import (
	"encoding/csv"
	"encoding/json"
	"io"
	"strings"
)

// decodeCSV renders each record as its fields joined by ", ", one per line.
func decodeCSV(data []byte) (string, error) {
	r := csv.NewReader(strings.NewReader(decodeUTF8(data)))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	var sb strings.Builder
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}
		sb.WriteString(strings.Join(record, ", "))
		sb.WriteByte('\n')
	}
	return sb.String(), nil
}

// decodeJSON re-serializes the document with a two-space indent. It acts
// as a normalizing pretty-printer, not a semantic extractor.
func decodeJSON(data []byte) (string, error) {
	var v interface{}
	if err := json.Unmarshal([]byte(decodeUTF8(data)), &v); err != nil {
		return "", err
	}
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", err
	}
	return string(out), nil
}
