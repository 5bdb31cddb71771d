package source

import (
	"strings"
	"time"
)

// convertValue normalises a driver value into its JSON-serialisable form:
// timestamps become RFC 3339 strings, byte slices become UTF-8 strings with
// invalid sequences dropped, and NULL stays nil. Other scalar types pass
// through for the JSON encoder to handle.
func convertValue(v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case time.Time:
		return x.Format(time.RFC3339)
	case []byte:
		return strings.ToValidUTF8(string(x), "")
	default:
		return v
	}
}

// convertRow normalises every value of a row in place.
func convertRow(row Row) Row {
	for k, v := range row {
		row[k] = convertValue(v)
	}

	return row
}
