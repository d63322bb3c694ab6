package gateway

import (
	"strconv"
	"time"

	"github.com/goccy/go-json"

	"codeberg.org/mutker/hcgsync/internal/isotime"
)

// Timestamp is the record's end, falling back to its start when end is
// missing or unparsable. It is empty when neither parses.
func (r RawRecord) Timestamp() string {
	ts, _ := r.instant()
	return ts
}

// Instant is Timestamp as a time, or isotime.Epoch when there is none.
func (r RawRecord) Instant() time.Time {
	_, t := r.instant()
	return t
}

func (r RawRecord) instant() (string, time.Time) {
	for _, ts := range []string{r.End, r.Start} {
		if ts == "" {
			continue
		}
		if t, err := isotime.Parse(ts); err == nil {
			return ts, t
		}
	}
	return "", isotime.Epoch
}

// decodeRecords converts a decoded JSON document into records. ok is false
// when the document is not a list.
func decodeRecords(doc any) (records []RawRecord, skipped int, ok bool) {
	items, ok := doc.([]any)
	if !ok {
		return nil, 0, false
	}

	records = make([]RawRecord, 0, len(items))
	for _, item := range items {
		m, isObject := item.(map[string]any)
		if !isObject {
			skipped++
			continue
		}
		records = append(records, recordFromMap(m))
	}

	return records, skipped, true
}

func recordFromMap(m map[string]any) RawRecord {
	rec := RawRecord{
		RecordID:  stringify(m["_id"]),
		Start:     stringify(m["start"]),
		End:       stringify(m["end"]),
		SourceApp: stringify(m["app"]),
		Payload:   payloadOf(m["data"]),
	}
	if v, ok := m["id"]; ok && v != nil {
		id := stringify(v)
		rec.ExternalID = &id
	}
	return rec
}

func payloadOf(v any) any {
	if data, ok := v.(map[string]any); ok {
		return Payload(data)
	}
	return v
}

func stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return ""
		}
		return string(b)
	}
}
