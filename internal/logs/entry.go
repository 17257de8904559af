package logs

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Entry is one decoded JSON log record.
type Entry struct {
	Time      time.Time
	Level     string
	Message   string
	Component string
	Stage     string
	Segment   *int
	Fields    map[string]any
}

var reserved = map[string]bool{
	"ts": true, "level": true, "msg": true, "source": true,
	"component": true, "stage": true, "segment_index": true, "run_id": true,
}

// Parse decodes a JSON log line. Lines that are not JSON objects are
// returned as the message of an otherwise empty entry.
func Parse(line string) Entry {
	var raw map[string]any
	if err := json.Unmarshal([]byte(line), &raw); err != nil {
		return Entry{Message: line}
	}
	e := Entry{
		Level:     str(raw["level"]),
		Message:   str(raw["msg"]),
		Component: str(raw["component"]),
		Stage:     str(raw["stage"]),
	}
	if ts, err := time.Parse(time.RFC3339, str(raw["ts"])); err == nil {
		e.Time = ts
	}
	if seg, ok := raw["segment_index"].(float64); ok {
		idx := int(seg)
		e.Segment = &idx
	}
	for k, v := range raw {
		if reserved[k] {
			continue
		}
		if e.Fields == nil {
			e.Fields = make(map[string]any)
		}
		e.Fields[k] = v
	}
	return e
}

// Format renders e on one line for terminal output.
func (e Entry) Format() string {
	var b strings.Builder
	if !e.Time.IsZero() {
		b.WriteString(e.Time.Local().Format("15:04:05 "))
	}
	if e.Level != "" {
		fmt.Fprintf(&b, "%-5s ", strings.ToUpper(e.Level))
	}
	switch {
	case e.Stage != "" && e.Segment != nil:
		fmt.Fprintf(&b, "[%s #%d] ", e.Stage, *e.Segment)
	case e.Stage != "":
		fmt.Fprintf(&b, "[%s] ", e.Stage)
	}
	b.WriteString(e.Message)

	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, e.Fields[k])
	}
	return b.String()
}

func str(v any) string {
	s, _ := v.(string)
	return s
}
