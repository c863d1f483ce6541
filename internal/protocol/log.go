package protocol

import "fmt"

// Log is one structured log record of a "log" item.
type Log struct {
	Timestamp      float64                 `json:"timestamp"`
	TraceID        string                  `json:"trace_id,omitempty"`
	Level          string                  `json:"level"`
	SeverityNumber int                     `json:"severity_number,omitempty"`
	Body           string                  `json:"body"`
	Attributes     map[string]LogAttribute `json:"attributes,omitempty"`
}

// LogAttribute is a typed log attribute value.
type LogAttribute struct {
	Type  string `json:"type"`
	Value any    `json:"value"`
}

// LogSeverityNumber maps a level to its OpenTelemetry severity number.
func LogSeverityNumber(level string) int {
	switch level {
	case "trace":
		return 1
	case "debug":
		return 5
	case "info":
		return 9
	case "warn", "warning":
		return 13
	case "error":
		return 17
	case "fatal":
		return 21
	default:
		return 0
	}
}

// NewLogAttribute types v for the wire. Values of unsupported types are
// rendered by the caller beforehand; anything else becomes a string.
func NewLogAttribute(v any) LogAttribute {
	switch x := v.(type) {
	case bool:
		return LogAttribute{Type: "boolean", Value: x}
	case int:
		return LogAttribute{Type: "integer", Value: int64(x)}
	case int8:
		return LogAttribute{Type: "integer", Value: int64(x)}
	case int16:
		return LogAttribute{Type: "integer", Value: int64(x)}
	case int32:
		return LogAttribute{Type: "integer", Value: int64(x)}
	case int64:
		return LogAttribute{Type: "integer", Value: x}
	case uint8:
		return LogAttribute{Type: "integer", Value: int64(x)}
	case uint16:
		return LogAttribute{Type: "integer", Value: int64(x)}
	case uint32:
		return LogAttribute{Type: "integer", Value: int64(x)}
	case float32:
		return LogAttribute{Type: "double", Value: float64(x)}
	case float64:
		return LogAttribute{Type: "double", Value: x}
	case string:
		return LogAttribute{Type: "string", Value: x}
	default:
		return LogAttribute{Type: "string", Value: stringify(x)}
	}
}

func stringify(v any) string {
	if v == nil {
		return "null"
	}
	return fmt.Sprint(v)
}
