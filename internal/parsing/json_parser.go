package parsing

import (
	"fmt"
	"strings"
	"time"

	"github.com/valyala/fastjson"

	"github.com/your-username/tailhub/internal/models"
)

// JSONParser handles lines that are a single structured JSON object
type JSONParser struct {
	pool fastjson.ParserPool
}

// NewJSONParser creates a new JSON parser
func NewJSONParser() *JSONParser {
	return &JSONParser{}
}

// Name returns the parser name
func (p *JSONParser) Name() string {
	return "json"
}

// CanParse checks whether the first non-whitespace character opens an object
func (p *JSONParser) CanParse(line string) bool {
	return strings.HasPrefix(strings.TrimSpace(line), "{")
}

// Parse maps the known fields of a JSON line onto a record
func (p *JSONParser) Parse(line string, now time.Time) (*models.Record, error) {
	parser := p.pool.Get()
	defer p.pool.Put(parser)

	v, err := parser.Parse(line)
	if err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	if v.Type() != fastjson.TypeObject {
		return nil, fmt.Errorf("invalid JSON: expected object, got %s", v.Type())
	}

	record := &models.Record{
		Timestamp: now,
		Level:     models.LevelInfo,
		Category:  models.CategoryGeneral,
		Message:   strings.TrimSpace(line),
	}

	if ts := v.Get("timestamp"); ts != nil {
		if t, ok := jsonTimestamp(ts); ok {
			record.Timestamp = t
		}
	}

	if level := stringField(v, "level"); level != "" {
		if normalized, ok := models.NormalizeLevel(level); ok {
			record.Level = normalized
		}
	}

	if category := strings.TrimSpace(stringField(v, "category")); category != "" {
		record.Category = category
	}

	if message := strings.TrimSpace(stringField(v, "message")); message != "" {
		record.Message = message
	} else if msg := strings.TrimSpace(stringField(v, "msg")); msg != "" {
		record.Message = msg
	}

	if data := v.Get("data"); data != nil && data.Type() != fastjson.TypeNull {
		if obj, ok := toInterface(data).(map[string]interface{}); ok {
			record.Data = obj
		} else {
			record.Data = map[string]interface{}{"value": toInterface(data)}
		}
	}

	return record, nil
}

func stringField(v *fastjson.Value, key string) string {
	return string(v.GetStringBytes(key))
}

// jsonTimestamp accepts a timestamp string or a Unix epoch in seconds or
// milliseconds.
func jsonTimestamp(v *fastjson.Value) (time.Time, bool) {
	switch v.Type() {
	case fastjson.TypeString:
		t, err := parseTimestamp(string(v.GetStringBytes()))
		return t, err == nil
	case fastjson.TypeNumber:
		n, err := v.Int64()
		if err != nil {
			f, ferr := v.Float64()
			if ferr != nil {
				return time.Time{}, false
			}
			n = int64(f)
		}
		if n > 1000000000000 {
			return time.UnixMilli(n), true
		}
		return time.Unix(n, 0), true
	default:
		return time.Time{}, false
	}
}

// toInterface converts a fastjson value into the same shapes encoding/json
// produces when decoding into interface{}.
func toInterface(v *fastjson.Value) interface{} {
	switch v.Type() {
	case fastjson.TypeObject:
		obj, _ := v.Object()
		out := make(map[string]interface{}, obj.Len())
		obj.Visit(func(key []byte, val *fastjson.Value) {
			out[string(key)] = toInterface(val)
		})
		return out
	case fastjson.TypeArray:
		items, _ := v.Array()
		out := make([]interface{}, 0, len(items))
		for _, item := range items {
			out = append(out, toInterface(item))
		}
		return out
	case fastjson.TypeString:
		return string(v.GetStringBytes())
	case fastjson.TypeNumber:
		f, _ := v.Float64()
		return f
	case fastjson.TypeTrue:
		return true
	case fastjson.TypeFalse:
		return false
	default:
		return nil
	}
}
