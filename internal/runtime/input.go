package runtime

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/aretw0/journey/pkg/domain"
	"github.com/tidwall/gjson"
)

// ParseConfirmation reads a yes/no reply. ok is false when the reply is neither.
func ParseConfirmation(v any) (yes bool, ok bool) {
	switch t := v.(type) {
	case bool:
		return t, true
	case string:
		clean := strings.ToLower(strings.Trim(strings.TrimSpace(t), ".!"))
		switch clean {
		case "y", "yes", "yeah", "yep", "sure", "ok", "okay", "true", "1", "confirm", "approve", "approved", "go", "go ahead":
			return true, true
		case "n", "no", "nope", "false", "0", "cancel", "deny", "reject", "rejected":
			return false, true
		}
	}
	return false, false
}

// Coerce converts a reply into the representation of the slot type.
func Coerce(v any, t domain.VariableType, options []string) (any, error) {
	if v == nil {
		return nil, fmt.Errorf("empty value")
	}
	s, isString := v.(string)
	if isString {
		s = strings.TrimSpace(s)
		if s == "" {
			return nil, fmt.Errorf("empty value")
		}
	}

	switch t {
	case domain.VarString, "":
		if isString {
			return s, nil
		}
		return fmt.Sprint(v), nil

	case domain.VarNumber:
		if isString {
			f, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return nil, fmt.Errorf("%q is not a number", s)
			}
			return f, nil
		}
		if f, ok := toFloat(v); ok {
			return f, nil
		}

	case domain.VarInteger:
		if isString {
			n, err := strconv.ParseInt(s, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("%q is not an integer", s)
			}
			return n, nil
		}
		if f, ok := toFloat(v); ok && f == math.Trunc(f) {
			return int64(f), nil
		}

	case domain.VarBoolean:
		if b, ok := ParseConfirmation(v); ok {
			return b, nil
		}

	case domain.VarDate:
		if isString {
			for _, layout := range []string{"2006-01-02", time.RFC3339} {
				if d, err := time.Parse(layout, s); err == nil {
					return d.Format("2006-01-02"), nil
				}
			}
			return nil, fmt.Errorf("%q is not a date (YYYY-MM-DD)", s)
		}
		if d, ok := v.(time.Time); ok {
			return d.Format("2006-01-02"), nil
		}

	case domain.VarEnum:
		if isString {
			for _, o := range options {
				if strings.EqualFold(o, s) {
					return o, nil
				}
			}
			return nil, fmt.Errorf("%q is not one of %s", s, strings.Join(options, ", "))
		}

	case domain.VarList:
		switch l := v.(type) {
		case []any:
			return l, nil
		case []string:
			out := make([]any, len(l))
			for i, item := range l {
				out[i] = item
			}
			return out, nil
		case string:
			if gjson.Valid(s) && gjson.Parse(s).IsArray() {
				return gjson.Parse(s).Value(), nil
			}
			parts := strings.Split(s, ",")
			out := make([]any, 0, len(parts))
			for _, p := range parts {
				if p = strings.TrimSpace(p); p != "" {
					out = append(out, p)
				}
			}
			return out, nil
		}

	case domain.VarObject:
		switch o := v.(type) {
		case map[string]any:
			return domain.CopyMap(o), nil
		case string:
			if gjson.Valid(s) && gjson.Parse(s).IsObject() {
				return gjson.Parse(s).Value(), nil
			}
			return nil, fmt.Errorf("expected a JSON object")
		}
	}

	return nil, fmt.Errorf("cannot use %T as %s", v, t)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
