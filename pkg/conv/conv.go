// Package conv 提供类型转换与原始行归一化工具，用于在入口处一次性消解字段形态差异。
package conv

import (
	"fmt"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"
)

// ToFloat64 将 any 转为 float64。
// 支持 float64、float32、int、int64、int32、数字字符串、[]byte；bool 视为 1.0/0.0。
func ToFloat64(v any) (float64, bool) {
	if v == nil {
		return 0, false
	}
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int64:
		return float64(val), true
	case int32:
		return float64(val), true
	case bool:
		if val {
			return 1.0, true
		}
		return 0.0, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		return f, err == nil
	case []byte:
		f, err := strconv.ParseFloat(strings.TrimSpace(string(val)), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// ToInt 将 any 转为 int。
func ToInt(v any) (int, bool) {
	f, ok := ToFloat64(v)
	if !ok {
		return 0, false
	}
	return int(f), true
}

// ToString 将 any 转为 string。
// 支持 string、[]byte 与数字（数字按最短形式格式化）。
func ToString(v any) (string, bool) {
	switch val := v.(type) {
	case nil:
		return "", false
	case string:
		return val, true
	case []byte:
		return string(val), true
	case int, int32, int64:
		return fmt.Sprintf("%d", val), true
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), true
	case fmt.Stringer:
		return val.String(), true
	default:
		return "", false
	}
}

// FirstString 按顺序返回 row 中第一个非空字符串字段。
// 用于同一语义分散在多个列名下的情况，例如图片：image_url / cover_url / photo ...
func FirstString(row map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := ToString(row[k]); ok {
			if s = strings.TrimSpace(s); s != "" {
				return s
			}
		}
	}
	return ""
}

// FirstFloat 按顺序返回 row 中第一个可转为数值的字段。
func FirstFloat(row map[string]any, keys ...string) (float64, bool) {
	for _, k := range keys {
		if f, ok := ToFloat64(row[k]); ok {
			return f, true
		}
	}
	return 0, false
}

// StringList 将 []string / []any / JSON 数组字符串 / 逗号分隔字符串统一转为 []string。
// 空白元素被丢弃；无法识别的形态返回 nil, false。
func StringList(v any) ([]string, bool) {
	switch val := v.(type) {
	case nil:
		return nil, true
	case []string:
		return compact(val), true
	case []any:
		out := make([]string, 0, len(val))
		for _, e := range val {
			s, ok := e.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return compact(out), true
	case string:
		s := strings.TrimSpace(val)
		if s == "" {
			return nil, true
		}
		if strings.HasPrefix(s, "[") {
			var parsed []string
			if err := json.Unmarshal([]byte(s), &parsed); err != nil {
				return nil, false
			}
			return compact(parsed), true
		}
		return compact(strings.Split(s, ",")), true
	case []byte:
		return StringList(string(val))
	default:
		return nil, false
	}
}

func compact(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// ConfigGet 从 map[string]any（如 YAML/JSON 解析结果）按 key 取 T，取不到或类型不符时返回 defaultVal。
func ConfigGet[T any](m map[string]any, key string, defaultVal T) T {
	if m == nil {
		return defaultVal
	}
	v, ok := m[key]
	if !ok {
		return defaultVal
	}
	t, ok := v.(T)
	if !ok {
		return defaultVal
	}
	return t
}

// ConfigGetFloat 从 config 取 float64。YAML/JSON 常得到 int 或 float64，此处兼容。
func ConfigGetFloat(m map[string]any, key string, defaultVal float64) float64 {
	if m == nil {
		return defaultVal
	}
	if f, ok := ToFloat64(m[key]); ok {
		return f
	}
	return defaultVal
}

// ConfigGetStrings 从 config 取字符串列表。
func ConfigGetStrings(m map[string]any, key string) []string {
	if m == nil {
		return nil
	}
	list, ok := StringList(m[key])
	if !ok {
		return nil
	}
	return list
}
