package plan

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Fingerprint 由 kind + 规范化参数推导确定性指纹。
// 同样的键值得到同样的指纹，与对象键顺序无关；用作缓存键和去重键。
func Fingerprint(kind Kind, params any) (string, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return "", fmt.Errorf("failed to marshal params: %w", err)
	}

	// 经由 map 往返一次，丢弃结构体字段顺序等编码细节
	var v any
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return "", fmt.Errorf("failed to decode params: %w", err)
	}

	var sb strings.Builder
	sb.WriteString(string(kind))
	sb.WriteByte('|')
	writeCanonical(&sb, v)

	sum := sha256.Sum256([]byte(sb.String()))
	return hex.EncodeToString(sum[:]), nil
}

// writeCanonical 按键排序递归序列化任意 JSON 值
func writeCanonical(sb *strings.Builder, v any) {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		sb.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				sb.WriteByte(',')
			}
			enc, _ := json.Marshal(k)
			sb.Write(enc)
			sb.WriteByte(':')
			writeCanonical(sb, val[k])
		}
		sb.WriteByte('}')
	case []any:
		sb.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				sb.WriteByte(',')
			}
			writeCanonical(sb, item)
		}
		sb.WriteByte(']')
	case json.Number:
		sb.WriteString(val.String())
	default:
		enc, _ := json.Marshal(val)
		sb.Write(enc)
	}
}
