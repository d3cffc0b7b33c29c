// Package function 提供 AI 函数定义模型、构建器和注册表
package function

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/text/unicode/norm"
)

// ComputeID 计算定义的内容哈希
// 对规范化 JSON（键排序、字符串 NFC 归一、不转义 HTML）做 xxhash64，不包含 id
func ComputeID(d *Definition) (string, error) {
	s, err := d.snapshot()
	if err != nil {
		return "", err
	}
	canonical, err := MarshalCanonical(s)
	if err != nil {
		return "", fmt.Errorf("canonicalize definition: %w", err)
	}
	return strconv.FormatUint(xxhash.Sum64(canonical), 16), nil
}

// MarshalCanonical 生成规范化 JSON
func MarshalCanonical(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	// map 的键由 encoding/json 按字典序输出
	if err := enc.Encode(normalize(generic)); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

func normalize(v any) any {
	switch val := v.(type) {
	case string:
		return norm.NFC.String(val)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[norm.NFC.String(k)] = normalize(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = normalize(item)
		}
		return out
	default:
		return val
	}
}
