// Package prompt 提供指令模板插值和系统提示词生成
package prompt

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrMissingValue 模板中的占位符没有对应的值
var ErrMissingValue = errors.New("missing value for placeholder")

// TokenKind 模板片段类型
type TokenKind int

const (
	TokenText TokenKind = iota
	TokenPlaceholder
)

// Token 模板片段
type Token struct {
	Kind  TokenKind
	Value string
}

// Tokenize 将模板拆分为文本和 {placeholder} 片段
// 花括号内不是合法标识符时按普通文本处理（例如 JSON 示例）
func Tokenize(tpl string) []Token {
	var (
		tokens []Token
		text   strings.Builder
	)
	flush := func() {
		if text.Len() > 0 {
			tokens = append(tokens, Token{Kind: TokenText, Value: text.String()})
			text.Reset()
		}
	}

	for i := 0; i < len(tpl); {
		if tpl[i] == '{' {
			if end := strings.IndexByte(tpl[i+1:], '}'); end >= 0 {
				name := tpl[i+1 : i+1+end]
				if isIdentifier(name) {
					flush()
					tokens = append(tokens, Token{Kind: TokenPlaceholder, Value: name})
					i += end + 2
					continue
				}
			}
		}
		text.WriteByte(tpl[i])
		i++
	}
	flush()
	return tokens
}

// Placeholders 返回模板需要的占位符名称（去重，按出现顺序）
func Placeholders(tpl string) []string {
	var (
		names []string
		seen  = make(map[string]bool)
	)
	for _, tok := range Tokenize(tpl) {
		if tok.Kind == TokenPlaceholder && !seen[tok.Value] {
			seen[tok.Value] = true
			names = append(names, tok.Value)
		}
	}
	return names
}

// Interpolate 用 values 替换模板中的占位符
// 缺少任一占位符的值时返回 ErrMissingValue
func Interpolate(tpl string, values map[string]any) (string, error) {
	var b strings.Builder
	for _, tok := range Tokenize(tpl) {
		if tok.Kind == TokenText {
			b.WriteString(tok.Value)
			continue
		}
		v, ok := values[tok.Value]
		if !ok || v == nil {
			return "", fmt.Errorf("%w: %s", ErrMissingValue, tok.Value)
		}
		s, err := stringify(v)
		if err != nil {
			return "", fmt.Errorf("placeholder %s: %w", tok.Value, err)
		}
		b.WriteString(s)
	}
	return b.String(), nil
}

func stringify(v any) (string, error) {
	switch val := v.(type) {
	case string:
		return val, nil
	case fmt.Stringer:
		return val.String(), nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, c := range s {
		switch {
		case c == '_', c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
		case i > 0 && (c >= '0' && c <= '9' || c == '-' || c == '.'):
		default:
			return false
		}
	}
	return true
}
