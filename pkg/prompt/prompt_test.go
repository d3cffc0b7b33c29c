package prompt

import (
	"errors"
	"strings"
	"testing"
)

func TestInterpolate(t *testing.T) {
	got, err := Interpolate("Generate items starting with {letter}", map[string]any{"letter": "A"})
	if err != nil {
		t.Fatalf("Interpolate() error = %v", err)
	}
	if got != "Generate items starting with A" {
		t.Errorf("Interpolate() = %q", got)
	}
	if strings.Contains(got, "{letter}") {
		t.Error("placeholder should be replaced")
	}
}

func TestInterpolate_NonString(t *testing.T) {
	got, err := Interpolate("count={n} tags={tags}", map[string]any{
		"n":    3,
		"tags": []string{"a", "b"},
	})
	if err != nil {
		t.Fatalf("Interpolate() error = %v", err)
	}
	if got != `count=3 tags=["a","b"]` {
		t.Errorf("Interpolate() = %q", got)
	}
}

func TestInterpolate_MissingValue(t *testing.T) {
	_, err := Interpolate("Hello {name}", map[string]any{})
	if !errors.Is(err, ErrMissingValue) {
		t.Fatalf("expected ErrMissingValue, got %v", err)
	}
	if !strings.Contains(err.Error(), "name") {
		t.Errorf("error should name the placeholder: %v", err)
	}
}

func TestTokenize_LiteralBraces(t *testing.T) {
	tpl := `Return {"items": []} for {topic}`
	tokens := Tokenize(tpl)

	var placeholders int
	var rebuilt strings.Builder
	for _, tok := range tokens {
		if tok.Kind == TokenPlaceholder {
			placeholders++
			rebuilt.WriteString("{" + tok.Value + "}")
			continue
		}
		rebuilt.WriteString(tok.Value)
	}
	if placeholders != 1 {
		t.Errorf("placeholders = %d, want 1", placeholders)
	}
	if rebuilt.String() != tpl {
		t.Errorf("tokens do not rebuild template: %q", rebuilt.String())
	}
}

func TestPlaceholders(t *testing.T) {
	got := Placeholders("{a} and {b} and {a} and {not valid}")
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("Placeholders() = %v", got)
	}
	if len(Placeholders("no markers")) != 0 {
		t.Error("expected no placeholders")
	}
}

func TestGenerator(t *testing.T) {
	g := NewGenerator()

	sys, err := g.System([]string{"lookup"}, true)
	if err != nil {
		t.Fatalf("System() error = %v", err)
	}
	if !strings.Contains(sys, "DOCUMENT") || !strings.Contains(sys, "- lookup") {
		t.Errorf("unexpected system prompt: %s", sys)
	}
	if !strings.Contains(sys, `{"argument": {"error"`) {
		t.Errorf("expected error branch in system prompt: %s", sys)
	}

	// 没有输出 Schema 时 argument 只能是字符串
	plain, err := g.System(nil, false)
	if err != nil {
		t.Fatalf("System() error = %v", err)
	}
	if strings.Contains(plain, `"error"`) {
		t.Errorf("unexpected error branch without output schema: %s", plain)
	}
	if strings.Contains(plain, "- lookup") {
		t.Errorf("unexpected function list: %s", plain)
	}

	msg, err := g.NoFunctionCall(`{"type":"object"}`)
	if err != nil {
		t.Fatalf("NoFunctionCall() error = %v", err)
	}
	if !strings.Contains(msg, `"print"`) || !strings.Contains(msg, `{"type":"object"}`) {
		t.Errorf("unexpected correction: %s", msg)
	}

	msg, err = g.InvalidArguments("lookup", `{}`, "id: required")
	if err != nil {
		t.Fatalf("InvalidArguments() error = %v", err)
	}
	if !strings.Contains(msg, "id: required") {
		t.Errorf("unexpected correction: %s", msg)
	}
}
