package function

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/KodaTao/LLMFunctions/pkg/llm"
	"github.com/KodaTao/LLMFunctions/pkg/schema"
	"github.com/KodaTao/LLMFunctions/pkg/trace"
)

// mockRunner 测试用 Runner，记录调用和创建通知
type mockRunner struct {
	created []*Definition
	calls   []Args
	result  any
	err     error
}

func (m *mockRunner) Run(ctx context.Context, def *Definition, args Args, executionID string) (*trace.Execution, error) {
	m.calls = append(m.calls, args)
	if m.err != nil {
		return nil, m.err
	}
	return &trace.Execution{ID: "exec", FinalResponse: m.result}, nil
}

func (m *mockRunner) OnCreated(def *Definition) {
	m.created = append(m.created, def)
}

type itemList struct {
	Items []string `json:"items" validate:"required"`
}

type lookupParams struct {
	Key string `json:"key" validate:"required"`
}

func sampleBuilder() Builder {
	return New().
		Name("items").
		Description("Generate a list of items").
		Instructions("Generate items starting with {letter}").
		Output(schema.Of[itemList]()).
		Model(llm.ModelParams{Model: "gpt-4o-mini", Temperature: llm.Float(0)}).
		Dataset(
			Args{Instructions: map[string]any{"letter": "A"}},
			Args{Instructions: map[string]any{"letter": "B"}},
		)
}

func TestBuilder_CopyOnWrite(t *testing.T) {
	base := New().Name("base").Document(Document{Name: "a"})
	withDoc := base.Document(Document{Name: "b"})
	renamed := base.Name("renamed")

	if got := base.Definition().Name(); got != "base" {
		t.Errorf("base name changed to %q", got)
	}
	if got := renamed.Definition().Name(); got != "renamed" {
		t.Errorf("renamed name = %q", got)
	}
	if len(base.Definition().Documents()) != 1 {
		t.Errorf("base documents mutated: %v", base.Definition().Documents())
	}
	if len(withDoc.Definition().Documents()) != 2 {
		t.Errorf("withDoc documents = %v", withDoc.Definition().Documents())
	}

	// 两个分支追加不能互相覆盖
	left := base.Document(Document{Name: "left"})
	right := base.Document(Document{Name: "right"})
	if left.Definition().Documents()[1].Name != "left" || right.Definition().Documents()[1].Name != "right" {
		t.Error("appended documents should not alias between branches")
	}
}

func TestBuilder_ZeroValue(t *testing.T) {
	var b Builder
	def := b.Name("zero").Definition()
	if def.Name() != "zero" {
		t.Errorf("Name() = %q", def.Name())
	}
	if (Builder{}).Definition() == nil {
		t.Error("zero builder should return an empty definition")
	}
}

func TestBuilder_Placeholders(t *testing.T) {
	def := New().Instructions("Write about {topic} in {language}, {topic} first").Definition()
	got := def.Placeholders()
	if len(got) != 2 || got[0] != "topic" || got[1] != "language" {
		t.Errorf("Placeholders() = %v", got)
	}
	if def.Instructions() != "Write about {topic} in {language}, {topic} first" {
		t.Error("template should be stored verbatim")
	}
}

func TestCreate_DeterministicID(t *testing.T) {
	r := &mockRunner{}

	def1, _, err := sampleBuilder().Create(r)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	def2, _, err := sampleBuilder().Create(r)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if def1.ID() == "" {
		t.Fatal("ID should be assigned")
	}
	if def1.ID() != def2.ID() {
		t.Errorf("identical content should hash identically: %s != %s", def1.ID(), def2.ID())
	}

	// 重新计算哈希结果不变（id 不参与哈希）
	recomputed, err := ComputeID(def1)
	if err != nil {
		t.Fatalf("ComputeID() error = %v", err)
	}
	if recomputed != def1.ID() {
		t.Errorf("recomputed id %s != %s", recomputed, def1.ID())
	}

	changed, _, err := sampleBuilder().Description("other").Create(r)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if changed.ID() == def1.ID() {
		t.Error("different content should hash differently")
	}

	if sampleBuilder().Definition().ID() != "" {
		t.Error("builder definition should not carry an id")
	}
}

func TestCreate_CallbacksNotHashed(t *testing.T) {
	verifyA := func(Args, any) bool { return true }
	verifyB := func(Args, any) bool { return false }

	a, _, _ := sampleBuilder().Verify(verifyA).Create(nil)
	b, _, _ := sampleBuilder().Verify(verifyB).Create(nil)
	none, _, _ := sampleBuilder().Create(nil)

	if a.ID() != b.ID() {
		t.Error("verify implementations should not affect the id")
	}
	if a.ID() == none.ID() {
		t.Error("presence of verify should affect the id")
	}
}

func TestCreate_NotifiesAndRuns(t *testing.T) {
	r := &mockRunner{result: itemList{Items: []string{"Apple"}}}

	def, fn, err := sampleBuilder().Create(r)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if len(r.created) != 1 || r.created[0] != def {
		t.Fatalf("OnCreated should receive the created definition, got %v", r.created)
	}

	out, err := fn(context.Background(), Args{Instructions: map[string]any{"letter": "A"}})
	if err != nil {
		t.Fatalf("fn() error = %v", err)
	}
	if got, ok := out.(itemList); !ok || got.Items[0] != "Apple" {
		t.Errorf("fn() = %v", out)
	}

	r.err = errors.New("boom")
	if _, err := fn(context.Background(), Args{}); err == nil {
		t.Error("runner error should propagate")
	}
}

func TestCreate_NilRunner(t *testing.T) {
	_, fn, err := sampleBuilder().Create(nil)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if _, err := fn(context.Background(), Args{}); !errors.Is(err, ErrNoRunner) {
		t.Errorf("expected ErrNoRunner, got %v", err)
	}
}

func TestCreate_SubFunctionNames(t *testing.T) {
	lookup := NewSubFunction("lookup", "Look up a key", func(ctx context.Context, p lookupParams) (string, error) {
		return p.Key, nil
	})

	_, _, err := New().Functions(lookup, lookup).Create(nil)
	if !errors.Is(err, ErrDuplicateFunction) {
		t.Errorf("expected ErrDuplicateFunction, got %v", err)
	}

	reserved := lookup
	reserved.Name = "print"
	_, _, err = New().Functions(reserved).Create(nil)
	if !errors.Is(err, ErrReservedName) {
		t.Errorf("expected ErrReservedName, got %v", err)
	}
}

func TestCreate_NilFunctionStep(t *testing.T) {
	tests := []struct {
		name    string
		builder Builder
	}{
		{"sequence", New().Name("x").Sequence(nil)},
		{"map", New().Name("x").Map(FunctionStep(nil))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := tt.builder.Create(nil)
			if !errors.Is(err, ErrNilDefinition) {
				t.Errorf("expected ErrNilDefinition, got %v", err)
			}
		})
	}

	if _, err := New().Name("x").Sequence(nil).Definition().MarshalJSON(); !errors.Is(err, ErrNilDefinition) {
		t.Errorf("MarshalJSON() expected ErrNilDefinition, got %v", err)
	}
}

func TestDefinition_MarshalJSON(t *testing.T) {
	child, _, err := New().Name("child").Instructions("{input}").Create(nil)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	def, _, err := sampleBuilder().
		Query(func(ctx context.Context, q any) (any, error) { return q, nil }).
		Map(TransformStep("upper", func(ctx context.Context, result any, exec *trace.Execution, args Args) (any, error) {
			return result, nil
		})).
		Sequence(child).
		Create(nil)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	raw, err := def.MarshalJSON()
	if err != nil {
		t.Fatalf("MarshalJSON() error = %v", err)
	}
	s := string(raw)
	for _, want := range []string{
		`"id":"` + def.ID() + `"`,
		`"has_query":true`,
		`"transform":"upper"`,
		`"function":"` + child.ID() + `"`,
		`"name":"items"`,
	} {
		if !strings.Contains(s, want) {
			t.Errorf("MarshalJSON() missing %s in %s", want, s)
		}
	}
}

func TestMarshalCanonical(t *testing.T) {
	a, err := MarshalCanonical(map[string]any{"b": 1, "a": "x<y", "c": []any{"é"}})
	if err != nil {
		t.Fatalf("MarshalCanonical() error = %v", err)
	}
	if string(a) != `{"a":"x<y","b":1,"c":["é"]}` {
		t.Errorf("MarshalCanonical() = %s", a)
	}
}

func TestRegistry(t *testing.T) {
	registry := NewRegistry()

	if err := registry.Register(nil); err != ErrNilDefinition {
		t.Errorf("Register(nil) should return ErrNilDefinition, got %v", err)
	}
	if err := registry.Register(New().Name("x").Definition()); err != ErrMissingID {
		t.Errorf("Register(no id) should return ErrMissingID, got %v", err)
	}

	_, _, err := sampleBuilder().Create(registry)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	v2, _, err := sampleBuilder().Description("v2").Create(registry)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if registry.Count() != 2 {
		t.Errorf("Count() = %d, want 2", registry.Count())
	}
	got, ok := registry.Get(v2.ID())
	if !ok || got != v2 {
		t.Error("Get() should return the registered definition")
	}
	byName, ok := registry.GetByName("items")
	if !ok || byName.ID() != v2.ID() {
		t.Error("GetByName() should return the latest definition")
	}

	infos := registry.ListInfo()
	if len(infos) != 2 || infos[0].DatasetSize != 2 {
		t.Errorf("ListInfo() = %+v", infos)
	}

	if !registry.Unregister(v2.ID()) {
		t.Error("Unregister() should return true")
	}
	if registry.Unregister(v2.ID()) {
		t.Error("second Unregister() should return false")
	}
	if _, ok := registry.GetByName("items"); ok {
		t.Error("name index should be cleared")
	}
	if len(registry.List()) != 1 {
		t.Errorf("List() = %d entries", len(registry.List()))
	}
}

func TestExecutor(t *testing.T) {
	executor := NewExecutor(50 * time.Millisecond)

	lookup := NewSubFunction("lookup", "", func(ctx context.Context, p lookupParams) (string, error) {
		return "value:" + p.Key, nil
	})
	got, err := executor.Execute(context.Background(), lookup, lookupParams{Key: "k"})
	if err != nil || got != "value:k" {
		t.Errorf("Execute() = %q, %v", got, err)
	}

	panicky := SubFunction{Name: "panicky", Call: func(ctx context.Context, args any) (string, error) {
		panic("boom")
	}}
	if _, err := executor.Execute(context.Background(), panicky, nil); err == nil || !strings.Contains(err.Error(), "panicked") {
		t.Errorf("expected panic error, got %v", err)
	}

	slow := SubFunction{Name: "slow", Call: func(ctx context.Context, args any) (string, error) {
		<-ctx.Done()
		time.Sleep(10 * time.Millisecond)
		return "late", nil
	}}
	if _, err := executor.Execute(context.Background(), slow, nil); err == nil || !strings.Contains(err.Error(), "timeout") {
		t.Errorf("expected timeout error, got %v", err)
	}

	if _, err := executor.Execute(context.Background(), SubFunction{Name: "empty"}, nil); err == nil {
		t.Error("missing implementation should fail")
	}
}
