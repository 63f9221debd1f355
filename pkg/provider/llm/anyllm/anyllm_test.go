package anyllm

import (
	"errors"
	"testing"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/CannonWest/CannonAI-sub001/pkg/provider/llm"
	"github.com/CannonWest/CannonAI-sub001/pkg/types"
)

func TestNew_EmptyProviderName(t *testing.T) {
	t.Parallel()
	_, err := New("", "gpt-4o")
	if err == nil {
		t.Fatal("expected error for empty providerName")
	}
}

func TestNew_EmptyModel(t *testing.T) {
	t.Parallel()
	_, err := New("openai", "")
	if err == nil {
		t.Fatal("expected error for empty model")
	}
}

func TestNew_UnsupportedProvider(t *testing.T) {
	t.Parallel()
	_, err := New("fakecloud", "some-model", anyllmlib.WithAPIKey("dummy"))
	if err == nil {
		t.Fatal("expected error for unsupported provider")
	}
}

func TestNew_OpenAI_WithAPIKey(t *testing.T) {
	t.Parallel()
	d, err := New("openai", "gpt-4o", anyllmlib.WithAPIKey("sk-test"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.model != "gpt-4o" {
		t.Errorf("expected model gpt-4o, got %q", d.model)
	}
	if d.providerName != "openai" {
		t.Errorf("expected providerName openai, got %q", d.providerName)
	}
}

func TestNew_ProviderNameLowercased(t *testing.T) {
	t.Parallel()
	d, err := New("OpenAI", "gpt-4o", anyllmlib.WithAPIKey("sk-test"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.providerName != "openai" {
		t.Errorf("expected lowercased providerName, got %q", d.providerName)
	}
}

func TestInitialize_NilBackendRejected(t *testing.T) {
	t.Parallel()
	d := &Driver{}
	err := d.Initialize(nil, llm.Credential{})
	if err == nil {
		t.Fatal("expected error for a driver with no backend")
	}
}

func TestDefaultParams(t *testing.T) {
	t.Parallel()
	d, err := New("ollama", "llama3")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, ok := d.DefaultParams()["temperature"]; !ok {
		t.Error("expected temperature in default params")
	}
}

func TestValidateModel(t *testing.T) {
	t.Parallel()
	d, err := New("ollama", "llama3")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if !d.ValidateModel("llama3") {
		t.Error("expected non-empty model id to validate")
	}
	if d.ValidateModel("") {
		t.Error("expected empty model id to fail validation")
	}
}

func TestModelCapabilities_GPT4o(t *testing.T) {
	t.Parallel()
	caps := modelCapabilities("gpt-4o")
	if caps.ContextWindow != 128_000 {
		t.Errorf("expected context window 128000, got %d", caps.ContextWindow)
	}
	if !caps.SupportsVision {
		t.Error("expected SupportsVision=true")
	}
	if caps.MaxOutputTokens != 16_384 {
		t.Errorf("expected MaxOutputTokens 16384, got %d", caps.MaxOutputTokens)
	}
}

func TestModelCapabilities_Claude(t *testing.T) {
	t.Parallel()
	caps := modelCapabilities("claude-3-5-sonnet-latest")
	if caps.ContextWindow != 200_000 {
		t.Errorf("expected context window 200000, got %d", caps.ContextWindow)
	}
	if caps.MaxOutputTokens != 8_192 {
		t.Errorf("expected MaxOutputTokens 8192, got %d", caps.MaxOutputTokens)
	}
}

func TestModelCapabilities_Gemini15Pro(t *testing.T) {
	t.Parallel()
	caps := modelCapabilities("gemini-1.5-pro")
	if caps.ContextWindow != 2_097_152 {
		t.Errorf("expected context window 2097152, got %d", caps.ContextWindow)
	}
}

func TestModelCapabilities_GeminiGeneric(t *testing.T) {
	t.Parallel()
	caps := modelCapabilities("gemini-2.0-flash")
	if caps.ContextWindow != 1_048_576 {
		t.Errorf("expected context window 1048576, got %d", caps.ContextWindow)
	}
}

func TestModelCapabilities_DeepSeek(t *testing.T) {
	t.Parallel()
	caps := modelCapabilities("deepseek-chat")
	if caps.ContextWindow != 64_000 {
		t.Errorf("expected context window 64000, got %d", caps.ContextWindow)
	}
}

func TestModelCapabilities_Unknown(t *testing.T) {
	t.Parallel()
	caps := modelCapabilities("my-custom-model")
	if caps.ContextWindow <= 0 || caps.MaxOutputTokens <= 0 {
		t.Error("expected positive defaults for an unrecognised model")
	}
}

func TestModelCapabilities_CaseInsensitive(t *testing.T) {
	t.Parallel()
	lower := modelCapabilities("gpt-4o")
	upper := modelCapabilities("GPT-4O")
	if lower.ContextWindow != upper.ContextWindow {
		t.Errorf("case should not matter: got %d vs %d", lower.ContextWindow, upper.ContextWindow)
	}
}

func TestCountTokens_Estimation(t *testing.T) {
	t.Parallel()
	d := &Driver{model: "gpt-4o"}
	count := d.CountTokens([]types.Message{{Role: types.RoleUser, Content: "Hello world"}})
	if count <= 0 {
		t.Errorf("expected positive token count, got %d", count)
	}
}

func TestCountTokens_Empty(t *testing.T) {
	t.Parallel()
	d := &Driver{model: "gpt-4o"}
	if count := d.CountTokens(nil); count != 0 {
		t.Errorf("expected 0 tokens for empty messages, got %d", count)
	}
}

func TestBuildParams_LiftsSystemAndSetsMaxTokens(t *testing.T) {
	t.Parallel()
	d, err := New("ollama", "llama3")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	turns, lifted := llm.Normalize([]types.Message{{Role: types.RoleUser, Content: "hi"}}, "be nice", false)
	params := d.buildParams(turns, lifted, llm.ParamSet{"temperature": 0.5})
	if len(params.Messages) != 2 {
		t.Fatalf("expected system + user message, got %d", len(params.Messages))
	}
	if params.Messages[0].Role != string(types.RoleSystem) {
		t.Errorf("expected first message to carry the system role, got %q", params.Messages[0].Role)
	}
	if params.MaxTokens == nil {
		t.Error("expected MaxTokens to be set")
	}
	if params.Temperature == nil || *params.Temperature != 0.5 {
		t.Error("expected Temperature to be forwarded")
	}
}

func TestBuildParams_ChainSystemRootNotDuplicated(t *testing.T) {
	t.Parallel()
	d, err := New("ollama", "llama3")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	chain := []types.Message{
		{Role: types.RoleSystem, Content: "be nice"},
		{Role: types.RoleUser, Content: "hi"},
	}
	turns, lifted := llm.Normalize(chain, "be nice", true)
	params := d.buildParams(turns, lifted, llm.ParamSet{})
	if len(params.Messages) != 2 {
		t.Fatalf("expected exactly one system message and one user message, got %d messages", len(params.Messages))
	}
	if params.Messages[0].Role != string(types.RoleSystem) {
		t.Errorf("expected first message to carry the system role, got %q", params.Messages[0].Role)
	}
}

func TestTranslateError_Kinds(t *testing.T) {
	t.Parallel()
	cases := []struct {
		msg  string
		kind llm.ErrorKind
	}{
		{"401 unauthorized", llm.ErrorKindAuthFailed},
		{"429 too many requests", llm.ErrorKindRateLimited},
		{"400 bad request", llm.ErrorKindBadRequest},
		{"502 bad gateway", llm.ErrorKindServerError},
		{"timeout exceeded", llm.ErrorKindTimeout},
		{"context canceled", llm.ErrorKindCancelled},
		{"connection reset", llm.ErrorKindNetwork},
	}
	for _, c := range cases {
		err := translateError("openai", errors.New(c.msg))
		var derr *llm.DriverError
		if !errors.As(err, &derr) {
			t.Fatalf("%q: expected a *llm.DriverError", c.msg)
		}
		if derr.Kind != c.kind {
			t.Errorf("%q: expected kind %s, got %s", c.msg, c.kind, derr.Kind)
		}
	}
}
