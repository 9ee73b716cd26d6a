package keys

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"colab/internal/domain"
)

type stubValidator struct {
	valid map[string]bool
	err   error
	calls int
}

func (v *stubValidator) ValidateKey(_ context.Context, key string) (domain.KeyInfo, error) {
	v.calls++
	if v.err != nil {
		return domain.KeyInfo{}, v.err
	}
	if !v.valid[key] {
		return domain.KeyInfo{}, errors.New("invalid key")
	}
	return domain.KeyInfo{TeamID: "team-1", ClaudeName: "BLACK"}, nil
}

func newKeystore(t *testing.T, v Validator) *Keystore {
	t.Helper()
	return &Keystore{
		Path:      filepath.Join(t.TempDir(), "claude", "keystore.json"),
		Validator: v,
		Now:       func() time.Time { return time.Date(2025, 3, 4, 5, 6, 0, 0, time.UTC) },
	}
}

func TestResolverPrecedence(t *testing.T) {
	ks := newKeystore(t, nil)
	if err := ks.Stock(context.Background(), "BLACK", "cc_store", ""); err != nil {
		t.Fatalf("stock: %v", err)
	}
	env := map[string]string{
		"CLAUDE_COLAB_KEY_BLACK": "cc_identity",
		"CLAUDE_COLAB_KEY":       "cc_generic",
	}
	r := Resolver{Keystore: ks, LookupEnv: func(k string) string { return env[k] }}

	steps := []struct {
		explicit string
		want     string
		source   Source
		drop     string
	}{
		{"cc_explicit", "cc_explicit", SourceExplicit, ""},
		{"", "cc_identity", SourceIdentityEnv, "CLAUDE_COLAB_KEY_BLACK"},
		{"", "cc_generic", SourceGenericEnv, "CLAUDE_COLAB_KEY"},
		{"", "cc_store", SourceKeystore, ""},
	}
	for i, step := range steps {
		got, src, err := r.Resolve(step.explicit, "black")
		if err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		if got != step.want || src != step.source {
			t.Fatalf("step %d: got %s from %s, want %s from %s", i, got, src, step.want, step.source)
		}
		if step.drop != "" {
			delete(env, step.drop)
		}
	}
	if err := os.Remove(ks.Path); err != nil {
		t.Fatalf("remove keystore: %v", err)
	}
	if _, _, err := r.Resolve("", "black"); !errors.Is(err, ErrNoCredential) {
		t.Fatalf("expected ErrNoCredential, got %v", err)
	}
}

func TestResolverWithoutNameSkipsScopedSources(t *testing.T) {
	ks := newKeystore(t, nil)
	if err := ks.Stock(context.Background(), "BLACK", "cc_store", ""); err != nil {
		t.Fatalf("stock: %v", err)
	}
	r := Resolver{Keystore: ks, LookupEnv: func(string) string { return "" }}
	if _, _, err := r.Resolve("", ""); !errors.Is(err, ErrNoCredential) {
		t.Fatalf("expected no credential without a name, got %v", err)
	}
}

func TestVendMissingAndCorrupt(t *testing.T) {
	ks := newKeystore(t, nil)
	if _, ok := ks.Vend("BLACK"); ok {
		t.Fatalf("vend from missing store should be absent")
	}
	if err := os.MkdirAll(filepath.Dir(ks.Path), 0o700); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(ks.Path, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, ok := ks.Vend("BLACK"); ok {
		t.Fatalf("vend from corrupt store should be absent")
	}
}

func TestVendIgnoresMetadata(t *testing.T) {
	ks := newKeystore(t, nil)
	if err := ks.Stock(context.Background(), "black", "cc_1", ""); err != nil {
		t.Fatal(err)
	}
	if _, ok := ks.Vend("_updated"); ok {
		t.Fatalf("metadata must not vend")
	}
	if got, ok := ks.Vend("Black"); !ok || got != "cc_1" {
		t.Fatalf("vend = %q, %v", got, ok)
	}
	if names := ks.Names(); len(names) != 1 || names[0] != "BLACK" {
		t.Fatalf("names = %v", names)
	}
}

func TestStockRequiresValidRequester(t *testing.T) {
	v := &stubValidator{valid: map[string]bool{"cc_black": true}}
	ks := newKeystore(t, v)

	err := ks.Stock(context.Background(), "INTOLERANT", "cc_new", "cc_bogus")
	if !errors.Is(err, ErrRequesterInvalid) {
		t.Fatalf("expected ErrRequesterInvalid, got %v", err)
	}
	if _, statErr := os.Stat(ks.Path); !os.IsNotExist(statErr) {
		t.Fatalf("rejected stock must not create the store")
	}

	v.err = errors.New("dial tcp: connection refused")
	if err := ks.Stock(context.Background(), "INTOLERANT", "cc_new", "cc_black"); !errors.Is(err, ErrRequesterInvalid) {
		t.Fatalf("unreachable validation must fail, got %v", err)
	}
	v.err = nil

	if err := ks.Stock(context.Background(), "INTOLERANT", "cc_new", "cc_black"); err != nil {
		t.Fatalf("stock: %v", err)
	}
	if got, ok := ks.Vend("INTOLERANT"); !ok || got != "cc_new" {
		t.Fatalf("vend after stock = %q, %v", got, ok)
	}
	if ks.Updated() != "2025-03-04 05:06" {
		t.Fatalf("updated stamp = %q", ks.Updated())
	}
}

func TestStockLastWriteWins(t *testing.T) {
	ks := newKeystore(t, nil)
	ctx := context.Background()
	if err := ks.Stock(ctx, "OLLAMA", "cc_a", ""); err != nil {
		t.Fatal(err)
	}
	if err := ks.Stock(ctx, "BLACK", "cc_b", ""); err != nil {
		t.Fatal(err)
	}
	if err := ks.Stock(ctx, "OLLAMA", "cc_c", ""); err != nil {
		t.Fatal(err)
	}
	if got, _ := ks.Vend("OLLAMA"); got != "cc_c" {
		t.Fatalf("expected last write to win, got %q", got)
	}
	if got, _ := ks.Vend("BLACK"); got != "cc_b" {
		t.Fatalf("other entries must survive, got %q", got)
	}
}

func TestRedact(t *testing.T) {
	if got := Redact("cc_abcdef123456"); got != "cc_abc..." {
		t.Fatalf("Redact = %q", got)
	}
	if got := Redact("cc_"); got != "***" {
		t.Fatalf("Redact short = %q", got)
	}
}
