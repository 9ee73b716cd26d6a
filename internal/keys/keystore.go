package keys

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"colab/internal/domain"
	"colab/internal/jsonfile"
)

const (
	updatedField = "_updated"
	commentField = "_comment"
	keystoreNote = "Claude Key Vending Machine - DO NOT commit to git"
	stampLayout  = "2006-01-02 15:04"
)

var ErrRequesterInvalid = errors.New("requester credential invalid")

// Validator checks a credential against the backend.
type Validator interface {
	ValidateKey(ctx context.Context, key string) (domain.KeyInfo, error)
}

// Keystore is a JSON file mapping agent names to credentials. Writes replace
// the whole file; there is no cross-process lock, so concurrent writers may
// lose updates.
type Keystore struct {
	Path      string
	Validator Validator
	Now       func() time.Time
}

func (k *Keystore) now() time.Time {
	if k.Now != nil {
		return k.Now()
	}
	return time.Now()
}

// Vend returns the stored credential for name. A missing or corrupt store
// reads as empty.
func (k *Keystore) Vend(name string) (string, bool) {
	key := domain.NormalizeName(name)
	if key == "" || strings.HasPrefix(key, "_") {
		return "", false
	}
	doc, err := k.load()
	if err != nil {
		return "", false
	}
	v, ok := doc[key].(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// Updated returns the store-wide last-updated stamp, if any.
func (k *Keystore) Updated() string {
	doc, err := k.load()
	if err != nil {
		return ""
	}
	s, _ := doc[updatedField].(string)
	return s
}

// Names lists the agents with a stocked credential.
func (k *Keystore) Names() []string {
	doc, err := k.load()
	if err != nil {
		return nil
	}
	var names []string
	for name, v := range doc {
		if strings.HasPrefix(name, "_") {
			continue
		}
		if s, ok := v.(string); ok && s != "" {
			names = append(names, name)
		}
	}
	return names
}

// Stock stores credential under name. When requester is non-empty it must
// validate first; possession of a valid credential is the only authority
// checked here, rank does not matter.
func (k *Keystore) Stock(ctx context.Context, name, credential, requester string) error {
	key := domain.NormalizeName(name)
	if key == "" || strings.HasPrefix(key, "_") {
		return fmt.Errorf("invalid keystore name %q", name)
	}
	if requester != "" {
		if k.Validator == nil {
			return fmt.Errorf("%w: no validator configured", ErrRequesterInvalid)
		}
		if _, err := k.Validator.ValidateKey(ctx, requester); err != nil {
			return fmt.Errorf("%w: %v", ErrRequesterInvalid, err)
		}
	}
	doc, err := k.load()
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("read keystore: %w", err)
		}
		doc = map[string]any{commentField: keystoreNote}
	}
	doc[updatedField] = k.now().Format(stampLayout)
	doc[key] = credential
	if err := os.MkdirAll(filepath.Dir(k.Path), 0o700); err != nil {
		return fmt.Errorf("create keystore dir: %w", err)
	}
	return jsonfile.WriteAtomic(k.Path, doc)
}

func (k *Keystore) load() (map[string]any, error) {
	return jsonfile.Load(k.Path)
}
