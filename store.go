package hecart

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Store is the shared channel between the client and server roles.
// Get reports ErrNotFound for absent entries and ErrMissingStorage when
// the storage itself does not exist.
type Store interface {
	Put(namespace, name string, data []byte) error
	Get(namespace, name string) ([]byte, error)
	Delete(namespace, name string) error
	List(namespace string) ([]string, error)
}

func checkSegment(seg string) error {
	if seg == "" || seg == "." || seg == ".." || strings.HasPrefix(seg, ".") ||
		strings.ContainsAny(seg, `/\`) {
		return fmt.Errorf("hecart: invalid store key segment %q", seg)
	}
	return nil
}

func checkNamespace(namespace string) error {
	for _, seg := range strings.Split(namespace, "/") {
		if err := checkSegment(seg); err != nil {
			return err
		}
	}
	return nil
}

func checkKey(namespace, name string) error {
	if err := checkNamespace(namespace); err != nil {
		return err
	}
	return checkSegment(name)
}

// FileStore keeps one file per entry below basePath. Writes go through a
// temporary file and an atomic rename so readers never see partial data.
type FileStore struct {
	basePath string
	mu       sync.RWMutex
}

// NewFileStore does not create basePath; the first Put does.
func NewFileStore(basePath string) *FileStore {
	return &FileStore{basePath: basePath}
}

func (s *FileStore) Path() string {
	return s.basePath
}

func (s *FileStore) Exists() bool {
	info, err := os.Stat(s.basePath)
	return err == nil && info.IsDir()
}

func (s *FileStore) dir(namespace string) string {
	return filepath.Join(s.basePath, filepath.FromSlash(namespace))
}

func (s *FileStore) Put(namespace, name string, data []byte) error {
	if err := checkKey(namespace, name); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := s.dir(namespace)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+name+".*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write %s/%s: %w", namespace, name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write %s/%s: %w", namespace, name, err)
	}
	if err := os.Rename(tmpPath, filepath.Join(dir, name)); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to save %s/%s: %w", namespace, name, err)
	}
	return nil
}

func (s *FileStore) Get(namespace, name string) ([]byte, error) {
	if err := checkKey(namespace, name); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.Exists() {
		return nil, fmt.Errorf("%w: %s", ErrMissingStorage, s.basePath)
	}
	data, err := os.ReadFile(filepath.Join(s.dir(namespace), name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, namespace, name)
	}
	return data, err
}

// Delete is a no-op for absent entries.
func (s *FileStore) Delete(namespace, name string) error {
	if err := checkKey(namespace, name); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(filepath.Join(s.dir(namespace), name))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func (s *FileStore) List(namespace string) ([]string, error) {
	if err := checkNamespace(namespace); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.Exists() {
		return nil, fmt.Errorf("%w: %s", ErrMissingStorage, s.basePath)
	}
	entries, err := os.ReadDir(s.dir(namespace))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		names = append(names, e.Name())
	}
	return names, nil
}

// MemStore is an in-process Store.
type MemStore struct {
	mu      sync.RWMutex
	entries map[string][]byte
}

func NewMemStore() *MemStore {
	return &MemStore{entries: make(map[string][]byte)}
}

func (s *MemStore) Put(namespace, name string, data []byte) error {
	if err := checkKey(namespace, name); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[namespace+"/"+name] = append([]byte(nil), data...)
	return nil
}

func (s *MemStore) Get(namespace, name string) ([]byte, error) {
	if err := checkKey(namespace, name); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.entries[namespace+"/"+name]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, namespace, name)
	}
	return append([]byte(nil), data...), nil
}

func (s *MemStore) Delete(namespace, name string) error {
	if err := checkKey(namespace, name); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, namespace+"/"+name)
	return nil
}

func (s *MemStore) List(namespace string) ([]string, error) {
	if err := checkNamespace(namespace); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	prefix := namespace + "/"
	var names []string
	for k := range s.entries {
		if rest := strings.TrimPrefix(k, prefix); rest != k && !strings.Contains(rest, "/") {
			names = append(names, rest)
		}
	}
	sort.Strings(names)
	return names, nil
}

// well-known names
const (
	stateNamespace = "state"

	contextName  = "cryptocontext"
	publicName   = "key-public"
	secretName   = "key-private"
	evalMultName = "key-eval-mult"

	discountName = "discount"
	totalName    = "total"
)

// Field selects which half of a cart line a ciphertext holds.
type Field string

const (
	FieldPrice    Field = "price"
	FieldQuantity Field = "quantity"
)

// LineNamespace keeps cart lines of different clients apart.
func LineNamespace(client string) string {
	return "cart/" + client
}

func LineName(product uint64, field Field) string {
	return fmt.Sprintf("%d.%s", product, field)
}

// LedgerNamespace holds the client's sealed plaintext view of its cart. The
// server role never reads it.
func LedgerNamespace(client string) string {
	return "ledger/" + client
}

// OrderNamespace holds the discount and total ciphertexts of a client's checkout.
func OrderNamespace(client string) string {
	return "order/" + client
}

// CiphertextStore moves ciphertexts of one context and key set through a Store.
type CiphertextStore struct {
	Store
	ctx   *Context
	keyID KeyID
}

func NewCiphertextStore(store Store, ctx *Context, km *KeyMaterial) *CiphertextStore {
	return &CiphertextStore{Store: store, ctx: ctx, keyID: km.ID()}
}

func (s *CiphertextStore) PutCiphertext(namespace, name string, ct *Ciphertext) error {
	if ct.ctxID != s.ctx.ID() || ct.keyID != s.keyID {
		return fmt.Errorf("%w: %s/%s", ErrContextMismatch, namespace, name)
	}
	payload, err := ct.ct.MarshalBinary()
	if err != nil {
		return fmt.Errorf("marshal ciphertext: %w", err)
	}
	env := &Envelope{
		Kind:      KindCiphertext,
		ContextID: ct.ctxID,
		KeyID:     ct.keyID,
		Namespace: namespace,
		Name:      name,
		Depth:     ct.depth,
		Payload:   payload,
		Line:      ct.line,
	}
	data, err := env.MarshalBinary()
	if err != nil {
		return err
	}
	return s.Put(namespace, name, data)
}

// GetCiphertext passes ErrNotFound through so callers can tell absent
// entries from corrupt ones.
func (s *CiphertextStore) GetCiphertext(namespace, name string) (*Ciphertext, error) {
	data, err := s.Get(namespace, name)
	if err != nil {
		return nil, err
	}
	env, err := decodeEnvelope(data, KindCiphertext)
	if err != nil {
		return nil, fmt.Errorf("%s/%s: %w", namespace, name, err)
	}
	switch {
	case env.ContextID != s.ctx.ID():
		return nil, fmt.Errorf("%w: %s/%s: context %s", ErrDeserialization, namespace, name, env.ContextID)
	case env.KeyID != s.keyID:
		return nil, fmt.Errorf("%w: %s/%s: key %s", ErrDeserialization, namespace, name, env.KeyID)
	case env.Namespace != namespace || env.Name != name:
		return nil, fmt.Errorf("%w: %s/%s: envelope names %s/%s", ErrDeserialization, namespace, name, env.Namespace, env.Name)
	case env.Depth < 0 || env.Depth > s.ctx.params.Depth:
		return nil, fmt.Errorf("%w: %s/%s: depth %d", ErrDeserialization, namespace, name, env.Depth)
	}
	raw, err := unmarshalCiphertext(env.Payload)
	if err != nil {
		return nil, fmt.Errorf("%s/%s: %w", namespace, name, err)
	}
	return &Ciphertext{ct: raw, depth: env.Depth, ctxID: env.ContextID, keyID: env.KeyID, line: env.Line}, nil
}
