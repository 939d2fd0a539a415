package hecart

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/ldsec/lattigo/bfv"
)

// KeyMaterial is the key set of one deployment. Secret is nil on the
// server role.
type KeyMaterial struct {
	Public   *bfv.PublicKey
	Secret   *bfv.SecretKey
	EvalMult *bfv.EvaluationKey
	id       KeyID
}

func newKeyMaterial(pk *bfv.PublicKey, sk *bfv.SecretKey, rlk *bfv.EvaluationKey) (*KeyMaterial, error) {
	data, err := pk.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("marshal public key: %w", err)
	}
	return &KeyMaterial{Public: pk, Secret: sk, EvalMult: rlk, id: fingerprint("hecart/key", data)}, nil
}

func (km *KeyMaterial) ID() KeyID {
	return km.id
}

// PublicOnly is the handle given to the aggregation party.
func (km *KeyMaterial) PublicOnly() *KeyMaterial {
	return &KeyMaterial{Public: km.Public, EvalMult: km.EvalMult, id: km.id}
}

// Initialize generates a context, a key pair and the relinearization key
// homomorphic multiplication needs.
func Initialize(params Params) (ctx *Context, km *KeyMaterial, err error) {
	ctx, err = NewContext(params)
	if err != nil {
		return nil, nil, err
	}
	defer recoverAs(ErrInvalidParams, &err)
	kgen := bfv.NewKeyGenerator(ctx.bfv)
	sk, pk := kgen.GenKeyPair()
	rlk := kgen.GenRelinKey(sk, 1)
	km, err = newKeyMaterial(pk, sk, rlk)
	if err != nil {
		return nil, nil, err
	}
	return ctx, km, nil
}

type stateOptions struct {
	passphrase    []byte
	withoutSecret bool
}

type StateOption func(*stateOptions)

// WithPassphrase seals the secret-key artifact at rest.
func WithPassphrase(passphrase []byte) StateOption {
	return func(o *stateOptions) {
		o.passphrase = passphrase
	}
}

// WithoutSecret restricts Persist and Load to the public artifacts, which
// is all the aggregation party may see.
func WithoutSecret() StateOption {
	return func(o *stateOptions) {
		o.withoutSecret = true
	}
}

func putEnvelope(store Store, env *Envelope) error {
	data, err := env.MarshalBinary()
	if err != nil {
		return fmt.Errorf("marshal %s: %w", env.Name, err)
	}
	return store.Put(env.Namespace, env.Name, data)
}

// Persist writes context and keys under the well-known state names. By
// default the secret key lands next to the public material; use
// WithPassphrase or WithoutSecret when the store is shared with the server.
func Persist(ctx *Context, km *KeyMaterial, store Store, opts ...StateOption) error {
	var o stateOptions
	for _, opt := range opts {
		opt(&o)
	}
	if km.EvalMult == nil {
		return ErrMissingEvalKey
	}
	if km.Secret == nil && !o.withoutSecret {
		return ErrMissingSecretKey
	}

	desc, err := canonical.Marshal(ctx.params)
	if err != nil {
		return err
	}
	pkData, err := km.Public.MarshalBinary()
	if err != nil {
		return fmt.Errorf("marshal public key: %w", err)
	}
	rlkData, err := km.EvalMult.MarshalBinary()
	if err != nil {
		return fmt.Errorf("marshal eval-mult key: %w", err)
	}
	envs := []*Envelope{
		{Kind: KindContext, Name: contextName, Payload: desc},
		{Kind: KindPublicKey, Name: publicName, Payload: pkData},
		{Kind: KindEvalMultKey, Name: evalMultName, Payload: rlkData},
	}

	if !o.withoutSecret {
		skData, err := km.Secret.MarshalBinary()
		if err != nil {
			return fmt.Errorf("marshal secret key: %w", err)
		}
		env := &Envelope{Kind: KindSecretKey, Name: secretName, Payload: skData}
		if o.passphrase != nil {
			env.Kind = KindSealedSecretKey
			if env.Payload, err = seal(o.passphrase, skData, km.id[:]); err != nil {
				return fmt.Errorf("seal secret key: %w", err)
			}
		}
		envs = append(envs, env)
	}

	for _, env := range envs {
		env.Namespace = stateNamespace
		env.ContextID = ctx.id
		env.KeyID = km.id
		if err := putEnvelope(store, env); err != nil {
			return err
		}
	}
	return nil
}

// Load restores what Persist wrote. Any missing or inconsistent artifact
// fails the whole load.
func Load(store Store, opts ...StateOption) (*Context, *KeyMaterial, error) {
	var o stateOptions
	for _, opt := range opts {
		opt(&o)
	}

	ctx, err := loadContext(store)
	if err != nil {
		return nil, nil, &LoadError{Artifact: contextName, Err: err}
	}

	env, err := loadEnvelope(store, publicName, ctx)
	if err != nil {
		return nil, nil, &LoadError{Artifact: publicName, Err: err}
	}
	km, err := unmarshalPublicKey(env)
	if err != nil {
		return nil, nil, &LoadError{Artifact: publicName, Err: err}
	}

	env, err = loadEnvelope(store, evalMultName, ctx)
	if err != nil {
		return nil, nil, &LoadError{Artifact: evalMultName, Err: err}
	}
	if env.KeyID != km.id {
		return nil, nil, &LoadError{Artifact: evalMultName, Err: fmt.Errorf("%w: key %s, public key is %s", ErrDeserialization, env.KeyID, km.id)}
	}
	rlk, err := unmarshalEvalMultKey(env)
	if err != nil {
		return nil, nil, &LoadError{Artifact: evalMultName, Err: err}
	}
	km.EvalMult = rlk

	if o.withoutSecret {
		return ctx, km, nil
	}

	env, err = loadEnvelope(store, secretName, ctx)
	if err != nil {
		return nil, nil, &LoadError{Artifact: secretName, Err: err}
	}
	if env.KeyID != km.id {
		return nil, nil, &LoadError{Artifact: secretName, Err: fmt.Errorf("%w: key %s, public key is %s", ErrDeserialization, env.KeyID, km.id)}
	}
	sk, err := unmarshalSecretKey(env, o.passphrase)
	if err != nil {
		return nil, nil, &LoadError{Artifact: secretName, Err: err}
	}
	km.Secret = sk
	return ctx, km, nil
}

func loadContext(store Store) (*Context, error) {
	data, err := store.Get(stateNamespace, contextName)
	if err != nil {
		return nil, err
	}
	env, err := decodeEnvelope(data, KindContext)
	if err != nil {
		return nil, err
	}
	var params Params
	if err := cbor.Unmarshal(env.Payload, &params); err != nil {
		return nil, fmt.Errorf("%w: params: %v", ErrDeserialization, err)
	}
	ctx, err := NewContext(params)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeserialization, err)
	}
	if ctx.id != env.ContextID {
		return nil, fmt.Errorf("%w: context fingerprint mismatch", ErrDeserialization)
	}
	return ctx, nil
}

// loadEnvelope reads a state artifact and checks it was made for ctx.
func loadEnvelope(store Store, name string, ctx *Context) (*Envelope, error) {
	data, err := store.Get(stateNamespace, name)
	if err != nil {
		return nil, err
	}
	env := new(Envelope)
	if err := env.UnmarshalBinary(data); err != nil {
		return nil, err
	}
	if env.ContextID != ctx.id {
		return nil, fmt.Errorf("%w: context %s, expected %s", ErrDeserialization, env.ContextID, ctx.id)
	}
	return env, nil
}

func expectKind(env *Envelope, kinds ...Kind) error {
	for _, k := range kinds {
		if env.Kind == k {
			return nil
		}
	}
	return fmt.Errorf("%w: unexpected %s in %s", ErrDeserialization, env.Kind, env.Name)
}

func unmarshalPublicKey(env *Envelope) (km *KeyMaterial, err error) {
	if err = expectKind(env, KindPublicKey); err != nil {
		return nil, err
	}
	defer recoverAs(ErrDeserialization, &err)
	pk := new(bfv.PublicKey)
	if err = pk.UnmarshalBinary(env.Payload); err != nil {
		return nil, fmt.Errorf("%w: public key: %v", ErrDeserialization, err)
	}
	km = &KeyMaterial{Public: pk, id: fingerprint("hecart/key", env.Payload)}
	if km.id != env.KeyID {
		return nil, fmt.Errorf("%w: public key fingerprint mismatch", ErrDeserialization)
	}
	return km, nil
}

func unmarshalEvalMultKey(env *Envelope) (rlk *bfv.EvaluationKey, err error) {
	if err = expectKind(env, KindEvalMultKey); err != nil {
		return nil, err
	}
	defer recoverAs(ErrDeserialization, &err)
	rlk = new(bfv.EvaluationKey)
	if err = rlk.UnmarshalBinary(env.Payload); err != nil {
		return nil, fmt.Errorf("%w: eval-mult key: %v", ErrDeserialization, err)
	}
	return rlk, nil
}

func unmarshalSecretKey(env *Envelope, passphrase []byte) (sk *bfv.SecretKey, err error) {
	if err = expectKind(env, KindSecretKey, KindSealedSecretKey); err != nil {
		return nil, err
	}
	payload := env.Payload
	if env.Kind == KindSealedSecretKey {
		if passphrase == nil {
			return nil, fmt.Errorf("%w: secret key is sealed, passphrase required", ErrMissingSecretKey)
		}
		if payload, err = unseal(passphrase, payload, env.KeyID[:]); err != nil {
			return nil, err
		}
	}
	defer recoverAs(ErrDeserialization, &err)
	sk = new(bfv.SecretKey)
	if err = sk.UnmarshalBinary(payload); err != nil {
		return nil, fmt.Errorf("%w: secret key: %v", ErrDeserialization, err)
	}
	return sk, nil
}
