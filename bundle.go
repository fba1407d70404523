package authz

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/fathomlabs/authz/logger"
)

// ============================================================================
// SIGNED POLICY BUNDLES
// ============================================================================

// SignedPolicyBundle is a policy snapshot with one detached signature per
// policy, keyed by policy name.
type SignedPolicyBundle struct {
	Policies   []Policy          `json:"policies"`
	Signatures map[string]string `json:"signatures"` // base64(ed25519 sig)
	Meta       map[string]any    `json:"meta,omitempty"`
}

// SignPolicy returns an ed25519 signature (base64) over the policy's name
// and checksum.
func SignPolicy(priv ed25519.PrivateKey, p *Policy) (string, error) {
	data, err := json.Marshal(struct {
		Name     string
		Checksum string
	}{p.Name, p.Checksum()})
	if err != nil {
		return "", err
	}
	sig := ed25519.Sign(priv, data)
	return base64.StdEncoding.EncodeToString(sig), nil
}

// VerifyPolicySignature checks a signature produced by SignPolicy.
func VerifyPolicySignature(pub ed25519.PublicKey, p *Policy, sigB64 string) (bool, error) {
	sig, err := base64.StdEncoding.DecodeString(sigB64)
	if err != nil {
		return false, err
	}
	data, err := json.Marshal(struct {
		Name     string
		Checksum string
	}{p.Name, p.Checksum()})
	if err != nil {
		return false, err
	}
	return ed25519.Verify(pub, data, sig), nil
}

// SignBundle signs each policy and assembles the bundle.
func SignBundle(priv ed25519.PrivateKey, policies []Policy) (*SignedPolicyBundle, error) {
	b := &SignedPolicyBundle{Policies: policies, Signatures: make(map[string]string, len(policies))}
	for i := range policies {
		s, err := SignPolicy(priv, &policies[i])
		if err != nil {
			return nil, err
		}
		b.Signatures[policies[i].Name] = s
	}
	return b, nil
}

// VerifyBundle verifies every policy signature in the bundle.
func VerifyBundle(pub ed25519.PublicKey, b *SignedPolicyBundle) (bool, error) {
	for i := range b.Policies {
		p := &b.Policies[i]
		sig, ok := b.Signatures[p.Name]
		if !ok {
			return false, fmt.Errorf("missing signature for policy %s", p.Name)
		}
		okv, err := VerifyPolicySignature(pub, p, sig)
		if err != nil || !okv {
			return false, fmt.Errorf("bad signature for policy %s: %v", p.Name, err)
		}
	}
	return true, nil
}

// ============================================================================
// BUNDLE DISTRIBUTION
// ============================================================================

type BundleSubscriber interface {
	OnBundle(ctx context.Context, pub ed25519.PublicKey, bundle *SignedPolicyBundle) error
}

type BundleSubscriberFunc func(ctx context.Context, pub ed25519.PublicKey, bundle *SignedPolicyBundle) error

func (f BundleSubscriberFunc) OnBundle(ctx context.Context, pub ed25519.PublicKey, bundle *SignedPolicyBundle) error {
	return f(ctx, pub, bundle)
}

// BundleDistributor pushes signed policy snapshots to subscribers whenever
// a change is announced, rotating its signing key on an interval.
type BundleDistributor struct {
	policies         PolicyStore
	pub              ed25519.PublicKey
	priv             ed25519.PrivateKey
	rotationInterval time.Duration
	notifyCh         chan struct{}
	stopCh           chan struct{}
	subscribers      []BundleSubscriber
	log              logger.Logger
	mu               sync.RWMutex
	started          bool
	wg               sync.WaitGroup
}

type BundleDistributorOption func(*BundleDistributor)

func WithBundleSigningKey(priv ed25519.PrivateKey) BundleDistributorOption {
	return func(d *BundleDistributor) {
		if priv != nil && len(priv) == ed25519.PrivateKeySize {
			d.priv = append(ed25519.PrivateKey{}, priv...)
			d.pub = priv.Public().(ed25519.PublicKey)
		}
	}
}

func WithBundleRotationInterval(interval time.Duration) BundleDistributorOption {
	return func(d *BundleDistributor) {
		if interval > 0 {
			d.rotationInterval = interval
		}
	}
}

func WithBundleLogger(l logger.Logger) BundleDistributorOption {
	return func(d *BundleDistributor) {
		if l != nil {
			d.log = l
		}
	}
}

func NewBundleDistributor(store PolicyStore, opts ...BundleDistributorOption) (*BundleDistributor, error) {
	if store == nil {
		return nil, fmt.Errorf("policy store is required")
	}
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate signing key: %w", err)
	}
	dist := &BundleDistributor{
		policies:         store,
		priv:             priv,
		pub:              pub,
		rotationInterval: 24 * time.Hour,
		notifyCh:         make(chan struct{}, 1),
		stopCh:           make(chan struct{}),
		log:              logger.NewPhusluLogger(),
	}
	for _, opt := range opts {
		opt(dist)
	}
	return dist, nil
}

func (d *BundleDistributor) Start(ctx context.Context) {
	d.mu.Lock()
	if d.started {
		d.mu.Unlock()
		return
	}
	d.started = true
	d.mu.Unlock()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ticker := time.NewTicker(d.rotationInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-d.stopCh:
				return
			case <-d.notifyCh:
				if err := d.distribute(ctx); err != nil {
					d.log.Error("bundle distribution failed", "error", err.Error())
				}
			case <-ticker.C:
				if err := d.RotateSigningKey(); err != nil {
					d.log.Error("bundle key rotation failed", "error", err.Error())
				}
			}
		}
	}()
}

func (d *BundleDistributor) Stop(ctx context.Context) error {
	d.mu.Lock()
	if !d.started {
		d.mu.Unlock()
		return nil
	}
	d.started = false
	d.mu.Unlock()

	close(d.stopCh)
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

// NotifyPolicyChange schedules a distribution. Signals coalesce: many edits
// in a burst produce one bundle.
func (d *BundleDistributor) NotifyPolicyChange() {
	select {
	case d.notifyCh <- struct{}{}:
	default:
	}
}

func (d *BundleDistributor) RegisterSubscriber(sub BundleSubscriber) {
	if sub == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.subscribers = append(d.subscribers, sub)
}

func (d *BundleDistributor) RotateSigningKey() error {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return err
	}
	d.mu.Lock()
	d.priv = priv
	d.pub = pub
	d.mu.Unlock()
	return nil
}

func (d *BundleDistributor) CurrentPublicKey() ed25519.PublicKey {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append(ed25519.PublicKey(nil), d.pub...)
}

func (d *BundleDistributor) distribute(ctx context.Context) error {
	policies, err := d.policies.ListPolicies(ctx)
	if err != nil {
		return err
	}
	d.mu.RLock()
	priv := d.priv
	pub := append(ed25519.PublicKey(nil), d.pub...)
	d.mu.RUnlock()

	bundle, err := SignBundle(priv, policies)
	if err != nil {
		return err
	}
	bundle.Meta = map[string]any{
		"generated_at": time.Now().UTC().Format(time.RFC3339Nano),
		"signing_key":  base64.StdEncoding.EncodeToString(pub),
	}

	for _, sub := range d.collectSubscribers() {
		if err := sub.OnBundle(ctx, pub, bundle); err != nil {
			d.log.Error("bundle subscriber error", "error", err.Error())
		}
	}
	return nil
}

func (d *BundleDistributor) collectSubscribers() []BundleSubscriber {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]BundleSubscriber(nil), d.subscribers...)
}

// EngineInvalidator returns a subscriber that verifies each bundle and
// drops the engine's parsed-condition cache so the next evaluation sees the
// new policy text.
func EngineInvalidator(e *Engine) BundleSubscriber {
	return BundleSubscriberFunc(func(ctx context.Context, pub ed25519.PublicKey, bundle *SignedPolicyBundle) error {
		if ok, err := VerifyBundle(pub, bundle); !ok {
			return fmt.Errorf("reject unverified bundle: %w", err)
		}
		e.InvalidateConditions()
		return nil
	})
}
