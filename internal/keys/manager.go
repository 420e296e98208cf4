package keys

import (
	"crypto/rand"
	"crypto/rsa"
	"fmt"
	"sync"

	"github.com/go-jose/go-jose/v4"
	"github.com/google/uuid"

	"github.com/k99k5/oidc-convert/internal/domain/oauth"
)

const rsaKeyBits = 2048

// Manager owns the process-wide RSA signing key pair. Generation is lazy and
// happens at most once; concurrent first callers block until the pair exists
// and then observe the same material and key id.
type Manager struct {
	mu      sync.Mutex
	private *rsa.PrivateKey
	keyID   string
}

// NewManager creates an uninitialized Manager. Call EnsureKeys before using
// the key accessors.
func NewManager() *Manager {
	return &Manager{}
}

// EnsureKeys generates the RSA key pair on first call. Subsequent calls are
// no-ops.
func (m *Manager) EnsureKeys() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.private != nil {
		return nil
	}

	private, err := rsa.GenerateKey(rand.Reader, rsaKeyBits)
	if err != nil {
		return fmt.Errorf("generate rsa key: %w", err)
	}

	m.private = private
	m.keyID = uuid.NewString()[:8]
	return nil
}

// PrivateKey returns the signing key. Fails if EnsureKeys has not run.
func (m *Manager) PrivateKey() (*rsa.PrivateKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.private == nil {
		return nil, oauth.ErrNotInitialized
	}
	return m.private, nil
}

// PublicKey returns the verification key. Fails if EnsureKeys has not run.
func (m *Manager) PublicKey() (*rsa.PublicKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.private == nil {
		return nil, oauth.ErrNotInitialized
	}
	return &m.private.PublicKey, nil
}

// KeyID returns the JWKS kid, stable for the process lifetime. Empty before
// EnsureKeys.
func (m *Manager) KeyID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.keyID
}

// JWKS exports the public key as a JSON Web Key Set, generating the pair
// first when needed.
func (m *Manager) JWKS() (jose.JSONWebKeySet, error) {
	if err := m.EnsureKeys(); err != nil {
		return jose.JSONWebKeySet{}, err
	}

	public, err := m.PublicKey()
	if err != nil {
		return jose.JSONWebKeySet{}, err
	}

	jwk := jose.JSONWebKey{
		Key:       public,
		KeyID:     m.KeyID(),
		Use:       "sig",
		Algorithm: string(jose.RS256),
	}
	return jose.JSONWebKeySet{Keys: []jose.JSONWebKey{jwk}}, nil
}
