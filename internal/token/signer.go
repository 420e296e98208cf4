package token

import (
	"errors"
	"time"

	gojose "github.com/go-jose/go-jose/v4"
	gojwt "github.com/go-jose/go-jose/v4/jwt"

	"github.com/k99k5/oidc-convert/internal/domain/oauth"
	"github.com/k99k5/oidc-convert/internal/keys"
)

// Signer produces and validates compact signed tokens. Two modes exist: an
// HMAC-SHA256 signer over a shared secret for tokens only this service reads
// back (authorization codes, access tokens), and an RSA signer backed by the
// key manager for ID tokens that relying parties verify against the
// published JWKS.
type Signer struct {
	alg    gojose.SignatureAlgorithm
	secret []byte
	keys   *keys.Manager
	now    func() time.Time
}

// NewHMACSigner builds an HS256 signer over the shared signing secret.
func NewHMACSigner(secret []byte) *Signer {
	return &Signer{alg: gojose.HS256, secret: secret, now: time.Now}
}

// NewRSASigner builds an RS256 signer backed by the key manager. The kid
// header is stamped on every token so verifiers can select the JWKS entry.
func NewRSASigner(manager *keys.Manager) *Signer {
	return &Signer{alg: gojose.RS256, keys: manager, now: time.Now}
}

// WithClock overrides the wall clock, for expiry tests.
func (s *Signer) WithClock(now func() time.Time) *Signer {
	s.now = now
	return s
}

// Sign stamps iat/exp onto the claims and serializes the three-part compact
// token.
func (s *Signer) Sign(claims map[string]any, ttl time.Duration) (string, error) {
	signer, err := s.joseSigner()
	if err != nil {
		return "", err
	}

	now := s.now().UTC()
	std := gojwt.Claims{
		IssuedAt: gojwt.NewNumericDate(now),
		Expiry:   gojwt.NewNumericDate(now.Add(ttl)),
	}

	return gojwt.Signed(signer).Claims(std).Claims(claims).Serialize()
}

// Verify checks structure, signature, and expiry, returning the payload
// claims. Every failure collapses to oauth.ErrTokenInvalid so callers cannot
// tell a bad signature from an expired token. Expiry is checked against the
// wall clock with no leeway.
func (s *Signer) Verify(token string) (map[string]any, error) {
	parsed, err := gojwt.ParseSigned(token, []gojose.SignatureAlgorithm{s.alg})
	if err != nil {
		return nil, oauth.ErrTokenInvalid
	}

	key, err := s.verificationKey()
	if err != nil {
		return nil, err
	}

	var std gojwt.Claims
	payload := map[string]any{}
	if err := parsed.Claims(key, &std, &payload); err != nil {
		return nil, oauth.ErrTokenInvalid
	}

	if err := std.ValidateWithLeeway(gojwt.Expected{Time: s.now()}, 0); err != nil {
		return nil, oauth.ErrTokenInvalid
	}

	return payload, nil
}

func (s *Signer) joseSigner() (gojose.Signer, error) {
	opts := (&gojose.SignerOptions{}).WithType("JWT")

	if s.alg == gojose.HS256 {
		return gojose.NewSigner(gojose.SigningKey{Algorithm: gojose.HS256, Key: s.secret}, opts)
	}

	if err := s.keys.EnsureKeys(); err != nil {
		return nil, err
	}
	private, err := s.keys.PrivateKey()
	if err != nil {
		return nil, err
	}
	opts = opts.WithHeader("kid", s.keys.KeyID())
	return gojose.NewSigner(gojose.SigningKey{Algorithm: gojose.RS256, Key: private}, opts)
}

func (s *Signer) verificationKey() (any, error) {
	if s.alg == gojose.HS256 {
		return s.secret, nil
	}
	public, err := s.keys.PublicKey()
	if err != nil {
		if errors.Is(err, oauth.ErrNotInitialized) {
			return nil, err
		}
		return nil, oauth.ErrTokenInvalid
	}
	return public, nil
}
