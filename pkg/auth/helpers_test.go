package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/hearthd/hearth/pkg/config"
)

const (
	testIssuer   = "https://issuer.test"
	testAudience = "hearth-api"
)

// testIdentity is a throwaway identity provider: an RSA key pair plus
// an httptest server publishing the public half as a JWKS.
type testIdentity struct {
	key     *rsa.PrivateKey
	jwksURL string
}

func newTestIdentity(t *testing.T) *testIdentity {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	pub, err := jwk.FromRaw(&key.PublicKey)
	if err != nil {
		t.Fatalf("build JWK: %v", err)
	}
	if err := pub.Set(jwk.KeyIDKey, "test-key-id"); err != nil {
		t.Fatalf("set kid: %v", err)
	}
	if err := pub.Set(jwk.AlgorithmKey, jwa.RS256); err != nil {
		t.Fatalf("set alg: %v", err)
	}
	keyset := jwk.NewSet()
	if err := keyset.AddKey(pub); err != nil {
		t.Fatalf("add key: %v", err)
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/.well-known/jwks.json" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(keyset)
	}))
	t.Cleanup(server.Close)

	return &testIdentity{key: key, jwksURL: server.URL + "/.well-known/jwks.json"}
}

func (id *testIdentity) validator(t *testing.T) *JWTValidator {
	t.Helper()
	v, err := NewJWTValidator(&config.JWTConfig{
		JWKSURL:         id.jwksURL,
		Issuer:          testIssuer,
		Audience:        testAudience,
		RefreshInterval: 15 * time.Minute,
	})
	if err != nil {
		t.Fatalf("NewJWTValidator: %v", err)
	}
	return v
}

// tokenSpec describes a token to mint. Zero values fall back to the
// test issuer, audience, and a one hour expiry.
type tokenSpec struct {
	issuer    string
	audience  string
	subject   string
	expiresIn time.Duration
	claims    map[string]any
}

func (id *testIdentity) sign(t *testing.T, spec tokenSpec) string {
	t.Helper()

	if spec.issuer == "" {
		spec.issuer = testIssuer
	}
	if spec.audience == "" {
		spec.audience = testAudience
	}
	if spec.expiresIn == 0 {
		spec.expiresIn = time.Hour
	}

	token := jwt.New()
	fields := map[string]any{
		jwt.IssuerKey:     spec.issuer,
		jwt.AudienceKey:   spec.audience,
		jwt.SubjectKey:    spec.subject,
		jwt.IssuedAtKey:   time.Now(),
		jwt.ExpirationKey: time.Now().Add(spec.expiresIn),
	}
	for k, v := range fields {
		if err := token.Set(k, v); err != nil {
			t.Fatalf("set %s: %v", k, err)
		}
	}
	for k, v := range spec.claims {
		if err := token.Set(k, v); err != nil {
			t.Fatalf("set %s: %v", k, err)
		}
	}

	signKey, err := jwk.FromRaw(id.key)
	if err != nil {
		t.Fatalf("build signing key: %v", err)
	}
	if err := signKey.Set(jwk.KeyIDKey, "test-key-id"); err != nil {
		t.Fatalf("set kid: %v", err)
	}

	signed, err := jwt.Sign(token, jwt.WithKey(jwa.RS256, signKey))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return string(signed)
}
