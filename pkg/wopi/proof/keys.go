package proof

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"strings"
)

// ErrInvalidKey reports a proof key that cannot be used. It is a
// configuration error, distinct from a failed verification.
var ErrInvalidKey = errors.New("proof: invalid public key")

// KeyConfig describes one public key, either as PEM or as the base64
// modulus/exponent pair WOPI discovery publishes.
type KeyConfig struct {
	PEM      string `mapstructure:"pem" yaml:"pem,omitempty"`
	Modulus  string `mapstructure:"modulus" yaml:"modulus,omitempty"`
	Exponent string `mapstructure:"exponent" yaml:"exponent,omitempty"`
}

// IsZero reports whether no key is configured.
func (k KeyConfig) IsZero() bool {
	return k.PEM == "" && k.Modulus == "" && k.Exponent == ""
}

// Parse returns the RSA public key described by k.
func (k KeyConfig) Parse() (*rsa.PublicKey, error) {
	switch {
	case k.PEM != "":
		return ParsePEM(k.PEM)
	case k.Modulus != "" || k.Exponent != "":
		return FromModulusExponent(k.Modulus, k.Exponent)
	}
	return nil, fmt.Errorf("%w: empty key", ErrInvalidKey)
}

// ParseKeySet builds a KeySet. previous may be zero.
func ParseKeySet(current, previous KeyConfig) (KeySet, error) {
	cur, err := current.Parse()
	if err != nil {
		return KeySet{}, fmt.Errorf("current key: %w", err)
	}
	ks := KeySet{Current: cur}
	if !previous.IsZero() {
		if ks.Previous, err = previous.Parse(); err != nil {
			return KeySet{}, fmt.Errorf("previous key: %w", err)
		}
	}
	return ks, nil
}

// ParsePEM accepts "PUBLIC KEY" (PKIX) and "RSA PUBLIC KEY" (PKCS#1) blocks.
func ParsePEM(data string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(strings.TrimSpace(data)))
	if block == nil {
		return nil, fmt.Errorf("%w: no PEM block", ErrInvalidKey)
	}
	switch block.Type {
	case "RSA PUBLIC KEY":
		key, err := x509.ParsePKCS1PublicKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
		}
		return key, nil
	case "PUBLIC KEY":
		pub, err := x509.ParsePKIXPublicKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
		}
		key, ok := pub.(*rsa.PublicKey)
		if !ok {
			return nil, fmt.Errorf("%w: not an RSA key", ErrInvalidKey)
		}
		return key, nil
	}
	return nil, fmt.Errorf("%w: unexpected PEM type %q", ErrInvalidKey, block.Type)
}

// FromModulusExponent builds a key from base64 big-endian modulus and exponent.
func FromModulusExponent(modulus, exponent string) (*rsa.PublicKey, error) {
	n, err := base64.StdEncoding.DecodeString(modulus)
	if err != nil || len(n) == 0 {
		return nil, fmt.Errorf("%w: bad modulus", ErrInvalidKey)
	}
	e, err := base64.StdEncoding.DecodeString(exponent)
	if err != nil || len(e) == 0 || len(e) > 4 {
		return nil, fmt.Errorf("%w: bad exponent", ErrInvalidKey)
	}
	exp := new(big.Int).SetBytes(e)
	if !exp.IsInt64() || exp.Int64() < 3 {
		return nil, fmt.Errorf("%w: bad exponent", ErrInvalidKey)
	}
	return &rsa.PublicKey{N: new(big.Int).SetBytes(n), E: int(exp.Int64())}, nil
}
