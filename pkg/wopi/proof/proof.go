// Package proof verifies WOPI proof-key signatures.
//
// A WOPI client signs (access token, request URL, timestamp) with its
// RSA proof key and sends the signature in X-WOPI-Proof, plus a signature
// made with its previous key in X-WOPI-ProofOld. Verification accepts
// either rotation side: the client's new key while the host still knows
// the old one, and the other way round.
package proof

import (
	"crypto"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"strings"
	"time"
)

const (
	// TicksAtUnixEpoch is 1970-01-01T00:00:00Z in .NET ticks.
	TicksAtUnixEpoch int64 = 621355968000000000

	// TicksPerSecond is the number of 100ns ticks in one second.
	TicksPerSecond int64 = 10_000_000

	ticksPerNano = 100
)

// TicksToTime converts .NET ticks (100ns units since 0001-01-01 UTC) to time.
func TicksToTime(ticks int64) time.Time {
	rel := ticks - TicksAtUnixEpoch
	sec := rel / TicksPerSecond
	rem := rel % TicksPerSecond
	if rem < 0 {
		sec--
		rem += TicksPerSecond
	}
	return time.Unix(sec, rem*ticksPerNano).UTC()
}

// TimeToTicks converts t to .NET ticks.
func TimeToTicks(t time.Time) int64 {
	return t.Unix()*TicksPerSecond + int64(t.Nanosecond())/ticksPerNano + TicksAtUnixEpoch
}

// BuildExpectedProof assembles the byte string a WOPI client signs.
//
// Layout, all lengths big-endian uint32:
//
//	len(token) token len(URL) UPPERCASE(URL) 8 ticks(int64 big-endian)
func BuildExpectedProof(token, url string, ticks int64) []byte {
	upper := strings.ToUpper(url)
	buf := make([]byte, 0, 4+len(token)+4+len(upper)+4+8)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(token)))
	buf = append(buf, token...)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(upper)))
	buf = append(buf, upper...)
	buf = binary.BigEndian.AppendUint32(buf, 8)
	buf = binary.BigEndian.AppendUint64(buf, uint64(ticks))
	return buf
}

// KeySet holds a client's current and, optionally, previous public key.
type KeySet struct {
	Current  *rsa.PublicKey
	Previous *rsa.PublicKey
}

// Enabled reports whether the set can verify anything.
func (k KeySet) Enabled() bool {
	return k.Current != nil
}

// Verify checks signature and signatureOld (base64) against expected.
//
// Candidates, first success wins:
//  1. signature with the current key
//  2. signatureOld with the current key (client rotated, host lags)
//  3. signature with the previous key (host rotated, client lags)
//
// An invalid or undecodable signature is simply a non-match.
func Verify(keys KeySet, signature, signatureOld string, expected []byte) bool {
	if keys.Current == nil {
		return false
	}
	digest := sha256.Sum256(expected)

	sig := decodeSignature(signature)
	if verifyOne(keys.Current, digest[:], sig) {
		return true
	}
	if verifyOne(keys.Current, digest[:], decodeSignature(signatureOld)) {
		return true
	}
	return keys.Previous != nil && verifyOne(keys.Previous, digest[:], sig)
}

func decodeSignature(s string) []byte {
	if s == "" {
		return nil
	}
	b, err := base64.StdEncoding.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil
	}
	return b
}

func verifyOne(key *rsa.PublicKey, digest, sig []byte) bool {
	if key == nil || len(sig) == 0 {
		return false
	}
	return rsa.VerifyPKCS1v15(key, crypto.SHA256, digest, sig) == nil
}
