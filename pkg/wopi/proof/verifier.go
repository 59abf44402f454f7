package proof

import (
	"strconv"
	"time"

	"github.com/marmos91/wopihost/internal/logger"
	wopierrors "github.com/marmos91/wopihost/pkg/wopi/errors"
)

// DefaultMaxAge is how old a proof timestamp may be before the request is
// rejected as a replay.
const DefaultMaxAge = 20 * time.Minute

// Request carries the proof-relevant parts of an inbound WOPI request.
type Request struct {
	AccessToken string
	URL         string // absolute request URL, including access_token
	Timestamp   string // X-WOPI-TimeStamp
	Proof       string // X-WOPI-Proof
	ProofOld    string // X-WOPI-ProofOld
}

// Verifier checks complete requests: timestamp freshness and signature.
type Verifier struct {
	MaxAge time.Duration
	Now    func() time.Time
}

// NewVerifier returns a Verifier with the given replay window.
func NewVerifier(maxAge time.Duration) *Verifier {
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	return &Verifier{MaxAge: maxAge, Now: time.Now}
}

// VerifyRequest returns nil if req is authentic for keys, and a
// ProofVerificationFailed error otherwise.
func (v *Verifier) VerifyRequest(keys KeySet, req Request) error {
	ticks, err := strconv.ParseInt(req.Timestamp, 10, 64)
	if err != nil {
		return wopierrors.NewProofVerificationFailed("missing or malformed X-WOPI-TimeStamp")
	}
	if age := v.Now().Sub(TicksToTime(ticks)); age > v.MaxAge {
		return wopierrors.NewProofVerificationFailed("proof timestamp too old")
	}

	expected := BuildExpectedProof(req.AccessToken, req.URL, ticks)
	if !Verify(keys, req.Proof, req.ProofOld, expected) {
		logger.Debug("proof mismatch", logger.TokenHash(req.AccessToken))
		return wopierrors.NewProofVerificationFailed("proof signature mismatch")
	}
	return nil
}
