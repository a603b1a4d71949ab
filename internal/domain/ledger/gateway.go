package ledger

import (
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Gateway submits transactions to and reads state from the ledger network.
//
// Submit returns a Result with Accepted=false and a nil error when the ledger
// processed and rejected the transaction. A non-nil error means the outcome was
// not observed.
type Gateway interface {
	Connect(ctx context.Context) error
	Submit(ctx context.Context, tx Tx, signer Signer) (Result, error)
	Query(ctx context.Context, ref Ref) (State, error)
	// Fund credits address from the network faucet and returns the credited amount.
	Fund(ctx context.Context, address string) (decimal.Decimal, error)
}

// Result codes reported by the ledger.
const (
	CodeSuccess         = "tesSUCCESS"
	CodeUnfunded        = "tecUNFUNDED"
	CodeNoDestination   = "tecNO_DST"
	CodeNoEntry         = "tecNO_ENTRY"
	CodeNoPermission    = "tecNO_PERMISSION"
	CodeBadSignature    = "temBAD_SIGNATURE"
	CodeCryptoCondition = "tecCRYPTOCONDITION_ERROR"
	CodeSupplyExceeded  = "tecSUPPLY_EXCEEDED"
	CodeDuplicateToken  = "tecDUPLICATE"
	CodeBatchFailed     = "tecBATCH_FAILURE"
	CodeNotApplied      = "tecNOT_APPLIED"
	CodeTooSoon         = "tecTOO_SOON"
	CodeTooLate         = "tecTOO_LATE"
	CodeMalformed       = "temMALFORMED"
)

// Result is the ledger's verdict on a submitted transaction.
type Result struct {
	TxID       string   `json:"tx_id"`
	Accepted   bool     `json:"accepted"`
	TxRef      string   `json:"tx_ref,omitempty"`
	ObjectRef  string   `json:"object_ref,omitempty"`
	ResultCode string   `json:"result_code"`
	Inner      []Result `json:"inner,omitempty"`
}

// AllAccepted reports whether r and every inner result were accepted.
func (r Result) AllAccepted() bool {
	if !r.Accepted {
		return false
	}
	for _, in := range r.Inner {
		if !in.AllAccepted() {
			return false
		}
	}
	return true
}

// RefKind selects what a Query looks up.
type RefKind string

const (
	RefAccount     RefKind = "account"
	RefTransaction RefKind = "transaction"
	RefHold        RefKind = "hold"
)

// Ref addresses ledger state.
type Ref struct {
	Kind RefKind
	ID   string
}

// AccountRef addresses an account by address.
func AccountRef(address string) Ref { return Ref{Kind: RefAccount, ID: address} }

// TransactionRef addresses a transaction by client transaction ID.
func TransactionRef(txID string) Ref { return Ref{Kind: RefTransaction, ID: txID} }

// HoldRef addresses a hold by its ledger object reference.
func HoldRef(objectRef string) Ref { return Ref{Kind: RefHold, ID: objectRef} }

// State is the answer to a Query. Found is false when the referenced object does not exist.
type State struct {
	Found   bool
	Balance decimal.Decimal
	Tokens  map[Asset]int64
	Tx      *Result
	Hold    *HoldState
}

// HoldState describes an open hold.
type HoldState struct {
	Owner       string
	Destination string
	Amount      decimal.Decimal
	Condition   string
	CancelAfter time.Time
}

// Signer authorizes transactions for one account.
type Signer interface {
	Address() string
	PublicKey() ed25519.PublicKey
	Sign(message []byte) ([]byte, error)
}

// KeySigner is a Signer backed by an in-memory ed25519 private key.
type KeySigner struct {
	key     ed25519.PrivateKey
	address string
}

// NewKeySigner wraps key.
func NewKeySigner(key ed25519.PrivateKey) *KeySigner {
	pub := key.Public().(ed25519.PublicKey)
	return &KeySigner{key: key, address: AddressFromPublicKey(pub)}
}

func (s *KeySigner) Address() string { return s.address }

func (s *KeySigner) PublicKey() ed25519.PublicKey {
	return s.key.Public().(ed25519.PublicKey)
}

func (s *KeySigner) Sign(message []byte) ([]byte, error) {
	return ed25519.Sign(s.key, message), nil
}

// Wipe zeroes the private key.
func (s *KeySigner) Wipe() {
	for i := range s.key {
		s.key[i] = 0
	}
}

func (s *KeySigner) String() string { return "KeySigner(" + s.address + ")" }

// AddressFromPublicKey derives the ledger account address of pub.
func AddressFromPublicKey(pub ed25519.PublicKey) string {
	sum := sha256.Sum256(pub)
	return "ef" + hex.EncodeToString(sum[:20])
}

// SigningPayload is the canonical byte string signed for tx.
// Co-signatures on an AtomicContainer are excluded.
func SigningPayload(tx Tx) ([]byte, error) {
	payload, err := json.Marshal(struct {
		Kind Kind `json:"kind"`
		Tx   Tx   `json:"tx"`
	}{Kind: tx.Kind(), Tx: tx})
	if err != nil {
		return nil, fmt.Errorf("encoding %s payload: %w", tx.Kind(), err)
	}
	return payload, nil
}

// VerifySignature checks that sig over tx was produced by pub and that pub owns account.
func VerifySignature(tx Tx, account string, pub ed25519.PublicKey, sig []byte) bool {
	if len(pub) != ed25519.PublicKeySize || AddressFromPublicKey(pub) != account {
		return false
	}
	payload, err := SigningPayload(tx)
	if err != nil {
		return false
	}
	return ed25519.Verify(pub, payload, sig)
}

// CoSign signs container on behalf of signer and returns the container with the
// signature attached.
func CoSign(container AtomicContainer, signer Signer) (AtomicContainer, error) {
	payload, err := SigningPayload(container)
	if err != nil {
		return container, err
	}
	sig, err := signer.Sign(payload)
	if err != nil {
		return container, fmt.Errorf("co-signing as %s: %w", signer.Address(), err)
	}
	container.CoSigners = append(append([]Signature(nil), container.CoSigners...), Signature{
		Account:   signer.Address(),
		PublicKey: append([]byte(nil), signer.PublicKey()...),
		Signature: sig,
	})
	return container, nil
}
