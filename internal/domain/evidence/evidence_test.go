package evidence_test

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/rpggio/escrowfund/internal/domain/evidence"
	"github.com/rpggio/escrowfund/internal/domain/fault"
	"github.com/rpggio/escrowfund/internal/repository"
	"github.com/rpggio/escrowfund/internal/repository/mocks"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var subject = evidence.Subject{ProjectID: "p1", MilestoneID: "m1", Title: "Prototype"}

func payload(t *testing.T, kind evidence.Kind, v any) evidence.Evidence {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return evidence.Evidence{Kind: kind, Data: raw}
}

func TestRegistry_Dispatch(t *testing.T) {
	reg := evidence.NewRegistry()
	reg.Register(evidence.KindRepositoryLink, evidence.NewRepositoryLink(nil))

	ok, err := reg.Verify(context.Background(), subject,
		payload(t, evidence.KindRepositoryLink, evidence.RepositoryLinkPayload{URL: "https://github.com/acme/solar"}))
	require.NoError(t, err)
	require.True(t, ok)

	_, err = reg.Verify(context.Background(), subject, evidence.Evidence{Kind: "telepathy"})
	require.ErrorIs(t, err, evidence.ErrUnknownKind)
	require.ErrorIs(t, err, fault.ErrValidation)

	require.Equal(t, []evidence.Kind{evidence.KindRepositoryLink}, reg.Kinds())
}

func TestRegistry_HonoursCancellation(t *testing.T) {
	reg := evidence.NewRegistry()
	called := false
	reg.Register("slow", evidence.VerifierFunc(func(context.Context, evidence.Subject, evidence.Evidence) (bool, error) {
		called = true
		return true, nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := reg.Verify(ctx, subject, evidence.Evidence{Kind: "slow"})
	require.ErrorIs(t, err, context.Canceled)
	require.False(t, called)
}

func TestRepositoryLink(t *testing.T) {
	v := evidence.NewRepositoryLink(nil)
	ctx := context.Background()

	tests := []struct {
		url  string
		want bool
	}{
		{"https://github.com/acme/solar", true},
		{"https://gitlab.com/acme/solar/-/tree/main", true},
		{"http://github.com/acme/solar", false},
		{"https://evil.example/acme/solar", false},
		{"https://github.com/acme", false},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			ok, err := v.Verify(ctx, subject, payload(t, evidence.KindRepositoryLink, evidence.RepositoryLinkPayload{URL: tt.url}))
			require.NoError(t, err)
			require.Equal(t, tt.want, ok)
		})
	}

	_, err := v.Verify(ctx, subject, evidence.Evidence{Kind: evidence.KindRepositoryLink})
	require.ErrorIs(t, err, evidence.ErrMalformed)
}

func TestRepositoryLink_Reachability(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodHead {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if r.URL.Path == "/acme/missing" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	host, err := url.Parse(srv.URL)
	require.NoError(t, err)
	v := evidence.NewRepositoryLink([]string{host.Hostname()}, evidence.WithReachability(srv.Client()))

	ok, err := v.Verify(context.Background(), subject,
		payload(t, evidence.KindRepositoryLink, evidence.RepositoryLinkPayload{URL: srv.URL + "/acme/solar"}))
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = v.Verify(context.Background(), subject,
		payload(t, evidence.KindRepositoryLink, evidence.RepositoryLinkPayload{URL: srv.URL + "/acme/missing"}))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestAttestation(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	v := evidence.NewAttestation(map[string]ed25519.PublicKey{"auditor": pub})
	ctx := context.Background()

	sig := ed25519.Sign(priv, []byte(subject.Statement()))
	ok, err := v.Verify(ctx, subject, payload(t, evidence.KindExternalAttestation,
		evidence.AttestationPayload{Attestor: "auditor", Signature: hex.EncodeToString(sig)}))
	require.NoError(t, err)
	require.True(t, ok)

	other := evidence.Subject{ProjectID: "p1", MilestoneID: "m2"}
	ok, err = v.Verify(ctx, other, payload(t, evidence.KindExternalAttestation,
		evidence.AttestationPayload{Attestor: "auditor", Signature: hex.EncodeToString(sig)}))
	require.NoError(t, err)
	require.False(t, ok, "signature over another milestone must not verify")

	ok, err = v.Verify(ctx, subject, payload(t, evidence.KindExternalAttestation,
		evidence.AttestationPayload{Attestor: "stranger", Signature: hex.EncodeToString(sig)}))
	require.NoError(t, err)
	require.False(t, ok)

	_, err = v.Verify(ctx, subject, payload(t, evidence.KindExternalAttestation,
		evidence.AttestationPayload{Attestor: "auditor", Signature: "zz"}))
	require.ErrorIs(t, err, evidence.ErrMalformed)
}

func TestParseAttestors(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	keys, err := evidence.ParseAttestors([]string{"auditor=" + hex.EncodeToString(pub)})
	require.NoError(t, err)
	require.Equal(t, ed25519.PublicKey(pub), keys["auditor"])

	_, err = evidence.ParseAttestors([]string{"auditor"})
	require.Error(t, err)
	_, err = evidence.ParseAttestors([]string{"auditor=abcd"})
	require.Error(t, err)
}

func TestManualApproval(t *testing.T) {
	ctx := context.Background()
	repo := &mocks.ApprovalRepository{}
	milestones := &mocks.MilestoneLookup{}
	milestones.On("MilestoneExists", ctx, "m1").Return(true, nil)
	v := evidence.NewManualApproval(repo, milestones, 2)

	repo.On("Add", ctx, mock.MatchedBy(func(a *evidence.Approval) bool {
		return a.MilestoneID == "m1" && a.Approver == "ops"
	})).Return(nil).Once()
	repo.On("Add", ctx, mock.Anything).Return(repository.ErrConflict).Once()

	_, err := v.Approve(ctx, "m1", "ops", "looks done")
	require.NoError(t, err)
	_, err = v.Approve(ctx, "m1", "ops", "again")
	require.ErrorIs(t, err, evidence.ErrAlreadyApproved)
	_, err = v.Approve(ctx, "m1", "", "")
	require.ErrorIs(t, err, evidence.ErrMalformed)

	repo.On("List", ctx, "m1").Return([]evidence.Approval{{MilestoneID: "m1", Approver: "ops"}}, nil).Once()
	ok, err := v.Verify(ctx, subject, evidence.Evidence{Kind: evidence.KindManualApproval})
	require.NoError(t, err)
	require.False(t, ok)

	repo.On("List", ctx, "m1").Return([]evidence.Approval{{Approver: "ops"}, {Approver: "cfo"}}, nil).Once()
	ok, err = v.Verify(ctx, subject, evidence.Evidence{Kind: evidence.KindManualApproval})
	require.NoError(t, err)
	require.True(t, ok)
	repo.AssertExpectations(t)
}

func TestManualApproval_UnknownMilestone(t *testing.T) {
	ctx := context.Background()
	repo := &mocks.ApprovalRepository{}
	milestones := &mocks.MilestoneLookup{}
	milestones.On("MilestoneExists", ctx, "ghost").Return(false, nil).Once()
	milestones.On("MilestoneExists", ctx, "m1").Return(false, errors.New("database is locked")).Once()
	v := evidence.NewManualApproval(repo, milestones, 1)

	_, err := v.Approve(ctx, "ghost", "ops", "")
	require.ErrorIs(t, err, evidence.ErrUnknownMilestone)
	require.ErrorIs(t, err, fault.ErrNotFound)

	_, err = v.Approve(ctx, "m1", "ops", "")
	require.Error(t, err)
	require.NotErrorIs(t, err, evidence.ErrUnknownMilestone)

	repo.AssertNotCalled(t, "Add", mock.Anything, mock.Anything)
	milestones.AssertExpectations(t)
}
