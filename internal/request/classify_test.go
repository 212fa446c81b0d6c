package request

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sparetrack/sparetrack/internal/masterdata/locations"
)

func TestDeriveType(t *testing.T) {
	cases := []struct {
		name        string
		source      locations.Kind
		destination locations.Kind
		reason      Reason
		defective   bool
		want        RequestType
		wantErr     error
	}{
		{name: "msl fill up", source: locations.KindServiceCenter, destination: locations.KindBranch, reason: ReasonMSL, want: TypeCFU},
		{name: "msl fill up from branch side", source: locations.KindBranch, destination: locations.KindServiceCenter, reason: ReasonMSL, want: TypeCFU},
		{name: "bulk fill up", source: locations.KindServiceCenter, destination: locations.KindBranch, reason: ReasonBulk, want: TypeCFU},
		{name: "excess return", source: locations.KindServiceCenter, destination: locations.KindBranch, reason: ReasonExcess, want: TypeASCReturnExcess},
		{name: "branch pickup", source: locations.KindBranch, destination: locations.KindServiceCenter, reason: ReasonPickup, want: TypeBranchPickup},
		{name: "technician issue", source: locations.KindServiceCenter, destination: locations.KindTechnician, reason: ReasonReplacement, want: TypeTechIssue},
		{name: "technician defect return", source: locations.KindTechnician, destination: locations.KindServiceCenter, reason: ReasonDefect, want: TypeTechReturnDefective},
		{name: "asc defect return", source: locations.KindServiceCenter, destination: locations.KindBranch, reason: ReasonDefect, want: TypeASCReturnDefective},
		{name: "defect flag overrides msl", source: locations.KindServiceCenter, destination: locations.KindBranch, reason: ReasonMSL, defective: true, want: TypeASCReturnDefective},
		{name: "defect flag overrides replacement", source: locations.KindTechnician, destination: locations.KindServiceCenter, reason: ReasonReplacement, defective: true, want: TypeTechReturnDefective},
		{name: "defect between unsupported pair", source: locations.KindTechnician, destination: locations.KindBranch, reason: ReasonDefect, wantErr: ErrUnclassifiable},
		{name: "branch to branch", source: locations.KindBranch, destination: locations.KindBranch, reason: ReasonMSL, wantErr: ErrUnclassifiable},
		{name: "pickup wrong direction", source: locations.KindServiceCenter, destination: locations.KindBranch, reason: ReasonPickup, wantErr: ErrUnclassifiable},
		{name: "unknown reason", source: locations.KindServiceCenter, destination: locations.KindBranch, reason: Reason("WHY_NOT"), wantErr: ErrValidation},
		{name: "unknown kind", source: locations.Kind("WAREHOUSE"), destination: locations.KindBranch, reason: ReasonMSL, wantErr: ErrValidation},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := DeriveType(tc.source, tc.destination, tc.reason, tc.defective)
			if tc.wantErr != nil {
				require.ErrorIs(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestFlowNormalisesFillUpDirection(t *testing.T) {
	sc := locations.Ref{Kind: locations.KindServiceCenter, ID: 1}
	branch := locations.Ref{Kind: locations.KindBranch, ID: 2}

	entered := SpareRequest{Type: TypeCFU, Source: sc, Destination: branch}
	from, to := entered.Flow()
	assert.Equal(t, branch, from)
	assert.Equal(t, sc, to)

	mirrored := SpareRequest{Type: TypeCFU, Source: branch, Destination: sc}
	from, to = mirrored.Flow()
	assert.Equal(t, branch, from)
	assert.Equal(t, sc, to)

	pickup := SpareRequest{Type: TypeBranchPickup, Source: branch, Destination: sc}
	from, to = pickup.Flow()
	assert.Equal(t, branch, from)
	assert.Equal(t, sc, to)
}

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(StatusDraft, StatusPending))
	assert.True(t, CanTransition(StatusPending, StatusApproved))
	assert.True(t, CanTransition(StatusApproved, StatusDispatched))
	assert.True(t, CanTransition(StatusDispatched, StatusReceived))
	assert.True(t, CanTransition(StatusReceived, StatusReopened))
	assert.True(t, CanTransition(StatusPending, StatusRejected))
	assert.True(t, CanTransition(StatusDraft, StatusCancelled))
	assert.True(t, CanTransition(StatusPending, StatusCancelled))

	assert.False(t, CanTransition(StatusReceived, StatusDispatched))
	assert.False(t, CanTransition(StatusRejected, StatusPending))
	assert.False(t, CanTransition(StatusCancelled, StatusPending))
	assert.False(t, CanTransition(StatusReopened, StatusApproved))
	assert.False(t, CanTransition(StatusApproved, StatusCancelled))
}
