package signal

import "arbiter/internal/domain"

// Deps are the external ports evaluators consume.
type Deps struct {
	Identity IdentityProvider
	Screener Screener
	Oracle   OwnershipOracle
	Velocity VelocityStore
	History  HistoryReader
}

// NewSet wires the evaluators run for each kind of check.
func NewSet(d Deps) Set {
	velocity := NewVelocity(d.Velocity)
	counterparty := NewCounterparty(d.History)
	sanctions := NewSanctions(d.Screener)
	ownership := NewOwnership(d.Oracle)
	kyc := NewKYC(d.Identity)

	return Set{
		domain.EventTransfer:         {velocity, counterparty, sanctions, ownership, kyc},
		domain.EventGovernanceChange: {NewGovernance(), sanctions, kyc},
		domain.EventTrade:            {velocity, counterparty, sanctions, NewInsiderTrading()},
		domain.EventStructure:        {NewStructure(d.Oracle), sanctions, ownership},
	}
}
