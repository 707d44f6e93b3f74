// Package saga models the durable state of mint and redeem conversions.
package saga

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/chainsafe/liquid-stake/pkg/asset"
)

var (
	// ErrNotFound is returned when a saga lookup finds no matching record.
	ErrNotFound = errors.New("saga not found")
	// ErrInvalidTransition is returned when a state change skips or reverses a step.
	ErrInvalidTransition = errors.New("invalid saga transition")
)

// Kind distinguishes mint sagas from redeem sagas.
type Kind string

const (
	KindMint   Kind = "mint"
	KindRedeem Kind = "redeem"
)

// State is a checkpoint of a saga.
type State string

const (
	StateDepositReceived State = "deposit_received"
	StateStaked          State = "staked"
	StateMinted          State = "minted"

	StateRedeemRequested State = "redeem_requested"
	StateRetired         State = "retired"
	StateUnstaked        State = "unstaked"
	StateWithdrawn       State = "withdrawn"

	StateFailed State = "failed"
)

var paths = map[Kind][]State{
	KindMint:   {StateDepositReceived, StateStaked, StateMinted},
	KindRedeem: {StateRedeemRequested, StateRetired, StateUnstaked, StateWithdrawn},
}

// namespace seeds deterministic saga IDs derived from trigger IDs.
var namespace = uuid.MustParse("6f1d7c2a-5a3b-4f7e-9a43-0c8e2b6d91f4")

// Saga is one conversion between the base asset and the wrapped asset.
type Saga struct {
	ID          uuid.UUID  `json:"id"`
	Kind        Kind       `json:"kind"`
	State       State      `json:"state"`
	Trigger     string     `json:"trigger"`
	Beneficiary asset.Name `json:"beneficiary"`
	// Quantity is the deposited base asset for mints and the wrapped asset to unwind for redeems.
	Quantity asset.Asset `json:"quantity"`
	// SnapshotBefore is the external stake balance observed before staking.
	SnapshotBefore int64        `json:"snapshot_before"`
	Minted         *asset.Asset `json:"minted,omitempty"`
	Payout         *asset.Asset `json:"payout,omitempty"`
	FailedAt       State        `json:"failed_at,omitempty"`
	Error          string       `json:"error,omitempty"`
	Attempts       int          `json:"attempts"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

// MintID derives the saga ID of the deposit identified by trigger.
func MintID(trigger string) uuid.UUID {
	return uuid.NewSHA1(namespace, []byte("mint:"+trigger))
}

// RedeemID derives the saga ID of the redeem request identified by trigger.
func RedeemID(trigger string) uuid.UUID {
	return uuid.NewSHA1(namespace, []byte("redeem:"+trigger))
}

// NewMint starts a mint saga for a deposit of quantity by beneficiary.
func NewMint(trigger string, beneficiary asset.Name, quantity asset.Asset, snapshotBefore int64, now time.Time) *Saga {
	return &Saga{
		ID:             MintID(trigger),
		Kind:           KindMint,
		State:          StateDepositReceived,
		Trigger:        trigger,
		Beneficiary:    beneficiary,
		Quantity:       quantity,
		SnapshotBefore: snapshotBefore,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// NewRedeem starts a redeem saga unwinding quantity for beneficiary.
func NewRedeem(trigger string, beneficiary asset.Name, quantity asset.Asset, now time.Time) *Saga {
	return &Saga{
		ID:          RedeemID(trigger),
		Kind:        KindRedeem,
		State:       StateRedeemRequested,
		Trigger:     trigger,
		Beneficiary: beneficiary,
		Quantity:    quantity,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Reached reports whether the saga has progressed to st or beyond.
func (s *Saga) Reached(st State) bool {
	if s.State == StateFailed {
		return false
	}
	cur, want := s.position(s.State), s.position(st)
	return cur >= 0 && want >= 0 && cur >= want
}

// Terminal reports whether the saga can no longer progress.
func (s *Saga) Terminal() bool {
	if s.State == StateFailed {
		return true
	}
	path := paths[s.Kind]
	return len(path) > 0 && s.State == path[len(path)-1]
}

// Advance moves the saga to next, which must directly follow the current state.
func (s *Saga) Advance(next State, now time.Time) error {
	cur := s.position(s.State)
	if cur < 0 || s.position(next) != cur+1 {
		return fmt.Errorf("%w: %s -> %s (%s)", ErrInvalidTransition, s.State, next, s.Kind)
	}
	s.State = next
	s.UpdatedAt = now
	return nil
}

// AdvanceTo moves the saga forward through every state up to target.
// It is a no-op when target was already reached.
func (s *Saga) AdvanceTo(target State, now time.Time) error {
	want := s.position(target)
	if want < 0 || s.State == StateFailed {
		return fmt.Errorf("%w: %s -> %s (%s)", ErrInvalidTransition, s.State, target, s.Kind)
	}
	path := paths[s.Kind]
	for cur := s.position(s.State); cur < want; cur++ {
		if err := s.Advance(path[cur+1], now); err != nil {
			return err
		}
	}
	return nil
}

// Fail marks the saga failed, remembering the last state it reached.
func (s *Saga) Fail(reason string, now time.Time) {
	if s.State != StateFailed {
		s.FailedAt = s.State
	}
	s.State = StateFailed
	s.Error = reason
	s.UpdatedAt = now
}

func (s *Saga) position(st State) int {
	for i, p := range paths[s.Kind] {
		if p == st {
			return i
		}
	}
	return -1
}

// PendingStates returns every non-terminal state.
func PendingStates() []State {
	return []State{
		StateDepositReceived,
		StateStaked,
		StateRedeemRequested,
		StateRetired,
		StateUnstaked,
	}
}

// Filter selects sagas in listings.
type Filter struct {
	Kind          Kind
	States        []State
	UpdatedBefore time.Time
	Limit         int
}

// Matches reports whether s passes the filter.
func (f Filter) Matches(s *Saga) bool {
	if f.Kind != "" && s.Kind != f.Kind {
		return false
	}
	if len(f.States) > 0 {
		found := false
		for _, st := range f.States {
			if s.State == st {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if !f.UpdatedBefore.IsZero() && !s.UpdatedAt.Before(f.UpdatedBefore) {
		return false
	}
	return true
}
