package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateTransition(t *testing.T) {
	tests := []struct {
		name  string
		from  Status
		to    Status
		actor Actor
		want  error
	}{
		{"reconciler pays pending", StatusPending, StatusPaid, ActorReconciler, nil},
		{"reconciler cancels pending", StatusPending, StatusCancelled, ActorReconciler, nil},
		{"reconciler cannot ship", StatusProcessing, StatusShipped, ActorReconciler, ErrTransitionNotAllowed},
		{"reconciler cannot cancel paid", StatusPaid, StatusCancelled, ActorReconciler, ErrTransitionNotAllowed},
		{"admin cannot mark paid", StatusPending, StatusPaid, ActorAdmin, ErrTransitionNotAllowed},
		{"admin cancels pending", StatusPending, StatusCancelled, ActorAdmin, nil},
		{"admin processes paid", StatusPaid, StatusProcessing, ActorAdmin, nil},
		{"admin ships", StatusProcessing, StatusShipped, ActorAdmin, nil},
		{"admin delivers", StatusShipped, StatusDelivered, ActorAdmin, nil},
		{"admin cancels shipped", StatusShipped, StatusCancelled, ActorAdmin, nil},
		{"no skipping", StatusPaid, StatusShipped, ActorAdmin, ErrInvalidTransition},
		{"no going back", StatusShipped, StatusPaid, ActorAdmin, ErrInvalidTransition},
		{"no self loop", StatusPaid, StatusPaid, ActorAdmin, ErrInvalidTransition},
		{"delivered is terminal", StatusDelivered, StatusCancelled, ActorAdmin, ErrInvalidTransition},
		{"cancelled is terminal", StatusCancelled, StatusPending, ActorAdmin, ErrInvalidTransition},
		{"unknown status", Status("lost"), StatusPaid, ActorAdmin, ErrInvalidStatus},
		{"system expires pending", StatusPending, StatusCancelled, ActorSystem, nil},
		{"system cannot pay", StatusPending, StatusPaid, ActorSystem, ErrTransitionNotAllowed},
		{"system cannot cancel paid", StatusPaid, StatusCancelled, ActorSystem, ErrTransitionNotAllowed},
		{"unknown actor", StatusPaid, StatusProcessing, Actor("robot"), ErrTransitionNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTransition(tt.from, tt.to, tt.actor)
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

type edge struct {
	from, to Status
}

func TestValidateTransitionEveryPair(t *testing.T) {
	allowed := map[Actor]map[edge]bool{
		ActorReconciler: {
			{StatusPending, StatusPaid}:      true,
			{StatusPending, StatusCancelled}: true,
		},
		ActorSystem: {
			{StatusPending, StatusCancelled}: true,
		},
		ActorAdmin: {
			{StatusPending, StatusCancelled}:    true,
			{StatusPaid, StatusProcessing}:      true,
			{StatusPaid, StatusCancelled}:       true,
			{StatusProcessing, StatusShipped}:   true,
			{StatusProcessing, StatusCancelled}: true,
			{StatusShipped, StatusDelivered}:    true,
			{StatusShipped, StatusCancelled}:    true,
		},
	}
	lifecycle := map[edge]bool{}
	for _, edges := range allowed {
		for e := range edges {
			lifecycle[e] = true
		}
	}

	for _, actor := range []Actor{ActorReconciler, ActorAdmin, ActorSystem} {
		for _, from := range AllStatuses {
			for _, to := range AllStatuses {
				e := edge{from, to}
				err := ValidateTransition(from, to, actor)
				switch {
				case allowed[actor][e]:
					assert.NoError(t, err, "%s: %s -> %s", actor, from, to)
				case lifecycle[e]:
					assert.ErrorIs(t, err, ErrTransitionNotAllowed, "%s: %s -> %s", actor, from, to)
				default:
					assert.ErrorIs(t, err, ErrInvalidTransition, "%s: %s -> %s", actor, from, to)
				}
				assert.Equal(t, lifecycle[e], CanTransition(from, to), "%s -> %s", from, to)
			}
		}
	}
}

func TestTerminalStatusesHaveNoEdges(t *testing.T) {
	for _, from := range AllStatuses {
		for _, to := range AllStatuses {
			if from.Terminal() {
				assert.False(t, CanTransition(from, to), "%s -> %s", from, to)
			}
		}
	}
}

func TestTransitionCommittedRunsOnce(t *testing.T) {
	calls := 0
	tr := NewTransition(Order{}, StatusPending, func() { calls++ }, nil)

	tr.Committed()
	tr.Committed()
	assert.Equal(t, 1, calls)

	var missing *Transition
	missing.Committed()
}
