package domain

var transitions = map[Status][]Status{
	StatusPending:    {StatusPaid, StatusCancelled},
	StatusPaid:       {StatusProcessing, StatusCancelled},
	StatusProcessing: {StatusShipped, StatusCancelled},
	StatusShipped:    {StatusDelivered, StatusCancelled},
}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusPaid, StatusProcessing, StatusShipped, StatusDelivered, StatusCancelled:
		return true
	default:
		return false
	}
}

func (s Status) Terminal() bool {
	return s == StatusDelivered || s == StatusCancelled
}

// Revenue reports whether an order in this status counts as paid business.
func (s Status) Revenue() bool {
	switch s {
	case StatusPaid, StatusProcessing, StatusShipped, StatusDelivered:
		return true
	default:
		return false
	}
}

// CanTransition reports whether from -> to is an edge of the lifecycle.
// There are no self loops.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ValidateTransition checks both the lifecycle edge and the actor's rights.
func ValidateTransition(from, to Status, actor Actor) error {
	if !from.Valid() || !to.Valid() {
		return ErrInvalidStatus
	}
	if !CanTransition(from, to) {
		return ErrInvalidTransition
	}

	switch actor {
	case ActorReconciler:
		// the gateway only settles or voids unpaid orders
		if from == StatusPending {
			return nil
		}
	case ActorSystem:
		// unpaid orders may lapse; nothing else happens unattended
		if from == StatusPending && to == StatusCancelled {
			return nil
		}
	case ActorAdmin:
		// payment is confirmed by the gateway, never by staff
		if from != StatusPending || to == StatusCancelled {
			return nil
		}
	}
	return ErrTransitionNotAllowed
}
