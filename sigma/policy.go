package sigma

// SlotAction is what signing does with the selected instance slot.
type SlotAction uint8

const (
	// SlotActionAppend appends a new instance behind the existing script.
	SlotActionAppend SlotAction = iota

	// SlotActionReplace overwrites the instance at the selected slot.
	SlotActionReplace
)

// String returns the name of the action.
func (a SlotAction) String() string {
	switch a {
	case SlotActionAppend:
		return "append"
	case SlotActionReplace:
		return "replace"
	default:
		return "unknown"
	}
}

// SlotPolicy decides whether signing the given instance of a script that
// already carries count instances replaces that instance or appends a new
// one.
type SlotPolicy func(instance uint32, count int) SlotAction

// OccupiedSlotPolicy replaces the selected instance whenever it exists.
// Re-signing a slot therefore swaps its content, and signing past the last
// instance appends.
func OccupiedSlotPolicy(instance uint32, count int) SlotAction {
	if int64(instance) < int64(count) {
		return SlotActionReplace
	}

	return SlotActionAppend
}

// LastSlotPolicy only replaces the last instance of the script, i.e. when
// instance+1 equals count. Signing any earlier slot appends. Comparing the
// slot index itself against count, as some signers do, would never replace
// an existing instance, so the last slot is used instead.
func LastSlotPolicy(instance uint32, count int) SlotAction {
	if int64(instance)+1 == int64(count) {
		return SlotActionReplace
	}

	return SlotActionAppend
}
