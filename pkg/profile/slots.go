package profile

import (
	"fmt"

	"reflow-oven-go/pkg/errs"
	"reflow-oven-go/pkg/settings"
)

// SlotStore persists serialized profiles in numbered slots.
type SlotStore interface {
	// Load returns the serialized profile in a slot, or NotFound.
	Load(slot int) (string, error)

	// Save writes a slot unconditionally; occupancy checks happen above.
	Save(slot int, name, blob string) error

	// Delete empties a slot. Deleting an empty slot succeeds.
	Delete(slot int) error

	// Exists reports slot occupancy.
	Exists(slot int) bool
}

// KVSlotStore keeps slots in the shared key-value settings store, one blob
// key and one name key per slot.
type KVSlotStore struct {
	store settings.Store
}

// NewKVSlotStore wraps a settings store.
func NewKVSlotStore(store settings.Store) *KVSlotStore {
	return &KVSlotStore{store: store}
}

func slotBlobKey(slot int) string { return fmt.Sprintf("slot%d_blob", slot) }
func slotNameKey(slot int) string { return fmt.Sprintf("slot%d_name", slot) }

func validSlot(slot int) error {
	if slot < 0 || slot >= MaxSlots {
		return errs.New(errs.KindInvalidArgument, "slot %d out of range [0,%d)", slot, MaxSlots)
	}
	return nil
}

// Load returns the serialized profile in a slot.
func (s *KVSlotStore) Load(slot int) (string, error) {
	if err := validSlot(slot); err != nil {
		return "", err
	}
	return s.store.GetString(slotBlobKey(slot))
}

// Save writes the blob and display name for a slot.
func (s *KVSlotStore) Save(slot int, name, blob string) error {
	if err := validSlot(slot); err != nil {
		return err
	}
	if err := s.store.SetString(slotBlobKey(slot), blob); err != nil {
		return err
	}
	return s.store.SetString(slotNameKey(slot), name)
}

// Delete empties a slot.
func (s *KVSlotStore) Delete(slot int) error {
	if err := validSlot(slot); err != nil {
		return err
	}
	if err := s.store.Delete(slotBlobKey(slot)); err != nil {
		return err
	}
	return s.store.Delete(slotNameKey(slot))
}

// Exists reports slot occupancy.
func (s *KVSlotStore) Exists(slot int) bool {
	if slot < 0 || slot >= MaxSlots {
		return false
	}
	return s.store.Has(slotBlobKey(slot))
}

var _ SlotStore = (*KVSlotStore)(nil)
