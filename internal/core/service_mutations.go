package core

// service_mutations.go holds the write path for positions and values.
//
// A single value write is atomic: it either lands entirely or the store
// rejects it (ErrOverlappingValidity, schema failure) with nothing applied.
// Every successful write invalidates the dictionary's read-cache entries
// before success is returned, so a caller never reads its own write stale.

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CreatePosition adds an empty position to a dictionary and returns its id.
// Allowed for administrators and owners.
func (s *Service) CreatePosition(ctx context.Context, id Identity, dictionaryID uuid.UUID) (uuid.UUID, error) {
	if _, err := s.store.GetDictionary(ctx, dictionaryID); err != nil {
		return uuid.Nil, err
	}
	owners, err := s.store.ListOwners(ctx, dictionaryID)
	if err != nil {
		return uuid.Nil, err
	}
	if !CanEditDictionary(id, owners) {
		return uuid.Nil, ErrForbidden
	}

	p := Position{ID: uuid.New(), DictionaryID: dictionaryID}
	if err := s.store.CreatePosition(ctx, &p); err != nil {
		return uuid.Nil, err
	}
	s.cache.Invalidate(dictionaryID)

	s.logAudit(ctx, id, AuditEntry{
		Action:       ActionPositionCreate,
		DictionaryID: dictionaryID,
		PositionID:   p.ID,
	})
	return p.ID, nil
}

// SetValue writes a value for (position, attribute) with the given validity
// window. The write is strict: if the window intersects any existing value
// of the pair it fails ErrOverlappingValidity and nothing is applied. Use
// UpdateValue to supersede the currently effective value.
func (s *Service) SetValue(ctx context.Context, id Identity, positionID uuid.UUID, attr, raw string, validFrom, validTo time.Time) error {
	return s.writeValue(ctx, id, positionID, attr, raw, validFrom, validTo, false)
}

// UpdateValue is the update algorithm: the value effective at validFrom is
// closed (finish set to validFrom minus one day) and the new value is
// inserted. History before validFrom stays retrievable for earlier as-of
// dates. Still fails ErrOverlappingValidity if the new window intersects any
// other value of the pair.
func (s *Service) UpdateValue(ctx context.Context, id Identity, positionID uuid.UUID, attr, raw string, validFrom, validTo time.Time) error {
	return s.writeValue(ctx, id, positionID, attr, raw, validFrom, validTo, true)
}

func (s *Service) writeValue(ctx context.Context, id Identity, positionID uuid.UUID, attr, raw string, validFrom, validTo time.Time, replace bool) error {
	pos, err := s.store.GetPosition(ctx, positionID)
	if err != nil {
		return err
	}
	owners, err := s.store.ListOwners(ctx, pos.DictionaryID)
	if err != nil {
		return err
	}
	if !CanEditDictionary(id, owners) {
		return ErrForbidden
	}

	validFrom = DateOnly(validFrom)
	if validTo.IsZero() {
		validTo = OpenEnd
	}
	validTo = DateOnly(validTo)
	if validFrom.After(validTo) {
		return fmt.Errorf("valid-from %s is after valid-to %s",
			validFrom.Format(DateEncoding), validTo.Format(DateEncoding))
	}

	def, err := s.schemas.Attribute(ctx, pos.DictionaryID, attr)
	if err != nil {
		return err
	}
	// The attribute itself must be usable at the window start; writing under
	// a retired attribute is an error, not a silent drop.
	if validFrom.Before(def.StartDate) {
		return &SchemaError{
			Violation: AttributeNotYetValid,
			Attr:      def.AltName,
			Message:   fmt.Sprintf("attribute is not valid before %s", def.StartDate.Format(DateEncoding)),
		}
	}
	if validFrom.After(def.FinishDate) {
		return &SchemaError{
			Violation: AttributeExpired,
			Attr:      def.AltName,
			Message:   fmt.Sprintf("attribute expired on %s", def.FinishDate.Format(DateEncoding)),
		}
	}

	encoded, err := EncodeValue(def, raw)
	if err != nil {
		return err
	}

	var oldValue string
	if replace {
		if current, ok, err := s.effectiveValue(ctx, positionID, def.ID, validFrom); err != nil {
			return err
		} else if ok {
			oldValue = current.Value
		}
	}

	v := AttributeValue{
		ID:          uuid.New(),
		PositionID:  positionID,
		AttributeID: def.ID,
		Value:       encoded,
		StartDate:   validFrom,
		FinishDate:  validTo,
	}
	if replace {
		err = s.store.ReplaceValue(ctx, &v)
	} else {
		err = s.store.InsertValue(ctx, &v)
	}
	if err != nil {
		return err
	}
	s.cache.Invalidate(pos.DictionaryID)

	s.logAudit(ctx, id, AuditEntry{
		Action:       ActionValueSet,
		DictionaryID: pos.DictionaryID,
		PositionID:   positionID,
		Attribute:    def.AltName,
		OldValue:     oldValue,
		NewValue:     encoded,
	})
	return nil
}

// DeletePosition removes a position and cascades to its values.
func (s *Service) DeletePosition(ctx context.Context, id Identity, positionID uuid.UUID) error {
	pos, err := s.store.GetPosition(ctx, positionID)
	if err != nil {
		return err
	}
	owners, err := s.store.ListOwners(ctx, pos.DictionaryID)
	if err != nil {
		return err
	}
	if !CanEditDictionary(id, owners) {
		return ErrForbidden
	}

	if err := s.store.DeletePosition(ctx, positionID); err != nil {
		return err
	}
	s.cache.Invalidate(pos.DictionaryID)

	s.logAudit(ctx, id, AuditEntry{
		Action:       ActionPositionDelete,
		DictionaryID: pos.DictionaryID,
		PositionID:   positionID,
	})
	return nil
}

// effectiveValue returns the value of the pair whose window contains asOf.
func (s *Service) effectiveValue(ctx context.Context, positionID, attributeID uuid.UUID, asOf time.Time) (AttributeValue, bool, error) {
	values, err := s.store.ListValues(ctx, positionID, attributeID)
	if err != nil {
		return AttributeValue{}, false, err
	}
	for _, v := range values {
		if windowContains(v.StartDate, v.FinishDate, asOf) {
			return v, true, nil
		}
	}
	return AttributeValue{}, false, nil
}
