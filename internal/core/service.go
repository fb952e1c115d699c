package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Service wires the store, schema registry, read cache, access policy and
// import engine into the operations the transport layer calls. Methods that
// mutate take the caller's Identity and authorize before touching the store;
// reads are open to everyone except the audit log.
type Service struct {
	store   Store
	schemas *SchemaRegistry
	cache   *ReadCache
	limiter *ImportLimiter

	maxImportSize int64
}

// Options tunes a Service. Zero values fall back to defaults.
type Options struct {
	CacheTTL             time.Duration
	CacheMaxEntries      int
	MaxConcurrentImports int
	ImportMaxWait        time.Duration
	MaxImportSize        int64 // bytes
}

// NewService creates a Service over the given store.
func NewService(store Store, opts Options) *Service {
	maxSize := opts.MaxImportSize
	if maxSize <= 0 {
		maxSize = DefaultMaxImportSize
	}
	return &Service{
		store:         store,
		schemas:       NewSchemaRegistry(store),
		cache:         NewReadCache(opts.CacheTTL, opts.CacheMaxEntries),
		limiter:       NewImportLimiter(opts.MaxConcurrentImports, opts.ImportMaxWait),
		maxImportSize: maxSize,
	}
}

// CreateDictionary creates a dictionary and returns its id. Restricted to
// the System Administrator role.
func (s *Service) CreateDictionary(ctx context.Context, id Identity, d Dictionary) (uuid.UUID, error) {
	if !CanCreateDictionary(id) {
		return uuid.Nil, ErrForbidden
	}

	d.Code = strings.TrimSpace(d.Code)
	if d.Code == "" || strings.TrimSpace(d.Name) == "" {
		return uuid.Nil, fmt.Errorf("dictionary code and name are required")
	}
	if d.StartDate.IsZero() {
		d.StartDate = DateOnly(time.Now())
	}
	if d.FinishDate.IsZero() {
		d.FinishDate = OpenEnd
	}
	d.StartDate = DateOnly(d.StartDate)
	d.FinishDate = DateOnly(d.FinishDate)
	// Windows are inclusive, so start == finish is a valid one-day window.
	if d.StartDate.After(d.FinishDate) {
		return uuid.Nil, fmt.Errorf("start date must not be after finish date")
	}
	if d.MatchKey == "" {
		d.MatchKey = "CODE"
	}
	d.MatchKey = strings.ToUpper(d.MatchKey)

	if _, err := s.store.GetDictionaryByCode(ctx, d.Code); err == nil {
		return uuid.Nil, fmt.Errorf("%w: %s", ErrDuplicateCode, d.Code)
	} else if !errors.Is(err, ErrNotFound) {
		return uuid.Nil, err
	}

	d.ID = uuid.New()
	d.Status = statusFor(d.StartDate, d.FinishDate)

	if err := s.store.CreateDictionary(ctx, &d); err != nil {
		return uuid.Nil, err
	}

	s.logAudit(ctx, id, AuditEntry{
		Action:       ActionDictionaryCreate,
		DictionaryID: d.ID,
		NewValue:     d.Code,
	})
	return d.ID, nil
}

// EditDictionary applies a partial update. Allowed for administrators and
// owners of the dictionary.
func (s *Service) EditDictionary(ctx context.Context, id Identity, dictionaryID uuid.UUID, patch DictionaryPatch) error {
	d, err := s.store.GetDictionary(ctx, dictionaryID)
	if err != nil {
		return err
	}

	owners, err := s.store.ListOwners(ctx, dictionaryID)
	if err != nil {
		return err
	}
	if !CanEditDictionary(id, owners) {
		return ErrForbidden
	}

	if patch.Name != nil {
		d.Name = *patch.Name
	}
	if patch.Description != nil {
		d.Description = *patch.Description
	}
	if patch.NameEng != nil {
		d.NameEng = *patch.NameEng
	}
	if patch.DescriptionEng != nil {
		d.DescriptionEng = *patch.DescriptionEng
	}
	if patch.Organization != nil {
		d.Organization = *patch.Organization
	}
	if patch.Classifier != nil {
		d.Classifier = *patch.Classifier
	}
	if patch.StartDate != nil {
		d.StartDate = DateOnly(*patch.StartDate)
	}
	if patch.FinishDate != nil {
		d.FinishDate = DateOnly(*patch.FinishDate)
	}
	if patch.MatchKey != nil {
		d.MatchKey = strings.ToUpper(*patch.MatchKey)
	}
	if d.StartDate.After(d.FinishDate) {
		return fmt.Errorf("start date must not be after finish date")
	}

	// Status tracks the validity window unless the patch pins it.
	if patch.Status != nil {
		d.Status = *patch.Status
	} else {
		d.Status = statusFor(d.StartDate, d.FinishDate)
	}

	if err := s.store.UpdateDictionary(ctx, d); err != nil {
		return err
	}
	s.cache.Invalidate(dictionaryID)

	s.logAudit(ctx, id, AuditEntry{
		Action:       ActionDictionaryEdit,
		DictionaryID: dictionaryID,
	})
	return nil
}

// RetireDictionary soft-retires a dictionary by closing its validity window
// at the given date. Positions stay readable for historical as-of queries.
func (s *Service) RetireDictionary(ctx context.Context, id Identity, dictionaryID uuid.UUID, finish time.Time) error {
	finish = DateOnly(finish)
	status := StatusRetired
	return s.EditDictionary(ctx, id, dictionaryID, DictionaryPatch{
		FinishDate: &finish,
		Status:     &status,
	})
}

// GetDictionary returns a dictionary by id.
func (s *Service) GetDictionary(ctx context.Context, dictionaryID uuid.UUID) (*Dictionary, error) {
	return s.store.GetDictionary(ctx, dictionaryID)
}

// FindDictionaryByCode returns a dictionary by its unique code.
func (s *Service) FindDictionaryByCode(ctx context.Context, code string) (*Dictionary, error) {
	return s.store.GetDictionaryByCode(ctx, strings.TrimSpace(code))
}

// ListDictionaries returns all dictionaries.
func (s *Service) ListDictionaries(ctx context.Context) ([]Dictionary, error) {
	return s.store.ListDictionaries(ctx)
}

// AssignOwner grants a user write access to a dictionary. Idempotent per
// (dictionary, user) pair. Restricted to the System Administrator role.
func (s *Service) AssignOwner(ctx context.Context, id Identity, dictionaryID uuid.UUID, userID string) error {
	if !CanAssignOwner(id) {
		return ErrForbidden
	}
	if _, err := s.store.GetDictionary(ctx, dictionaryID); err != nil {
		return err
	}
	if err := s.store.AddOwner(ctx, Owner{DictionaryID: dictionaryID, UserID: userID}); err != nil {
		return err
	}

	s.logAudit(ctx, id, AuditEntry{
		Action:       ActionOwnerAssign,
		DictionaryID: dictionaryID,
		NewValue:     userID,
	})
	return nil
}

// Owners returns the ownership snapshot for a dictionary.
func (s *Service) Owners(ctx context.Context, dictionaryID uuid.UUID) ([]Owner, error) {
	return s.store.ListOwners(ctx, dictionaryID)
}

// CreateAttribute adds an attribute definition to a dictionary's schema.
// Schema changes do not retroactively invalidate stored values; they change
// validation for future writes only.
func (s *Service) CreateAttribute(ctx context.Context, id Identity, a AttributeDefinition) (uuid.UUID, error) {
	d, err := s.store.GetDictionary(ctx, a.DictionaryID)
	if err != nil {
		return uuid.Nil, err
	}
	owners, err := s.store.ListOwners(ctx, a.DictionaryID)
	if err != nil {
		return uuid.Nil, err
	}
	if !CanEditDictionary(id, owners) {
		return uuid.Nil, ErrForbidden
	}

	a.AltName = strings.ToUpper(strings.TrimSpace(a.AltName))
	if a.AltName == "" {
		return uuid.Nil, fmt.Errorf("attribute alt name is required")
	}
	if a.Name == "" {
		a.Name = a.AltName
	}
	if a.StartDate.IsZero() {
		a.StartDate = d.StartDate
	}
	if a.FinishDate.IsZero() {
		a.FinishDate = d.FinishDate
	}
	a.StartDate = DateOnly(a.StartDate)
	a.FinishDate = DateOnly(a.FinishDate)
	if a.StartDate.After(a.FinishDate) {
		return uuid.Nil, fmt.Errorf("start date must not be after finish date")
	}

	defs, err := s.schemas.Schema(ctx, a.DictionaryID)
	if err != nil {
		return uuid.Nil, err
	}
	for _, def := range defs {
		if strings.EqualFold(def.AltName, a.AltName) {
			return uuid.Nil, fmt.Errorf("attribute %s already defined", a.AltName)
		}
	}
	a.Ordinal = len(defs)
	a.ID = uuid.New()

	if err := s.store.CreateAttribute(ctx, &a); err != nil {
		return uuid.Nil, err
	}
	s.schemas.Invalidate(a.DictionaryID)
	s.cache.Invalidate(a.DictionaryID)

	s.logAudit(ctx, id, AuditEntry{
		Action:       ActionAttributeCreate,
		DictionaryID: a.DictionaryID,
		Attribute:    a.AltName,
	})
	return a.ID, nil
}

// Schema returns the dictionary's attribute definitions in definition order.
func (s *Service) Schema(ctx context.Context, dictionaryID uuid.UUID) ([]AttributeDefinition, error) {
	return s.schemas.Schema(ctx, dictionaryID)
}

// statusFor derives dictionary status from its validity window.
func statusFor(start, finish time.Time) DictionaryStatus {
	if windowContains(start, finish, DateOnly(time.Now())) {
		return StatusActive
	}
	return StatusRetired
}
