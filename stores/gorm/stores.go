package gorm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	oi "github.com/panyam/oneid"
)

// AutoMigrate runs database migrations for all oneid tables
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&IdentityModel{}, &ProviderLinkModel{})
}

// CredentialStore implements oi.CredentialStore using GORM
type CredentialStore struct {
	db  *gorm.DB
	Now func() time.Time
}

func NewCredentialStore(db *gorm.DB) *CredentialStore {
	return &CredentialStore{db: db, Now: time.Now}
}

func orderedLinks(db *gorm.DB) *gorm.DB {
	return db.Order("id")
}

// stateCondition renders a set of states as a condition over the flag columns
func stateCondition(states []oi.AccountState) (string, []any) {
	var parts []string
	var args []any
	for _, s := range states {
		switch s {
		case oi.StateShadow:
			parts = append(parts, "is_shadow = ?")
			args = append(args, true)
		case oi.StateSuspended:
			parts = append(parts, "is_shadow = ? AND is_active = ?")
			args = append(args, false, false)
		case oi.StatePending:
			parts = append(parts, "is_shadow = ? AND is_active = ? AND is_verified = ?")
			args = append(args, false, true, false)
		case oi.StateActive:
			parts = append(parts, "is_shadow = ? AND is_active = ? AND is_verified = ?")
			args = append(args, false, true, true)
		}
	}
	return "(" + strings.Join(parts, ") OR (") + ")", args
}

func applyFilter(db *gorm.DB, f oi.Filter) *gorm.DB {
	if f.ID != "" {
		db = db.Where("id = ?", f.ID)
	}
	if f.Email != "" {
		db = db.Where("email = ?", f.Email)
	}
	if f.Provider != "" {
		linked := db.Session(&gorm.Session{NewDB: true}).Model(&ProviderLinkModel{}).
			Select("identity_id").
			Where("provider = ? AND provider_user_id = ?", f.Provider, f.ProviderUserID)
		db = db.Where("id IN (?)", linked)
	}
	if len(f.States) > 0 {
		cond, args := stateCondition(f.States)
		db = db.Where(cond, args...)
	}
	return db
}

func (s *CredentialStore) patchUpdates(p oi.Patch) map[string]any {
	updates := map[string]any{"updated_at": s.Now()}
	if p.State != nil {
		active, verified, shadow := p.State.Flags()
		updates["is_active"] = active
		updates["is_verified"] = verified
		updates["is_shadow"] = shadow
	}
	if p.MarkVerified {
		updates["is_verified"] = true
	}
	if p.PasswordHash != nil {
		updates["password"] = *p.PasswordHash
	}
	if p.FullName != nil {
		updates["full_name"] = *p.FullName
	}
	if p.Avatar != nil {
		updates["avatar"] = *p.Avatar
	}
	return updates
}

func (s *CredentialStore) findOne(db *gorm.DB, filter oi.Filter) (*oi.Identity, error) {
	var model IdentityModel
	err := applyFilter(db.Preload("Links", orderedLinks), filter).First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, oi.ErrIdentityNotFound
	} else if err != nil {
		return nil, err
	}
	return model.ToIdentity(), nil
}

func (s *CredentialStore) FindByID(ctx context.Context, id string) (*oi.Identity, error) {
	return s.findOne(s.db.WithContext(ctx), oi.Filter{ID: id})
}

func (s *CredentialStore) FindByEmail(ctx context.Context, email string) (*oi.Identity, error) {
	return s.findOne(s.db.WithContext(ctx), oi.Filter{Email: oi.NormalizeEmail(email)})
}

func (s *CredentialStore) FindByProvider(ctx context.Context, provider, providerUserID string) (*oi.Identity, error) {
	return s.findOne(s.db.WithContext(ctx), oi.Filter{Provider: provider, ProviderUserID: providerUserID})
}

func isDuplicate(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique") || strings.Contains(msg, "duplicate")
}

func (s *CredentialStore) Insert(ctx context.Context, identity *oi.Identity) (*oi.Identity, error) {
	model := IdentityToModel(identity)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&IdentityModel{}).Where("email = ?", model.Email).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return fmt.Errorf("%s: %w", model.Email, oi.ErrDuplicateIdentity)
		}
		if err := tx.Omit(clause.Associations).Create(model).Error; err != nil {
			return err
		}
		for i := range model.Links {
			if err := s.addLink(tx, model.ID, &model.Links[i]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if !errors.Is(err, oi.ErrDuplicateIdentity) && isDuplicate(err) {
			return nil, fmt.Errorf("%s: %w", identity.Email, oi.ErrDuplicateIdentity)
		}
		return nil, err
	}
	return model.ToIdentity(), nil
}

// addLink inserts link unless the identity already holds it
func (s *CredentialStore) addLink(tx *gorm.DB, identityID string, link *ProviderLinkModel) error {
	var existing ProviderLinkModel
	err := tx.Where("provider = ? AND provider_user_id = ?", link.Provider, link.ProviderUserID).First(&existing).Error
	if err == nil {
		if existing.IdentityID == identityID {
			return nil
		}
		return fmt.Errorf("%s: %w", oi.LinkKey(link.Provider, link.ProviderUserID), oi.ErrDuplicateIdentity)
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}
	link.IdentityID = identityID
	return tx.Create(link).Error
}

func (s *CredentialStore) FindOneAndUpdate(ctx context.Context, filter oi.Filter, patch oi.Patch) (*oi.Identity, error) {
	var out *oi.Identity
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var target IdentityModel
		err := applyFilter(tx.Model(&IdentityModel{}).Select("id"), filter).First(&target).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return oi.ErrIdentityNotFound
		} else if err != nil {
			return err
		}

		// the filter is repeated so the write only lands if the row still matches
		res := applyFilter(tx.Model(&IdentityModel{}).Where("id = ?", target.ID), filter).Updates(s.patchUpdates(patch))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return oi.ErrIdentityNotFound
		}
		if patch.AddLink != nil {
			link := &ProviderLinkModel{Provider: patch.AddLink.Provider, ProviderUserID: patch.AddLink.ProviderUserID}
			if err := s.addLink(tx, target.ID, link); err != nil {
				return err
			}
		}
		out, err = s.findOne(tx, oi.Filter{ID: target.ID})
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *CredentialStore) UpdateMany(ctx context.Context, filter oi.Filter, patch oi.Patch) (oi.UpdateResult, error) {
	if patch.AddLink != nil {
		return oi.UpdateResult{}, errors.New("UpdateMany cannot add provider links")
	}
	res := applyFilter(s.db.WithContext(ctx).Model(&IdentityModel{}), filter).Updates(s.patchUpdates(patch))
	if res.Error != nil {
		return oi.UpdateResult{}, res.Error
	}
	return oi.UpdateResult{Matched: res.RowsAffected, Modified: res.RowsAffected}, nil
}
