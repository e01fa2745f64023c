package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	oi "github.com/panyam/oneid"
)

// DefaultCollection holds identity documents
const DefaultCollection = "identities"

// CredentialStore implements oi.CredentialStore on a MongoDB collection
type CredentialStore struct {
	coll *mongo.Collection
	Now  func() time.Time
}

// NewCredentialStore creates a store on db's identities collection
func NewCredentialStore(db *mongo.Database) *CredentialStore {
	return &CredentialStore{coll: db.Collection(DefaultCollection), Now: time.Now}
}

// EnsureIndexes creates the unique email and provider link indexes
func (s *CredentialStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "email", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("uniq_email"),
		},
		{
			Keys: bson.D{{Key: "idps.provider", Value: 1}, {Key: "idps.userId", Value: 1}},
			// sparse so identities without links do not collide
			Options: options.Index().SetUnique(true).SetSparse(true).SetName("uniq_provider_user"),
		},
	})
	return err
}

var notShadow = bson.M{"$ne": true}

func stateCondition(state oi.AccountState) bson.M {
	switch state {
	case oi.StateShadow:
		return bson.M{"isShadow": true}
	case oi.StatePending:
		return bson.M{"isShadow": notShadow, "isActive": true, "isVerified": bson.M{"$ne": true}}
	case oi.StateActive:
		return bson.M{"isShadow": notShadow, "isActive": true, "isVerified": true}
	default:
		return bson.M{"isShadow": notShadow, "isActive": bson.M{"$ne": true}}
	}
}

func toFilter(f oi.Filter) bson.M {
	out := bson.M{}
	if f.ID != "" {
		out["_id"] = f.ID
	}
	if f.Email != "" {
		out["email"] = f.Email
	}
	if f.Provider != "" {
		out["idps"] = bson.M{"$elemMatch": bson.M{"provider": f.Provider, "userId": f.ProviderUserID}}
	}
	if len(f.States) > 0 {
		var ors bson.A
		for _, state := range f.States {
			ors = append(ors, stateCondition(state))
		}
		out["$or"] = ors
	}
	return out
}

func (s *CredentialStore) toUpdate(p oi.Patch) bson.M {
	set := bson.M{}
	if p.State != nil {
		set["isActive"], set["isVerified"], set["isShadow"] = p.State.Flags()
	}
	if p.MarkVerified {
		set["isVerified"] = true
	}
	if p.PasswordHash != nil {
		set["password"] = *p.PasswordHash
	}
	if p.FullName != nil {
		set["fullName"] = *p.FullName
	}
	if p.Avatar != nil {
		set["avatar"] = *p.Avatar
	}
	update := bson.M{}
	if p.AddLink != nil {
		update["$addToSet"] = bson.M{"idps": LinkDoc{Provider: p.AddLink.Provider, UserID: p.AddLink.ProviderUserID}}
	}
	if len(set) > 0 || len(update) > 0 {
		set["updatedAt"] = s.Now()
		update["$set"] = set
	}
	return update
}

func wrapErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, mongo.ErrNoDocuments):
		return oi.ErrIdentityNotFound
	case mongo.IsDuplicateKeyError(err):
		return fmt.Errorf("%v: %w", err, oi.ErrDuplicateIdentity)
	}
	return err
}

func (s *CredentialStore) findOne(ctx context.Context, f oi.Filter) (*oi.Identity, error) {
	var doc IdentityDoc
	if err := s.coll.FindOne(ctx, toFilter(f)).Decode(&doc); err != nil {
		return nil, wrapErr(err)
	}
	return doc.ToIdentity(), nil
}

func (s *CredentialStore) FindByID(ctx context.Context, id string) (*oi.Identity, error) {
	return s.findOne(ctx, oi.Filter{ID: id})
}

func (s *CredentialStore) FindByEmail(ctx context.Context, email string) (*oi.Identity, error) {
	return s.findOne(ctx, oi.Filter{Email: oi.NormalizeEmail(email)})
}

func (s *CredentialStore) FindByProvider(ctx context.Context, provider, providerUserID string) (*oi.Identity, error) {
	return s.findOne(ctx, oi.Filter{Provider: provider, ProviderUserID: providerUserID})
}

func (s *CredentialStore) Insert(ctx context.Context, identity *oi.Identity) (*oi.Identity, error) {
	doc := IdentityToDoc(identity)
	if _, err := s.coll.InsertOne(ctx, doc); err != nil {
		return nil, wrapErr(err)
	}
	return doc.ToIdentity(), nil
}

func (s *CredentialStore) FindOneAndUpdate(ctx context.Context, filter oi.Filter, patch oi.Patch) (*oi.Identity, error) {
	update := s.toUpdate(patch)
	if len(update) == 0 {
		return s.findOne(ctx, filter)
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var doc IdentityDoc
	if err := s.coll.FindOneAndUpdate(ctx, toFilter(filter), update, opts).Decode(&doc); err != nil {
		return nil, wrapErr(err)
	}
	return doc.ToIdentity(), nil
}

func (s *CredentialStore) UpdateMany(ctx context.Context, filter oi.Filter, patch oi.Patch) (oi.UpdateResult, error) {
	update := s.toUpdate(patch)
	if len(update) == 0 {
		n, err := s.coll.CountDocuments(ctx, toFilter(filter))
		return oi.UpdateResult{Matched: n}, wrapErr(err)
	}
	res, err := s.coll.UpdateMany(ctx, toFilter(filter), update)
	if err != nil {
		return oi.UpdateResult{}, wrapErr(err)
	}
	return oi.UpdateResult{Matched: res.MatchedCount, Modified: res.ModifiedCount}, nil
}
