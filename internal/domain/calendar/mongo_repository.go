package calendar

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/studiobook/studiobook-api/internal/pkg/apperror"
	"github.com/studiobook/studiobook-api/internal/pkg/timeslot"
)

const (
	accountsCollection = "calendar_accounts"
	blocksCollection   = "calendar_blocks"
)

type accountDoc struct {
	ID             string     `bson:"_id"`
	VendorID       string     `bson:"vendor_id"`
	ResourceID     string     `bson:"resource_id"`
	CalendarID     string     `bson:"calendar_id"`
	AccessToken    string     `bson:"access_token"`
	RefreshToken   string     `bson:"refresh_token"`
	TokenExpiresAt *time.Time `bson:"token_expires_at,omitempty"`
	SyncToken      string     `bson:"sync_token"`
	IsActive       bool       `bson:"is_active"`
	LastSyncAt     *time.Time `bson:"last_sync_at,omitempty"`
	LastSyncStatus string     `bson:"last_sync_status"`
	LastSyncError  string     `bson:"last_sync_error"`
	CreatedAt      time.Time  `bson:"created_at"`
	UpdatedAt      time.Time  `bson:"updated_at"`
}

type blockDoc struct {
	AccountID  string    `bson:"account_id"`
	EventID    string    `bson:"event_id"`
	ResourceID string    `bson:"resource_id"`
	Day        string    `bson:"day"`
	Slots      []string  `bson:"slots"`
	UpdatedAt  time.Time `bson:"updated_at"`
}

// MongoRepository implements Repository on a MongoDB database.
type MongoRepository struct {
	accounts *mongo.Collection
	blocks   *mongo.Collection
}

// NewMongoRepository creates the document-store repository.
func NewMongoRepository(db *mongo.Database) *MongoRepository {
	return &MongoRepository{
		accounts: db.Collection(accountsCollection),
		blocks:   db.Collection(blocksCollection),
	}
}

// EnsureIndexes creates the indexes the repository relies on.
func (r *MongoRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.blocks.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "account_id", Value: 1}, {Key: "event_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{Keys: bson.D{{Key: "resource_id", Value: 1}, {Key: "day", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("calendar block indexes: %w", err)
	}
	_, err = r.accounts.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "vendor_id", Value: 1}}},
		{Keys: bson.D{{Key: "resource_id", Value: 1}, {Key: "is_active", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("calendar account indexes: %w", err)
	}
	return nil
}

func (r *MongoRepository) GetAccount(ctx context.Context, id uuid.UUID) (*Account, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var doc accountDoc
	if err := r.accounts.FindOne(ctx, bson.M{"_id": id.String()}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrAccountNotFound
		}
		return nil, apperror.Store("get calendar account", err)
	}
	return doc.toAccount()
}

func (r *MongoRepository) ListActiveAccounts(ctx context.Context) ([]*Account, error) {
	return r.find(ctx, bson.M{"is_active": true})
}

func (r *MongoRepository) ListAccountsByVendor(ctx context.Context, vendorID uuid.UUID) ([]*Account, error) {
	return r.find(ctx, bson.M{"vendor_id": vendorID.String()})
}

func (r *MongoRepository) FindByResource(ctx context.Context, resourceID uuid.UUID) (*Account, error) {
	found, err := r.find(ctx, bson.M{"resource_id": resourceID.String(), "is_active": true})
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return nil, ErrAccountNotFound
	}
	return found[0], nil
}

func (r *MongoRepository) find(ctx context.Context, filter bson.M) ([]*Account, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	cur, err := r.accounts.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}}))
	if err != nil {
		return nil, apperror.Store("list calendar accounts", err)
	}
	var docs []accountDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, apperror.Store("decode calendar accounts", err)
	}

	out := make([]*Account, 0, len(docs))
	for _, doc := range docs {
		a, err := doc.toAccount()
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

func (r *MongoRepository) SaveAccount(ctx context.Context, a *Account) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	now := time.Now()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now
	if a.LastSyncStatus == "" {
		a.LastSyncStatus = SyncStatusPending
	}

	doc := accountDoc{
		ID:             a.ID.String(),
		VendorID:       a.VendorID.String(),
		ResourceID:     a.ResourceID.String(),
		CalendarID:     a.CalendarID,
		AccessToken:    a.AccessToken,
		RefreshToken:   a.RefreshToken,
		TokenExpiresAt: a.TokenExpiresAt,
		SyncToken:      a.SyncToken,
		IsActive:       a.IsActive,
		LastSyncAt:     a.LastSyncAt,
		LastSyncStatus: string(a.LastSyncStatus),
		LastSyncError:  a.LastSyncError,
		CreatedAt:      a.CreatedAt,
		UpdatedAt:      a.UpdatedAt,
	}
	_, err := r.accounts.ReplaceOne(ctx, bson.M{"_id": doc.ID}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return apperror.Store("save calendar account", err)
	}
	return nil
}

func (r *MongoRepository) UpdateTokens(ctx context.Context, id uuid.UUID, access, refresh string, expiresAt *time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	_, err := r.accounts.UpdateByID(ctx, id.String(), bson.M{"$set": bson.M{
		"access_token":     access,
		"refresh_token":    refresh,
		"token_expires_at": expiresAt,
		"updated_at":       time.Now(),
	}})
	if err != nil {
		return apperror.Store("update calendar tokens", err)
	}
	return nil
}

func (r *MongoRepository) UpdateSyncState(ctx context.Context, id uuid.UUID, state SyncState) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	set := bson.M{
		"last_sync_status": string(state.Status),
		"last_sync_error":  state.Error,
		"last_sync_at":     state.At,
		"updated_at":       time.Now(),
	}
	if state.SyncToken != "" {
		set["sync_token"] = state.SyncToken
	}
	if _, err := r.accounts.UpdateByID(ctx, id.String(), bson.M{"$set": set}); err != nil {
		return apperror.Store("update calendar sync state", err)
	}
	return nil
}

func (r *MongoRepository) ListBlocks(ctx context.Context, accountID uuid.UUID) ([]*Block, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	cur, err := r.blocks.Find(ctx, bson.M{"account_id": accountID.String()})
	if err != nil {
		return nil, apperror.Store("list calendar blocks", err)
	}
	var docs []blockDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, apperror.Store("decode calendar blocks", err)
	}

	out := make([]*Block, 0, len(docs))
	for _, doc := range docs {
		resourceID, err := uuid.Parse(doc.ResourceID)
		if err != nil {
			return nil, apperror.Store("decode calendar block", err)
		}
		out = append(out, &Block{
			AccountID:  accountID,
			EventID:    doc.EventID,
			ResourceID: resourceID,
			Date:       doc.Day,
			Slots:      doc.Slots,
			UpdatedAt:  doc.UpdatedAt,
		})
	}
	return out, nil
}

func (r *MongoRepository) SaveBlock(ctx context.Context, b *Block) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	b.UpdatedAt = time.Now()
	doc := blockDoc{
		AccountID:  b.AccountID.String(),
		EventID:    b.EventID,
		ResourceID: b.ResourceID.String(),
		Day:        b.Date,
		Slots:      append([]string{}, b.Slots...),
		UpdatedAt:  b.UpdatedAt,
	}
	filter := bson.M{"account_id": doc.AccountID, "event_id": doc.EventID}
	if _, err := r.blocks.ReplaceOne(ctx, filter, doc, options.Replace().SetUpsert(true)); err != nil {
		return apperror.Store("save calendar block", err)
	}
	return nil
}

func (r *MongoRepository) DeleteBlock(ctx context.Context, accountID uuid.UUID, eventID string) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	if _, err := r.blocks.DeleteOne(ctx, bson.M{"account_id": accountID.String(), "event_id": eventID}); err != nil {
		return apperror.Store("delete calendar block", err)
	}
	return nil
}

func (r *MongoRepository) BlockedSlots(ctx context.Context, resourceIDs []uuid.UUID, date string) ([]string, error) {
	if len(resourceIDs) == 0 {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	ids := make([]string, len(resourceIDs))
	for i, id := range resourceIDs {
		ids[i] = id.String()
	}
	filter := bson.M{"day": date, "resource_id": bson.M{"$in": ids}}
	cur, err := r.blocks.Find(ctx, filter, options.Find().SetProjection(bson.M{"slots": 1}))
	if err != nil {
		return nil, apperror.Store("list blocked slots", err)
	}
	var docs []blockDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, apperror.Store("decode blocked slots", err)
	}

	var out []string
	for _, doc := range docs {
		out = timeslot.Union(out, doc.Slots)
	}
	return out, nil
}

func (d accountDoc) toAccount() (*Account, error) {
	id, err := uuid.Parse(d.ID)
	if err != nil {
		return nil, apperror.Store("decode calendar account id", err)
	}
	vendorID, err := uuid.Parse(d.VendorID)
	if err != nil {
		return nil, apperror.Store("decode calendar account vendor", err)
	}
	resourceID, err := uuid.Parse(d.ResourceID)
	if err != nil {
		return nil, apperror.Store("decode calendar account resource", err)
	}
	return &Account{
		ID:             id,
		VendorID:       vendorID,
		ResourceID:     resourceID,
		CalendarID:     d.CalendarID,
		AccessToken:    d.AccessToken,
		RefreshToken:   d.RefreshToken,
		TokenExpiresAt: d.TokenExpiresAt,
		SyncToken:      d.SyncToken,
		IsActive:       d.IsActive,
		LastSyncAt:     d.LastSyncAt,
		LastSyncStatus: SyncStatus(d.LastSyncStatus),
		LastSyncError:  d.LastSyncError,
		CreatedAt:      d.CreatedAt,
		UpdatedAt:      d.UpdatedAt,
	}, nil
}
