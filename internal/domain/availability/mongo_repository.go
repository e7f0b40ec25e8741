package availability

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
)

const (
	resourcesCollection    = "resources"
	studiosCollection      = "studios"
	availabilityCollection = "resource_availability"
)

type resourceDoc struct {
	ID             string    `bson:"_id"`
	StudioID       string    `bson:"studio_id,omitempty"`
	VendorID       string    `bson:"vendor_id"`
	Name           string    `bson:"name"`
	OperatingHours []string  `bson:"operating_hours"`
	Price          int64     `bson:"price"`
	IsActive       bool      `bson:"is_active"`
	InstantBook    bool      `bson:"instant_book"`
	CreatedAt      time.Time `bson:"created_at"`
	UpdatedAt      time.Time `bson:"updated_at"`
}

type studioDoc struct {
	ID             string    `bson:"_id"`
	VendorID       string    `bson:"vendor_id"`
	Name           string    `bson:"name"`
	OperatingHours []string  `bson:"operating_hours"`
	IsActive       bool      `bson:"is_active"`
	BookingCount   int64     `bson:"booking_count"`
	PaymentAccount string    `bson:"payment_account"`
	CreatedAt      time.Time `bson:"created_at"`
	UpdatedAt      time.Time `bson:"updated_at"`
}

type dayDoc struct {
	ResourceID string    `bson:"resource_id"`
	Day        string    `bson:"day"`
	Times      []string  `bson:"times"`
	Version    int64     `bson:"version"`
	UpdatedAt  time.Time `bson:"updated_at"`
}

// MongoRepository implements Repository on a MongoDB database.
type MongoRepository struct {
	resources *mongo.Collection
	studios   *mongo.Collection
	days      *mongo.Collection
}

// NewMongoRepository creates the document-store repository.
func NewMongoRepository(db *mongo.Database) *MongoRepository {
	return &MongoRepository{
		resources: db.Collection(resourcesCollection),
		studios:   db.Collection(studiosCollection),
		days:      db.Collection(availabilityCollection),
	}
}

// EnsureIndexes creates the indexes the repository relies on.
func (r *MongoRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.days.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "resource_id", Value: 1}, {Key: "day", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("availability index: %w", err)
	}
	_, err = r.resources.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "studio_id", Value: 1}, {Key: "created_at", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("resource studio index: %w", err)
	}
	return nil
}

func (r *MongoRepository) GetResource(ctx context.Context, id uuid.UUID) (*Resource, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var doc resourceDoc
	if err := r.resources.FindOne(ctx, bson.M{"_id": id.String()}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrResourceNotFound
		}
		return nil, apperror.Store("get resource", err)
	}
	return doc.toResource()
}

func (r *MongoRepository) ListResourcesByStudio(ctx context.Context, studioID, excludeID uuid.UUID) ([]*Resource, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	filter := bson.M{"studio_id": studioID.String()}
	if excludeID != uuid.Nil {
		filter["_id"] = bson.M{"$ne": excludeID.String()}
	}

	cur, err := r.resources.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}}))
	if err != nil {
		return nil, apperror.Store("list studio resources", err)
	}
	var docs []resourceDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, apperror.Store("decode studio resources", err)
	}

	out := make([]*Resource, 0, len(docs))
	for _, doc := range docs {
		res, err := doc.toResource()
		if err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, nil
}

func (r *MongoRepository) SaveResource(ctx context.Context, res *Resource) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	now := time.Now()
	if res.CreatedAt.IsZero() {
		res.CreatedAt = now
	}
	res.UpdatedAt = now

	doc := resourceDoc{
		ID:             res.ID.String(),
		VendorID:       res.VendorID.String(),
		Name:           res.Name,
		OperatingHours: res.OperatingHours,
		Price:          res.Price,
		IsActive:       res.IsActive,
		InstantBook:    res.InstantBook,
		CreatedAt:      res.CreatedAt,
		UpdatedAt:      res.UpdatedAt,
	}
	if res.HasStudio() {
		doc.StudioID = res.StudioID.UUID.String()
	}

	_, err := r.resources.ReplaceOne(ctx, bson.M{"_id": doc.ID}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return apperror.Store("save resource", err)
	}
	return nil
}

func (r *MongoRepository) GetStudio(ctx context.Context, id uuid.UUID) (*Studio, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var doc studioDoc
	if err := r.studios.FindOne(ctx, bson.M{"_id": id.String()}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrStudioNotFound
		}
		return nil, apperror.Store("get studio", err)
	}
	return doc.toStudio()
}

func (r *MongoRepository) SaveStudio(ctx context.Context, s *Studio) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	now := time.Now()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	s.UpdatedAt = now

	update := bson.M{
		"$set": bson.M{
			"vendor_id":       s.VendorID.String(),
			"name":            s.Name,
			"operating_hours": []string(s.OperatingHours),
			"is_active":       s.IsActive,
			"payment_account": s.PaymentAccount,
			"updated_at":      s.UpdatedAt,
		},
		"$setOnInsert": bson.M{
			"booking_count": s.BookingCount,
			"created_at":    s.CreatedAt,
		},
	}
	_, err := r.studios.UpdateOne(ctx, bson.M{"_id": s.ID.String()}, update, options.Update().SetUpsert(true))
	if err != nil {
		return apperror.Store("save studio", err)
	}
	return nil
}

func (r *MongoRepository) IncrementStudioBookings(ctx context.Context, id uuid.UUID) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	res, err := r.studios.UpdateOne(ctx, bson.M{"_id": id.String()}, bson.M{
		"$inc": bson.M{"booking_count": 1},
		"$set": bson.M{"updated_at": time.Now()},
	})
	if err != nil {
		return apperror.Store("increment studio bookings", err)
	}
	if res.MatchedCount == 0 {
		return ErrStudioNotFound
	}
	return nil
}

func (r *MongoRepository) GetDay(ctx context.Context, resourceID uuid.UUID, date string) (*DateAvailability, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var doc dayDoc
	err := r.days.FindOne(ctx, bson.M{"resource_id": resourceID.String(), "day": date}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, apperror.Store("get availability day", err)
	}
	return &DateAvailability{
		ResourceID: resourceID,
		Date:       doc.Day,
		Times:      doc.Times,
		Version:    doc.Version,
		UpdatedAt:  doc.UpdatedAt,
	}, nil
}

func (r *MongoRepository) SaveDay(ctx context.Context, day *DateAvailability) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	now := time.Now()
	times := []string(day.Times)
	if times == nil {
		times = []string{}
	}

	if day.Version == 0 {
		_, err := r.days.InsertOne(ctx, dayDoc{
			ResourceID: day.ResourceID.String(),
			Day:        day.Date,
			Times:      times,
			Version:    1,
			UpdatedAt:  now,
		})
		if err != nil {
			if mongo.IsDuplicateKeyError(err) {
				return fmt.Errorf("resource %s on %s: %w", day.ResourceID, day.Date, ErrVersionConflict)
			}
			return apperror.Store("insert availability day", err)
		}
	} else {
		res, err := r.days.UpdateOne(ctx,
			bson.M{"resource_id": day.ResourceID.String(), "day": day.Date, "version": day.Version},
			bson.M{
				"$set": bson.M{"times": times, "updated_at": now},
				"$inc": bson.M{"version": 1},
			},
		)
		if err != nil {
			return apperror.Store("update availability day", err)
		}
		if res.MatchedCount == 0 {
			return fmt.Errorf("resource %s on %s: %w", day.ResourceID, day.Date, ErrVersionConflict)
		}
	}

	day.Version++
	day.UpdatedAt = now
	return nil
}

func (d resourceDoc) toResource() (*Resource, error) {
	id, err := uuid.Parse(d.ID)
	if err != nil {
		return nil, apperror.Store("decode resource id", err)
	}
	vendorID, _ := uuid.Parse(d.VendorID)

	res := &Resource{
		ID:             id,
		VendorID:       vendorID,
		Name:           d.Name,
		OperatingHours: d.OperatingHours,
		Price:          d.Price,
		IsActive:       d.IsActive,
		InstantBook:    d.InstantBook,
		CreatedAt:      d.CreatedAt,
		UpdatedAt:      d.UpdatedAt,
	}
	if d.StudioID != "" {
		studioID, err := uuid.Parse(d.StudioID)
		if err != nil {
			return nil, apperror.Store("decode studio id", err)
		}
		res.StudioID = uuid.NullUUID{UUID: studioID, Valid: true}
	}
	return res, nil
}

func (d studioDoc) toStudio() (*Studio, error) {
	id, err := uuid.Parse(d.ID)
	if err != nil {
		return nil, apperror.Store("decode studio id", err)
	}
	vendorID, _ := uuid.Parse(d.VendorID)

	return &Studio{
		ID:             id,
		VendorID:       vendorID,
		Name:           d.Name,
		OperatingHours: d.OperatingHours,
		IsActive:       d.IsActive,
		BookingCount:   d.BookingCount,
		PaymentAccount: d.PaymentAccount,
		CreatedAt:      d.CreatedAt,
		UpdatedAt:      d.UpdatedAt,
	}, nil
}
