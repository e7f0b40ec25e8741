package reservation

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

const reservationsCollection = "reservations"

type paymentDoc struct {
	Status              string `bson:"status"`
	Provider            string `bson:"provider,omitempty"`
	ExternalPaymentID   string `bson:"external_payment_id,omitempty"`
	CustomerReference   string `bson:"customer_reference,omitempty"`
	VendorID            string `bson:"vendor_id"`
	Amount              int64  `bson:"amount"`
	FailureReason       string `bson:"failure_reason,omitempty"`
	Refund              string `bson:"refund,omitempty"`
	RefundReference     string `bson:"refund_reference,omitempty"`
	RefundFailureReason string `bson:"refund_failure_reason,omitempty"`
}

type reservationDoc struct {
	ID              string      `bson:"_id"`
	ResourceID      string      `bson:"resource_id"`
	StudioID        string      `bson:"studio_id,omitempty"`
	VendorID        string      `bson:"vendor_id"`
	CustomerID      string      `bson:"customer_id"`
	BookingDate     string      `bson:"booking_date"`
	TimeSlots       []string    `bson:"time_slots"`
	Status          string      `bson:"status"`
	StatusReason    string      `bson:"status_reason,omitempty"`
	ItemPrice       int64       `bson:"item_price"`
	Discount        int64       `bson:"discount"`
	TotalPrice      int64       `bson:"total_price"`
	Payment         *paymentDoc `bson:"payment,omitempty"`
	ExternalOrderID string      `bson:"external_order_id,omitempty"`
	ExternalEventID string      `bson:"external_event_id,omitempty"`
	ExpiresAt       *time.Time  `bson:"expires_at,omitempty"`
	Version         int64       `bson:"version"`
	CreatedAt       time.Time   `bson:"created_at"`
	UpdatedAt       time.Time   `bson:"updated_at"`
}

// MongoRepository implements Repository on a MongoDB collection.
type MongoRepository struct {
	coll *mongo.Collection
}

// NewMongoRepository creates the document-store repository.
func NewMongoRepository(db *mongo.Database) *MongoRepository {
	return &MongoRepository{coll: db.Collection(reservationsCollection)}
}

// EnsureIndexes creates the lookup indexes used by List.
func (r *MongoRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "resource_id", Value: 1}, {Key: "booking_date", Value: 1}}},
		{Keys: bson.D{{Key: "studio_id", Value: 1}, {Key: "booking_date", Value: 1}, {Key: "status", Value: 1}}},
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "expires_at", Value: 1}}},
		{Keys: bson.D{{Key: "external_order_id", Value: 1}}, Options: options.Index().SetSparse(true)},
		{Keys: bson.D{{Key: "customer_id", Value: 1}, {Key: "created_at", Value: -1}}},
	})
	if err != nil {
		return fmt.Errorf("reservation indexes: %w", err)
	}
	return nil
}

func (r *MongoRepository) Get(ctx context.Context, id uuid.UUID) (*Reservation, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var doc reservationDoc
	if err := r.coll.FindOne(ctx, bson.M{"_id": id.String()}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, apperror.Store("get reservation", err)
	}
	return doc.toReservation()
}

func (r *MongoRepository) Create(ctx context.Context, res *Reservation) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	now := time.Now()
	res.CreatedAt = now
	res.UpdatedAt = now
	res.Version = 1

	if _, err := r.coll.InsertOne(ctx, toDoc(res)); err != nil {
		return apperror.Store("create reservation", err)
	}
	return nil
}

func (r *MongoRepository) Update(ctx context.Context, res *Reservation) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	doc := toDoc(res)
	doc.Version = res.Version + 1
	doc.UpdatedAt = time.Now()

	result, err := r.coll.ReplaceOne(ctx, bson.M{"_id": doc.ID, "version": res.Version}, doc)
	if err != nil {
		return apperror.Store("update reservation", err)
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("reservation %s: %w", res.ID, ErrVersionConflict)
	}

	res.Version = doc.Version
	res.UpdatedAt = doc.UpdatedAt
	return nil
}

func (r *MongoRepository) List(ctx context.Context, f Filter) ([]*Reservation, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	filter := bson.M{}
	if f.ResourceID != uuid.Nil {
		filter["resource_id"] = f.ResourceID.String()
	}
	if f.StudioID != uuid.Nil {
		filter["studio_id"] = f.StudioID.String()
	}
	if f.CustomerID != uuid.Nil {
		filter["customer_id"] = f.CustomerID.String()
	}
	if f.VendorID != uuid.Nil {
		filter["vendor_id"] = f.VendorID.String()
	}
	if f.Date != "" {
		filter["booking_date"] = f.Date
	}
	if f.ExternalOrderID != "" {
		filter["external_order_id"] = f.ExternalOrderID
	}
	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, s := range f.Statuses {
			statuses[i] = string(s)
		}
		filter["status"] = bson.M{"$in": statuses}
	}

	opts := options.Find().SetLimit(int64(limitOf(f)))
	if !f.ExpiredBefore.IsZero() {
		filter["expires_at"] = bson.M{"$lt": f.ExpiredBefore}
		opts.SetSort(bson.D{{Key: "expires_at", Value: 1}})
	} else {
		opts.SetSort(bson.D{{Key: "created_at", Value: 1}})
	}

	cur, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, apperror.Store("list reservations", err)
	}
	var docs []reservationDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, apperror.Store("decode reservations", err)
	}

	out := make([]*Reservation, 0, len(docs))
	for _, doc := range docs {
		res, err := doc.toReservation()
		if err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, nil
}

func toDoc(r *Reservation) reservationDoc {
	doc := reservationDoc{
		ID:              r.ID.String(),
		ResourceID:      r.ResourceID.String(),
		VendorID:        r.VendorID.String(),
		CustomerID:      r.CustomerID.String(),
		BookingDate:     r.BookingDate,
		TimeSlots:       append([]string{}, r.TimeSlots...),
		Status:          string(r.Status),
		StatusReason:    r.StatusReason,
		ItemPrice:       r.ItemPrice,
		Discount:        r.Discount,
		TotalPrice:      r.TotalPrice,
		ExternalOrderID: r.ExternalOrderID,
		ExternalEventID: r.ExternalEventID,
		ExpiresAt:       r.ExpiresAt,
		Version:         r.Version,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
	if r.StudioID.Valid {
		doc.StudioID = r.StudioID.UUID.String()
	}
	if p := r.Payment; p != nil {
		doc.Payment = &paymentDoc{
			Status:              string(p.Status),
			Provider:            p.Provider,
			ExternalPaymentID:   p.ExternalPaymentID,
			CustomerReference:   p.CustomerReference,
			VendorID:            p.VendorID.String(),
			Amount:              p.Amount,
			FailureReason:       p.FailureReason,
			Refund:              string(p.Refund),
			RefundReference:     p.RefundReference,
			RefundFailureReason: p.RefundFailureReason,
		}
	}
	return doc
}

func (d reservationDoc) toReservation() (*Reservation, error) {
	id, err := uuid.Parse(d.ID)
	if err != nil {
		return nil, apperror.Store("decode reservation id", err)
	}
	resourceID, err := uuid.Parse(d.ResourceID)
	if err != nil {
		return nil, apperror.Store("decode resource id", err)
	}
	vendorID, _ := uuid.Parse(d.VendorID)
	customerID, _ := uuid.Parse(d.CustomerID)

	r := &Reservation{
		ID:              id,
		ResourceID:      resourceID,
		VendorID:        vendorID,
		CustomerID:      customerID,
		BookingDate:     d.BookingDate,
		TimeSlots:       d.TimeSlots,
		Status:          Status(d.Status),
		StatusReason:    d.StatusReason,
		ItemPrice:       d.ItemPrice,
		Discount:        d.Discount,
		TotalPrice:      d.TotalPrice,
		ExternalOrderID: d.ExternalOrderID,
		ExternalEventID: d.ExternalEventID,
		ExpiresAt:       d.ExpiresAt,
		Version:         d.Version,
		CreatedAt:       d.CreatedAt,
		UpdatedAt:       d.UpdatedAt,
	}
	if d.StudioID != "" {
		studioID, err := uuid.Parse(d.StudioID)
		if err != nil {
			return nil, apperror.Store("decode studio id", err)
		}
		r.StudioID = uuid.NullUUID{UUID: studioID, Valid: true}
	}
	if p := d.Payment; p != nil {
		pVendor, _ := uuid.Parse(p.VendorID)
		r.Payment = &Payment{
			Status:              PaymentStatus(p.Status),
			Provider:            p.Provider,
			ExternalPaymentID:   p.ExternalPaymentID,
			CustomerReference:   p.CustomerReference,
			VendorID:            pVendor,
			Amount:              p.Amount,
			FailureReason:       p.FailureReason,
			Refund:              RefundStatus(p.Refund),
			RefundReference:     p.RefundReference,
			RefundFailureReason: p.RefundFailureReason,
		}
	}
	return r, nil
}
