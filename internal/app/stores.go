package app

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/studiobook/studiobook-api/internal/config"
	"github.com/studiobook/studiobook-api/internal/domain/availability"
	"github.com/studiobook/studiobook-api/internal/domain/calendar"
	"github.com/studiobook/studiobook-api/internal/domain/notification"
	"github.com/studiobook/studiobook-api/internal/domain/reservation"
	"github.com/studiobook/studiobook-api/internal/pkg/database"
)

// Stores groups the repositories of one store driver.
type Stores struct {
	Resources     availability.Repository
	Reservations  reservation.Repository
	Calendar      calendar.Repository
	Notifications notification.Repository

	db          *sqlx.DB
	mongoClient *mongo.Client
	indexed     []database.IndexedRepository
}

func openStores(ctx context.Context, cfg *config.Config) (*Stores, error) {
	switch cfg.StoreDriver {
	case config.StoreDriverPostgres:
		db, err := database.NewPostgres(cfg.DatabaseURL, database.PoolConfig{})
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		return &Stores{
			Resources:     availability.NewRepository(db),
			Reservations:  reservation.NewRepository(db),
			Calendar:      calendar.NewRepository(db),
			Notifications: notification.NewRepository(db),
			db:            db,
		}, nil

	case config.StoreDriverMongo:
		client, mdb, err := database.NewMongo(ctx, cfg.MongoURL, cfg.MongoDatabase)
		if err != nil {
			return nil, err
		}
		resources := availability.NewMongoRepository(mdb)
		reservations := reservation.NewMongoRepository(mdb)
		accounts := calendar.NewMongoRepository(mdb)
		notifications := notification.NewMongoRepository(mdb)
		return &Stores{
			Resources:     resources,
			Reservations:  reservations,
			Calendar:      accounts,
			Notifications: notifications,
			mongoClient:   client,
			indexed:       []database.IndexedRepository{resources, reservations, accounts, notifications},
		}, nil

	case config.StoreDriverMemory:
		return &Stores{
			Resources:     availability.NewMemoryRepository(),
			Reservations:  reservation.NewMemoryRepository(),
			Calendar:      calendar.NewMemoryRepository(),
			Notifications: notification.NewMemoryRepository(),
		}, nil
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
}

// Migrate brings the schema or indexes of the active driver up to date.
func (s *Stores) Migrate(ctx context.Context) error {
	if s.db != nil {
		return database.Migrate(ctx, s.db)
	}
	if len(s.indexed) > 0 {
		return database.EnsureIndexes(ctx, s.indexed...)
	}
	return nil
}

func (s *Stores) close() {
	database.ClosePostgres(s.db)
	database.CloseMongo(s.mongoClient)
}
