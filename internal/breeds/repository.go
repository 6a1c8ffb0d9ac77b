package breeds

import (
	"context"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/example/nandivision/internal/logging"
)

// Record is the persisted form of a dictionary entry.
type Record struct {
	Label           string    `gorm:"column:label;primaryKey;size:128"`
	Name            string    `gorm:"column:name;size:128"`
	MilkProduction  string    `gorm:"column:milk_production;type:text"`
	Origin          string    `gorm:"column:origin;type:text"`
	HornType        string    `gorm:"column:horn_type;type:text"`
	BodyFeatures    string    `gorm:"column:body_features;type:text"`
	RecommendedFeed string    `gorm:"column:best_food;type:text"`
	UpdatedAt       time.Time `gorm:"column:updated_at"`
}

// TableName overrides the default table name.
func (Record) TableName() string {
	return "breed_metadata"
}

func (r Record) metadata() Metadata {
	return Metadata{
		Name:            r.Name,
		MilkProduction:  r.MilkProduction,
		Origin:          r.Origin,
		HornType:        r.HornType,
		BodyFeatures:    r.BodyFeatures,
		RecommendedFeed: r.RecommendedFeed,
	}
}

// Repository reads and seeds the breed_metadata table.
type Repository struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewRepository creates a new repository instance.
func NewRepository(db *gorm.DB, logger *zap.Logger) *Repository {
	return &Repository{db: db, logger: logger.Named("breeds_repository")}
}

// AutoMigrate ensures the schema is available.
func (r *Repository) AutoMigrate(ctx context.Context) error {
	if err := r.db.WithContext(ctx).AutoMigrate(&Record{}); err != nil {
		wrapped := logging.NewOperationError("breeds.auto_migrate", "", err)
		r.logger.Error("breed table migration failed", zap.Error(wrapped))
		return wrapped
	}
	return nil
}

// LoadCatalog reads every row into an immutable Catalog.
func (r *Repository) LoadCatalog(ctx context.Context) (*Catalog, error) {
	var records []Record
	if err := r.db.WithContext(ctx).Order("label").Find(&records).Error; err != nil {
		wrapped := logging.NewOperationError("breeds.load_catalog", "", err)
		r.logger.Error("failed to load breed dictionary", zap.Error(wrapped))
		return nil, wrapped
	}

	entries := make(map[string]Metadata, len(records))
	for _, record := range records {
		entries[record.Label] = record.metadata()
	}
	r.logger.Info("breed dictionary loaded", zap.Int("entries", len(entries)))
	return NewCatalog(entries), nil
}

// Import upserts every catalog entry and returns the number of rows written.
func (r *Repository) Import(ctx context.Context, catalog *Catalog) (int, error) {
	labels := catalog.Labels()
	if len(labels) == 0 {
		return 0, nil
	}

	now := time.Now().UTC()
	records := make([]Record, 0, len(labels))
	for _, label := range labels {
		meta, _ := catalog.Lookup(label)
		records = append(records, Record{
			Label:           label,
			Name:            meta.Name,
			MilkProduction:  meta.MilkProduction,
			Origin:          meta.Origin,
			HornType:        meta.HornType,
			BodyFeatures:    meta.BodyFeatures,
			RecommendedFeed: meta.RecommendedFeed,
			UpdatedAt:       now,
		})
	}

	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "label"}},
		UpdateAll: true,
	}).Create(&records).Error
	if err != nil {
		wrapped := logging.NewOperationError("breeds.import", "", err)
		r.logger.Error("failed to import breed dictionary", zap.Error(wrapped))
		return 0, wrapped
	}
	return len(records), nil
}
