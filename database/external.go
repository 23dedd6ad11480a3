package database

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/federicodip/GraphRag/helper"
	"github.com/federicodip/GraphRag/model"
	loadSql "github.com/federicodip/GraphRag/sql"
)

// ExternalEntitiesDBHandlerFunctions defines the interface for ExternalEntities database operations.
type ExternalEntitiesDBHandlerFunctions interface {
	UpsertExternalEntity(ctx context.Context, entity *model.ExternalEntity) (bool, error)
	SelectExternalEntity(ctx context.Context, externalID string) (*model.ExternalEntity, error)
}

// ExternalEntitiesDBHandler handles external knowledge base node operations
type ExternalEntitiesDBHandler struct {
	db *helper.Database
}

// NewExternalEntitiesDBHandler creates a new external entities database handler.
// It initializes the database connection and loads the related SQL functions.
// If force is true, it will reload the SQL functions even if they already exist.
func NewExternalEntitiesDBHandler(db *helper.Database, force bool) (*ExternalEntitiesDBHandler, error) {
	if db == nil {
		return nil, helper.NewError("database connection validation", fmt.Errorf("database connection is nil"))
	}

	externalDbHandler := &ExternalEntitiesDBHandler{
		db: db,
	}

	err := loadSql.LoadExternalEntitiesSql(externalDbHandler.db.Instance, force)
	if err != nil {
		return nil, helper.NewError("load external entities sql", err)
	}

	err = externalDbHandler.CreateTable()
	if err != nil {
		return nil, helper.NewError("create table", err)
	}

	db.Logger.Info("Initialized ExternalEntitiesDBHandler")

	return externalDbHandler, nil
}

// CreateTable creates the 'external_entities' table in the database.
// If the table already exists, it does not create it again.
func (h *ExternalEntitiesDBHandler) CreateTable() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := h.db.Instance.ExecContext(ctx, `SELECT init_external_entities();`)
	if err != nil {
		log.Panicf("error initializing external_entities table: %#v", err)
	}

	h.db.Logger.Info("Checked/created table external_entities")

	return nil
}

// UpsertExternalEntity inserts the node keyed by external id or refreshes its
// descriptive fields. Absent (nil) fields keep their stored value.
// It reports whether the node was created.
func (h *ExternalEntitiesDBHandler) UpsertExternalEntity(ctx context.Context, entity *model.ExternalEntity) (bool, error) {
	if entity.ExternalID == "" {
		return false, helper.NewError("external entity validation", fmt.Errorf("external id must not be empty"))
	}

	row := h.db.Instance.QueryRowContext(
		ctx,
		`SELECT * FROM upsert_external_entity($1, $2, $3, $4, $5, $6)`,
		entity.ExternalID,
		entity.URI,
		entity.Label,
		entity.InstanceOf,
		entity.Lat,
		entity.Lon,
	)

	var created bool
	err := row.Scan(&created, &entity.CreatedAt, &entity.UpdatedAt)
	if err != nil {
		return false, helper.NewError("scan", err)
	}

	return created, nil
}

// SelectExternalEntity retrieves an external entity by its external id
func (h *ExternalEntitiesDBHandler) SelectExternalEntity(ctx context.Context, externalID string) (*model.ExternalEntity, error) {
	row := h.db.Instance.QueryRowContext(
		ctx,
		`SELECT * FROM select_external_entity($1)`,
		externalID,
	)

	entity := &model.ExternalEntity{}
	err := row.Scan(
		&entity.ExternalID,
		&entity.URI,
		&entity.Label,
		&entity.InstanceOf,
		&entity.Lat,
		&entity.Lon,
		&entity.CreatedAt,
		&entity.UpdatedAt,
	)
	if err != nil {
		return nil, helper.NewError("scan", err)
	}

	return entity, nil
}
