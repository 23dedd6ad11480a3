package database

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/federicodip/GraphRag/helper"
	"github.com/federicodip/GraphRag/model"
	loadSql "github.com/federicodip/GraphRag/sql"
	"github.com/lib/pq"
)

// PlacesDBHandlerFunctions defines the interface for Places database operations.
type PlacesDBHandlerFunctions interface {
	UpsertPlace(ctx context.Context, place *model.Place) error
	InsertPlaceStub(ctx context.Context, gazetteerID string, uri string) error
	SelectPlace(ctx context.Context, gazetteerID string) (*model.Place, error)
	SelectAllPlaces(ctx context.Context) ([]*model.Place, error)
	SelectPlaceIDs(ctx context.Context, unlinkedProperty string) ([]string, error)
}

// PlacesDBHandler handles gazetteer place operations
type PlacesDBHandler struct {
	db *helper.Database
}

// NewPlacesDBHandler creates a new places database handler.
// It initializes the database connection and loads place-related SQL functions.
// If force is true, it will reload the SQL functions even if they already exist.
func NewPlacesDBHandler(db *helper.Database, force bool) (*PlacesDBHandler, error) {
	if db == nil {
		return nil, helper.NewError("database connection validation", fmt.Errorf("database connection is nil"))
	}

	placesDbHandler := &PlacesDBHandler{
		db: db,
	}

	err := loadSql.LoadPlacesSql(placesDbHandler.db.Instance, force)
	if err != nil {
		return nil, helper.NewError("load places sql", err)
	}

	err = placesDbHandler.CreateTable()
	if err != nil {
		return nil, helper.NewError("create table", err)
	}

	db.Logger.Info("Initialized PlacesDBHandler")

	return placesDbHandler, nil
}

// CreateTable creates the 'places' table in the database.
// If the table already exists, it does not create it again.
func (h *PlacesDBHandler) CreateTable() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := h.db.Instance.ExecContext(ctx, `SELECT init_places();`)
	if err != nil {
		log.Panicf("error initializing places table: %#v", err)
	}

	h.db.Logger.Info("Checked/created table places")

	return nil
}

// UpsertPlace inserts a place or replaces every field but its gazetteer id.
func (h *PlacesDBHandler) UpsertPlace(ctx context.Context, place *model.Place) error {
	if place.GazetteerID == "" {
		return helper.NewError("place validation", fmt.Errorf("gazetteer id must not be empty"))
	}

	row := h.db.Instance.QueryRowContext(
		ctx,
		`SELECT * FROM upsert_place($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		place.GazetteerID,
		place.Title,
		pq.Array(place.AltNames),
		place.Source,
		place.URI,
		place.Description,
		pq.Array(place.PlaceTypes),
		pq.Array(place.Subjects),
		pq.Array(place.Languages),
		place.ReviewState,
	)

	err := row.Scan(&place.CreatedAt, &place.UpdatedAt)
	if err != nil {
		return helper.NewError("scan", err)
	}

	return nil
}

// InsertPlaceStub creates a bare place for a connection target unless the place exists.
func (h *PlacesDBHandler) InsertPlaceStub(ctx context.Context, gazetteerID string, uri string) error {
	_, err := h.db.Instance.ExecContext(
		ctx,
		`SELECT insert_place_stub($1, $2, $3)`,
		gazetteerID,
		uri,
		model.SourcePleiades,
	)
	if err != nil {
		return helper.NewError("exec", err)
	}
	return nil
}

// SelectPlace retrieves a place by its gazetteer id
func (h *PlacesDBHandler) SelectPlace(ctx context.Context, gazetteerID string) (*model.Place, error) {
	row := h.db.Instance.QueryRowContext(
		ctx,
		`SELECT * FROM select_place($1)`,
		gazetteerID,
	)

	place, err := scanPlace(row)
	if err != nil {
		return nil, helper.NewError("scan", err)
	}

	return place, nil
}

// SelectAllPlaces reads a snapshot of every place ordered by gazetteer id.
func (h *PlacesDBHandler) SelectAllPlaces(ctx context.Context) ([]*model.Place, error) {
	rows, err := h.db.Instance.QueryContext(ctx, `SELECT * FROM select_all_places()`)
	if err != nil {
		return nil, helper.NewError("query", err)
	}
	defer rows.Close()

	var places []*model.Place
	for rows.Next() {
		place, err := scanPlace(rows)
		if err != nil {
			return nil, helper.NewError("scan", err)
		}
		places = append(places, place)
	}

	if err = rows.Err(); err != nil {
		return nil, helper.NewError("rows error", err)
	}

	return places, nil
}

// SelectPlaceIDs returns gazetteer ids ordered ascending. A non empty
// unlinkedProperty skips places that already have a same_as edge for it.
func (h *PlacesDBHandler) SelectPlaceIDs(ctx context.Context, unlinkedProperty string) ([]string, error) {
	var property sql.NullString
	if unlinkedProperty != "" {
		property = sql.NullString{String: unlinkedProperty, Valid: true}
	}

	rows, err := h.db.Instance.QueryContext(ctx, `SELECT * FROM select_place_ids($1)`, property)
	if err != nil {
		return nil, helper.NewError("query", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, helper.NewError("scan", err)
		}
		ids = append(ids, id)
	}

	if err = rows.Err(); err != nil {
		return nil, helper.NewError("rows error", err)
	}

	return ids, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPlace(row rowScanner) (*model.Place, error) {
	place := &model.Place{}
	err := row.Scan(
		&place.GazetteerID,
		&place.Title,
		pq.Array(&place.AltNames),
		&place.Source,
		&place.URI,
		&place.Description,
		pq.Array(&place.PlaceTypes),
		pq.Array(&place.Subjects),
		pq.Array(&place.Languages),
		&place.ReviewState,
		&place.CreatedAt,
		&place.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return place, nil
}
