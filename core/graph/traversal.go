package graph

import (
	"context"

	"github.com/federicodip/GraphRag/model"
)

// PlaceGraph reads places and the edges touching them.
type PlaceGraph interface {
	SelectPlace(ctx context.Context, gazetteerID string) (*model.Place, error)
	SelectEdgesOfPlace(ctx context.Context, gazetteerID string) ([]*model.Edge, error)
}

// TraversalResult contains a place and its distance from the source
type TraversalResult struct {
	Place    *model.Place
	Distance int
	Path     []string // gazetteer ids from source to this place
}

// Options restricts which connected edges a traversal follows.
// Empty ConnectionTypes follows every type. Reverse also walks edges
// pointing at the current place.
type Options struct {
	MaxHops         int
	ConnectionTypes []string
	Reverse         bool
}

// BFS walks connected edges breadth-first from a source place. The source is
// the first result. Stub places missing from the store are skipped.
func BFS(ctx context.Context, db PlaceGraph, sourceID string, options Options) ([]*TraversalResult, error) {
	source, err := db.SelectPlace(ctx, sourceID)
	if err != nil {
		return nil, err
	}

	visited := map[string]bool{sourceID: true}
	queue := []*TraversalResult{{Place: source, Path: []string{sourceID}}}
	var results []*TraversalResult

	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		current := queue[0]
		queue = queue[1:]
		results = append(results, current)

		if current.Distance >= options.MaxHops {
			continue
		}

		edges, err := db.SelectEdgesOfPlace(ctx, current.Place.GazetteerID)
		if err != nil {
			return nil, err
		}

		for _, edge := range edges {
			targetID, ok := neighbor(edge, current.Place.GazetteerID, options)
			if !ok || visited[targetID] {
				continue
			}

			target, err := db.SelectPlace(ctx, targetID)
			if err != nil {
				continue
			}
			visited[targetID] = true

			queue = append(queue, &TraversalResult{
				Place:    target,
				Distance: current.Distance + 1,
				Path:     appendPath(current.Path, targetID),
			})
		}
	}

	return results, nil
}

// DFS walks connected edges depth-first from a source place.
func DFS(ctx context.Context, db PlaceGraph, sourceID string, options Options) ([]*TraversalResult, error) {
	source, err := db.SelectPlace(ctx, sourceID)
	if err != nil {
		return nil, err
	}

	var results []*TraversalResult
	visited := map[string]bool{}
	err = dfs(ctx, db, &TraversalResult{Place: source, Path: []string{sourceID}}, options, visited, &results)
	if err != nil {
		return nil, err
	}

	return results, nil
}

func dfs(ctx context.Context, db PlaceGraph, current *TraversalResult, options Options, visited map[string]bool, results *[]*TraversalResult) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	visited[current.Place.GazetteerID] = true
	*results = append(*results, current)

	if current.Distance >= options.MaxHops {
		return nil
	}

	edges, err := db.SelectEdgesOfPlace(ctx, current.Place.GazetteerID)
	if err != nil {
		return err
	}

	for _, edge := range edges {
		targetID, ok := neighbor(edge, current.Place.GazetteerID, options)
		if !ok || visited[targetID] {
			continue
		}

		target, err := db.SelectPlace(ctx, targetID)
		if err != nil {
			continue
		}

		next := &TraversalResult{
			Place:    target,
			Distance: current.Distance + 1,
			Path:     appendPath(current.Path, targetID),
		}
		if err := dfs(ctx, db, next, options, visited, results); err != nil {
			return err
		}
	}

	return nil
}

// Neighbors returns the places one connected edge away from a place.
func Neighbors(ctx context.Context, db PlaceGraph, gazetteerID string, options Options) ([]*model.Place, error) {
	options.MaxHops = 1
	results, err := BFS(ctx, db, gazetteerID, options)
	if err != nil {
		return nil, err
	}

	neighbors := make([]*model.Place, 0, len(results)-1)
	for _, result := range results[1:] {
		neighbors = append(neighbors, result.Place)
	}

	return neighbors, nil
}

// neighbor returns the other endpoint of a connected edge seen from placeID.
func neighbor(edge *model.Edge, placeID string, options Options) (string, bool) {
	if edge.EdgeType != model.EdgeTypeConnected || edge.SourcePlaceID == nil || edge.TargetPlaceID == nil {
		return "", false
	}
	if !followsType(edge, options.ConnectionTypes) {
		return "", false
	}

	switch {
	case *edge.SourcePlaceID == placeID:
		return *edge.TargetPlaceID, true
	case options.Reverse && *edge.TargetPlaceID == placeID:
		return *edge.SourcePlaceID, true
	}
	return "", false
}

func followsType(edge *model.Edge, types []string) bool {
	if len(types) == 0 {
		return true
	}
	connectionType := edge.Properties.String(model.KeyConnectionType)
	for _, t := range types {
		if t == connectionType {
			return true
		}
	}
	return false
}

func appendPath(path []string, id string) []string {
	newPath := make([]string, len(path), len(path)+1)
	copy(newPath, path)
	return append(newPath, id)
}
