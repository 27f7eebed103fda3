package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/breatheroute/navcore/internal/directions"
	"github.com/breatheroute/navcore/internal/route"
)

// routeSource selects the route to navigate: a saved directions response or a fresh fetch.
type routeSource struct {
	file       string
	waypoints  string
	profile    string
	routeIndex int
}

func (s routeSource) load(ctx context.Context, fetcher directions.Fetcher) (*route.Route, error) {
	var (
		routes []*route.Route
		err    error
	)
	switch {
	case s.file != "":
		routes, err = readRoutes(s.file, s.profile)
	case s.waypoints != "" && fetcher != nil:
		waypoints, perr := parseWaypoints(s.waypoints)
		if perr != nil {
			return nil, perr
		}
		routes, err = fetcher.Fetch(ctx, directions.Request{Profile: s.profile, Waypoints: waypoints})
	default:
		return nil, errors.New("a route file or waypoints are required")
	}
	if err != nil {
		return nil, err
	}

	if s.routeIndex < 0 || s.routeIndex >= len(routes) {
		return nil, fmt.Errorf("route index %d out of range: %d routes", s.routeIndex, len(routes))
	}
	return routes[s.routeIndex], nil
}

func readRoutes(path, profile string) ([]*route.Route, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading route file: %w", err)
	}
	routes, err := directions.DecodeRoutes(data, profile)
	if err != nil {
		return nil, fmt.Errorf("decoding route file %s: %w", path, err)
	}
	return routes, nil
}
