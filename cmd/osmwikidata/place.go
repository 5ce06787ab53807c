package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/tilmanb/osm-wikidata/pkg/geo"
	"github.com/tilmanb/osm-wikidata/pkg/model"
	"github.com/tilmanb/osm-wikidata/pkg/pipeline"
)

func newPlaceCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "place",
		Short: "Manage and match places",
	}
	cmd.AddCommand(newPlaceAddCmd(configPath), newPlaceListCmd(configPath), newPlaceRunCmd(configPath))
	return cmd
}

func newPlaceAddCmd(configPath *string) *cobra.Command {
	var (
		p            model.Place
		boundaryPath string
	)
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Register a place from a GeoJSON boundary",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, err := os.ReadFile(boundaryPath)
			if err != nil {
				return fmt.Errorf("failed to read boundary: %w", err)
			}
			b, err := geo.ParseBoundary(data)
			if err != nil {
				return err
			}
			bb := b.Bound()
			p.South, p.West, p.North, p.East = bb.South, bb.West, bb.North, bb.East
			p.Area = b.Area()
			p.Boundary = string(data)
			p.AddedAt = time.Now().UTC()

			a, err := newApp(cmd.Context(), *configPath, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.store.SavePlace(cmd.Context(), &p); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Added place %d (%s), %.1f km²\n", p.PlaceID, p.Name(), p.AreaKm2())
			return nil
		},
	}
	f := cmd.Flags()
	f.Int64Var(&p.PlaceID, "id", 0, "place id")
	f.StringVar(&p.OSMType, "osm-type", "relation", "boundary element type")
	f.Int64Var(&p.OSMID, "osm-id", 0, "boundary element id")
	f.StringVar(&p.DisplayName, "name", "", "display name")
	f.StringVar(&boundaryPath, "boundary", "", "GeoJSON polygon or multipolygon file")
	_ = cmd.MarkFlagRequired("id")
	_ = cmd.MarkFlagRequired("boundary")
	return cmd
}

func newPlaceListCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List places and their stage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context(), *configPath, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			places, err := a.store.ListPlaces(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, p := range places {
				state := string(p.State)
				if state == "" {
					state = "-"
				}
				fmt.Fprintf(out, "%d\t%s\t%s\titems=%d\tcandidates=%d\n", p.PlaceID, state, p.Name(), p.ItemCount, p.CandidateCount)
			}
			return nil
		},
	}
}

func newPlaceRunCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run <place-id>",
		Short: "Drive a place through every stage up to ready",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var id int64
			if _, err := fmt.Sscanf(args[0], "%d", &id); err != nil || id <= 0 {
				return fmt.Errorf("invalid place id %q", args[0])
			}
			a, err := newApp(cmd.Context(), *configPath, printSink{w: cmd.ErrOrStderr()})
			if err != nil {
				return err
			}
			defer a.Close()
			return runPlace(cmd.Context(), a.runner, id, cmd.OutOrStdout())
		},
	}
}

// stageRunner is the subset of *pipeline.Runner a full run needs.
type stageRunner interface {
	Run(ctx context.Context, placeID int64) (*pipeline.Result, error)
	LoadWikidata(ctx context.Context, placeID int64) (*pipeline.Result, error)
	RunOverpass(ctx context.Context, placeID int64) (*pipeline.Result, error)
	LoadOSM2PGSQL(ctx context.Context, placeID int64) (*pipeline.Result, error)
	Match(ctx context.Context, placeID int64) (*pipeline.Result, error)
	Ready(ctx context.Context, placeID int64) (*pipeline.Result, error)
}

// runPlace runs the stages in order and prints each result. Stages the place
// has already passed are skipped; a failed overpass query ends the run.
func runPlace(ctx context.Context, r stageRunner, id int64, out io.Writer) error {
	stages := []struct {
		name   string
		target model.State
		fn     func(context.Context, int64) (*pipeline.Result, error)
	}{
		{"matcher", model.StateTags, r.Run},
		{"wbgetentities", model.StateWbgetentities, r.LoadWikidata},
		{"overpass", model.StateOverpass, r.RunOverpass},
		{"osm2pgsql", model.StateOSM2PGSQL, r.LoadOSM2PGSQL},
		{"match", model.StateMatch, r.Match},
		{"ready", model.StateReady, r.Ready},
	}

	enc := json.NewEncoder(out)
	current := model.StateNone
	for i, s := range stages {
		if i > 0 && pipeline.Order(current) >= pipeline.Order(s.target) {
			continue
		}
		res, err := s.fn(ctx, id)
		if err != nil {
			return fmt.Errorf("stage %s: %w", s.name, err)
		}
		if err := enc.Encode(res); err != nil {
			return err
		}
		current = res.State
		if current == model.StateOverpassError || current == model.StateOverpassTimeout {
			slog.Warn("Overpass query failed, stopping", "place_id", id, "state", current, "error", res.Error)
			return nil
		}
	}
	return nil
}

// printSink writes progress lines for terminal runs.
type printSink struct {
	w io.Writer
}

func (s printSink) Publish(p pipeline.Progress) {
	if p.Total > 0 {
		fmt.Fprintf(s.w, "[%s] %s (%d/%d)\n", p.Stage, p.Message, p.Done, p.Total)
		return
	}
	fmt.Fprintf(s.w, "[%s] %s\n", p.Stage, p.Message)
}
