package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jonathan/planning-ingest/internal/gis"
	"github.com/jonathan/planning-ingest/internal/observability"
)

type gisFlags struct {
	force bool
	urls  []string
	notes []string
}

func newGISCmd(root *rootFlags) *cobra.Command {
	f := &gisFlags{}
	cmd := &cobra.Command{
		Use:   "gis <authority> [layer.geojson...]",
		Short: "Ingest GIS constraint layers for an authority",
		Long: `Loads GeoJSON layers as spatial features for an authority.

Each file's base name is its layer name. Layers can also be fetched with
--url name=https://... . When the authority already has active features the
command does nothing unless --force is given, in which case the existing
features are deactivated first. A malformed layer aborts the whole ingestion.`,
		Example: `  planning_ingest gis camden conservation_areas.geojson flood_zones.geojson
  planning_ingest gis camden --url listed_buildings=https://example.org/lb.geojson --force`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			layers, err := layerSources(args[1:], f.urls, f.notes)
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), appOptions{
				configPath: root.configPath,
				verbose:    root.verbose,
				out:        cmd.OutOrStdout(),
			})
			if err != nil {
				return err
			}
			defer a.Close()

			in := gis.NewIngester(a.store, a.deps.Ledger, nil, a.logger)
			res, err := in.IngestAuthority(cmd.Context(), args[0], layers, f.force)
			if err != nil {
				return err
			}
			lines := make([]observability.LayerLine, 0, len(res.Layers))
			for _, l := range res.Layers {
				lines = append(lines, observability.LayerLine{Name: l.Name, Features: l.Features, Missing: l.Missing})
			}
			a.printer.PrintLayers(res.Authority, res.Skipped, res.Deactivated, lines)
			return nil
		},
	}
	cmd.Flags().BoolVar(&f.force, "force", false, "Replace the authority's active features")
	cmd.Flags().StringArrayVar(&f.urls, "url", nil, "Fetch a layer: name=url (repeatable)")
	cmd.Flags().StringArrayVar(&f.notes, "interpretation", nil, "Describe a layer for link discovery: name=text (repeatable)")
	return cmd
}

// layerSources builds layer sources from file paths and name=url pairs
func layerSources(paths, urls, notes []string) ([]gis.LayerSource, error) {
	interp := make(map[string]string, len(notes))
	for _, n := range notes {
		name, text, ok := strings.Cut(n, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid --interpretation %q: want name=text", n)
		}
		interp[name] = text
	}

	var out []gis.LayerSource
	for _, p := range paths {
		name := strings.TrimSuffix(filepath.Base(p), filepath.Ext(p))
		out = append(out, gis.LayerSource{Name: name, Path: p, Interpretation: interp[name]})
	}
	for _, u := range urls {
		name, raw, ok := strings.Cut(u, "=")
		if !ok || name == "" || raw == "" {
			return nil, fmt.Errorf("invalid --url %q: want name=url", u)
		}
		out = append(out, gis.LayerSource{Name: name, URL: raw, Interpretation: interp[name]})
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("provide at least one layer file or --url")
	}
	return out, nil
}
