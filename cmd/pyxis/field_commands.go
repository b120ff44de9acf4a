package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"pyxis/internal/field"
	"pyxis/internal/geo"
	"pyxis/internal/registry"
)

func newFieldCommand(ctx *commandContext) *cobra.Command {
	fieldCmd := &cobra.Command{
		Use:   "field",
		Short: "Read canonical field identities",
	}

	fieldCmd.AddCommand(newFieldShowCommand(ctx))
	fieldCmd.AddCommand(newFieldListCommand(ctx))
	fieldCmd.AddCommand(newFieldNearestCommand(ctx))
	fieldCmd.AddCommand(newFieldRemergeCommand(ctx))

	return fieldCmd
}

type identityView struct {
	ID           int64          `json:"id"`
	Code         string         `json:"code"`
	Name         string         `json:"name,omitempty"`
	Country      string         `json:"country,omitempty"`
	CentroidCell string         `json:"centroid_cell,omitempty"`
	Geometry     string         `json:"geometry,omitempty"`
	Attributes   map[string]any `json:"attributes,omitempty"`
	Distance     *int           `json:"distance,omitempty"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

type observationView struct {
	ID         int64          `json:"id"`
	BatchID    int64          `json:"batch_id"`
	Name       string         `json:"name,omitempty"`
	Country    string         `json:"country,omitempty"`
	Attributes map[string]any `json:"attributes,omitempty"`
	Additional map[string]any `json:"additional,omitempty"`
}

func newIdentityView(identity field.Identity, withGeometry bool) identityView {
	view := identityView{
		ID:           identity.ID,
		Code:         identity.Code,
		Name:         identity.Name,
		Country:      identity.Country,
		CentroidCell: identity.CentroidCell,
		Attributes:   plainAttributes(identity.Attributes),
		UpdatedAt:    identity.UpdatedAt,
	}
	if withGeometry && identity.HasGeometry() {
		if shape, err := geo.Normalize(identity.Geometry); err == nil && shape != nil {
			view.Geometry = shape.WKT()
		}
	}
	return view
}

func plainAttributes(attrs field.Attributes) map[string]any {
	if len(attrs) == 0 {
		return nil
	}
	out := make(map[string]any, len(attrs))
	for _, key := range attrs.Keys() {
		out[key] = attrs.Get(key).Any()
	}
	return out
}

func newFieldShowCommand(ctx *commandContext) *cobra.Command {
	var withObservations bool

	cmd := &cobra.Command{
		Use:   "show <id-or-code>",
		Short: "Show one canonical field",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := ctx.ensureService(cmd.Context())
			if err != nil {
				return err
			}
			identity, err := svc.GetCanonical(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			view := newIdentityView(identity, true)
			var observations []observationView
			if withObservations {
				obs, err := svc.Observations(cmd.Context(), identity.ID)
				if err != nil {
					return err
				}
				for _, o := range obs {
					observations = append(observations, observationView{
						ID:         o.ID,
						BatchID:    o.BatchID,
						Name:       o.Name,
						Country:    o.Country,
						Attributes: plainAttributes(o.Attributes),
						Additional: plainAttributes(o.Additional),
					})
				}
			}
			if ctx.jsonOutput() {
				if withObservations {
					return writeJSON(cmd, map[string]any{"field": view, "observations": observations})
				}
				return writeJSON(cmd, view)
			}
			out := cmd.OutOrStdout()
			printIdentity(out, view, identity.Attributes)
			if withObservations {
				rows := make([][]string, 0, len(observations))
				for _, o := range observations {
					rows = append(rows, []string{strconv.FormatInt(o.ID, 10), strconv.FormatInt(o.BatchID, 10), o.Name, o.Country})
				}
				fmt.Fprintln(out, renderTable(out, []string{"Observation", "Batch", "Name", "Country"}, rows, []columnAlignment{alignRight, alignRight}))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&withObservations, "observations", false, "Include the contributing observations")
	return cmd
}

func printIdentity(out io.Writer, view identityView, attrs field.Attributes) {
	fmt.Fprintf(out, "Field %s (id %d)\n", view.Code, view.ID)
	fmt.Fprintf(out, "Name: %s\n", orDash(view.Name))
	fmt.Fprintf(out, "Country: %s\n", orDash(view.Country))
	fmt.Fprintf(out, "Centroid cell: %s\n", orDash(view.CentroidCell))
	if view.Geometry != "" {
		fmt.Fprintf(out, "Geometry: %s\n", truncate(view.Geometry, 120))
	}
	if len(attrs) > 0 {
		rows := make([][]string, 0, len(attrs))
		for _, key := range attrs.Keys() {
			rows = append(rows, []string{key, attrs.Get(key).String()})
		}
		fmt.Fprintln(out, renderTable(out, []string{"Attribute", "Value"}, rows, nil))
	}
}

func newFieldListCommand(ctx *commandContext) *cobra.Command {
	var filter registry.Filter

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List canonical fields",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := ctx.ensureService(cmd.Context())
			if err != nil {
				return err
			}
			identities, err := svc.ListCanonical(cmd.Context(), filter)
			if err != nil {
				return err
			}
			views := make([]identityView, 0, len(identities))
			for _, identity := range identities {
				views = append(views, newIdentityView(identity, false))
			}
			if ctx.jsonOutput() {
				return writeJSON(cmd, views)
			}
			return printIdentityTable(cmd.OutOrStdout(), views)
		},
	}

	cmd.Flags().StringVar(&filter.Country, "country", "", "Only fields in this country")
	cmd.Flags().StringVar(&filter.Name, "name", "", "Only fields whose name contains this text")
	cmd.Flags().IntVar(&filter.Limit, "limit", 0, "Maximum number of fields (0 for all)")
	return cmd
}

func newFieldNearestCommand(ctx *commandContext) *cobra.Command {
	var ring, limit int

	cmd := &cobra.Command{
		Use:   "nearest <lat> <lon>",
		Short: "List fields closest to a point by grid distance",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			lat, err := strconv.ParseFloat(strings.TrimSpace(args[0]), 64)
			if err != nil || lat < -90 || lat > 90 {
				return fmt.Errorf("invalid latitude %q", args[0])
			}
			lon, err := strconv.ParseFloat(strings.TrimSpace(args[1]), 64)
			if err != nil || lon < -180 || lon > 180 {
				return fmt.Errorf("invalid longitude %q", args[1])
			}
			svc, err := ctx.ensureService(cmd.Context())
			if err != nil {
				return err
			}
			nearby, err := svc.NearestCanonical(cmd.Context(), lat, lon, ring, limit)
			if err != nil {
				return err
			}
			views := make([]identityView, 0, len(nearby))
			for _, n := range nearby {
				view := newIdentityView(n.Identity, false)
				distance := n.Distance
				view.Distance = &distance
				views = append(views, view)
			}
			if ctx.jsonOutput() {
				return writeJSON(cmd, views)
			}
			return printIdentityTable(cmd.OutOrStdout(), views)
		},
	}

	cmd.Flags().IntVar(&ring, "ring", 0, "Search radius in grid cells (0 uses spatial.nearest_ring)")
	cmd.Flags().IntVar(&limit, "limit", 10, "Maximum number of fields")
	return cmd
}

func newFieldRemergeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "remerge <id-or-code>",
		Short: "Recompute a field from all of its observations",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := ctx.ensureService(cmd.Context())
			if err != nil {
				return err
			}
			identity, err := svc.GetCanonical(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			changes, err := svc.Remerge(cmd.Context(), identity.ID)
			if err != nil {
				return err
			}
			if ctx.jsonOutput() {
				return writeJSON(cmd, map[string]any{
					"id":               identity.ID,
					"changed":          plainAttributes(changes.Attributes),
					"geometry_changed": changes.Geometry != nil,
				})
			}
			out := cmd.OutOrStdout()
			if changes.Empty() {
				fmt.Fprintf(out, "Field %s unchanged\n", identity.Code)
				return nil
			}
			fmt.Fprintf(out, "Field %s updated: %s\n", identity.Code, strings.Join(changedNames(changes), ", "))
			return nil
		},
	}
}

func changedNames(changes field.Changes) []string {
	names := changes.Attributes.Keys()
	if changes.Geometry != nil {
		names = append(names, field.AttrGeometry)
	}
	return names
}

func printIdentityTable(out io.Writer, views []identityView) error {
	if len(views) == 0 {
		fmt.Fprintln(out, "No fields")
		return nil
	}
	withDistance := views[0].Distance != nil
	headers := []string{"ID", "Code", "Name", "Country", "Cell"}
	aligns := []columnAlignment{alignRight}
	if withDistance {
		headers = append(headers, "Distance")
		aligns = append(aligns, alignLeft, alignLeft, alignLeft, alignLeft, alignRight)
	}
	rows := make([][]string, 0, len(views))
	for _, v := range views {
		row := []string{strconv.FormatInt(v.ID, 10), v.Code, orDash(v.Name), orDash(v.Country), orDash(v.CentroidCell)}
		if withDistance {
			row = append(row, strconv.Itoa(*v.Distance))
		}
		rows = append(rows, row)
	}
	_, err := fmt.Fprintln(out, renderTable(out, headers, rows, aligns))
	return err
}

func orDash(value string) string {
	if strings.TrimSpace(value) == "" {
		return "-"
	}
	return value
}

func truncate(value string, limit int) string {
	if len(value) <= limit {
		return value
	}
	return value[:limit] + "..."
}
