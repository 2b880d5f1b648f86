package cmd

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/kilianp07/wastedispatch/core/geoindex"
	"github.com/kilianp07/wastedispatch/core/model"
)

var collectorsFlags struct {
	lat, lng, radius float64
	org              string
	all              bool
}

var collectorsCmd = &cobra.Command{
	Use:   "collectors",
	Short: "List collectors around a point, nearest first",
	RunE:  runCollectors,
}

func init() {
	f := collectorsCmd.Flags()
	f.Float64Var(&collectorsFlags.lat, "lat", 0, "latitude of the center")
	f.Float64Var(&collectorsFlags.lng, "lng", 0, "longitude of the center")
	f.Float64Var(&collectorsFlags.radius, "radius", 5000, "radius in meters")
	f.StringVar(&collectorsFlags.org, "org", "", "organization filter")
	f.BoolVar(&collectorsFlags.all, "all", false, "include off-duty collectors")
	_ = collectorsCmd.MarkFlagRequired("lat")
	_ = collectorsCmd.MarkFlagRequired("lng")
	rootCmd.AddCommand(collectorsCmd)
}

func runCollectors(cmd *cobra.Command, args []string) error {
	center := model.Point{Lat: collectorsFlags.lat, Lng: collectorsFlags.lng}
	if err := center.Validate(); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
	defer cancel()

	svc, err := open(ctx)
	if err != nil {
		return err
	}
	defer closeService(svc)

	cs, err := svc.Fleet.QueryWithinRadius(ctx, center, collectorsFlags.radius, geoindex.Filter{
		OrganizationID: collectorsFlags.org,
		OnDutyOnly:     !collectorsFlags.all,
	})
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tON DUTY\tACTIVE\tDISTANCE (m)")
	for _, c := range cs {
		dist := "-"
		if c.Position != nil {
			dist = fmt.Sprintf("%.0f", model.DistanceMeters(center, c.Position.Point))
		}
		fmt.Fprintf(w, "%s\t%t\t%d\t%s\n", c.ID, c.OnDuty, c.ActiveMissions, dist)
	}
	return w.Flush()
}
