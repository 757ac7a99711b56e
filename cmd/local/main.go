package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/transitcore/departures-api/internal/models"
	"github.com/transitcore/departures-api/internal/refresh"
	"github.com/transitcore/departures-api/internal/resolver"
	"github.com/transitcore/departures-api/pkg/transit"
)

func main() {
	var (
		stationKey = flag.String("station", "", "Unique station key, e.g. SUBWAY-127")
		limit      = flag.Int("limit-minutes", 30, "Departure window in minutes")
		dataDir    = flag.String("data-dir", "data/gtfs", "Directory GTFS bundles are swapped into")
		stationCSV = flag.String("station-details", "data/stations.csv", "Curated subway station CSV path")
		geoFile    = flag.String("borough-geojson", "data/boroughs.geojson", "Borough polygon GeoJSON path")
		geoProp    = flag.String("borough-property", "boro_name", "GeoJSON feature property holding the borough name")
		subwayZip  = flag.String("subway-zip-url", "", "Subway static GTFS zip URL")
		lirrZip    = flag.String("lirr-zip-url", "", "LIRR static GTFS zip URL")
		mnrZip     = flag.String("mnr-zip-url", "", "MNR static GTFS zip URL")
	)
	flag.Parse()

	if *stationKey == "" {
		log.Fatal("-station is required, e.g. -station SUBWAY-127")
	}
	if *subwayZip == "" {
		*subwayZip = os.Getenv("SUBWAY_STATIC_ZIP_URL")
	}
	if *lirrZip == "" {
		*lirrZip = os.Getenv("LIRR_STATIC_ZIP_URL")
	}
	if *mnrZip == "" {
		*mnrZip = os.Getenv("MNR_STATIC_ZIP_URL")
	}
	if *subwayZip == "" || *lirrZip == "" || *mnrZip == "" {
		log.Fatal("all three static zip URLs are required (flags or SUBWAY_STATIC_ZIP_URL / LIRR_STATIC_ZIP_URL / MNR_STATIC_ZIP_URL)")
	}

	ctx := context.Background()

	client, err := transit.NewLocal(ctx, transit.Config{
		Refresh: refresh.Config{
			Sources: map[models.System]refresh.BundleSource{
				models.Subway: {StaticZipURL: *subwayZip},
				models.LIRR:   {StaticZipURL: *lirrZip},
				models.MNR:    {StaticZipURL: *mnrZip},
			},
			DataDir:            *dataDir,
			StationDetailsPath: *stationCSV,
			GeoFilePath:        *geoFile,
			GeoBoroughProperty: *geoProp,
		},
		FeedTTL: 20 * time.Second,
	})
	if err != nil {
		log.Fatalf("Failed to build transit client: %v", err)
	}
	defer client.Close()

	departures, err := client.DeparturesForStation(ctx, resolver.Request{
		UniqueStationKey: *stationKey,
		LimitMinutes:     limit,
	})
	if err != nil {
		log.Fatalf("Failed to resolve departures: %v", err)
	}

	fmt.Printf("\nDepartures for %s:\n", *stationKey)
	for _, d := range departures {
		fmt.Printf("  %-10s %-20s %-10s %s\n", d.RouteShortName, d.Destination, d.Direction, d.Status)
	}
}
