package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	"github.com/transitcore/departures-api/api/handlers"
	"github.com/transitcore/departures-api/internal/models"
	"github.com/transitcore/departures-api/internal/refresh"
	"github.com/transitcore/departures-api/pkg/transit"
)

func main() {
	var (
		port       = flag.String("port", "8080", "Server port")
		dataDir    = flag.String("data-dir", "data/gtfs", "Directory GTFS bundles are swapped into")
		stationCSV = flag.String("station-details", "data/stations.csv", "Curated subway station CSV path")
		geoFile    = flag.String("borough-geojson", "data/boroughs.geojson", "Borough polygon GeoJSON path")
		geoProp    = flag.String("borough-property", "boro_name", "GeoJSON feature property holding the borough name")
		cronSpec   = flag.String("refresh-cron", "0 3 * * *", "Cron expression for the bundle refresh")
		feedTTL    = flag.Duration("feed-ttl", 20*time.Second, "Realtime feed cache TTL")
		subwayZip  = flag.String("subway-zip-url", "", "Subway static GTFS zip URL")
		lirrZip    = flag.String("lirr-zip-url", "", "LIRR static GTFS zip URL")
		mnrZip     = flag.String("mnr-zip-url", "", "MNR static GTFS zip URL")
	)
	flag.Parse()

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

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	config := transit.Config{
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
			CronSpec:           *cronSpec,
		},
		FeedTTL: *feedTTL,
	}

	client, err := transit.NewLocal(ctx, config)
	if err != nil {
		log.Fatalf("Failed to build transit client: %v", err)
	}
	defer client.Close()

	r := mux.NewRouter()
	h := handlers.NewHandler(client)
	h.RegisterRoutes(r)

	r.Use(loggingMiddleware)
	r.Use(corsMiddleware)

	srv := &http.Server{
		Addr:         ":" + *port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Server starting on port %s", *port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Printf("%s %s %s", r.Method, r.RequestURI, time.Since(start))
	})
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
