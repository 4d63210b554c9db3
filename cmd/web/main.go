package main

import (
	"context"
	"flag"
	"log"

	"f0oster/locmaster/config"
	"f0oster/locmaster/docstore/postgres"
	"f0oster/locmaster/events"
	"f0oster/locmaster/hierarchy"
	"f0oster/locmaster/history"
	"f0oster/locmaster/locations"
	"f0oster/locmaster/massupdate"
	"f0oster/locmaster/records"
	"f0oster/locmaster/web"
)

// enricher resolves the display lookups upcoming-event rows need.
type enricher struct {
	locs *locations.Repository
	mus  *massupdate.Coordinator
}

func (e enricher) LocationName(ctx context.Context, nodeID string) (string, error) {
	return e.locs.NodeName(ctx, nodeID)
}

func (e enricher) MassUpdateTitle(ctx context.Context, massUpdateID string) (string, error) {
	return e.mus.MassUpdateTitle(ctx, massUpdateID)
}

func main() {
	addr := flag.String("addr", "", "Listen address for the API server (overrides LOCMASTER_LISTEN_ADDR)")
	flag.Parse()

	cfg := config.LoadEnvConfig("settings.env")
	if *addr != "" {
		cfg.ListenAddr = *addr
	}

	ctx := context.Background()
	docs, err := postgres.Connect(ctx, cfg.LocMasterDsn)
	if err != nil {
		log.Fatalf("failed to connect to document store: %v", err)
	}
	defer docs.Close()

	store := records.NewStore(docs)
	recorder := history.NewRecorder(docs)
	locs := locations.NewRepository(store)
	evs := events.NewRepository(store)
	mus := massupdate.NewCoordinator(store, locs, evs, recorder)
	evs.SetEnricher(enricher{locs: locs, mus: mus})
	engine := hierarchy.NewEngine(locs, evs, recorder)

	server := web.NewServer(engine, evs, mus, recorder, cfg.ListenAddr)
	log.Printf("Starting master-data API at http://localhost%s", cfg.ListenAddr)
	if err := server.Start(); err != nil {
		log.Fatalf("API server error: %v", err)
	}
}
