package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"f0oster/locmaster/config"
	"f0oster/locmaster/docstore/postgres"
	"f0oster/locmaster/events"
	"f0oster/locmaster/records"
)

// plannedTemplate is one location-unbound Planned event seeded for the
// current calendar year.
type plannedTemplate struct {
	name     string
	month    time.Month
	day      int
	sequence int
}

var defaultTemplates = []plannedTemplate{
	{name: "New Year's Day", month: time.January, day: 1, sequence: 1},
	{name: "Memorial Day", month: time.May, day: 25, sequence: 2},
	{name: "Independence Day", month: time.July, day: 4, sequence: 3},
	{name: "Labor Day", month: time.September, day: 7, sequence: 4},
	{name: "Thanksgiving Day", month: time.November, day: 26, sequence: 5},
	{name: "Christmas Day", month: time.December, day: 25, sequence: 6},
}

func main() {
	reset := flag.Bool("reset", false, "Install the document-store schema (destructive on an existing install)")
	seed := flag.Bool("seed", false, "Seed the current year's Planned event templates")
	flag.Parse()

	cfg := config.LoadEnvConfig("settings.env")

	ctx := context.Background()
	docs, err := postgres.Connect(ctx, cfg.LocMasterDsn)
	if err != nil {
		log.Fatalf("failed to connect to document store: %v", err)
	}
	defer docs.Close()

	if *reset {
		if err := docs.ResetSchema(ctx); err != nil {
			log.Fatalf("failed to install schema: %v", err)
		}
		log.Printf("schema installed")
	}

	if *seed {
		store := records.NewStore(docs)
		evs := events.NewRepository(store)
		if err := seedTemplates(ctx, evs); err != nil {
			log.Fatalf("failed to seed templates: %v", err)
		}
	}

	if !*reset && !*seed {
		flag.Usage()
	}
}

func seedTemplates(ctx context.Context, evs *events.Repository) error {
	existing, err := evs.PlannedEventTemplates(ctx, false)
	if err != nil {
		return err
	}
	seen := map[string]bool{}
	for _, tpl := range existing {
		seen[tpl.Name] = true
	}

	year := time.Now().Year()
	for _, tpl := range defaultTemplates {
		if seen[tpl.name] {
			continue
		}
		day := fmt.Sprintf("%04d-%02d-%02d", year, tpl.month, tpl.day)
		ev := &events.CalendarEvent{
			Type:            events.TypePlanned,
			Name:            tpl.name,
			StartDay:        day,
			EndDay:          day,
			FullDay:         events.FlagYes,
			Closure:         events.FlagYes,
			DisplaySequence: tpl.sequence,
		}
		created, err := evs.Create(ctx, records.SourceSystem, ev)
		if err != nil {
			return err
		}
		log.Printf("seeded template %s (%s)", created.Name, created.BusinessEventID)
	}
	return nil
}
