package locations_test

import (
	"context"
	"testing"

	"f0oster/locmaster/docstore/memstore"
	"f0oster/locmaster/locations"
	"f0oster/locmaster/records"
)

func seedRepo(t *testing.T) *locations.Repository {
	t.Helper()
	repo := locations.NewRepository(records.NewStore(memstore.NewStore()))
	ctx := context.Background()
	nodes := []*locations.LocationNode{
		{NodeID: "C1", Type: locations.TypeCampus, Name: "Main Campus"},
		{NodeID: "R1", Type: locations.TypeRegion, Name: "North", CampusID: "C1"},
		{NodeID: "R2", Type: locations.TypeRegion, Name: "South", CampusID: "C1"},
		{NodeID: "L1", Type: locations.TypeChildLocation, Name: "Downtown", CampusID: "C1", RegionID: "R1",
			City: "Omaha", State: "NE", Country: "US", KOB: "retail", LocationType: "store", CostCenterID: "CC1",
			EventRefs: []string{"ev-1"}},
		{NodeID: "L2", Type: locations.TypeChildLocation, Name: "Airport", CampusID: "C1", RegionID: "R1",
			City: "Omaha", State: "NE", Country: "US", KOB: "retail", LocationType: "kiosk", CostCenterID: "CC2"},
		{NodeID: "L3", Type: locations.TypeChildLocation, Name: "Mall", CampusID: "C1", RegionID: "R2",
			City: "Lincoln", State: "NE", Country: "US", KOB: "outlet", LocationType: "store", CostCenterID: "CC3"},
	}
	for _, n := range nodes {
		if err := repo.Create(ctx, "seed", n); err != nil {
			t.Fatalf("seed %s: %v", n.NodeID, err)
		}
	}
	return repo
}

func nodeIDs(nodes []*locations.LocationNode) []string {
	out := make([]string, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, n.NodeID)
	}
	return out
}

func sameIDs(got []string, want ...string) bool {
	if len(got) != len(want) {
		return false
	}
	seen := map[string]bool{}
	for _, id := range got {
		seen[id] = true
	}
	for _, id := range want {
		if !seen[id] {
			return false
		}
	}
	return true
}

func TestDescendants(t *testing.T) {
	repo := seedRepo(t)
	ctx := context.Background()

	campus, err := repo.GetActive(ctx, locations.TypeCampus, "C1")
	if err != nil {
		t.Fatalf("load campus: %v", err)
	}
	desc, err := repo.Descendants(ctx, campus)
	if err != nil {
		t.Fatalf("Descendants: %v", err)
	}
	if !sameIDs(nodeIDs(desc), "R1", "R2", "L1", "L2", "L3") {
		t.Fatalf("campus descendants %v, want both regions and all children", nodeIDs(desc))
	}

	region, err := repo.GetActive(ctx, locations.TypeRegion, "R1")
	if err != nil {
		t.Fatalf("load region: %v", err)
	}
	desc, err = repo.Descendants(ctx, region)
	if err != nil {
		t.Fatalf("Descendants: %v", err)
	}
	if !sameIDs(nodeIDs(desc), "L1", "L2") {
		t.Fatalf("region descendants %v, want its children only", nodeIDs(desc))
	}

	child, err := repo.GetActive(ctx, locations.TypeChildLocation, "L1")
	if err != nil {
		t.Fatalf("load child: %v", err)
	}
	desc, err = repo.Descendants(ctx, child)
	if err != nil {
		t.Fatalf("Descendants: %v", err)
	}
	if len(desc) != 0 {
		t.Fatalf("child descendants %v, want none", nodeIDs(desc))
	}
}

func TestSelect(t *testing.T) {
	repo := seedRepo(t)
	ctx := context.Background()

	tests := []struct {
		name string
		sel  locations.Selection
		want []string
	}{
		{name: "by city", sel: locations.Selection{Cities: []string{"Omaha"}}, want: []string{"L1", "L2"}},
		{name: "by state", sel: locations.Selection{States: []string{"NE"}}, want: []string{"L1", "L2", "L3"}},
		{name: "criteria are conjunctive", sel: locations.Selection{Cities: []string{"Omaha"}, LocationTypes: []string{"store"}}, want: []string{"L1"}},
		{name: "by kob", sel: locations.Selection{KOBs: []string{"outlet"}}, want: []string{"L3"}},
		{name: "by cost center", sel: locations.Selection{CostCenterIDs: []string{"CC2", "CC3"}}, want: []string{"L2", "L3"}},
		{name: "by explicit nodes", sel: locations.Selection{NodeIDs: []string{"L1", "L3"}}, want: []string{"L1", "L3"}},
		{name: "by event reference", sel: locations.Selection{EventRefs: []string{"ev-1"}}, want: []string{"L1"}},
		{name: "exclusion wins", sel: locations.Selection{States: []string{"NE"}, ExcludeNodeIDs: []string{"L2"}}, want: []string{"L1", "L3"}},
		{name: "no match", sel: locations.Selection{Cities: []string{"Nowhere"}}, want: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := repo.Select(ctx, tt.sel)
			if err != nil {
				t.Fatalf("Select: %v", err)
			}
			if !sameIDs(nodeIDs(got), tt.want...) {
				t.Fatalf("got %v, want %v", nodeIDs(got), tt.want)
			}
		})
	}
}

func TestReferencing(t *testing.T) {
	repo := seedRepo(t)
	ctx := context.Background()

	got, err := repo.Referencing(ctx, []string{"ev-1", "ev-unknown"})
	if err != nil {
		t.Fatalf("Referencing: %v", err)
	}
	if !sameIDs(nodeIDs(got), "L1") {
		t.Fatalf("got %v, want only the carrier", nodeIDs(got))
	}

	none, err := repo.Referencing(ctx, nil)
	if err != nil {
		t.Fatalf("Referencing: %v", err)
	}
	if len(none) != 0 {
		t.Fatalf("got %v, want none for an empty id list", nodeIDs(none))
	}
}

func TestNodeName(t *testing.T) {
	repo := seedRepo(t)
	ctx := context.Background()

	name, err := repo.NodeName(ctx, "L3")
	if err != nil {
		t.Fatalf("NodeName: %v", err)
	}
	if name != "Mall" {
		t.Fatalf("got %q, want Mall", name)
	}
	if _, err := repo.NodeName(ctx, "missing"); err == nil {
		t.Fatal("expected an error for an unknown node")
	}
}
