package fleet

import (
	"context"
	"testing"
	"time"

	"github.com/secutrans/convoy/core/availability"
	"github.com/secutrans/convoy/core/model"
	"github.com/secutrans/convoy/infra/logger"
)

func feedWithRoster() (*StatusFeed, *availability.Roster) {
	roster := availability.NewRoster()
	return &StatusFeed{roster: roster, log: logger.NopLogger{}}, roster
}

func TestApplyOnlineRegistersResource(t *testing.T) {
	feed, roster := feedWithRoster()
	err := feed.Apply(StatusMessage{ResourceID: "c1", Kind: "crew", Event: "online"})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}

	crews, err := roster.QueryAvailable(context.Background(), model.NewDate(2024, time.March, 5), model.KindCrew, 0)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(crews) != 1 || crews[0].ID != "c1" {
		t.Fatalf("crews = %v", crews)
	}
}

func TestApplyOutOfServiceScopesToDate(t *testing.T) {
	feed, roster := feedWithRoster()
	if err := feed.Apply(StatusMessage{ResourceID: "v1", Kind: "lead_vehicle", Capacity: 3, Event: "online"}); err != nil {
		t.Fatalf("online: %v", err)
	}

	out := model.NewDate(2024, time.March, 5)
	if err := feed.Apply(StatusMessage{ResourceID: "v1", Event: "out_of_service", Date: out}); err != nil {
		t.Fatalf("out: %v", err)
	}

	ctx := context.Background()
	onOut, _ := roster.QueryAvailable(ctx, out, model.KindLeadVehicle, 0)
	if len(onOut) != 0 {
		t.Fatalf("vehicle available on its out date: %v", onOut)
	}
	nextDay, _ := roster.QueryAvailable(ctx, out.AddDays(1), model.KindLeadVehicle, 0)
	if len(nextDay) != 1 {
		t.Fatalf("out date leaked to other days: %v", nextDay)
	}

	if err := feed.Apply(StatusMessage{ResourceID: "v1", Event: "back_in_service", Date: out}); err != nil {
		t.Fatalf("back: %v", err)
	}
	restored, _ := roster.QueryAvailable(ctx, out, model.KindLeadVehicle, 0)
	if len(restored) != 1 {
		t.Fatalf("vehicle not restored: %v", restored)
	}
}

func TestApplyRejectsMalformedUpdates(t *testing.T) {
	feed, _ := feedWithRoster()
	cases := []StatusMessage{
		{Event: "online", Kind: "crew"},
		{ResourceID: "c1", Event: "online", Kind: "submarine"},
		{ResourceID: "c1", Event: "out_of_service"},
		{ResourceID: "c1", Event: "vanished"},
	}
	for _, msg := range cases {
		if err := feed.Apply(msg); err == nil {
			t.Errorf("message %+v accepted", msg)
		}
	}
}

func TestApplyOffline(t *testing.T) {
	feed, roster := feedWithRoster()
	if err := feed.Apply(StatusMessage{ResourceID: "e1", Kind: "chase_vehicle", Event: "online"}); err != nil {
		t.Fatalf("online: %v", err)
	}
	if err := feed.Apply(StatusMessage{ResourceID: "e1", Event: "offline"}); err != nil {
		t.Fatalf("offline: %v", err)
	}
	got, _ := roster.QueryAvailable(context.Background(), model.NewDate(2024, time.March, 5), model.KindChaseVehicle, 0)
	if len(got) != 0 {
		t.Fatalf("offline resource still available: %v", got)
	}
}
