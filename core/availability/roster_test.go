package availability

import (
	"context"
	"testing"
	"time"

	"github.com/secutrans/convoy/core/model"
)

func TestRosterFiltersKindCapacityAndDates(t *testing.T) {
	r := NewRoster()
	r.Add(Resource{ID: "v1", Kind: model.KindLeadVehicle, Capacity: 2, VehicleType: "armored"})
	r.Add(Resource{ID: "v2", Kind: model.KindLeadVehicle, Capacity: 4, VehicleType: "armored"})
	r.Add(Resource{ID: "c1", Kind: model.KindCrew, Capacity: 3})

	date := model.NewDate(2024, time.March, 5)
	ctx := context.Background()

	leads, err := r.QueryAvailable(ctx, date, model.KindLeadVehicle, 3)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(leads) != 1 || leads[0].ID != "v2" {
		t.Fatalf("capacity filter wrong: %+v", leads)
	}

	r.MarkOut("v2", date)
	leads, _ = r.QueryAvailable(ctx, date, model.KindLeadVehicle, 0)
	if len(leads) != 1 || leads[0].ID != "v1" {
		t.Fatalf("out-of-service filter wrong: %+v", leads)
	}
	// Other dates unaffected.
	leads, _ = r.QueryAvailable(ctx, date.AddDays(1), model.KindLeadVehicle, 0)
	if len(leads) != 2 {
		t.Fatalf("out-of-service leaked to other dates: %+v", leads)
	}
	r.MarkIn("v2", date)

	r.SetOnline("v1", false)
	leads, _ = r.QueryAvailable(ctx, date, model.KindLeadVehicle, 0)
	if len(leads) != 1 || leads[0].ID != "v2" {
		t.Fatalf("offline filter wrong: %+v", leads)
	}
}
