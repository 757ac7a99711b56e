package gtfscsv

import (
	"strings"
	"testing"
)

func TestReadRoutes(t *testing.T) {
	data := "route_id,route_short_name,route_long_name,route_color,route_text_color,route_type\n" +
		"A,A,8th Avenue,2850C6,FFFFFF,1\n"
	rows, err := ReadRoutes(strings.NewReader(data))
	if err != nil {
		t.Fatalf("ReadRoutes: %v", err)
	}
	if len(rows) != 1 || rows[0].RouteID != "A" || rows[0].Color != "2850C6" {
		t.Errorf("unexpected rows: %+v", rows)
	}
}

func TestReadStopsWithBOM(t *testing.T) {
	data := "﻿stop_id,stop_name,stop_lat,stop_lon,parent_station,location_type\n" +
		"127,Times Sq-42 St,40.755477,-73.987691,127N,0\n"
	rows, err := ReadStops(strings.NewReader(data))
	if err != nil {
		t.Fatalf("ReadStops: %v", err)
	}
	if len(rows) != 1 || rows[0].StopID != "127" {
		t.Errorf("BOM was not stripped correctly: %+v", rows)
	}
}

func TestStreamStopTimesVisitsEveryRow(t *testing.T) {
	data := "trip_id,stop_id,arrival_time,departure_time,stop_sequence,track,pickup_type,drop_off_type,note_id\n" +
		"t1,127N,08:00:00,08:00:00,1,,,,\n" +
		"t1,127S,08:05:00,08:05:00,2,,,,\n"

	var seen []string
	err := StreamStopTimes(strings.NewReader(data), func(row *StopTimeRow) error {
		seen = append(seen, row.StopID)
		return nil
	})
	if err != nil {
		t.Fatalf("StreamStopTimes: %v", err)
	}
	if len(seen) != 2 || seen[0] != "127N" || seen[1] != "127S" {
		t.Errorf("StreamStopTimes visited %v, want [127N 127S]", seen)
	}
}

func TestStreamStopTimesPropagatesCallbackError(t *testing.T) {
	data := "trip_id,stop_id,arrival_time,departure_time,stop_sequence,track,pickup_type,drop_off_type,note_id\n" +
		"t1,127N,08:00:00,08:00:00,1,,,,\n"

	boom := errBoom{}
	err := StreamStopTimes(strings.NewReader(data), func(row *StopTimeRow) error {
		return boom
	})
	if err == nil {
		t.Fatal("expected callback error to propagate")
	}
}

type errBoom struct{}

func (errBoom) Error() string { return "boom" }
