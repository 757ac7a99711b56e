package feedcache

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	gtfsrt "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"google.golang.org/protobuf/encoding/protowire"
	"google.golang.org/protobuf/proto"
)

func buildNyctTripDescriptorBytes(tripID string, trainID string, isAssigned bool, direction uint64) []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendString(b, tripID)

	var ext []byte
	ext = protowire.AppendTag(ext, nyctFieldTrainID, protowire.BytesType)
	ext = protowire.AppendString(ext, trainID)
	ext = protowire.AppendTag(ext, nyctFieldIsAssigned, protowire.VarintType)
	v := uint64(0)
	if isAssigned {
		v = 1
	}
	ext = protowire.AppendVarint(ext, v)
	ext = protowire.AppendTag(ext, nyctFieldDirection, protowire.VarintType)
	ext = protowire.AppendVarint(ext, direction)

	b = protowire.AppendTag(b, nyctTripDescriptorExtField, protowire.BytesType)
	b = protowire.AppendBytes(b, ext)
	return b
}

func TestExtractNyctTripExtensionRoundTrip(t *testing.T) {
	raw := buildNyctTripDescriptorBytes("123450_A..N", "5432", true, nyctDirectionNorth)

	var desc gtfsrt.TripDescriptor
	if err := proto.Unmarshal(raw, &desc); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	ext := ExtractTripExtension(&desc, "nyct")
	if ext.TrainID == nil || *ext.TrainID != "5432" {
		t.Errorf("TrainID = %v, want 5432", ext.TrainID)
	}
	if !ext.IsAssigned {
		t.Error("IsAssigned = false, want true")
	}
	if ext.Direction == nil || *ext.Direction != "N" {
		t.Errorf("Direction = %v, want N", ext.Direction)
	}
}

func TestExtractNyctStopTimeExtensionPrefersActualTrack(t *testing.T) {
	var ext []byte
	ext = protowire.AppendTag(ext, nyctFieldScheduledTrack, protowire.BytesType)
	ext = protowire.AppendString(ext, "1")
	ext = protowire.AppendTag(ext, nyctFieldActualTrack, protowire.BytesType)
	ext = protowire.AppendString(ext, "2")

	var raw []byte
	raw = protowire.AppendTag(raw, nyctStopTimeUpdateExtField, protowire.BytesType)
	raw = protowire.AppendBytes(raw, ext)

	var stu gtfsrt.TripUpdate_StopTimeUpdate
	if err := proto.Unmarshal(raw, &stu); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	got := ExtractStopTimeExtension(&stu, "nyct")
	if got.Track == nil || *got.Track != "2" {
		t.Errorf("Track = %v, want 2 (actual track preferred over scheduled)", got.Track)
	}
}

func TestExtractTripExtensionMissingFieldsYieldsZeroValue(t *testing.T) {
	var desc gtfsrt.TripDescriptor
	ext := ExtractTripExtension(&desc, "nyct")
	if ext.TrainID != nil || ext.IsAssigned || ext.Direction != nil {
		t.Errorf("expected zero-value extension, got %+v", ext)
	}
}

func TestExtractTripExtensionUnknownKeyYieldsZeroValue(t *testing.T) {
	var desc gtfsrt.TripDescriptor
	ext := ExtractTripExtension(&desc, "amtrak")
	if ext.TrainID != nil {
		t.Errorf("unrecognized extension key should yield zero value, got %+v", ext)
	}
}

func TestFetchRejectsHTMLErrorPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte("<html>upstream is down</html>"))
	}))
	defer srv.Close()

	c := New(0)
	feed, err := c.Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if feed != nil {
		t.Errorf("expected nil feed for html error page, got %+v", feed)
	}
}

func TestFetchDecodesValidFeed(t *testing.T) {
	msg := &gtfsrt.FeedMessage{
		Header: &gtfsrt.FeedHeader{
			GtfsRealtimeVersion: proto.String("2.0"),
		},
		Entity: []*gtfsrt.FeedEntity{
			{Id: proto.String("1")},
		},
	}
	body, err := proto.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-protobuf")
		w.Write(body)
	}))
	defer srv.Close()

	c := New(0)
	feed, err := c.Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if feed == nil || len(feed.Entities()) != 1 {
		t.Fatalf("expected 1 entity, got %+v", feed)
	}
}

func TestFetchCachesSecondCall(t *testing.T) {
	calls := 0
	msg := &gtfsrt.FeedMessage{
		Header: &gtfsrt.FeedHeader{GtfsRealtimeVersion: proto.String("2.0")},
		Entity: []*gtfsrt.FeedEntity{{Id: proto.String("1")}},
	}
	body, _ := proto.Marshal(msg)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Write(body)
	}))
	defer srv.Close()

	c := New(0)
	ctx := context.Background()
	if _, err := c.Fetch(ctx, srv.URL); err != nil {
		t.Fatalf("first fetch: %v", err)
	}
	if _, err := c.Fetch(ctx, srv.URL); err != nil {
		t.Fatalf("second fetch: %v", err)
	}
	if calls != 1 {
		t.Errorf("expected cache hit on second call, server saw %d requests", calls)
	}
}
