package feedcache

import (
	"google.golang.org/protobuf/encoding/protowire"
	"google.golang.org/protobuf/proto"
)

// NYCT and MTARR publish their track/direction/train-status data as
// protobuf extensions of the base GTFS-realtime TripDescriptor and
// StopTimeUpdate messages. The generated Go types from
// MobilityData/gtfs-realtime-bindings don't register those extension
// numbers, so the usual proto.GetExtension path isn't available here.
// Rather than hand-register extension descriptors, we read them the
// way any unrecognized field survives protobuf decoding: as raw bytes
// on the enclosing message's unknown-fields set, then parse them by
// field number with protowire directly. A field that isn't present,
// or doesn't parse as expected, yields a zero value rather than an
// error — callers treat all of this as optional.
const (
	nyctTripDescriptorExtField  = 1001
	nyctStopTimeUpdateExtField  = 1001
	mtarrTripDescriptorExtField = 1001
	mtarrStopTimeUpdateExtField = 1001
)

// nyctTripDescriptor field numbers within the extension submessage.
const (
	nyctFieldTrainID   = 1
	nyctFieldIsAssigned = 2
	nyctFieldDirection  = 3
)

// nyctStopTimeUpdate field numbers within the extension submessage.
const (
	nyctFieldScheduledTrack = 1
	nyctFieldActualTrack    = 2
)

// mtarr field numbers. The MTARR feed's extension layout is sparser
// and less documented than NYCT's; track and train status are the
// only two fields the resolver needs.
const (
	mtarrFieldTrainStatus = 1
	mtarrFieldTrack       = 1
)

const (
	nyctDirectionNorth = 1
	nyctDirectionSouth = 3
)

// TripExtension holds the optional per-trip fields sourced from a
// sub-system's protobuf extension of TripDescriptor.
type TripExtension struct {
	TrainID      *string
	IsAssigned   bool
	Direction    *string // "N" or "S", NYCT only
	TrainStatus  *string // MTARR only
}

// StopTimeExtension holds the optional per-stop-time fields sourced
// from a sub-system's protobuf extension of StopTimeUpdate.
type StopTimeExtension struct {
	Track *string
}

// ExtractTripExtension reads the NYCT or MTARR trip extension off a
// decoded TripDescriptor, selected by extKey ("nyct" or "mtarr").
func ExtractTripExtension(trip proto.Message, extKey string) TripExtension {
	unknown := trip.ProtoReflect().GetUnknown()
	switch extKey {
	case "nyct":
		return extractNyctTripExtension(unknown)
	case "mtarr":
		return extractMtarrTripExtension(unknown)
	default:
		return TripExtension{}
	}
}

// ExtractStopTimeExtension reads the NYCT or MTARR stop-time extension
// off a decoded StopTimeUpdate, selected by extKey.
func ExtractStopTimeExtension(stu proto.Message, extKey string) StopTimeExtension {
	unknown := stu.ProtoReflect().GetUnknown()
	switch extKey {
	case "nyct":
		return extractNyctStopTimeExtension(unknown)
	case "mtarr":
		return extractMtarrStopTimeExtension(unknown)
	default:
		return StopTimeExtension{}
	}
}

func extractNyctTripExtension(unknown []byte) TripExtension {
	msg, ok := submessageField(unknown, nyctTripDescriptorExtField)
	if !ok {
		return TripExtension{}
	}
	var ext TripExtension
	if id, ok := stringField(msg, nyctFieldTrainID); ok {
		ext.TrainID = &id
	}
	if v, ok := varintField(msg, nyctFieldIsAssigned); ok {
		ext.IsAssigned = v != 0
	}
	if v, ok := varintField(msg, nyctFieldDirection); ok {
		dir := "S"
		if v == nyctDirectionNorth {
			dir = "N"
		} else if v == nyctDirectionSouth {
			dir = "S"
		}
		ext.Direction = &dir
	}
	return ext
}

func extractNyctStopTimeExtension(unknown []byte) StopTimeExtension {
	msg, ok := submessageField(unknown, nyctStopTimeUpdateExtField)
	if !ok {
		return StopTimeExtension{}
	}
	if actual, ok := stringField(msg, nyctFieldActualTrack); ok && actual != "" {
		return StopTimeExtension{Track: &actual}
	}
	if scheduled, ok := stringField(msg, nyctFieldScheduledTrack); ok && scheduled != "" {
		return StopTimeExtension{Track: &scheduled}
	}
	return StopTimeExtension{}
}

func extractMtarrTripExtension(unknown []byte) TripExtension {
	msg, ok := submessageField(unknown, mtarrTripDescriptorExtField)
	if !ok {
		return TripExtension{}
	}
	var ext TripExtension
	if status, ok := stringField(msg, mtarrFieldTrainStatus); ok {
		ext.TrainStatus = &status
	}
	return ext
}

func extractMtarrStopTimeExtension(unknown []byte) StopTimeExtension {
	msg, ok := submessageField(unknown, mtarrStopTimeUpdateExtField)
	if !ok {
		return StopTimeExtension{}
	}
	if track, ok := stringField(msg, mtarrFieldTrack); ok && track != "" {
		return StopTimeExtension{Track: &track}
	}
	return StopTimeExtension{}
}

// submessageField scans a field set for fieldNumber and returns the
// raw bytes of its length-delimited payload, last occurrence wins
// (matching protobuf's own repeated-field-overwrite semantics for
// singular fields).
func submessageField(data []byte, fieldNumber int32) ([]byte, bool) {
	return bytesFieldRaw(data, fieldNumber)
}

func stringField(data []byte, fieldNumber int32) (string, bool) {
	raw, ok := bytesFieldRaw(data, fieldNumber)
	if !ok {
		return "", false
	}
	return string(raw), true
}

func varintField(data []byte, fieldNumber int32) (uint64, bool) {
	var result uint64
	var found bool
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return result, found
		}
		data = data[n:]
		size := protowire.ConsumeFieldValue(num, typ, data)
		if size < 0 {
			return result, found
		}
		if num == protowire.Number(fieldNumber) && typ == protowire.VarintType {
			v, _ := protowire.ConsumeVarint(data[:size])
			result = v
			found = true
		}
		data = data[size:]
	}
	return result, found
}

func bytesFieldRaw(data []byte, fieldNumber int32) ([]byte, bool) {
	var result []byte
	var found bool
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return result, found
		}
		data = data[n:]
		size := protowire.ConsumeFieldValue(num, typ, data)
		if size < 0 {
			return result, found
		}
		if num == protowire.Number(fieldNumber) && typ == protowire.BytesType {
			b, n2 := protowire.ConsumeBytes(data[:size])
			if n2 >= 0 {
				result = b
				found = true
			}
		}
		data = data[size:]
	}
	return result, found
}
