package protocol

import (
	"testing"
)

func TestInboundClassification(t *testing.T) {
	for _, k := range []EventKind{
		EvRegisterUser, EvDriverConnected, EvRequestPickup, EvAcceptBooking,
		EvRejectBooking, EvUpdateBookingStatus, EvDriverLocationUpdate, EvRequestDriverLocation,
	} {
		if !k.Inbound() {
			t.Fatalf("%s should be inbound", k)
		}
	}
	for _, k := range []EventKind{
		EvPickupRequested, EvBookingAccepted, EvBookingRejected, EvStatusUpdated, EvLocationUpdate,
	} {
		if k.Inbound() {
			t.Fatalf("%s must not be accepted from clients", k)
		}
	}
	if EventKind("madeUp").Inbound() {
		t.Fatal("unknown kinds must not be inbound")
	}
}

func TestDecodeRejectsEmptyPayload(t *testing.T) {
	env := Envelope{Event: EvRegisterUser}
	var p RegisterUser
	if err := Decode(env, &p); err == nil {
		t.Fatal("expected error for empty payload")
	}
}

func TestEnvelopeCarriesTypedPayload(t *testing.T) {
	env, err := NewEnvelope(EvAcceptBooking, AcceptBooking{DriverID: "d1", BookingID: "b1", UserID: "u1"})
	if err != nil {
		t.Fatal(err)
	}
	if env.Event != EvAcceptBooking {
		t.Fatalf("event = %s", env.Event)
	}
	var p AcceptBooking
	if err := Decode(env, &p); err != nil {
		t.Fatal(err)
	}
	if p.DriverID != "d1" || p.BookingID != "b1" || p.UserID != "u1" {
		t.Fatalf("payload = %+v", p)
	}
}
