package transport

import (
	"errors"
	"testing"
)

func TestAddressRoundTrip(t *testing.T) {
	f := NewFabric()
	i := f.OpenIface("worker-0", nil)
	defer i.Close()

	blob, err := PackAddress(i.Address())
	if err != nil {
		t.Fatalf("PackAddress failed: %v", err)
	}
	if len(blob) == 0 {
		t.Fatalf("expected non-empty address")
	}
	addr, err := UnpackAddress(blob)
	if err != nil {
		t.Fatalf("UnpackAddress failed: %v", err)
	}
	if addr != i.Address() {
		t.Fatalf("address mismatch: %+v vs %+v", addr, i.Address())
	}
	if addr.Device != DeviceName || addr.Transport != TransportName {
		t.Fatalf("unexpected transport info %+v", addr)
	}
}

func TestUnpackRejectsGarbage(t *testing.T) {
	inputs := [][]byte{
		nil,
		{0xff, 0x00, 0x13},
		{0x01},
		{0xa0},
	}
	for _, in := range inputs {
		if _, err := UnpackAddress(in); !errors.Is(err, ErrMalformedAddress) {
			t.Fatalf("UnpackAddress(%x): expected ErrMalformedAddress, got %v", in, err)
		}
		if _, err := UnpackKey(in); !errors.Is(err, ErrMalformedKey) {
			t.Fatalf("UnpackKey(%x): expected ErrMalformedKey, got %v", in, err)
		}
	}
}

func TestKeyRoundTrip(t *testing.T) {
	d := NewFabric().OpenDomain()
	r, err := d.Register(make([]byte, 64), AccessAll)
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	blob, err := PackKey(r.Key())
	if err != nil {
		t.Fatalf("PackKey failed: %v", err)
	}
	key, err := UnpackKey(blob)
	if err != nil {
		t.Fatalf("UnpackKey failed: %v", err)
	}
	if key != r.Key() {
		t.Fatalf("key mismatch: %+v vs %+v", key, r.Key())
	}
	if !key.Contains(r.Base(), 64) || key.Contains(r.Base()+1, 64) || key.Contains(r.Base()-1, 1) {
		t.Fatalf("unexpected Contains results for %+v", key)
	}

	addrBlob, _ := PackAddress(Address{Version: addressVersion, Fabric: 1, Iface: 1, Transport: TransportName})
	if _, err := UnpackKey(addrBlob); !errors.Is(err, ErrMalformedKey) {
		t.Fatalf("expected address blob to be rejected as key, got %v", err)
	}
}
