package transport

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

const (
	addressVersion = 1
	keyMagic       = 0x75637872 // "ucxr"
)

var (
	// ErrMalformedAddress reports an address blob that cannot be decoded.
	ErrMalformedAddress = errors.New("transport: malformed worker address")
	// ErrMalformedKey reports a remote key blob that cannot be decoded.
	ErrMalformedKey = errors.New("transport: malformed remote key")
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("transport: cbor enc mode: %v", err))
	}
	dm, err := cbor.DecOptions{}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("transport: cbor dec mode: %v", err))
	}
	encMode, decMode = em, dm
}

// Address identifies an interface. It is opaque to callers and only meant to
// be exchanged out of band and handed back to NewEndpoint.
type Address struct {
	Version   uint8  `cbor:"1,keyasint"`
	Fabric    uint64 `cbor:"2,keyasint"`
	Iface     uint64 `cbor:"3,keyasint"`
	Name      string `cbor:"4,keyasint,omitempty"`
	Transport string `cbor:"5,keyasint"`
	Device    string `cbor:"6,keyasint"`
}

// PackAddress serialises addr.
func PackAddress(addr Address) ([]byte, error) {
	return encMode.Marshal(addr)
}

// UnpackAddress parses a blob produced by PackAddress.
func UnpackAddress(b []byte) (Address, error) {
	var addr Address
	if len(b) == 0 {
		return addr, ErrMalformedAddress
	}
	if err := decMode.Unmarshal(b, &addr); err != nil {
		return Address{}, fmt.Errorf("%w: %v", ErrMalformedAddress, err)
	}
	if addr.Version != addressVersion || addr.Fabric == 0 || addr.Iface == 0 || addr.Transport != TransportName {
		return Address{}, ErrMalformedAddress
	}
	return addr, nil
}

// KeyDesc carries everything a peer needs to address a registered region.
type KeyDesc struct {
	Magic  uint32 `cbor:"1,keyasint"`
	Fabric uint64 `cbor:"2,keyasint"`
	Domain uint64 `cbor:"3,keyasint"`
	Region uint64 `cbor:"4,keyasint"`
	Base   uint64 `cbor:"5,keyasint"`
	Length uint64 `cbor:"6,keyasint"`
	Access Access `cbor:"7,keyasint"`
}

// Contains reports whether [addr, addr+n) lies within the described region.
func (k KeyDesc) Contains(addr uint64, n int) bool {
	if n < 0 || addr < k.Base {
		return false
	}
	return addr-k.Base+uint64(n) <= k.Length
}

// PackKey serialises key.
func PackKey(key KeyDesc) ([]byte, error) {
	return encMode.Marshal(key)
}

// UnpackKey parses a blob produced by PackKey.
func UnpackKey(b []byte) (KeyDesc, error) {
	var key KeyDesc
	if len(b) == 0 {
		return key, ErrMalformedKey
	}
	if err := decMode.Unmarshal(b, &key); err != nil {
		return KeyDesc{}, fmt.Errorf("%w: %v", ErrMalformedKey, err)
	}
	if key.Magic != keyMagic || key.Region == 0 || key.Length == 0 {
		return KeyDesc{}, ErrMalformedKey
	}
	return key, nil
}
