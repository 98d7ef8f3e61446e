package deviceid

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base32"
	"encoding/binary"
	"encoding/json"
	"errors"

	log "github.com/sirupsen/logrus"
)

const rawLen = 32

var ErrInvalidLength = errors.New("device id must be 32 bytes")
var ErrInvalidString = errors.New("invalid device id string")

var encoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// A DeviceID is the 32-byte public identity of a peer. The text form is the
// Base32 encoding of the raw bytes. DeviceID implements the MarshalBinary and
// UnmarshalBinary interfaces to assist CBOR encoding and avoid redundancy.
type DeviceID struct {
	b [rawLen]byte
	s string
}

func (d *DeviceID) String() string {
	return d.s
}

func (d *DeviceID) Bytes() []byte {
	return d.b[:]
}

// CounterID projects the identity to the uint64 used in version-vector
// counters: the first 8 bytes of the SHA-256 of the raw identity, big endian.
func (d *DeviceID) CounterID() uint64 {
	h := sha256.Sum256(d.b[:])
	return binary.BigEndian.Uint64(h[:8])
}

func (d *DeviceID) MarshalBinary() ([]byte, error) {
	return d.b[:], nil
}

func (d *DeviceID) UnmarshalBinary(data []byte) error {
	if len(data) != rawLen {
		return ErrInvalidLength
	}
	copy(d.b[:], data)
	d.s = encoding.EncodeToString(data)
	return nil
}

func (d *DeviceID) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *DeviceID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}

	id, err := FromString(s)
	if err != nil {
		return err
	}
	*d = *id
	return nil
}

func FromBytes(data []byte) (*DeviceID, error) {
	d := &DeviceID{}
	if err := d.UnmarshalBinary(data); err != nil {
		return nil, err
	}
	return d, nil
}

func FromString(s string) (*DeviceID, error) {
	raw, err := encoding.DecodeString(s)
	if err != nil {
		return nil, ErrInvalidString
	}
	return FromBytes(raw)
}

func FromStringMustParse(s string) *DeviceID {
	d, err := FromString(s)
	if err != nil {
		log.Fatalf("Failed to parse device id: %v", err)
	}
	return d
}

// Random generates a fresh identity. Real deployments derive the identity from
// the device certificate; the engine only needs 32 stable bytes.
func Random() (*DeviceID, error) {
	buf := make([]byte, rawLen)
	_, err := rand.Read(buf)
	if err != nil {
		return nil, err
	}
	return FromBytes(buf)
}

// Equal helper
func (d *DeviceID) Equal(other *DeviceID) bool {
	if d == nil && other == nil {
		return true
	}
	if d == nil || other == nil {
		return false
	}
	return d.b == other.b
}
