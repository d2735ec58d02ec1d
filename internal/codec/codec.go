// Package codec abstracts the wire encoding used between the SDK and the
// deskstream backend. The protocol is CBOR, but the transport and the sync
// core only ever see these two interfaces, which keeps the encoding
// swappable in tests.
package codec

type Marshaler interface {
	Marshal(v any) ([]byte, error)
}

type Unmarshaler interface {
	Unmarshal(data []byte, dst any) error
}

// Codec is both a Marshaler and an Unmarshaler.
type Codec interface {
	Marshaler
	Unmarshaler
}
