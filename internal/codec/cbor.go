package codec

import (
	"github.com/fxamacker/cbor/v2"
)

// CBOR is the default wire codec. Encoding uses RFC 3339 nano timestamps so
// row payloads stay readable by non-CBOR tooling on the backend side, and
// decoding accepts both tag 0 and tag 1 times.
type CBOR struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

// NewCBOR builds the codec. The option sets are fixed and known-valid, so
// construction cannot fail.
func NewCBOR() *CBOR {
	enc, err := cbor.EncOptions{
		Time:    cbor.TimeRFC3339Nano,
		TimeTag: cbor.EncTagRequired,
	}.EncMode()
	if err != nil {
		panic(err)
	}
	dec, err := cbor.DecOptions{
		DefaultMapType: nil,
	}.DecMode()
	if err != nil {
		panic(err)
	}
	return &CBOR{enc: enc, dec: dec}
}

func (c *CBOR) Marshal(v any) ([]byte, error) {
	return c.enc.Marshal(v)
}

func (c *CBOR) Unmarshal(data []byte, dst any) error {
	return c.dec.Unmarshal(data, dst)
}

var _ Codec = (*CBOR)(nil)
