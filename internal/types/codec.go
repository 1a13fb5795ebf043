package types

import (
	"github.com/fxamacker/cbor/v2"
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	// Core deterministic encoding: the same value always yields the same bytes,
	// which transaction hashes and signing messages depend on.
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	decMode, err = cbor.DecOptions{
		DupMapKey:        cbor.DupMapKeyEnforcedAPF,
		MaxArrayElements: 4096,
	}.DecMode()
	if err != nil {
		panic(err)
	}
}

// EncodeCanonical returns the deterministic CBOR encoding of v.
func EncodeCanonical(v interface{}) ([]byte, error) {
	return encMode.Marshal(v)
}

// DecodeCanonical decodes CBOR produced by EncodeCanonical.
func DecodeCanonical(data []byte, v interface{}) error {
	return decMode.Unmarshal(data, v)
}
