package types

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/holiman/uint256"
)

// ArgKind is the serialization kind a TransactionArgument is tagged with.
type ArgKind string

const (
	ArgU8            ArgKind = "u8"
	ArgU16           ArgKind = "u16"
	ArgU32           ArgKind = "u32"
	ArgU64           ArgKind = "u64"
	ArgU128          ArgKind = "u128"
	ArgU256          ArgKind = "u256"
	ArgBool          ArgKind = "bool"
	ArgAddress       ArgKind = "address"
	ArgString        ArgKind = "string"
	ArgBytes         ArgKind = "vector<u8>"
	ArgAddressVector ArgKind = "vector<address>"
)

var intBits = map[ArgKind]int{
	ArgU8: 8, ArgU16: 16, ArgU32: 32, ArgU64: 64, ArgU128: 128, ArgU256: 256,
}

// TransactionArgument is a single entry function or script argument.
type TransactionArgument struct {
	kind  ArgKind
	num   *uint256.Int
	flag  bool
	addr  AccountAddress
	addrs []AccountAddress
	raw   []byte
}

// U8 builds a u8 argument.
func U8(v uint8) TransactionArgument { return intArg(ArgU8, uint64(v)) }

// U16 builds a u16 argument.
func U16(v uint16) TransactionArgument { return intArg(ArgU16, uint64(v)) }

// U32 builds a u32 argument.
func U32(v uint32) TransactionArgument { return intArg(ArgU32, uint64(v)) }

// U64 builds a u64 argument.
func U64(v uint64) TransactionArgument { return intArg(ArgU64, v) }

// U128 builds a u128 argument; it fails when v needs more than 128 bits.
func U128(v *uint256.Int) (TransactionArgument, error) { return bigArg(ArgU128, v) }

// U256 builds a u256 argument.
func U256(v *uint256.Int) TransactionArgument {
	arg, _ := bigArg(ArgU256, v)
	return arg
}

// Bool builds a bool argument.
func Bool(v bool) TransactionArgument { return TransactionArgument{kind: ArgBool, flag: v} }

// Address builds an address argument.
func Address(a AccountAddress) TransactionArgument {
	return TransactionArgument{kind: ArgAddress, addr: a}
}

// String builds a string argument.
func String(s string) TransactionArgument {
	return TransactionArgument{kind: ArgString, raw: []byte(s)}
}

// Bytes builds a vector<u8> argument.
func Bytes(b []byte) TransactionArgument {
	return TransactionArgument{kind: ArgBytes, raw: append([]byte(nil), b...)}
}

// AddressVector builds a vector<address> argument.
func AddressVector(addrs ...AccountAddress) TransactionArgument {
	return TransactionArgument{kind: ArgAddressVector, addrs: append([]AccountAddress(nil), addrs...)}
}

func intArg(kind ArgKind, v uint64) TransactionArgument {
	return TransactionArgument{kind: kind, num: uint256.NewInt(v)}
}

func bigArg(kind ArgKind, v *uint256.Int) (TransactionArgument, error) {
	if v == nil {
		v = new(uint256.Int)
	}
	if v.BitLen() > intBits[kind] {
		return TransactionArgument{}, fmt.Errorf("value does not fit in %s", kind)
	}
	return TransactionArgument{kind: kind, num: new(uint256.Int).Set(v)}, nil
}

// Kind returns the serialization kind.
func (a TransactionArgument) Kind() ArgKind { return a.kind }

// AsU64 returns the value of any integer argument that fits in 64 bits.
func (a TransactionArgument) AsU64() (uint64, error) {
	if a.num == nil {
		return 0, fmt.Errorf("argument of kind %s is not an integer", a.kind)
	}
	if !a.num.IsUint64() {
		return 0, fmt.Errorf("argument %s overflows u64", a.num.ToBig().String())
	}
	return a.num.Uint64(), nil
}

// AsUint256 returns the value of any integer argument.
func (a TransactionArgument) AsUint256() (*uint256.Int, error) {
	if a.num == nil {
		return nil, fmt.Errorf("argument of kind %s is not an integer", a.kind)
	}
	return new(uint256.Int).Set(a.num), nil
}

// AsBool returns the value of a bool argument.
func (a TransactionArgument) AsBool() (bool, error) {
	if a.kind != ArgBool {
		return false, fmt.Errorf("argument of kind %s is not a bool", a.kind)
	}
	return a.flag, nil
}

// AsAddress returns the value of an address argument.
func (a TransactionArgument) AsAddress() (AccountAddress, error) {
	if a.kind != ArgAddress {
		return AccountAddress{}, fmt.Errorf("argument of kind %s is not an address", a.kind)
	}
	return a.addr, nil
}

// AsAddressVector returns the value of a vector<address> argument.
func (a TransactionArgument) AsAddressVector() ([]AccountAddress, error) {
	if a.kind != ArgAddressVector {
		return nil, fmt.Errorf("argument of kind %s is not vector<address>", a.kind)
	}
	return append([]AccountAddress(nil), a.addrs...), nil
}

// AsBytes returns the value of a vector<u8> or string argument.
func (a TransactionArgument) AsBytes() ([]byte, error) {
	if a.kind != ArgBytes && a.kind != ArgString {
		return nil, fmt.Errorf("argument of kind %s is not bytes", a.kind)
	}
	return append([]byte(nil), a.raw...), nil
}

// argumentWire is the shared JSON and CBOR form: integers are decimal strings,
// bytes are 0x-hex and address vectors are comma separated.
type argumentWire struct {
	Kind  ArgKind `json:"type" cbor:"1,keyasint"`
	Value string  `json:"value" cbor:"2,keyasint"`
}

func (a TransactionArgument) wire() argumentWire {
	w := argumentWire{Kind: a.kind}
	switch a.kind {
	case ArgU8, ArgU16, ArgU32, ArgU64, ArgU128, ArgU256:
		if a.num == nil {
			w.Value = "0"
		} else {
			w.Value = a.num.ToBig().String()
		}
	case ArgBool:
		w.Value = strconv.FormatBool(a.flag)
	case ArgAddress:
		w.Value = a.addr.String()
	case ArgString:
		w.Value = string(a.raw)
	case ArgBytes:
		w.Value = HexBytes(a.raw).String()
	case ArgAddressVector:
		parts := make([]string, len(a.addrs))
		for i, addr := range a.addrs {
			parts[i] = addr.String()
		}
		w.Value = strings.Join(parts, ",")
	}
	return w
}

func (w argumentWire) argument() (TransactionArgument, error) {
	switch w.Kind {
	case ArgU8, ArgU16, ArgU32, ArgU64, ArgU128, ArgU256:
		n, ok := new(big.Int).SetString(w.Value, 10)
		if !ok || n.Sign() < 0 {
			return TransactionArgument{}, fmt.Errorf("invalid %s value %q", w.Kind, w.Value)
		}
		v, overflow := uint256.FromBig(n)
		if overflow {
			return TransactionArgument{}, fmt.Errorf("value %q does not fit in %s", w.Value, w.Kind)
		}
		return bigArg(w.Kind, v)
	case ArgBool:
		b, err := strconv.ParseBool(w.Value)
		if err != nil {
			return TransactionArgument{}, fmt.Errorf("invalid bool value %q", w.Value)
		}
		return Bool(b), nil
	case ArgAddress:
		addr, err := ParseAddress(w.Value)
		if err != nil {
			return TransactionArgument{}, err
		}
		return Address(addr), nil
	case ArgString:
		return String(w.Value), nil
	case ArgBytes:
		var raw HexBytes
		if err := raw.UnmarshalText([]byte(w.Value)); err != nil {
			return TransactionArgument{}, err
		}
		return Bytes(raw), nil
	case ArgAddressVector:
		if w.Value == "" {
			return AddressVector(), nil
		}
		parts := strings.Split(w.Value, ",")
		addrs := make([]AccountAddress, len(parts))
		for i, p := range parts {
			addr, err := ParseAddress(p)
			if err != nil {
				return TransactionArgument{}, err
			}
			addrs[i] = addr
		}
		return AddressVector(addrs...), nil
	default:
		return TransactionArgument{}, fmt.Errorf("unknown argument kind %q", w.Kind)
	}
}

// String renders the argument as kind:value.
func (a TransactionArgument) String() string {
	w := a.wire()
	return string(w.Kind) + ":" + w.Value
}

// MarshalJSON implements json.Marshaler.
func (a TransactionArgument) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.wire())
}

// UnmarshalJSON implements json.Unmarshaler.
func (a *TransactionArgument) UnmarshalJSON(data []byte) error {
	var w argumentWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	parsed, err := w.argument()
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// MarshalCBOR implements cbor.Marshaler.
func (a TransactionArgument) MarshalCBOR() ([]byte, error) {
	return EncodeCanonical(a.wire())
}

// UnmarshalCBOR implements cbor.Unmarshaler.
func (a *TransactionArgument) UnmarshalCBOR(data []byte) error {
	var w argumentWire
	if err := DecodeCanonical(data, &w); err != nil {
		return err
	}
	parsed, err := w.argument()
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
