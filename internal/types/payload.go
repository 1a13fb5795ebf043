package types

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// PayloadKind names the variant of a transaction payload.
type PayloadKind string

const (
	PayloadEntryFunction PayloadKind = "entry_function_payload"
	PayloadScript        PayloadKind = "script_payload"
)

// Move bytecode header
var scriptMagic = []byte{0xa1, 0x1c, 0xeb, 0x0b}

const (
	minBytecodeVersion = 5
	maxBytecodeVersion = 7
)

var identifierRE = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// TypeTag is a Move type written in its canonical text form, e.g. 0x1::aptos_coin::AptosCoin.
type TypeTag string

// Payload is the closed set of executable payloads: *EntryFunction or *Script.
type Payload interface {
	Kind() PayloadKind
	// Validate performs the checks that need no chain state.
	Validate() error
	isPayload()
}

// ModuleID names a module published at an address.
type ModuleID struct {
	Address AccountAddress
	Name    string
}

// ParseModuleID parses "0x1::aptos_account".
func ParseModuleID(s string) (ModuleID, error) {
	parts := strings.Split(s, "::")
	if len(parts) != 2 {
		return ModuleID{}, fmt.Errorf("invalid module id %q", s)
	}
	addr, err := ParseAddress(parts[0])
	if err != nil {
		return ModuleID{}, fmt.Errorf("invalid module id %q: %w", s, err)
	}
	return ModuleID{Address: addr, Name: parts[1]}, nil
}

// String returns the short form, e.g. 0x1::aptos_account.
func (m ModuleID) String() string {
	return m.Address.StringShort() + "::" + m.Name
}

// EntryFunction calls a published function.
type EntryFunction struct {
	Module   ModuleID
	Function string
	TypeArgs []TypeTag
	Args     []TransactionArgument
}

// NewEntryFunction builds an entry function payload.
func NewEntryFunction(module ModuleID, function string, typeArgs []TypeTag, args []TransactionArgument) *EntryFunction {
	return &EntryFunction{Module: module, Function: function, TypeArgs: typeArgs, Args: args}
}

// EntryFunctionNatural builds an entry function payload from a module string
// such as "0x1::aptos_account".
func EntryFunctionNatural(module, function string, typeArgs []TypeTag, args []TransactionArgument) (*EntryFunction, error) {
	id, err := ParseModuleID(module)
	if err != nil {
		return nil, err
	}
	ef := NewEntryFunction(id, function, typeArgs, args)
	if err := ef.Validate(); err != nil {
		return nil, err
	}
	return ef, nil
}

// Kind implements Payload.
func (e *EntryFunction) Kind() PayloadKind { return PayloadEntryFunction }

func (e *EntryFunction) isPayload() {}

// ID returns the fully qualified function name, e.g. 0x1::aptos_account::transfer.
func (e *EntryFunction) ID() string {
	return e.Module.String() + "::" + e.Function
}

// Validate implements Payload.
func (e *EntryFunction) Validate() error {
	if !identifierRE.MatchString(e.Module.Name) {
		return fmt.Errorf("invalid module name %q", e.Module.Name)
	}
	if !identifierRE.MatchString(e.Function) {
		return fmt.Errorf("invalid function name %q", e.Function)
	}
	for _, arg := range e.Args {
		if arg.Kind() == "" {
			return fmt.Errorf("untyped argument in %s", e.ID())
		}
	}
	return nil
}

// Script runs ad-hoc bytecode.
type Script struct {
	Code     []byte
	TypeArgs []TypeTag
	Args     []TransactionArgument
}

// Kind implements Payload.
func (s *Script) Kind() PayloadKind { return PayloadScript }

func (s *Script) isPayload() {}

// Validate implements Payload. Code must carry the Move magic followed by a
// little-endian bytecode version the node can load.
func (s *Script) Validate() error {
	if len(s.Code) == 0 {
		return fmt.Errorf("script bytecode is empty")
	}
	if len(s.Code) < len(scriptMagic)+4 || !bytes.Equal(s.Code[:len(scriptMagic)], scriptMagic) {
		return fmt.Errorf("script bytecode has no Move header")
	}
	version := binary.LittleEndian.Uint32(s.Code[len(scriptMagic):])
	if version < minBytecodeVersion || version > maxBytecodeVersion {
		return fmt.Errorf("unsupported bytecode version %d", version)
	}
	return nil
}

// ScriptHeader returns the smallest well-formed bytecode prefix for version.
func ScriptHeader(version uint32) []byte {
	code := append([]byte(nil), scriptMagic...)
	return binary.LittleEndian.AppendUint32(code, version)
}

// TransactionPayload wraps a Payload for encoding.
type TransactionPayload struct {
	Payload Payload
}

type payloadWire struct {
	Type     PayloadKind           `json:"type" cbor:"1,keyasint"`
	Function string                `json:"function,omitempty" cbor:"2,keyasint,omitempty"`
	Code     HexBytes              `json:"code,omitempty" cbor:"3,keyasint,omitempty"`
	TypeArgs []TypeTag             `json:"type_arguments" cbor:"4,keyasint"`
	Args     []TransactionArgument `json:"arguments" cbor:"5,keyasint"`
}

func (p TransactionPayload) wire() (payloadWire, error) {
	switch pl := p.Payload.(type) {
	case *EntryFunction:
		return payloadWire{
			Type:     PayloadEntryFunction,
			Function: pl.ID(),
			TypeArgs: nonNilTags(pl.TypeArgs),
			Args:     nonNilArgs(pl.Args),
		}, nil
	case *Script:
		return payloadWire{
			Type:     PayloadScript,
			Code:     HexBytes(pl.Code),
			TypeArgs: nonNilTags(pl.TypeArgs),
			Args:     nonNilArgs(pl.Args),
		}, nil
	case nil:
		return payloadWire{}, fmt.Errorf("missing payload")
	default:
		return payloadWire{}, fmt.Errorf("unsupported payload %T", pl)
	}
}

func (w payloadWire) payload() (Payload, error) {
	switch w.Type {
	case PayloadEntryFunction:
		idx := strings.LastIndex(w.Function, "::")
		if idx < 0 {
			return nil, fmt.Errorf("invalid function id %q", w.Function)
		}
		module, err := ParseModuleID(w.Function[:idx])
		if err != nil {
			return nil, err
		}
		return NewEntryFunction(module, w.Function[idx+2:], w.TypeArgs, w.Args), nil
	case PayloadScript:
		return &Script{Code: []byte(w.Code), TypeArgs: w.TypeArgs, Args: w.Args}, nil
	default:
		return nil, fmt.Errorf("unknown payload type %q", w.Type)
	}
}

// MarshalJSON implements json.Marshaler.
func (p TransactionPayload) MarshalJSON() ([]byte, error) {
	w, err := p.wire()
	if err != nil {
		return nil, err
	}
	return json.Marshal(w)
}

// UnmarshalJSON implements json.Unmarshaler.
func (p *TransactionPayload) UnmarshalJSON(data []byte) error {
	var w payloadWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	pl, err := w.payload()
	if err != nil {
		return err
	}
	p.Payload = pl
	return nil
}

// MarshalCBOR implements cbor.Marshaler.
func (p TransactionPayload) MarshalCBOR() ([]byte, error) {
	w, err := p.wire()
	if err != nil {
		return nil, err
	}
	return EncodeCanonical(w)
}

// UnmarshalCBOR implements cbor.Unmarshaler.
func (p *TransactionPayload) UnmarshalCBOR(data []byte) error {
	var w payloadWire
	if err := DecodeCanonical(data, &w); err != nil {
		return err
	}
	pl, err := w.payload()
	if err != nil {
		return err
	}
	p.Payload = pl
	return nil
}

// Hash returns the SHA3-256 of the canonical payload encoding. Multisig votes
// are keyed by it.
func (p TransactionPayload) Hash() (HashValue, error) {
	enc, err := p.MarshalCBOR()
	if err != nil {
		return HashValue{}, err
	}
	return HashOf("ORDERLESS::Payload", enc), nil
}

func nonNilTags(t []TypeTag) []TypeTag {
	if t == nil {
		return []TypeTag{}
	}
	return t
}

func nonNilArgs(a []TransactionArgument) []TransactionArgument {
	if a == nil {
		return []TransactionArgument{}
	}
	return a
}
