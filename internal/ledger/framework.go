package ledger

import (
	"fmt"
	"math/bits"
	"strings"

	"github.com/cmatc13/orderless/internal/storage"
	"github.com/cmatc13/orderless/internal/transaction"
	"github.com/cmatc13/orderless/internal/types"
)

// Framework function ids.
const (
	FnAccountTransfer     = "0x1::aptos_account::transfer"
	FnCreateAccount       = "0x1::aptos_account::create_account"
	FnCoinTransfer        = "0x1::coin::transfer"
	FnCreateMultisig      = "0x1::multisig_account::create_with_owners"
	NativeCoin            = types.TypeTag("0x1::aptos_coin::AptosCoin")
	vmStatusSuccess       = "Executed successfully"
	maxMultisigOwnerCount = 64
)

// execution is the state a framework function runs against.
type execution struct {
	tx     storage.Tx
	raw    *transaction.RawTransaction
	signer types.AccountAddress
	// touched accounts get the transaction added to their index.
	touched []types.AccountAddress
}

type result struct {
	outcome types.Outcome
	status  string
}

func executed() result { return result{types.OutcomeExecuted, vmStatusSuccess} }

func failed(outcome types.Outcome, format string, args ...interface{}) result {
	return result{outcome, fmt.Sprintf(format, args...)}
}

type function struct {
	typeArgs int
	params   []types.ArgKind
	run      func(ex *execution, typeArgs []types.TypeTag, args []types.TransactionArgument) (result, error)
}

var functions = map[string]function{
	FnAccountTransfer: {
		params: []types.ArgKind{types.ArgAddress, types.ArgU64},
		run:    runTransfer,
	},
	FnCoinTransfer: {
		typeArgs: 1,
		params:   []types.ArgKind{types.ArgAddress, types.ArgU64},
		run: func(ex *execution, typeArgs []types.TypeTag, args []types.TransactionArgument) (result, error) {
			if typeArgs[0] != NativeCoin {
				return failed(types.OutcomeInvalidPayload, "coin type %s is not registered", typeArgs[0]), nil
			}
			return runTransfer(ex, typeArgs, args)
		},
	},
	FnCreateAccount: {
		params: []types.ArgKind{types.ArgAddress},
		run:    runCreateAccount,
	},
	FnCreateMultisig: {
		params: []types.ArgKind{types.ArgAddressVector, types.ArgU64},
		run:    runCreateMultisig,
	},
}

// ValidatePayload performs the checks that need no state: the entry function
// must exist and take arguments of the given kinds, and script bytecode must
// be loadable.
func ValidatePayload(p types.Payload) error {
	if p == nil {
		return fmt.Errorf("missing payload")
	}
	if err := p.Validate(); err != nil {
		return err
	}

	ef, ok := p.(*types.EntryFunction)
	if !ok {
		return nil
	}
	fn, ok := functions[ef.ID()]
	if !ok {
		return fmt.Errorf("function %s does not exist", ef.ID())
	}
	if len(ef.TypeArgs) != fn.typeArgs {
		return fmt.Errorf("%s takes %d type arguments, got %d", ef.ID(), fn.typeArgs, len(ef.TypeArgs))
	}
	if len(ef.Args) != len(fn.params) {
		return fmt.Errorf("%s takes %d arguments, got %d", ef.ID(), len(fn.params), len(ef.Args))
	}
	for i, kind := range fn.params {
		if ef.Args[i].Kind() != kind {
			return fmt.Errorf("%s argument %d must be %s, got %s", ef.ID(), i, kind, ef.Args[i].Kind())
		}
	}
	return nil
}

// run executes payload with ex.signer as the executing account.
func (ex *execution) run(payload types.Payload) (result, error) {
	if err := ValidatePayload(payload); err != nil {
		return failed(types.OutcomeInvalidPayload, "%s", err.Error()), nil
	}

	switch p := payload.(type) {
	case *types.Script:
		// Bytecode is not interpreted; a loadable script commits without effects.
		return executed(), nil
	case *types.EntryFunction:
		return functions[p.ID()].run(ex, p.TypeArgs, p.Args)
	default:
		return failed(types.OutcomeInvalidPayload, "unsupported payload %T", payload), nil
	}
}

func runTransfer(ex *execution, _ []types.TypeTag, args []types.TransactionArgument) (result, error) {
	to, _ := args[0].AsAddress()
	amount, _ := args[1].AsU64()

	if to.IsZero() {
		return failed(types.OutcomeInvalidPayload, "cannot transfer to the zero address"), nil
	}

	from := ex.signer
	fromBalance, err := getUint(ex.tx, balanceKey(from))
	if err != nil {
		return result{}, err
	}
	if fromBalance < amount {
		return failed(types.OutcomeInsufficientBalance,
			"balance %d of %s is below transfer amount %d", fromBalance, from.String(), amount), nil
	}
	if from == to {
		ex.touched = append(ex.touched, to)
		return executed(), nil
	}

	toBalance, err := getUint(ex.tx, balanceKey(to))
	if err != nil {
		return result{}, err
	}
	credited, carry := bits.Add64(toBalance, amount, 0)
	if carry != 0 {
		return failed(types.OutcomeInvalidPayload, "balance of %s would overflow", to.String()), nil
	}

	if err := putUint(ex.tx, balanceKey(from), fromBalance-amount); err != nil {
		return result{}, err
	}
	if err := putUint(ex.tx, balanceKey(to), credited); err != nil {
		return result{}, err
	}
	ex.touched = append(ex.touched, to)
	return executed(), nil
}

func runCreateAccount(ex *execution, _ []types.TypeTag, args []types.TransactionArgument) (result, error) {
	addr, _ := args[0].AsAddress()
	if addr.IsReserved() {
		return failed(types.OutcomeInvalidPayload, "address %s is reserved", addr.StringShort()), nil
	}

	_, err := ex.tx.Get(balanceKey(addr))
	if err == nil {
		return failed(types.OutcomeInvalidPayload, "account %s already exists", addr.String()), nil
	}
	if !storage.IsNotFound(err) {
		return result{}, err
	}
	if err := putUint(ex.tx, balanceKey(addr), 0); err != nil {
		return result{}, err
	}
	ex.touched = append(ex.touched, addr)
	return executed(), nil
}

func runCreateMultisig(ex *execution, _ []types.TypeTag, args []types.TransactionArgument) (result, error) {
	additional, _ := args[0].AsAddressVector()
	required, _ := args[1].AsU64()

	owners := []types.AccountAddress{ex.signer}
	seen := map[types.AccountAddress]bool{ex.signer: true}
	for _, o := range additional {
		if o.IsZero() {
			return failed(types.OutcomeInvalidPayload, "owner cannot be the zero address"), nil
		}
		if seen[o] {
			return failed(types.OutcomeInvalidPayload, "duplicate owner %s", o.String()), nil
		}
		seen[o] = true
		owners = append(owners, o)
	}
	if len(owners) > maxMultisigOwnerCount {
		return failed(types.OutcomeInvalidPayload, "at most %d owners are allowed", maxMultisigOwnerCount), nil
	}
	if required == 0 || required > uint64(len(owners)) {
		return failed(types.OutcomeInvalidPayload,
			"num_signatures_required %d must be between 1 and %d", required, len(owners)), nil
	}

	addr := MultisigAddress(ex.signer, ex.raw.Nonce)
	existing, err := getMultisig(ex.tx, addr)
	if err != nil {
		return result{}, err
	}
	if existing != nil {
		return failed(types.OutcomeInvalidPayload, "multisig account %s already exists", addr.String()), nil
	}

	ms := &MultisigAccount{
		Address:               addr,
		Owners:                owners,
		NumSignaturesRequired: required,
		Creator:               ex.signer,
	}
	if err := putMultisig(ex.tx, ms); err != nil {
		return result{}, err
	}
	if err := ensureAccount(ex.tx, addr); err != nil {
		return result{}, err
	}
	ex.touched = append(ex.touched, addr)
	return result{types.OutcomeExecuted, "Created multisig account " + addr.String()}, nil
}

// ensureAccount creates a zero balance for addr unless it already has one.
func ensureAccount(tx storage.Tx, addr types.AccountAddress) error {
	_, err := tx.Get(balanceKey(addr))
	if storage.IsNotFound(err) {
		return putUint(tx, balanceKey(addr), 0)
	}
	return err
}

// TransferPayload builds 0x1::aptos_account::transfer(to, amount).
func TransferPayload(to types.AccountAddress, amount uint64) *types.EntryFunction {
	return mustEntry(FnAccountTransfer, nil, types.Address(to), types.U64(amount))
}

// CoinTransferPayload builds 0x1::coin::transfer<AptosCoin>(to, amount).
func CoinTransferPayload(to types.AccountAddress, amount uint64) *types.EntryFunction {
	return mustEntry(FnCoinTransfer, []types.TypeTag{NativeCoin}, types.Address(to), types.U64(amount))
}

// CreateAccountPayload builds 0x1::aptos_account::create_account(addr).
func CreateAccountPayload(addr types.AccountAddress) *types.EntryFunction {
	return mustEntry(FnCreateAccount, nil, types.Address(addr))
}

// CreateMultisigPayload builds 0x1::multisig_account::create_with_owners.
// The sender becomes an owner next to additional.
func CreateMultisigPayload(threshold uint64, additional ...types.AccountAddress) *types.EntryFunction {
	return mustEntry(FnCreateMultisig, nil, types.AddressVector(additional...), types.U64(threshold))
}

func mustEntry(id string, typeArgs []types.TypeTag, args ...types.TransactionArgument) *types.EntryFunction {
	i := strings.LastIndex(id, "::")
	ef, err := types.EntryFunctionNatural(id[:i], id[i+2:], typeArgs, args)
	if err != nil {
		panic(err)
	}
	return ef
}
