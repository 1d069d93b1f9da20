/*
Minimal ABI helpers for the handful of contract interactions this service
performs. Only the call shapes actually used are implemented: simple selector
plus static arguments, Multicall3 tryAggregate batching, and uint256 returns.
*/

package chain

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"

	sdkmath "cosmossdk.io/math"
)

// Function selectors (first four bytes of the keccak-256 of the signature).
const (
	SelectorBalanceOf    = "0x70a08231" // balanceOf(address)
	SelectorTotalSupply  = "0x18160ddd" // totalSupply()
	SelectorTotalAssets  = "0x01e1d114" // totalAssets()
	SelectorDecimals     = "0x313ce567" // decimals()
	SelectorTryAggregate = "0xbce38bd7" // tryAggregate(bool,(address,bytes)[])

	// getPermittedAppVersionForPkp(uint256,uint256)
	SelectorPermittedAppVersion = "0xe60acb08"
)

// TopicCreateMetaMorpho is the event topic for
// CreateMetaMorpho(address,address,address,uint256,address,string,string,bytes32)
// emitted by the vault factories. The asset is the third indexed parameter.
const TopicCreateMetaMorpho = "0xed8c95d05909b0f217f3e68171ef917df4b278d5addfe4dda888e90279be7d1d"

var (
	ErrInvalidAddress    = errors.New("invalid address")
	ErrInvalidHexData    = errors.New("invalid hex data")
	ErrMalformedABIData  = errors.New("malformed ABI data")
	ErrValueOutOfRange   = errors.New("value out of range")
	ErrInvalidUintString = errors.New("invalid uint256 decimal string")
)

const wordSize = 32

func hexToBytes(s string) ([]byte, error) {
	trimmed := strings.TrimPrefix(s, "0x")
	data, err := hex.DecodeString(trimmed)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidHexData, err)
	}
	return data, nil
}

func bytesToHex(b []byte) string {
	return "0x" + hex.EncodeToString(b)
}

func addressWord(address string) ([]byte, error) {
	raw, err := hexToBytes(address)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %w", ErrInvalidAddress, address, err)
	}
	if len(raw) != 20 {
		return nil, fmt.Errorf("%w: %q is %d bytes, want 20", ErrInvalidAddress, address, len(raw))
	}
	word := make([]byte, wordSize)
	copy(word[12:], raw)
	return word, nil
}

func uintWord(v *big.Int) ([]byte, error) {
	if v.Sign() < 0 || v.BitLen() > 256 {
		return nil, fmt.Errorf("%w: %s does not fit uint256", ErrValueOutOfRange, v.String())
	}
	word := make([]byte, wordSize)
	v.FillBytes(word)
	return word, nil
}

// EncodeCall builds calldata for a static-argument call: the selector followed
// by one 32-byte word per argument. Address arguments are left-padded,
// decimal-string arguments are encoded as uint256.
func EncodeCall(selector string, args ...any) (string, error) {
	data, err := hexToBytes(selector)
	if err != nil {
		return "", err
	}
	for _, arg := range args {
		var word []byte
		switch v := arg.(type) {
		case string:
			if strings.HasPrefix(v, "0x") {
				word, err = addressWord(v)
			} else {
				n, ok := new(big.Int).SetString(v, 10)
				if !ok {
					return "", fmt.Errorf("%w: %q", ErrInvalidUintString, v)
				}
				word, err = uintWord(n)
			}
		case uint64:
			word, err = uintWord(new(big.Int).SetUint64(v))
		case *big.Int:
			word, err = uintWord(v)
		default:
			return "", fmt.Errorf("%w: unsupported argument type %T", ErrMalformedABIData, arg)
		}
		if err != nil {
			return "", err
		}
		data = append(data, word...)
	}
	return bytesToHex(data), nil
}

// Call is one target/calldata pair inside a multicall batch.
type Call struct {
	Target   string
	CallData string
}

// CallResult is one entry of a tryAggregate reply.
type CallResult struct {
	Success    bool
	ReturnData []byte
}

// EncodeTryAggregate builds calldata for Multicall3
// tryAggregate(bool requireSuccess, (address target, bytes callData)[] calls).
func EncodeTryAggregate(requireSuccess bool, calls []Call) (string, error) {
	data, err := hexToBytes(SelectorTryAggregate)
	if err != nil {
		return "", err
	}

	boolWord := make([]byte, wordSize)
	if requireSuccess {
		boolWord[wordSize-1] = 1
	}
	data = append(data, boolWord...)

	// Offset of the dynamic array, relative to the start of the arguments.
	offsetWord := make([]byte, wordSize)
	new(big.Int).SetUint64(2 * wordSize).FillBytes(offsetWord)
	data = append(data, offsetWord...)

	lengthWord := make([]byte, wordSize)
	new(big.Int).SetUint64(uint64(len(calls))).FillBytes(lengthWord)
	data = append(data, lengthWord...)

	// Each (address,bytes) tuple is dynamic, so the array body starts with one
	// offset word per element, relative to the first byte after the length.
	tuples := make([][]byte, len(calls))
	for i, call := range calls {
		tuple, err := encodeCallTuple(call)
		if err != nil {
			return "", err
		}
		tuples[i] = tuple
	}

	elementOffset := uint64(len(calls) * wordSize)
	for _, tuple := range tuples {
		word := make([]byte, wordSize)
		new(big.Int).SetUint64(elementOffset).FillBytes(word)
		data = append(data, word...)
		elementOffset += uint64(len(tuple))
	}
	for _, tuple := range tuples {
		data = append(data, tuple...)
	}

	return bytesToHex(data), nil
}

func encodeCallTuple(call Call) ([]byte, error) {
	target, err := addressWord(call.Target)
	if err != nil {
		return nil, err
	}
	callData, err := hexToBytes(call.CallData)
	if err != nil {
		return nil, err
	}

	tuple := make([]byte, 0, 3*wordSize+len(callData)+wordSize)
	tuple = append(tuple, target...)

	// Offset of the bytes field within the tuple.
	bytesOffset := make([]byte, wordSize)
	new(big.Int).SetUint64(2 * wordSize).FillBytes(bytesOffset)
	tuple = append(tuple, bytesOffset...)

	lengthWord := make([]byte, wordSize)
	new(big.Int).SetUint64(uint64(len(callData))).FillBytes(lengthWord)
	tuple = append(tuple, lengthWord...)

	tuple = append(tuple, callData...)
	if pad := len(callData) % wordSize; pad != 0 {
		tuple = append(tuple, make([]byte, wordSize-pad)...)
	}
	return tuple, nil
}

func readWord(data []byte, offset int) (*big.Int, error) {
	if offset < 0 || offset+wordSize > len(data) {
		return nil, fmt.Errorf("%w: word at offset %d exceeds %d bytes", ErrMalformedABIData, offset, len(data))
	}
	return new(big.Int).SetBytes(data[offset : offset+wordSize]), nil
}

func readWordInt(data []byte, offset int) (int, error) {
	v, err := readWord(data, offset)
	if err != nil {
		return 0, err
	}
	if !v.IsInt64() || v.Int64() < 0 || v.Int64() > int64(len(data)) {
		return 0, fmt.Errorf("%w: implausible offset/length %s", ErrMalformedABIData, v.String())
	}
	return int(v.Int64()), nil
}

// DecodeTryAggregate parses the return data of tryAggregate:
// (bool success, bytes returnData)[].
func DecodeTryAggregate(returnData string) ([]CallResult, error) {
	data, err := hexToBytes(returnData)
	if err != nil {
		return nil, err
	}

	arrayOffset, err := readWordInt(data, 0)
	if err != nil {
		return nil, err
	}
	length, err := readWordInt(data, arrayOffset)
	if err != nil {
		return nil, err
	}

	base := arrayOffset + wordSize
	results := make([]CallResult, 0, length)
	for i := 0; i < length; i++ {
		tupleOffset, err := readWordInt(data, base+i*wordSize)
		if err != nil {
			return nil, err
		}
		tupleStart := base + tupleOffset

		successWord, err := readWord(data, tupleStart)
		if err != nil {
			return nil, err
		}
		bytesOffset, err := readWordInt(data, tupleStart+wordSize)
		if err != nil {
			return nil, err
		}
		bytesStart := tupleStart + bytesOffset
		bytesLen, err := readWordInt(data, bytesStart)
		if err != nil {
			return nil, err
		}
		if bytesStart+wordSize+bytesLen > len(data) {
			return nil, fmt.Errorf("%w: bytes field of element %d exceeds payload", ErrMalformedABIData, i)
		}

		returned := make([]byte, bytesLen)
		copy(returned, data[bytesStart+wordSize:bytesStart+wordSize+bytesLen])
		results = append(results, CallResult{
			Success:    successWord.Sign() != 0,
			ReturnData: returned,
		})
	}
	return results, nil
}

// DecodeUint parses a single uint256 return value into an Int.
func DecodeUint(data []byte) (sdkmath.Int, error) {
	if len(data) < wordSize {
		return sdkmath.ZeroInt(), fmt.Errorf("%w: uint256 return is %d bytes", ErrMalformedABIData, len(data))
	}
	return sdkmath.NewIntFromBigInt(new(big.Int).SetBytes(data[:wordSize])), nil
}

// DecodeUintHex parses a hex-encoded uint256 return value, as produced by a
// plain eth_call.
func DecodeUintHex(returnData string) (sdkmath.Int, error) {
	data, err := hexToBytes(returnData)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	return DecodeUint(data)
}

// AddressTopic left-pads an address into a 32-byte log topic, for filtering
// events by an indexed address parameter.
func AddressTopic(address string) (string, error) {
	word, err := addressWord(address)
	if err != nil {
		return "", err
	}
	return bytesToHex(word), nil
}

// AddressFromTopic extracts the address from a 32-byte indexed topic.
func AddressFromTopic(topic string) (string, error) {
	raw, err := hexToBytes(topic)
	if err != nil {
		return "", err
	}
	if len(raw) != wordSize {
		return "", fmt.Errorf("%w: topic is %d bytes, want %d", ErrMalformedABIData, len(raw), wordSize)
	}
	return bytesToHex(raw[12:]), nil
}
