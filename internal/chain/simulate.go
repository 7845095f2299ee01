package chain

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
)

// SimStatus is the typed outcome of a dry-run call.
type SimStatus uint8

const (
	// SimOK means the call would succeed.
	SimOK SimStatus = iota
	// SimUnsupported means the target cannot execute the call at all: no
	// code, or a revert with no data, which is what a contract without a
	// matching selector or fallback produces.
	SimUnsupported
	// SimReverted means the contract rejected the call for a reason.
	SimReverted
	// SimError means the node could not answer (transport, rate limit).
	SimError
)

func (s SimStatus) String() string {
	switch s {
	case SimOK:
		return "OK"
	case SimUnsupported:
		return "UNSUPPORTED"
	case SimReverted:
		return "REVERTED"
	case SimError:
		return "RPC_ERROR"
	default:
		return "UNKNOWN"
	}
}

type SimResult struct {
	Status SimStatus
	Reason string
	Return []byte
	Err    error
}

func (r SimResult) OK() bool { return r.Status == SimOK }

// unsupportedMarkers are node and contract messages that mean the function
// does not exist on the target.
var unsupportedMarkers = []string{
	"function selector was not recognized",
	"function not found",
	"unrecognized function selector",
	"no fallback",
}

// Simulate dry-runs call from the given sender against the latest state.
// errABIs are consulted to decode custom Solidity errors.
func (c *Client) Simulate(ctx context.Context, from common.Address, call Call, errABIs ...*abi.ABI) SimResult {
	ret, err := c.rpc.CallContract(ctx, call.msg(from), nil)
	if err == nil {
		return SimResult{Status: SimOK, Return: ret}
	}

	data, isRevert := RevertData(err)
	if !isRevert {
		return SimResult{Status: SimError, Reason: err.Error(), Err: err}
	}

	if len(data) == 0 {
		msg := strings.ToLower(err.Error())
		for _, m := range unsupportedMarkers {
			if strings.Contains(msg, m) {
				return SimResult{Status: SimUnsupported, Reason: err.Error(), Err: err}
			}
		}
		hasCode, codeErr := c.HasCode(ctx, call.To)
		if codeErr == nil && !hasCode {
			return SimResult{Status: SimUnsupported, Reason: "no contract code at " + call.To.Hex(), Err: err}
		}
		return SimResult{Status: SimUnsupported, Reason: "execution reverted without data", Err: err}
	}

	reason := DecodeRevert(data, errABIs...)
	for _, m := range unsupportedMarkers {
		if strings.Contains(strings.ToLower(reason), m) {
			return SimResult{Status: SimUnsupported, Reason: reason, Err: err}
		}
	}
	return SimResult{Status: SimReverted, Reason: reason, Err: err}
}

// RevertData extracts revert bytes from an eth_call error. The boolean is
// false when err is not an execution revert.
func RevertData(err error) ([]byte, bool) {
	var de rpc.DataError
	if errors.As(err, &de) {
		switch d := de.ErrorData().(type) {
		case string:
			b, decErr := hexutil.Decode(d)
			if decErr == nil {
				return b, true
			}
		case []byte:
			return d, true
		}
	}
	if strings.Contains(strings.ToLower(err.Error()), "revert") {
		return nil, true
	}
	return nil, false
}

// DecodeRevert renders revert data as a human readable reason. Standard
// Error(string) and Panic(uint256) are tried first, then custom errors.
func DecodeRevert(data []byte, errABIs ...*abi.ABI) string {
	if reason, err := abi.UnpackRevert(data); err == nil {
		return reason
	}
	if len(data) >= 4 {
		var id [4]byte
		copy(id[:], data[:4])
		for _, a := range errABIs {
			if a == nil {
				continue
			}
			e, err := a.ErrorByID(id)
			if err != nil {
				continue
			}
			vals, err := e.Inputs.Unpack(data[4:])
			if err != nil {
				return e.Name
			}
			parts := make([]string, len(vals))
			for i, v := range vals {
				parts[i] = fmt.Sprint(v)
			}
			return fmt.Sprintf("%s(%s)", e.Name, strings.Join(parts, ", "))
		}
	}
	return "unknown revert " + hexutil.Encode(data)
}
