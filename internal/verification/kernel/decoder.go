// Package kernel decodes the ABI-encoded kernel execution responses and folds
// the per-policy verdicts into a single verification outcome.
package kernel

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"

	"proofgate/internal/session/models"
	dErrors "proofgate/pkg/domain-errors"
)

// Aggregation decides how per-kernel verdicts roll up into one outcome.
type Aggregation string

const (
	// AggregateAny passes when at least one kernel reports success.
	AggregateAny Aggregation = "any"
	// AggregateAll passes only when every kernel reports success.
	AggregateAll Aggregation = "all"
)

// ParseAggregation validates a configured aggregation mode.
func ParseAggregation(mode string) (Aggregation, error) {
	switch Aggregation(mode) {
	case AggregateAny, AggregateAll:
		return Aggregation(mode), nil
	case "":
		return AggregateAny, nil
	default:
		return "", fmt.Errorf("unknown kernel aggregation mode %q", mode)
	}
}

// Kernel responses arrive as abi.encode((uint256 kernelId, bytes result,
// string err)[]). A successful kernel wraps its verdict string in a further
// abi.encode((string)) inside result.
var (
	responsesArgs = abi.Arguments{{Type: mustType("tuple[]", []abi.ArgumentMarshaling{
		{Name: "kernelId", Type: "uint256"},
		{Name: "result", Type: "bytes"},
		{Name: "err", Type: "string"},
	})}}
	verdictArgs = abi.Arguments{{Type: mustType("tuple", []abi.ArgumentMarshaling{
		{Name: "value", Type: "string"},
	})}}
)

func mustType(t string, components []abi.ArgumentMarshaling) abi.Type {
	typ, err := abi.NewType(t, "", components)
	if err != nil {
		panic(err)
	}
	return typ
}

type rawKernelResponse struct {
	KernelID *big.Int `abi:"kernelId"`
	Result   []byte   `abi:"result"`
	Err      string   `abi:"err"`
}

type rawVerdict struct {
	Value string `abi:"value"`
}

// Decoder turns raw kernel response bytes into per-policy verdicts.
type Decoder struct {
	mode Aggregation
}

// NewDecoder constructs a decoder with the given aggregation mode.
func NewDecoder(mode Aggregation) *Decoder {
	if mode == "" {
		mode = AggregateAny
	}
	return &Decoder{mode: mode}
}

// Decode unpacks the outer response array. A malformed outer payload is a
// kernel_decode_error; a malformed inner verdict only fails that one policy.
func (d *Decoder) Decode(payload []byte) ([]models.KernelResponse, error) {
	values, err := responsesArgs.Unpack(payload)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeKernelDecodeError, "failed to decode kernel responses")
	}
	if len(values) != 1 {
		return nil, dErrors.New(dErrors.CodeKernelDecodeError, "unexpected kernel response arity")
	}
	raw, ok := abi.ConvertType(values[0], new([]rawKernelResponse)).(*[]rawKernelResponse)
	if !ok {
		return nil, dErrors.New(dErrors.CodeKernelDecodeError, "unexpected kernel response layout")
	}

	responses := make([]models.KernelResponse, 0, len(*raw))
	for _, entry := range *raw {
		responses = append(responses, decodeEntry(entry))
	}
	return responses, nil
}

func decodeEntry(entry rawKernelResponse) models.KernelResponse {
	response := models.KernelResponse{}
	if entry.KernelID != nil {
		response.PolicyID = entry.KernelID.Uint64()
	}
	if entry.Err != "" {
		response.Error = entry.Err
		return response
	}
	if len(entry.Result) == 0 {
		response.Error = "kernel returned an empty result"
		return response
	}

	values, err := verdictArgs.Unpack(entry.Result)
	if err != nil {
		response.Error = fmt.Sprintf("undecodable kernel result: %v", err)
		return response
	}
	verdict, ok := abi.ConvertType(values[0], new(rawVerdict)).(*rawVerdict)
	if !ok {
		response.Error = "unexpected kernel result layout"
		return response
	}
	response.Result = &verdict.Value
	return response
}

// Aggregate folds per-policy verdicts into the session outcome. An empty
// response set never passes.
func (d *Decoder) Aggregate(responses []models.KernelResponse) bool {
	if len(responses) == 0 {
		return false
	}
	switch d.mode {
	case AggregateAll:
		for _, r := range responses {
			if !r.Passed() {
				return false
			}
		}
		return true
	default:
		for _, r := range responses {
			if r.Passed() {
				return true
			}
		}
		return false
	}
}
