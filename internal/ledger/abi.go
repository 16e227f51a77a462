package ledger

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// Contract method names
const (
	MethodGetUnvalidatedJobIDs  = "getUnvalidatedJobIds"
	MethodSubmitNodeUpdate      = "submitNodeUpdate"
	MethodIsLastEpochAllocated  = "isLastEpochAllocated"
	MethodAllocateRewards       = "allocateRewardsAcrossAllEscrows"
	MethodGetFirstClosableJobID = "getFirstClosableJobId"
)

// contractABI binds only the calls the coordination loop makes
const contractABI = `[
  {"type":"function","name":"getUnvalidatedJobIds","stateMutability":"view",
   "inputs":[{"name":"oracle","type":"address"}],
   "outputs":[{"name":"","type":"uint256[]"}]},
  {"type":"function","name":"submitNodeUpdate","stateMutability":"nonpayable",
   "inputs":[{"name":"jobId","type":"uint256"},{"name":"newActiveNodes","type":"address[]"}],
   "outputs":[]},
  {"type":"function","name":"isLastEpochAllocated","stateMutability":"view",
   "inputs":[],
   "outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"allocateRewardsAcrossAllEscrows","stateMutability":"nonpayable",
   "inputs":[],
   "outputs":[]},
  {"type":"function","name":"getFirstClosableJobId","stateMutability":"view",
   "inputs":[],
   "outputs":[{"name":"","type":"uint256"}]}
]`

// ParsedABI returns the parsed contract ABI
func ParsedABI() (abi.ABI, error) {
	return abi.JSON(strings.NewReader(contractABI))
}

// ParseJobID converts a decimal job id to its on-chain form
func ParseJobID(jobID string) (*big.Int, error) {
	id, ok := new(big.Int).SetString(strings.TrimSpace(jobID), 10)
	if !ok || id.Sign() < 0 {
		return nil, fmt.Errorf("invalid job id %q", jobID)
	}
	return id, nil
}

// FormatJobID converts an on-chain job id to its decimal form
func FormatJobID(id *big.Int) string {
	if id == nil {
		return ""
	}
	return id.String()
}
