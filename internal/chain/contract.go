package chain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	xerrors "Argos-Oracle/internal/errors"
)

// SubmitMethod is the aggregator method every agent calls.
const SubmitMethod = "submit"

// Contract binds the aggregator ABI to its deployed address.
type Contract struct {
	address common.Address
	abi     abi.ABI
}

// LoadContract reads the ABI artifact from disk. Both a bare ABI array and a
// Hardhat style artifact ({"abi": [...]}) are accepted.
func LoadContract(path string, address common.Address) (*Contract, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeConfiguration, err, fmt.Sprintf("读取合约 ABI 失败: %s", path))
	}
	return ParseContract(raw, address)
}

// ParseContract parses an ABI artifact already held in memory.
func ParseContract(raw []byte, address common.Address) (*Contract, error) {
	abiJSON, err := extractABI(raw)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeConfiguration, err, "解析合约 ABI 失败")
	}
	parsed, err := abi.JSON(bytes.NewReader(abiJSON))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeConfiguration, err, "解析合约 ABI 失败")
	}
	if err := checkSubmitMethod(parsed); err != nil {
		return nil, err
	}
	return &Contract{address: address, abi: parsed}, nil
}

// Address returns the deployed contract address.
func (c *Contract) Address() common.Address {
	return c.address
}

// PackSubmit encodes the call data for submit(outcome, confidence, proof).
func (c *Contract) PackSubmit(outcome bool, confidence uint8, proof []byte) ([]byte, error) {
	data, err := c.abi.Pack(SubmitMethod, outcome, confidence, proof)
	if err != nil {
		return nil, fmt.Errorf("编码 submit 调用失败: %w", err)
	}
	return data, nil
}

func extractABI(raw []byte) ([]byte, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("ABI 文件为空")
	}
	if trimmed[0] == '[' {
		return trimmed, nil
	}
	var artifact struct {
		ABI json.RawMessage `json:"abi"`
	}
	if err := json.Unmarshal(trimmed, &artifact); err != nil {
		return nil, err
	}
	if len(artifact.ABI) == 0 {
		return nil, fmt.Errorf("构件中缺少 abi 字段")
	}
	return artifact.ABI, nil
}

func checkSubmitMethod(parsed abi.ABI) error {
	method, ok := parsed.Methods[SubmitMethod]
	if !ok {
		return xerrors.New(xerrors.CodeConfiguration, "合约 ABI 中没有 submit 方法")
	}
	want := []string{"bool", "uint8", "bytes"}
	if len(method.Inputs) != len(want) {
		return xerrors.New(xerrors.CodeConfiguration, fmt.Sprintf("submit 方法签名不匹配: %s", method.Sig))
	}
	for i, input := range method.Inputs {
		if input.Type.String() != want[i] {
			return xerrors.New(xerrors.CodeConfiguration, fmt.Sprintf("submit 方法签名不匹配: %s", method.Sig))
		}
	}
	if !method.IsPayable() {
		return xerrors.New(xerrors.CodeConfiguration, "submit 方法必须是 payable")
	}
	return nil
}
