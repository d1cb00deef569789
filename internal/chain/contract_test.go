package chain

import (
	"bytes"
	"context"
	"errors"
	"math/big"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	xerrors "Argos-Oracle/internal/errors"
)

const aggregatorABI = `[{"inputs":[{"internalType":"bool","name":"outcome","type":"bool"},{"internalType":"uint8","name":"confidence","type":"uint8"},{"internalType":"bytes","name":"proof","type":"bytes"}],"name":"submit","outputs":[],"stateMutability":"payable","type":"function"}]`

var contractAddr = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")

func TestParseContractAcceptsBothLayouts(t *testing.T) {
	t.Parallel()

	bare, err := ParseContract([]byte(aggregatorABI), contractAddr)
	if err != nil {
		t.Fatalf("bare abi: %v", err)
	}
	artifact, err := ParseContract([]byte(`{"contractName":"AggregatorCore","abi":`+aggregatorABI+`}`), contractAddr)
	if err != nil {
		t.Fatalf("hardhat artifact: %v", err)
	}

	a, err := bare.PackSubmit(true, 96, []byte("proof"))
	if err != nil {
		t.Fatalf("pack: %v", err)
	}
	b, err := artifact.PackSubmit(true, 96, []byte("proof"))
	if err != nil {
		t.Fatalf("pack: %v", err)
	}
	if !bytes.Equal(a, b) {
		t.Fatalf("both layouts should encode identically")
	}
	// submit(bool,uint8,bytes) selector
	if got := common.Bytes2Hex(a[:4]); got != common.Bytes2Hex(bare.abi.Methods[SubmitMethod].ID) {
		t.Fatalf("unexpected selector %s", got)
	}
	if bare.Address() != contractAddr {
		t.Fatalf("unexpected address %s", bare.Address().Hex())
	}
}

func TestParseContractRejectsWrongSignature(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"missing method": `[]`,
		"wrong inputs":   `[{"inputs":[{"name":"outcome","type":"bool"}],"name":"submit","outputs":[],"stateMutability":"payable","type":"function"}]`,
		"not payable":    `[{"inputs":[{"name":"o","type":"bool"},{"name":"c","type":"uint8"},{"name":"p","type":"bytes"}],"name":"submit","outputs":[],"stateMutability":"nonpayable","type":"function"}]`,
		"garbage":        `{"abi": 12}`,
		"empty":          ``,
	}
	for name, raw := range cases {
		if _, err := ParseContract([]byte(raw), contractAddr); !xerrors.IsCode(err, xerrors.CodeConfiguration) {
			t.Fatalf("%s: expected configuration error, got %v", name, err)
		}
	}
}

func TestLoadContractMissingFile(t *testing.T) {
	t.Parallel()

	_, err := LoadContract(filepath.Join(t.TempDir(), "contract_abi.json"), contractAddr)
	if !xerrors.IsCode(err, xerrors.CodeConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected not-exist cause, got %v", err)
	}
}

func TestIsNonceCollision(t *testing.T) {
	t.Parallel()

	if !IsNonceCollision(errors.New("nonce too low: next nonce 5, tx nonce 4")) {
		t.Fatalf("nonce too low should be a collision")
	}
	if !IsNonceCollision(errors.New("Replacement transaction underpriced")) {
		t.Fatalf("underpriced replacement should be a collision")
	}
	if IsNonceCollision(errors.New("insufficient funds for gas * price + value")) {
		t.Fatalf("insufficient funds is not a collision")
	}
	if IsNonceCollision(nil) {
		t.Fatalf("nil is not a collision")
	}
}

func TestIsAlreadyKnown(t *testing.T) {
	t.Parallel()

	if !IsAlreadyKnown(errors.New("already known")) {
		t.Fatalf("already known should be recognised")
	}
	if !IsAlreadyKnown(errors.New("Known transaction: 0xabc")) {
		t.Fatalf("known transaction should be recognised")
	}
	if IsAlreadyKnown(errors.New("nonce too low")) {
		t.Fatalf("nonce too low is a collision, not a known transaction")
	}
	if IsAlreadyKnown(nil) {
		t.Fatalf("nil is not a known transaction")
	}
	if IsNonceCollision(errors.New("already known")) {
		t.Fatalf("already known must not trigger a nonce refresh")
	}
}

type brokenBackend struct{ Backend }

func (brokenBackend) ChainID(context.Context) (*big.Int, error) {
	return nil, errors.New("connection refused")
}

func TestCheckConnectivityMapsToConnectivity(t *testing.T) {
	t.Parallel()

	_, err := CheckConnectivity(context.Background(), brokenBackend{})
	if !xerrors.IsCode(err, xerrors.CodeConnectivity) {
		t.Fatalf("expected connectivity error, got %v", err)
	}
	if _, err := CheckConnectivity(context.Background(), nil); !xerrors.IsCode(err, xerrors.CodeConnectivity) {
		t.Fatalf("expected connectivity error for nil backend, got %v", err)
	}
}

var _ Backend = (*Client)(nil)
