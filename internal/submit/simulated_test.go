package submit

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient/simulated"
	"github.com/ethereum/go-ethereum/params"

	"Argos-Oracle/internal/chain"
)

// autoMining commits a block after every accepted transaction so receipts
// become available without a separate miner loop.
type autoMining struct {
	simulated.Client
	sim *simulated.Backend
}

func (a autoMining) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	if err := a.Client.SendTransaction(ctx, tx); err != nil {
		return err
	}
	a.sim.Commit()
	return nil
}

func TestSubmitAgainstSimulatedChain(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	account := crypto.PubkeyToAddress(key.PublicKey)
	funds := new(big.Int).Mul(big.NewInt(100), big.NewInt(params.Ether))

	sim := simulated.NewBackend(types.GenesisAlloc{account: {Balance: funds}})
	t.Cleanup(func() { _ = sim.Close() })
	backend := autoMining{Client: sim.Client(), sim: sim}

	contract, err := chain.ParseContract([]byte(aggregatorABI), contractAddr)
	if err != nil {
		t.Fatalf("parse contract: %v", err)
	}
	s, err := NewSubmitter(backend, contract, key,
		WithChainID(big.NewInt(1337)),
		WithConfirmTimeout(5*time.Second),
		WithPollInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("new submitter: %v", err)
	}

	first, err := s.Submit(ctx, samplePrediction(t))
	if err != nil {
		t.Fatalf("first submit: %v", err)
	}
	if !first.Succeeded() {
		t.Fatalf("expected mined receipt, got %+v", first)
	}
	second, err := s.Submit(ctx, samplePrediction(t))
	if err != nil {
		t.Fatalf("second submit: %v", err)
	}
	if second.Nonce != first.Nonce+1 {
		t.Fatalf("nonce must increase by one per submission: %d then %d", first.Nonce, second.Nonce)
	}
	if second.BlockNumber <= first.BlockNumber {
		t.Fatalf("expected second submission in a later block")
	}

	balance, err := sim.Client().BalanceAt(ctx, contractAddr, nil)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if want := new(big.Int).Mul(defaultStake, big.NewInt(2)); balance.Cmp(want) != 0 {
		t.Fatalf("contract balance = %s, want %s", balance, want)
	}
}
