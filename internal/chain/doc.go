// Package chain wraps the EVM endpoint and the aggregator contract interface
// used by the submitter: dialing the RPC endpoint, probing connectivity, and
// packing calls to submit(bool,uint8,bytes) from the contract's ABI artifact.
package chain
