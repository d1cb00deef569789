// Package agent runs one forecasting agent to completion: derive a prediction,
// submit it to the aggregator, record the outcome in the ledger.
package agent
