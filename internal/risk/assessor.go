// Package risk scores pending relay requests from deterministic heuristics.
// The score feeds both UI warnings and the auto-approval decision, so the
// same input must always produce the same output.
package risk

import (
	"context"
	"fmt"

	"github.com/wallet-relay/wallet-relay/pkg/types"
)

// Severity levels attached to risk factors.
const (
	SeverityLow    = "low"
	SeverityMedium = "medium"
	SeverityHigh   = "high"
)

// History supplies the per-user signals the heuristics compare against.
// Implemented by the relay transaction store.
type History interface {
	// AverageTransactionValue returns the mean native-unit value over the
	// user's approved and completed requests, 0 when there is no history.
	AverageTransactionValue(ctx context.Context, userID string) (float64, error)
	// DestinationSeen reports whether the user has previously signed a
	// request to this address.
	DestinationSeen(ctx context.Context, userID, address string) (bool, error)
}

// Assessor scores signing requests between 0 and 100.
type Assessor struct {
	history History
}

// NewAssessor creates an Assessor backed by the given history source.
func NewAssessor(history History) *Assessor {
	return &Assessor{history: history}
}

// Score rates one request. Higher is riskier. The factors explain which
// heuristics fired so the UI can surface them to the user.
func (a *Assessor) Score(ctx context.Context, userID, requestType string, data types.RequestData) (int, []types.RiskFactor, error) {
	score := 0
	var factors []types.RiskFactor

	add := func(points int, name, description, severity string) {
		score += points
		factors = append(factors, types.RiskFactor{
			Name:        name,
			Description: description,
			Severity:    severity,
		})
	}

	// Request shape. Raw typed data can authorize arbitrarily scoped
	// operations; a bounded personal sign cannot.
	switch requestType {
	case types.RequestTypeSignTypedData:
		add(25, "unbounded_typed_data",
			"raw typed-data signatures can carry unbounded scope", SeverityHigh)
	case types.RequestTypeSignTransaction:
		add(10, "value_transfer",
			"transaction requests move funds", SeverityLow)
	}

	if data.Value > 0 {
		avg, err := a.history.AverageTransactionValue(ctx, userID)
		if err != nil {
			return 0, nil, fmt.Errorf("failed to load transaction history: %w", err)
		}

		switch {
		case avg == 0 && data.Value >= 1:
			add(15, "no_history",
				"first sizable transfer for this wallet", SeverityMedium)
		case avg > 0 && data.Value > 5*avg:
			add(30, "amount_above_average",
				fmt.Sprintf("amount is more than 5x the historical average of %.4f", avg), SeverityHigh)
		case avg > 0 && data.Value > 2*avg:
			add(15, "amount_above_average",
				fmt.Sprintf("amount is more than 2x the historical average of %.4f", avg), SeverityMedium)
		}

		if data.Value >= 10 {
			add(20, "large_transfer", "transfer exceeds 10 native units", SeverityHigh)
		}
	}

	if data.To != "" {
		seen, err := a.history.DestinationSeen(ctx, userID, data.To)
		if err != nil {
			return 0, nil, fmt.Errorf("failed to check destination history: %w", err)
		}
		if !seen {
			add(20, "new_destination",
				"destination address has not been seen before", SeverityMedium)
		}
	} else if requestType == types.RequestTypeSignTransaction {
		add(10, "missing_destination",
			"transaction request carries no destination address", SeverityMedium)
	}

	// Non-empty calldata means a contract interaction rather than a plain
	// transfer.
	if len(data.Data) > 2 {
		add(10, "contract_interaction",
			"request includes contract calldata", SeverityLow)
	}

	if score > 100 {
		score = 100
	}
	return score, factors, nil
}
