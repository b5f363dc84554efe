package token

import (
	"context"

	"github.com/aristath/optionpulse/internal/broker"
)

// BrokerAdapter satisfies broker.TokenProvider and broker.ForceRefresher by
// delegating to a Source, decoupling broker from token's internal Token
// representation.
type BrokerAdapter struct {
	Source *Source
}

func (a BrokerAdapter) GetToken(ctx context.Context) (broker.TokenValue, error) {
	tok, err := a.Source.GetToken(ctx)
	if err != nil {
		return broker.TokenValue{}, err
	}
	return broker.TokenValue{Value: tok.Value}, nil
}

func (a BrokerAdapter) ForceRefresh(ctx context.Context) (broker.TokenValue, error) {
	tok, err := a.Source.ForceRefresh(ctx)
	if err != nil {
		return broker.TokenValue{}, err
	}
	return broker.TokenValue{Value: tok.Value}, nil
}
