package strategies

import (
	"fmt"

	domsvc "SwarmTrader/internal/domain/service"
)

// Build creates the source for one configured strategy kind.
func Build(p Params, remote RemoteOptions) (domsvc.OpportunitySource, error) {
	if p.ID == "" {
		return nil, fmt.Errorf("strategy id is empty")
	}
	if len(p.Timeframes) == 0 {
		p.Timeframes = DefaultTimeframes(p.Kind)
	}
	switch p.Kind {
	case "hf_scalping":
		return NewScalper(p), nil
	case "momentum":
		return NewBreakout(p), nil
	case "stat_arb":
		return NewPairReversion(p), nil
	case "funding_arb":
		return NewFundingCarry(p), nil
	case "grid":
		return NewGrid(p), nil
	case "remote":
		return NewRemote(p, remote)
	}
	return nil, fmt.Errorf("unknown strategy kind %q", p.Kind)
}

// DefaultTimeframes are the timeframes each kind scans when none are configured.
func DefaultTimeframes(kind string) []string {
	switch kind {
	case "hf_scalping":
		return []string{"1m", "3m", "5m"}
	case "momentum":
		return []string{"15m", "30m", "1h"}
	case "stat_arb":
		return []string{"15m", "1h", "4h"}
	case "funding_arb":
		return []string{"8h"}
	case "grid":
		return []string{"5m", "15m"}
	}
	return []string{"5m"}
}
