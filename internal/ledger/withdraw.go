package ledger

import (
	"context"
	"fmt"
	"math"

	"github.com/arko05roy/swarm/internal/domain"
	"github.com/arko05roy/swarm/internal/hooks"
)

// Withdrawal is the result of Withdraw.
type Withdrawal struct {
	AgentID             string  `json:"agentId"`
	TotalWithdrawn      float64 `json:"totalWithdrawn"`
	PrincipalWithdrawn  float64 `json:"principalWithdrawn"`
	EarningsWithdrawn   float64 `json:"earningsWithdrawn"`
	RemainingInvestment float64 `json:"remainingInvestment"`
	RemainingOwnership  float64 `json:"remainingOwnership"`
	Closed              bool    `json:"closed"`
	TxID                string  `json:"txId,omitempty"`
}

// Withdraw pays amount out of the investor's position, drawing unclaimed
// earnings before principal. The books are updated before the transfer;
// if the transfer fails the principal side is restored but the scaled
// earnings entries are not.
func (l *Ledger) Withdraw(ctx context.Context, investorID, agentID string, amount float64) (Withdrawal, error) {
	if amount <= 0 || math.IsNaN(amount) || math.IsInf(amount, 0) {
		return Withdrawal{}, domain.Errorf(domain.CodeInvalidAmount, "withdrawal amount must be positive")
	}

	pl := l.pairLock(investorID, agentID)
	pl.Lock()
	defer pl.Unlock()

	return l.withdrawLocked(ctx, investorID, agentID, func(float64) float64 { return amount })
}

// WithdrawAll withdraws the full principal plus unclaimed earnings.
func (l *Ledger) WithdrawAll(ctx context.Context, investorID, agentID string) (Withdrawal, error) {
	pl := l.pairLock(investorID, agentID)
	pl.Lock()
	defer pl.Unlock()

	return l.withdrawLocked(ctx, investorID, agentID, func(balance float64) float64 { return balance })
}

// withdrawLocked runs with the pair lock held. amountOf picks the amount
// from the current balance so WithdrawAll reads and draws atomically.
func (l *Ledger) withdrawLocked(ctx context.Context, investorID, agentID string, amountOf func(balance float64) float64) (Withdrawal, error) {
	l.mu.Lock()
	principal, ok := l.investments[agentID][investorID]
	if !ok {
		l.mu.Unlock()
		return Withdrawal{}, domain.Errorf(domain.CodeNoPosition, "no investment found in agent %s", agentID)
	}
	earned := l.earnedLocked(investorID, agentID)
	balance := principal + earned
	amount := amountOf(balance)
	if amount <= 0 {
		l.mu.Unlock()
		return Withdrawal{}, domain.Errorf(domain.CodeInvalidAmount, "nothing to withdraw")
	}
	if amount > balance {
		l.mu.Unlock()
		return Withdrawal{}, domain.Errorf(domain.CodeInsufficientBalance,
			"insufficient balance: available %.4f (%.4f invested + %.4f earned)", balance, principal, earned).
			With("available", balance)
	}

	var to string
	if l.transfer != nil {
		addr, ok := l.lookupAddress(investorID)
		if !ok {
			l.mu.Unlock()
			return Withdrawal{}, domain.Errorf(domain.CodeTransferFailed, "no payout address registered for %s", investorID)
		}
		to = addr
	}

	w := Withdrawal{AgentID: agentID, TotalWithdrawn: amount}

	remaining := amount
	if earned > 0 {
		w.EarningsWithdrawn = math.Min(remaining, earned)
		remaining -= w.EarningsWithdrawn
		l.scaleEarningsLocked(investorID, agentID, (earned-w.EarningsWithdrawn)/earned)
	}
	if remaining > 0 {
		w.PrincipalWithdrawn = remaining
	}

	// Closing a position also removes its leftover dust from the total so
	// the total always equals the sum of open principals.
	newPrincipal := principal - w.PrincipalWithdrawn
	deducted := w.PrincipalWithdrawn
	if newPrincipal < PrincipalDust {
		deducted = principal
		l.closePositionLocked(investorID, agentID)
		w.Closed = true
	} else {
		l.investments[agentID][investorID] = newPrincipal
	}
	l.totals[agentID] -= deducted
	if _, open := l.investments[agentID]; !open {
		delete(l.totals, agentID)
	}
	l.mu.Unlock()

	if l.transfer != nil {
		txID, err := l.transfer.Transfer(ctx, to, amount)
		if err != nil {
			l.rollback(investorID, agentID, principal, deducted)
			l.log.Error().
				Err(err).
				Str("investor", investorID).
				Str("agent", agentID).
				Float64("amount", amount).
				Msg("withdrawal transfer failed")
			return Withdrawal{}, domain.Wrap(domain.CodeTransferFailed, err, fmt.Sprintf("transfer of %.4f failed", amount))
		}
		w.TxID = txID
	}

	if !w.Closed {
		w.RemainingInvestment = newPrincipal
	}
	w.RemainingOwnership = l.Ownership(investorID, agentID)

	l.log.Info().
		Str("investor", investorID).
		Str("agent", agentID).
		Float64("amount", amount).
		Float64("principal", w.PrincipalWithdrawn).
		Float64("earnings", w.EarningsWithdrawn).
		Str("tx", w.TxID).
		Msg("withdrawal completed")
	l.hooks.Emit(ctx, hooks.EventWithdrawalCompleted, map[string]any{
		"investorId": investorID,
		"agentId":    agentID,
		"amount":     amount,
		"principal":  w.PrincipalWithdrawn,
		"earnings":   w.EarningsWithdrawn,
		"txId":       w.TxID,
	})
	return w, nil
}

func (l *Ledger) lookupAddress(investorID string) (string, bool) {
	if l.addresses == nil {
		return "", false
	}
	return l.addresses.Address(investorID)
}

// scaleEarningsLocked multiplies the investor's entries for agentID by kept
// and drops entries that fall under EarningsDust.
func (l *Ledger) scaleEarningsLocked(investorID, agentID string, kept float64) {
	entries := l.earnings[agentID]
	out := entries[:0]
	for _, e := range entries {
		if e.InvestorID == investorID {
			e.Amount *= kept
			if e.Amount <= EarningsDust {
				continue
			}
		}
		out = append(out, e)
	}
	if len(out) == 0 {
		delete(l.earnings, agentID)
		return
	}
	l.earnings[agentID] = out
}

func (l *Ledger) closePositionLocked(investorID, agentID string) {
	delete(l.investments[agentID], investorID)
	if len(l.investments[agentID]) == 0 {
		delete(l.investments, agentID)
	}
	delete(l.portfolios[investorID], agentID)
	if len(l.portfolios[investorID]) == 0 {
		delete(l.portfolios, investorID)
	}
}

// rollback restores the principal side of a withdrawal whose transfer
// failed. Earnings scaling stays applied.
func (l *Ledger) rollback(investorID, agentID string, principal, deducted float64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	investors, ok := l.investments[agentID]
	if !ok {
		investors = make(map[string]float64)
		l.investments[agentID] = investors
	}
	investors[investorID] = principal
	l.totals[agentID] += deducted

	agents, ok := l.portfolios[investorID]
	if !ok {
		agents = make(map[string]struct{})
		l.portfolios[investorID] = agents
	}
	agents[agentID] = struct{}{}
}
