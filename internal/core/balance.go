package core

import "time"

// ComputeBalance derives the running totals of a shift.
//
// TotalCollected sums every payment regardless of method; the cash and card
// subtotals only include payments whose method is known. A non-numeric
// initial amount counts as zero. The payments slice is only read.
func ComputeBalance(initialAmount string, payments []Payment) Balance {
	var b Balance
	for _, p := range payments {
		b.TotalCollected = b.TotalCollected.Add(p.Amount)
		switch p.Method {
		case Cash:
			b.CashTotal = b.CashTotal.Add(p.Amount)
		case Card:
			b.CardTotal = b.CardTotal.Add(p.Amount)
		}
	}
	b.FinalBalance = AmountOrZero(initialAmount).Add(b.TotalCollected)
	return b
}

// Settle builds the closing settlement for a session opened with
// initialAmount. The closing time is now formatted as local HH:MM.
func Settle(initialAmount string, payments []Payment, now time.Time) Settlement {
	b := ComputeBalance(initialAmount, payments)
	return Settlement{
		ClosingTime:   now.Format("15:04"),
		CashTotal:     b.CashTotal,
		CardTotal:     b.CardTotal,
		InitialAmount: initialAmount,
	}
}

// Total is the amount collected across both methods.
func (s Settlement) Total() Money {
	return s.CashTotal.Add(s.CardTotal)
}
