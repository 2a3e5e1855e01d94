package strategy

import (
	"crypto-signal-bot/internal/model"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"
)

// weightStrategy 按预设序列逐周期返回信号
type weightStrategy struct {
	signals []model.Signal
	i       int
}

func (w *weightStrategy) Name() string { return "sequence" }

func (w *weightStrategy) GenerateSignal(_ []model.KLine) (model.Signal, error) {
	s := w.signals[w.i%len(w.signals)]
	w.i++
	return s, nil
}

func TestAggregatorStrongBypassesHistory(t *testing.T) {
	agg := NewAggregator([]Member{
		{Role: "a", Strategy: fixed(model.SignalStrongBuy)},
		{Role: "b", Strategy: fixed(model.SignalStrongBuy)},
		{Role: "c", Strategy: fixed(model.SignalBuy)},
	}, 3, 5, zaptest.NewLogger(t))

	assert.Equal(t, model.SignalStrongBuy, agg.Decide(nil))
	assert.Empty(t, agg.History())

	sell := NewAggregator([]Member{
		{Role: "a", Strategy: fixed(model.SignalStrongSell)},
		{Role: "b", Strategy: fixed(model.SignalHold)},
	}, 3, 5, nil)
	assert.Equal(t, model.SignalStrongSell, sell.Decide(nil))
	assert.Empty(t, sell.History())
}

func TestAggregatorHistoryMajority(t *testing.T) {
	// 权重序列 [1,1,1,-1,1]，用 +3 与 -2 组合出 +1，-3 与 +2 组合出 -1
	up := []model.Signal{model.SignalStrongBuy, model.SignalStrongBuy, model.SignalStrongBuy, model.SignalStrongSell, model.SignalStrongBuy}
	down := []model.Signal{model.SignalSell, model.SignalSell, model.SignalSell, model.SignalBuy, model.SignalSell}
	agg := NewAggregator([]Member{
		{Role: "up", Strategy: &weightStrategy{signals: up}},
		{Role: "down", Strategy: &weightStrategy{signals: down}},
	}, 3, 5, zaptest.NewLogger(t))

	var last model.Signal
	for i := 0; i < 5; i++ {
		last = agg.Decide(nil)
	}
	assert.Equal(t, []int{1, 1, 1, -1, 1}, agg.History())
	assert.Equal(t, model.SignalBuy, last)
}

func TestAggregatorMajorityUsesCurrentLength(t *testing.T) {
	// 单个 +2 观察即构成多数
	agg := NewAggregator([]Member{{Role: "a", Strategy: fixed(model.SignalBuy)}}, 3, 5, nil)
	assert.Equal(t, model.SignalBuy, agg.Decide(nil))

	neg := NewAggregator([]Member{{Role: "a", Strategy: fixed(model.SignalSell)}}, 3, 5, nil)
	assert.Equal(t, model.SignalSell, neg.Decide(nil))

	flat := NewAggregator([]Member{{Role: "a", Strategy: fixed(model.SignalHold)}}, 3, 5, nil)
	assert.Equal(t, model.SignalNeutral, flat.Decide(nil))
}

func TestAggregatorHistoryIsBounded(t *testing.T) {
	seq := &weightStrategy{signals: []model.Signal{model.SignalSell, model.SignalSell, model.SignalBuy, model.SignalBuy, model.SignalBuy, model.SignalBuy, model.SignalBuy}}
	agg := NewAggregator([]Member{{Role: "s", Strategy: seq}}, 3, 5, nil)
	var decisions []model.Signal
	for i := 0; i < 7; i++ {
		decisions = append(decisions, agg.Decide(nil))
	}
	assert.Equal(t, []int{2, 2, 2, 2, 2}, agg.History())
	assert.Equal(t, model.SignalSell, decisions[0])
	assert.Equal(t, model.SignalNeutral, decisions[3]) // [-2,-2,2,2]
	assert.Equal(t, model.SignalBuy, decisions[4])     // [-2,-2,2,2,2]
}

func TestAggregatorMemberErrorsAreNeutral(t *testing.T) {
	agg := NewAggregator([]Member{
		{Role: "ok", Strategy: fixed(model.SignalStrongBuy)},
		{Role: "err", Strategy: &stubStrategy{name: "err", err: errors.New("bad window")}},
		{Role: "panic", Strategy: &stubStrategy{name: "panic", panics: true}},
		{Role: "junk", Strategy: &stubStrategy{name: "junk", signal: model.Signal("moon")}},
	}, 3, 5, zaptest.NewLogger(t))

	assert.Equal(t, model.SignalStrongBuy, agg.Decide(nil))
}

func TestEvaluateWrapsErrors(t *testing.T) {
	_, err := evaluate(&stubStrategy{name: "x", err: errors.New("bad")}, nil)
	assert.ErrorIs(t, err, ErrStrategyEvaluation)

	_, err = evaluate(&stubStrategy{name: "x", panics: true}, nil)
	var se *StrategyEvaluationError
	assert.ErrorAs(t, err, &se)
	assert.Equal(t, "x", se.Strategy)
}

func TestAggregatorOrderIndependent(t *testing.T) {
	signals := []model.Signal{model.SignalBuy, model.SignalSell, model.SignalStrongSell, model.SignalBuy, model.SignalHold}
	perms := [][]int{{0, 1, 2, 3, 4}, {4, 3, 2, 1, 0}, {2, 0, 4, 1, 3}}
	var want []int
	for _, perm := range perms {
		members := make([]Member, 0, len(perm))
		for _, i := range perm {
			members = append(members, Member{Role: string(signals[i]), Strategy: fixed(signals[i])})
		}
		agg := NewAggregator(members, 3, 5, nil)
		agg.Decide(nil)
		if want == nil {
			want = agg.History()
			continue
		}
		assert.Equal(t, want, agg.History())
	}
	assert.Equal(t, []int{-1}, want)
}

func TestAggregatorCloneHasFreshHistory(t *testing.T) {
	agg := NewAggregator([]Member{{Role: "a", Strategy: fixed(model.SignalBuy)}}, 3, 5, nil)
	agg.Decide(nil)
	clone := agg.Clone(nil)
	assert.Empty(t, clone.History())
	assert.Len(t, agg.History(), 1)
	assert.Equal(t, agg.Members(), clone.Members())
}

func TestAggregatorCloneCopiesNestedHistory(t *testing.T) {
	inner := NewAggregator([]Member{{Role: "vote", Strategy: fixed(model.SignalBuy)}}, 3, 5, nil)
	proto := NewAggregator([]Member{{Role: "inner", Strategy: inner}}, 3, 5, nil)

	btc := proto.Clone(zaptest.NewLogger(t))
	eth := proto.Clone(zaptest.NewLogger(t))
	btc.Decide(nil)
	eth.Decide(nil)
	eth.Decide(nil)

	innerOf := func(a *Aggregator) *Aggregator {
		agg, ok := a.Members()[0].Strategy.(*Aggregator)
		assert.True(t, ok)
		return agg
	}
	assert.NotSame(t, innerOf(btc), innerOf(eth))
	assert.Equal(t, []int{2}, innerOf(btc).History())
	assert.Equal(t, []int{2, 2}, innerOf(eth).History())
	assert.Empty(t, inner.History(), "prototype stays untouched")
	assert.Equal(t, []int{2}, btc.History())
	assert.Equal(t, []int{2, 2}, eth.History())
}
