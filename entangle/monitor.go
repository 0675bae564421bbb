package entangle

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/stat"

	"github.com/qnative/qniot/quantum"
)

// A RoundResult is one monitoring round's verification outcome.
type RoundResult struct {
	Round int `json:"round"`
	Result
}

// A MonitorSummary aggregates a continuous monitoring session. Rounds are
// independent; the only cross-round state is the aggregate compromise flag
// and the summary statistics.
type MonitorSummary struct {
	Rounds         []RoundResult `json:"rounds"`
	TamperedRounds int           `json:"tampered_rounds"`
	Compromised    bool          `json:"compromised"`

	MeanFidelity float64 `json:"mean_fidelity"`
	MeanCHSH     float64 `json:"mean_chsh"`
	StdDevCHSH   float64 `json:"stddev_chsh"`
}

// Monitor repeatedly verifies the channel for the given number of rounds.
// Any round with tampering detected marks the whole session compromised.
func (v *Verifier) Monitor(rounds int, backend quantum.Backend) (MonitorSummary, error) {
	if rounds < 1 {
		return MonitorSummary{}, fmt.Errorf("monitoring needs at least one round, got %d", rounds)
	}
	logrus.WithField("rounds", rounds).Info("Starting continuous tamper monitoring")

	summary := MonitorSummary{Rounds: make([]RoundResult, 0, rounds)}
	fidelities := make([]float64, 0, rounds)
	chshValues := make([]float64, 0, rounds)

	for i := 0; i < rounds; i++ {
		res, err := v.Verify(backend)
		if err != nil {
			return MonitorSummary{}, fmt.Errorf("monitoring round %d: %w", i+1, err)
		}
		summary.Rounds = append(summary.Rounds, RoundResult{Round: i + 1, Result: res})
		fidelities = append(fidelities, res.AverageFidelity)
		chshValues = append(chshValues, res.CHSH.Value)
		if res.TamperingDetected {
			summary.TamperedRounds++
			logrus.WithField("round", i+1).Warn("Tampering detected during monitoring")
		}
	}

	summary.Compromised = summary.TamperedRounds > 0
	summary.MeanFidelity = stat.Mean(fidelities, nil)
	summary.MeanCHSH = stat.Mean(chshValues, nil)
	if rounds > 1 {
		summary.StdDevCHSH = stat.StdDev(chshValues, nil)
	}

	logrus.WithFields(logrus.Fields{
		"rounds":          rounds,
		"tampered_rounds": summary.TamperedRounds,
		"compromised":     summary.Compromised,
	}).Info("Monitoring complete")
	return summary, nil
}
