// Package recovery turns raw document bytes of uncertain encoding into valid
// UTF-8 JSON by trying an ordered list of decoding strategies.
package recovery

import (
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/catastro-enricher/internal/refcat"
)

// State is the outcome of one strategy for one document
type State int

const (
	NotTried State = iota
	Failed
	Succeeded
)

func (s State) String() string {
	switch s {
	case NotTried:
		return "not_tried"
	case Failed:
		return "failed"
	case Succeeded:
		return "succeeded"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Attempt records what happened to one strategy
type Attempt struct {
	Strategy string
	State    State
	Err      error
}

// Document is a successfully decoded input
type Document struct {
	Data     []byte // valid UTF-8 JSON
	Strategy string // name of the strategy that succeeded
	Attempts []Attempt
}

// Decoder runs strategies in order and stops at the first success
type Decoder struct {
	strategies []Strategy
	log        *zap.Logger
}

// NewDecoder creates a decoder. With no strategies the default cascade is used.
func NewDecoder(log *zap.Logger, strategies ...Strategy) *Decoder {
	if len(strategies) == 0 {
		strategies = DefaultStrategies()
	}
	return &Decoder{strategies: strategies, log: log}
}

// Decode tries each strategy on raw. Every strategy after the first success
// is left NotTried. When all fail the error is refcat.ErrUndecodable.
func (d *Decoder) Decode(raw []byte) (*Document, error) {
	attempts := make([]Attempt, len(d.strategies))
	for i, s := range d.strategies {
		attempts[i] = Attempt{Strategy: s.Name(), State: NotTried}
	}

	for i, s := range d.strategies {
		data, err := s.Decode(raw)
		if err != nil {
			attempts[i].State = Failed
			attempts[i].Err = err
			d.log.Warn("Fallo al decodificar el JSON",
				zap.String("strategy", s.Name()),
				zap.Error(err))
			continue
		}

		attempts[i].State = Succeeded
		if i > 0 {
			d.log.Info("JSON decodificado tras recuperación", zap.String("strategy", s.Name()))
		}
		return &Document{Data: data, Strategy: s.Name(), Attempts: attempts}, nil
	}

	d.log.Error("No se pudo decodificar el JSON con ninguna estrategia", zap.Int("strategies", len(d.strategies)))
	return nil, refcat.E(refcat.KindUndecodable, "recovery.decode",
		fmt.Errorf("%d strategies failed", len(d.strategies)))
}

// DecodeFile reads path and decodes its content
func (d *Decoder) DecodeFile(path string) (*Document, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			e := refcat.E(refcat.KindFileNotFound, "recovery.read", err)
			e.Path = path
			return nil, e
		}
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return d.Decode(raw)
}
