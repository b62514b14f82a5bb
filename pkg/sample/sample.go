package sample

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/itohio/d1node/pkg/board"
	"github.com/itohio/d1node/pkg/debuglog"
	"github.com/itohio/d1node/pkg/logging"
)

// Sample represents one raw ADC conversion. It is consumed within the tick
// that produced it.
type Sample struct {
	Timestamp time.Time
	Channel   int
	Value     int // Raw reading in the device's native range (0-1023)
}

// Sampler reads samples from an ADC and echoes them to the debug channel.
type Sampler struct {
	adc    board.ADC
	debug  *debuglog.Logger
	logger *slog.Logger
	now    func() time.Time
}

// NewSampler creates a sampler on top of the given ADC.
func NewSampler(adc board.ADC, debug *debuglog.Logger) *Sampler {
	return &Sampler{
		adc:    adc,
		debug:  debug,
		logger: logging.GetLogger("sample"),
		now:    time.Now,
	}
}

// ReadSample performs one blocking read of channel. No averaging, calibration
// or range checks are applied.
func (s *Sampler) ReadSample(ctx context.Context, channel int) (Sample, error) {
	v, err := s.adc.Read(ctx, channel)
	if err != nil {
		return Sample{}, fmt.Errorf("failed to read channel %d: %w", channel, err)
	}

	s.debug.LogLine(fmt.Sprintf("ADC value: %d", v))
	s.logger.Debug("Sampled", "channel", channel, "value", v)

	return Sample{
		Timestamp: s.now(),
		Channel:   channel,
		Value:     v,
	}, nil
}
