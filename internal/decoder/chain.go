package decoder

import (
	"context"

	"github.com/sirupsen/logrus"
)

// Chain is a Gateway whose probes fall back to a second Prober. The
// fallback is consulted when the primary probe fails, or to fill in a
// missing duration or tags the primary did not report.
type Chain struct {
	Primary  Gateway
	Fallback Prober
	logger   *logrus.Logger
}

// NewChain combines a decoding gateway with a fallback prober
func NewChain(primary Gateway, fallback Prober, logger *logrus.Logger) *Chain {
	return &Chain{Primary: primary, Fallback: fallback, logger: logger}
}

// Probe tries the primary first and merges in what the fallback knows
func (c *Chain) Probe(ctx context.Context, path string) (Probe, error) {
	probe, err := c.Primary.Probe(ctx, path)
	if c.Fallback == nil || ctx.Err() != nil {
		return probe, err
	}
	if err == nil && probe.Duration > 0 && len(probe.Tags) > 0 {
		return probe, nil
	}

	alt, altErr := c.Fallback.Probe(ctx, path)
	if altErr != nil {
		if err != nil {
			return Probe{}, err
		}
		return probe, nil
	}

	if err != nil {
		if c.logger != nil {
			c.logger.WithError(err).WithField("file", path).Warn("Primary probe failed, using native metadata")
		}
		return alt, nil
	}

	if probe.Duration <= 0 {
		probe.Duration = alt.Duration
	}
	if probe.Tags == nil {
		probe.Tags = Tags{}
	}
	for k, v := range alt.Tags {
		if _, ok := probe.Tags[k]; !ok {
			probe.Tags[k] = v
		}
	}
	return probe, nil
}

// Decode always goes to the primary
func (c *Chain) Decode(ctx context.Context, path string, format PCMFormat) ([]byte, error) {
	return c.Primary.Decode(ctx, path, format)
}
