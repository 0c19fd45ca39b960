package server

import (
	"context"
	"time"

	"gridmdp/reinforcement"

	channerics "github.com/niceyeti/channerics/channels"
)

// Replay emits the recorded sweeps of a solved problem one per @period, holding the
// final sweep for @hold periods before starting over. The channel closes when @ctx is done.
// An empty history closes immediately.
func Replay(
	ctx context.Context,
	history []reinforcement.Sweep,
	period time.Duration,
	hold int,
) <-chan reinforcement.Sweep {
	sweeps := make(chan reinforcement.Sweep)

	go func() {
		defer close(sweeps)
		if len(history) == 0 {
			return
		}

		i, held := 0, 0
		for range channerics.NewTicker(ctx.Done(), period) {
			if i == len(history) {
				if held++; held < hold {
					continue
				}
				i, held = 0, 0
			}

			select {
			case sweeps <- history[i]:
				i++
			case <-ctx.Done():
				return
			}
		}
	}()

	return sweeps
}
