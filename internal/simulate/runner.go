package simulate

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/okian/versus/internal/domain/model"
	"github.com/okian/versus/internal/domain/round"
	"github.com/okian/versus/internal/domain/types"
	"github.com/okian/versus/pkg/logger"
)

// maxPicks bounds one session so a misbehaving server cannot hold a worker.
const maxPicks = 10_000

// ErrRunaway is returned when a session does not finish within maxPicks.
var ErrRunaway = errors.New("session did not finish")

// Taste is the hidden preference: the item with the larger value is picked.
type Taste func(itemID string) uint64

// SeededTaste derives a stable preference order from seed.
func SeededTaste(seed string) Taste {
	return func(itemID string) uint64 {
		return xxhash.Sum64String(seed + "\x00" + itemID)
	}
}

type outcome struct {
	picks     int
	agreement float64
	scored    []string
	err       error
}

// Run plays one session per player and reports how well the stored scores
// agree with the hidden preference.
func Run(ctx context.Context, cfg Config) (Stats, error) {
	if err := cfg.Validate(); err != nil {
		return Stats{}, err
	}
	log := logger.Component("simulate")
	client := NewClient(cfg.BaseURL, cfg.Timeout)
	taste := SeededTaste(cfg.Seed)
	start := time.Now()

	log.Info(ctx, "starting simulation",
		logger.String("baseURL", cfg.BaseURL),
		logger.Int("players", cfg.Players),
		logger.Int("workers", cfg.Workers),
		logger.String("policy", cfg.Policy),
		logger.Strings("tags", cfg.Tags),
	)

	if err := client.Health(ctx); err != nil {
		return Stats{}, fmt.Errorf("service health check failed: %w", err)
	}

	players := make(chan int)
	results := make(chan outcome, cfg.Players)
	var wg sync.WaitGroup
	for range min(cfg.Workers, cfg.Players) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range players {
				playerID := cfg.Prefix + "-" + strconv.Itoa(i)
				res := playOne(ctx, client, cfg, taste, playerID)
				if res.err != nil {
					log.Warn(ctx, "player failed", logger.String("player", playerID), logger.Error(res.err))
				} else if cfg.Verbose {
					log.Info(ctx, "player finished",
						logger.String("player", playerID),
						logger.Int("picks", res.picks),
						logger.Float64("agreement", res.agreement),
					)
				}
				results <- res
			}
		}()
	}

	go func() {
		defer close(players)
		for i := range cfg.Players {
			select {
			case <-ctx.Done():
				return
			case players <- i:
			}
		}
	}()

	wg.Wait()
	close(results)

	stats := Stats{Players: cfg.Players}
	items := make(map[string]struct{})
	var agreementSum float64
	for res := range results {
		if res.err != nil {
			stats.Failed++
			continue
		}
		stats.Finished++
		stats.Picks += res.picks
		agreementSum += res.agreement
		for _, id := range res.scored {
			items[id] = struct{}{}
		}
	}
	stats.Items = len(items)
	if stats.Finished > 0 {
		stats.Agreement = agreementSum / float64(stats.Finished)
	}
	stats.Duration = time.Since(start)

	if err := ctx.Err(); err != nil {
		return stats, fmt.Errorf("simulation interrupted: %w", err)
	}
	log.Info(ctx, "simulation completed",
		logger.Int("finished", stats.Finished),
		logger.Int("failed", stats.Failed),
		logger.Float64("agreement", stats.Agreement),
		logger.Duration("duration", stats.Duration),
	)
	return stats, nil
}

func playOne(ctx context.Context, client *Client, cfg Config, taste Taste, playerID string) outcome {
	view, err := client.StartSession(ctx, types.SessionStartRequest{
		PlayerID:  playerID,
		Policy:    cfg.Policy,
		Tags:      cfg.Tags,
		BatchSize: cfg.Batch,
	})
	if err != nil {
		return outcome{err: err}
	}

	var picks int
	for view.Status != round.Finished.String() {
		if picks == maxPicks {
			return outcome{err: fmt.Errorf("%w: %s after %d picks", ErrRunaway, view.SessionID, picks)}
		}
		slot, err := choose(view.Slots, taste)
		if err != nil {
			return outcome{err: err}
		}
		if view, err = client.Pick(ctx, view.SessionID, slot.String()); err != nil {
			return outcome{err: err}
		}
		picks++
	}

	scores, err := client.Scores(ctx, playerID)
	if err != nil {
		return outcome{err: err}
	}
	scored := make([]string, len(scores.Scores))
	for i, e := range scores.Scores {
		scored[i] = e.ItemID
	}
	return outcome{picks: picks, agreement: Agreement(scores.Scores, taste), scored: scored}
}

func choose(slots []*model.Item, taste Taste) (round.Slot, error) {
	if len(slots) != 2 || slots[0] == nil || slots[1] == nil {
		return 0, fmt.Errorf("%w: session is picking without two items", ErrStatus)
	}
	if taste(slots[1].ID) > taste(slots[0].ID) {
		return round.Second, nil
	}
	return round.First, nil
}

// Agreement is the share of item pairs with distinct scores that the scores
// order the same way as taste. It is 0 when no pair can be compared.
func Agreement(scores []types.ScoreEntry, taste Taste) float64 {
	var compared, concordant int
	for i := range scores {
		for j := i + 1; j < len(scores); j++ {
			a, b := scores[i], scores[j]
			if a.Score == b.Score {
				continue
			}
			compared++
			if (a.Score > b.Score) == (taste(a.ItemID) > taste(b.ItemID)) {
				concordant++
			}
		}
	}
	if compared == 0 {
		return 0
	}
	return float64(concordant) / float64(compared)
}
