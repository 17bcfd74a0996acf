package replay

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/okian/stravasync/pkg/logger"
)

const outputFilePermission = 0o600

// ErrNoDeliveries is returned when there is nothing to submit.
var ErrNoDeliveries = errors.New("replay: no deliveries")

// Run loads or generates deliveries, submits them concurrently and returns
// the tally.
func Run(ctx context.Context, cfg *Config) (*Stats, error) {
	log := logger.Get().Named("replay")
	stats := &Stats{StartTime: time.Now()}
	client := NewClient(cfg.BaseURL, cfg.Timeout)

	log.Info(ctx, "starting replay",
		logger.String("base_url", cfg.BaseURL),
		logger.Int("events", cfg.NumEvents),
		logger.Int("workers", cfg.Workers),
		logger.Float64("duplicate_rate", cfg.DuplicateRate))

	if cfg.VerifyToken != "" {
		if err := client.Challenge(ctx, cfg.VerifyToken); err != nil {
			return stats, fmt.Errorf("subscription challenge: %w", err)
		}
	}

	deliveries, err := load(cfg)
	if err != nil {
		return stats, err
	}
	if len(deliveries) == 0 {
		return stats, ErrNoDeliveries
	}
	stats.Generated = len(deliveries)

	if cfg.OutputFile != "" {
		if err := save(cfg.OutputFile, deliveries); err != nil {
			log.Warn(ctx, "failed to save deliveries", logger.Error(err))
		}
	}

	submit(ctx, client, cfg.Workers, deliveries, stats, func(d Delivery, err error) {
		if cfg.Verbose {
			log.Warn(ctx, "submission failed", logger.Int64("object_id", d.ObjectID), logger.Error(err))
		}
	})
	stats.Duration = time.Since(stats.StartTime)

	log.Info(ctx, "replay finished",
		logger.Int("submitted", stats.Submitted),
		logger.Int("accepted", stats.Accepted),
		logger.Int("duplicate", stats.Duplicate),
		logger.Int("dropped", stats.Dropped),
		logger.Int("rejected", stats.Rejected),
		logger.Int("failed", stats.Failed),
		logger.Duration("duration", stats.Duration))

	if remote, err := client.Stats(ctx); err == nil {
		log.Info(ctx, "service stats", logger.Any("stats", remote))
	}
	return stats, ctx.Err()
}

func load(cfg *Config) ([]Delivery, error) {
	if cfg.InputFile == "" {
		return Generate(cfg.NumEvents, cfg.Principals, cfg.DuplicateRate, time.Now()), nil
	}
	raw, err := os.ReadFile(cfg.InputFile)
	if err != nil {
		return nil, fmt.Errorf("read deliveries: %w", err)
	}
	var out []Delivery
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode deliveries: %w", err)
	}
	return out, nil
}

func save(path string, deliveries []Delivery) error {
	raw, err := json.MarshalIndent(deliveries, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, raw, outputFilePermission)
}

// submit posts deliveries with workers goroutines. Deliveries of the same
// activity keep their relative order by going through the same worker.
func submit(ctx context.Context, c *Client, workers int, deliveries []Delivery, stats *Stats, onErr func(Delivery, error)) {
	if workers < 1 {
		workers = 1
	}
	lanes := make([]chan Delivery, workers)
	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for i := range lanes {
		lanes[i] = make(chan Delivery, workers)
		wg.Add(1)
		go func(in <-chan Delivery) {
			defer wg.Done()
			for d := range in {
				outcome, err := c.Submit(ctx, d)
				if err != nil && onErr != nil {
					onErr(d, err)
				}
				mu.Lock()
				stats.Submitted++
				switch outcome {
				case OutcomeAccepted:
					stats.Accepted++
				case OutcomeDuplicate:
					stats.Duplicate++
				case OutcomeDropped:
					stats.Dropped++
				case OutcomeRejected:
					stats.Rejected++
				default:
					stats.Failed++
				}
				mu.Unlock()
			}
		}(lanes[i])
	}

feed:
	for _, d := range deliveries {
		select {
		case <-ctx.Done():
			break feed
		case lanes[uint64(d.ObjectID)%uint64(workers)] <- d:
		}
	}
	for _, l := range lanes {
		close(l)
	}
	wg.Wait()
}
