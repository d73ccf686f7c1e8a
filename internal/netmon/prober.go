package netmon

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Prober derives connectivity from a periodic HTTP probe against a known
// endpoint. A completed request (any status below 500) counts as online;
// transport errors count as offline.
type Prober struct {
	*Manual

	url      string
	interval time.Duration
	client   *http.Client
	logger   zerolog.Logger

	stop chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

func NewProber(url string, interval time.Duration, logger zerolog.Logger) *Prober {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Prober{
		Manual:   NewManual(false),
		url:      url,
		interval: interval,
		client:   &http.Client{Timeout: 10 * time.Second},
		logger:   logger,
		stop:     make(chan struct{}),
	}
}

// Start probes once immediately, then on every tick until Stop or ctx cancel.
func (p *Prober) Start(ctx context.Context) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.probe(ctx)
		t := time.NewTicker(p.interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-p.stop:
				return
			case <-t.C:
				p.probe(ctx)
			}
		}
	}()
}

func (p *Prober) Stop() {
	p.once.Do(func() { close(p.stop) })
	p.wg.Wait()
}

func (p *Prober) probe(ctx context.Context) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.url, nil)
	if err != nil {
		p.logger.Error().Err(err).Str("url", p.url).Msg("invalid probe URL")
		return
	}
	resp, err := p.client.Do(req)
	if err != nil {
		p.SetOnline(false)
		return
	}
	resp.Body.Close()
	p.SetOnline(resp.StatusCode < 500)
}
