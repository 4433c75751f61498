package generator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"awardbot/internal/domain"
)

// Failover tries generators in order and returns the first package.
type Failover struct {
	generators []domain.Generator
	logger     *slog.Logger
}

func NewFailover(generators []domain.Generator, logger *slog.Logger) *Failover {
	return &Failover{generators: generators, logger: logger}
}

func (f *Failover) Name() string {
	names := make([]string, len(f.generators))
	for i, g := range f.generators {
		names[i] = g.Name()
	}
	return "failover(" + strings.Join(names, "→") + ")"
}

func (f *Failover) Healthy(ctx context.Context) error {
	var errs []string
	for _, g := range f.generators {
		err := g.Healthy(ctx)
		if err == nil {
			return nil
		}
		errs = append(errs, g.Name()+": "+err.Error())
	}
	return fmt.Errorf("no healthy generator in failover chain: %s", strings.Join(errs, "; "))
}

func (f *Failover) Generate(ctx context.Context, ann *domain.Announcement, languages []string) (*domain.ContentPackage, error) {
	var lastErr error
	for i, g := range f.generators {
		pkg, err := g.Generate(ctx, ann, languages)
		if err == nil {
			if i > 0 {
				f.logger.Info("failover: used fallback generator", "generator", g.Name(), "announcement", ann.ID)
			}
			return pkg, nil
		}
		lastErr = err
		f.logger.Warn("failover: generator failed, trying next", "generator", g.Name(), "announcement", ann.ID, "err", err)
	}
	if lastErr == nil {
		return nil, fmt.Errorf("%w: empty failover chain", domain.ErrGeneratorUnreachable)
	}
	return nil, fmt.Errorf("all generators in failover chain failed: %w", lastErr)
}
