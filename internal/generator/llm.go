// Package generator turns announcements into promotional copy, either with a
// language model or from a fixed template.
package generator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"awardbot/internal/domain"
	"awardbot/internal/retry"
)

// Completer is a chat model that answers one system and one user message.
type Completer interface {
	Name() string
	Complete(ctx context.Context, system, user string) (string, error)
	Healthy(ctx context.Context) error
}

// transientError marks a model failure worth another attempt.
type transientError struct{ err error }

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

func transient(err error) error { return &transientError{err: err} }

func isTransient(err error) bool {
	var te *transientError
	return errors.As(err, &te)
}

// classify maps a context failure onto the generator error kinds.
func classify(ctx context.Context, err error) error {
	if errors.Is(err, domain.ErrGeneratorTimeout) {
		return err
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", domain.ErrGeneratorTimeout, err)
	}
	return err
}

// LLM generates localized posts, hashtags and a tweet with a Completer.
// Only the per-language texts are required; hashtags and the tweet fall
// back to defaults.
type LLM struct {
	model  Completer
	retry  retry.Config
	logger *slog.Logger
	now    func() time.Time
}

func NewLLM(model Completer, retryCfg retry.Config, logger *slog.Logger) *LLM {
	return &LLM{model: model, retry: retryCfg, logger: logger, now: time.Now}
}

func (g *LLM) Name() string { return g.model.Name() }

func (g *LLM) Healthy(ctx context.Context) error { return g.model.Healthy(ctx) }

func (g *LLM) complete(ctx context.Context, system, user string) (string, error) {
	out, attempts, err := retry.Do(ctx, g.retry, isTransient, func(ctx context.Context) (string, error) {
		return g.model.Complete(ctx, system, user)
	})
	if err != nil {
		return "", classify(ctx, err)
	}
	if attempts > 1 {
		g.logger.Info("model answered after retry", "model", g.model.Name(), "attempts", attempts)
	}
	out = CleanOutput(out)
	if out == "" {
		return "", fmt.Errorf("%w: empty answer", domain.ErrMalformedOutput)
	}
	return out, nil
}

func (g *LLM) Generate(ctx context.Context, ann *domain.Announcement, languages []string) (*domain.ContentPackage, error) {
	pkg := &domain.ContentPackage{
		AnnouncementID: ann.ID,
		Announcement:   ann,
		Titles:         make(map[string]string),
		Texts:          make(map[string]string),
		PlatformTexts:  make(map[string]string),
		Generator:      g.Name(),
	}
	user := announcementPrompt(ann)

	var firstErr error
	for _, lang := range languages {
		out, err := g.complete(ctx, systemPrompt(lang), user)
		if err != nil {
			if ctx.Err() != nil {
				return nil, classify(ctx, err)
			}
			g.logger.Warn("language generation failed", "announcement", ann.ID, "lang", lang, "err", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		title, content := ParseTitled(out)
		if content == "" {
			if firstErr == nil {
				firstErr = fmt.Errorf("%w: no content for %s", domain.ErrMalformedOutput, lang)
			}
			continue
		}
		if title == "" {
			title = ann.Title
		}
		pkg.Titles[lang] = title
		pkg.Texts[lang] = content
	}
	if !pkg.HasText(languages) {
		if firstErr == nil {
			firstErr = domain.ErrMalformedOutput
		}
		return nil, firstErr
	}

	parsed := map[string][]string{}
	if out, err := g.complete(ctx, hashtagPrompt(languages), user); err != nil {
		g.logger.Warn("hashtag generation failed, using defaults", "announcement", ann.ID, "err", err)
	} else {
		parsed = ParseHashtags(out)
	}
	pkg.Hashtags = MergeHashtags(parsed, languages)

	source := pkg.Texts["en"]
	if source == "" {
		source = pkg.TextFor("", languages)
	}
	tweetUser := fmt.Sprintf("Title: %s\nContent: %s", ann.Title, source)
	if tweet, err := g.complete(ctx, tweetSystemPrompt, tweetUser); err != nil {
		g.logger.Warn("tweet generation failed", "announcement", ann.ID, "err", err)
	} else {
		pkg.PlatformTexts["twitter"] = truncate(tweet, 280)
	}

	pkg.GeneratedAt = g.now()
	return pkg, nil
}
