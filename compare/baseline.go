package compare

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
)

// ErrBaselineUnavailable is returned when none of the filename guesses
// resolves to a stored baseline document.
var ErrBaselineUnavailable = errors.New("no baseline document found for comparison")

// Fetcher retrieves a stored baseline document by filename. Implementations
// must treat lookups as read-only and idempotent; FindBaseline issues them
// speculatively and discards all but the first success.
type Fetcher interface {
	FetchBaseline(ctx context.Context, filename string) (string, error)
}

var (
	nonFilenameChars = regexp.MustCompile(`[^a-zA-Z0-9_-]`)
	whitespaceRun    = regexp.MustCompile(`\s+`)
)

// BaselineGuesses derives the candidate baseline filenames for a job title.
// The legacy pipeline wrote results under title-derived names, but its exact
// sanitization drifted over time, so there is more than one plausible name.
func BaselineGuesses(title string) []string {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil
	}
	guesses := []string{
		nonFilenameChars.ReplaceAllString(title, "_") + ".md",
		whitespaceRun.ReplaceAllString(title, "_") + ".md",
	}
	// The two transforms often coincide; keep the list deduplicated so we
	// never fetch the same name twice.
	uniq := guesses[:0]
	seen := make(map[string]bool, len(guesses))
	for _, g := range guesses {
		if !seen[g] {
			seen[g] = true
			uniq = append(uniq, g)
		}
	}
	return uniq
}

// FindBaseline fans out one fetch per filename guess and returns the first
// successful body. Losers are cancelled as soon as a winner is selected;
// individual lookup failures are expected (most guesses 404) and are not
// surfaced. When every guess fails it returns ErrBaselineUnavailable.
func FindBaseline(ctx context.Context, f Fetcher, title string) (string, error) {
	guesses := BaselineGuesses(title)
	if len(guesses) == 0 {
		return "", ErrBaselineUnavailable
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		once sync.Once
		body string
		hit  bool
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, name := range guesses {
		name := name
		g.Go(func() error {
			b, err := f.FetchBaseline(gctx, name)
			if err != nil {
				return nil // this guess lost; others may still win
			}
			once.Do(func() {
				body = b
				hit = true
				cancel() // release the losers
			})
			return nil
		})
	}
	_ = g.Wait()

	if !hit {
		// cancel only fires on a hit, so a cancelled context here means the
		// caller gave up, not that we raced ourselves.
		if err := ctx.Err(); err != nil {
			return "", err
		}
		return "", ErrBaselineUnavailable
	}
	return body, nil
}
