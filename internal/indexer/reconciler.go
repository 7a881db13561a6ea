package indexer

import (
	"context"

	"github.com/sergi/go-diff/diffmatchpatch"
	"go.uber.org/zap"

	"github.com/steemit/enginemind/internal/chain"
	"github.com/steemit/enginemind/pkg/logging"
	"github.com/steemit/enginemind/pkg/retry"
)

// ContentSource fetches a post's current state from the node. Two lookup
// methods let the reconciler alternate endpoints on retry.
type ContentSource interface {
	GetContent(ctx context.Context, author, permlink string) (*chain.Content, error)
	GetContentAlt(ctx context.Context, author, permlink string) (*chain.Content, error)
}

// Reconciler resolves the body of a comment op. Edits may arrive as a
// patch against the previous body instead of full text; the reconciler
// applies the patch to the stored body, falling back to a node fetch when
// the base is missing.
type Reconciler struct {
	source ContentSource
	retry  retry.Policy
	logger *zap.Logger
}

// NewReconciler creates a new reconciler
func NewReconciler(source ContentSource) *Reconciler {
	return &Reconciler{
		source: source,
		retry:  retry.Default,
		logger: logging.GetLogger().With(zap.String("component", "reconciler")),
	}
}

// Resolve returns the full body for a comment op. storedBody is the body
// currently in the store, or nil when the content is unknown.
func (r *Reconciler) Resolve(ctx context.Context, author, permlink, opBody string, storedBody *string) string {
	dmp := diffmatchpatch.New()

	patches, err := dmp.PatchFromText(opBody)
	if err != nil || len(patches) == 0 {
		// Not a patch, the op carries the full body.
		return opBody
	}

	if storedBody != nil {
		body, _ := dmp.PatchApply(patches, *storedBody)
		return body
	}

	// Patch against an unknown base. Fetch the post's current state, which
	// already includes this edit.
	r.logger.Info("Edit on unknown content, fetching",
		zap.String("author", author),
		zap.String("permlink", permlink))

	var fetched *chain.Content
	fetch := func(lookup func(context.Context, string, string) (*chain.Content, error)) retry.AttemptFunc {
		return func(ctx context.Context) error {
			content, err := lookup(ctx, author, permlink)
			if err != nil {
				return err
			}
			fetched = content
			return nil
		}
	}

	err = r.retry.Do(ctx, fetch(r.source.GetContent), fetch(r.source.GetContentAlt))
	if err != nil || fetched == nil || fetched.Author == "" {
		r.logger.Warn("Could not fetch content, storing raw patch text",
			zap.String("author", author),
			zap.String("permlink", permlink),
			zap.Error(err))
		return opBody
	}

	return fetched.Body
}
