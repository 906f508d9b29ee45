package collections

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/docuchat/internal/sanitize"
	"github.com/fyrsmithlabs/docuchat/internal/vectorstore"
)

// RenameCollection moves every record of oldName into a new collection
// named newName and removes oldName. It returns the sanitized new name,
// or the old name when both sanitize to the same identifier.
//
// The move is journaled in two phases. Until the copy is recorded as
// complete the source is authoritative; afterwards the target is. A
// failure while deleting the source leaves both collections in place with
// the journal entry pending for ResumeRenames.
func (s *Store) RenameCollection(ctx context.Context, oldName, newName string) (_ string, err error) {
	from := sanitize.CollectionName(oldName)
	to := sanitize.CollectionName(newName)
	ctx, span := s.start(ctx, "RenameCollection", from)
	span.SetAttributes(attribute.String("new_collection", to))
	defer func() { s.finish(ctx, span, "rename_collection", err) }()

	unlock, err := s.lockForWrite(ctx, from, to)
	if err != nil {
		return "", err
	}
	defer unlock()

	src, err := s.index.Get(ctx, from)
	if err != nil {
		return "", classify("get collection", err)
	}
	if from == to {
		return from, nil
	}
	if _, err := s.index.Get(ctx, to); err == nil {
		return "", fmt.Errorf("%w: collection %q", ErrAlreadyExists, to)
	} else if !errors.Is(err, vectorstore.ErrCollectionNotFound) {
		return "", classify("get collection", err)
	}

	entry, err := s.journal.Begin(from, to)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUpstream, err)
	}

	n, err := s.copyCollection(ctx, src, to)
	if err != nil {
		s.rollback(ctx, entry)
		return "", err
	}
	if err := s.journal.Advance(entry.ID, PhaseCopied, n); err != nil {
		s.rollback(ctx, entry)
		return "", fmt.Errorf("%w: %w", ErrUpstream, err)
	}

	if err := s.index.DeleteCollection(ctx, from); err != nil {
		s.logger.Error("rename copied but source not removed",
			zap.String("from", from),
			zap.String("to", to),
			zap.String("journal_id", entry.ID),
			zap.Error(err))
		return "", classify("delete source collection", err)
	}
	if err := s.journal.Advance(entry.ID, PhaseDone, n); err != nil {
		s.logger.Warn("rename finished but journal entry not cleared",
			zap.String("journal_id", entry.ID), zap.Error(err))
	}

	s.logger.Info("collection renamed",
		zap.String("from", from),
		zap.String("to", to),
		zap.Int("records", n))
	s.notify(ctx, Event{Type: EventCollectionRenamed, Collection: from, NewName: to, ChunkCount: n})
	return to, nil
}

// copyCollection creates to with the metadata of src, created_at included,
// and bulk-copies every record of src into it.
func (s *Store) copyCollection(ctx context.Context, src vectorstore.Handle, to string) (int, error) {
	dst, _, err := s.index.CreateOrGet(ctx, to, src.Metadata)
	if err != nil {
		return 0, classify("create target collection", err)
	}
	b, err := s.index.GetAll(ctx, src, vectorstore.IncludeAll)
	if err != nil {
		return 0, classify("scan source collection", err)
	}
	if b.Len() == 0 {
		return 0, nil
	}
	if err := s.index.Add(ctx, dst, b); err != nil {
		return 0, classify("copy records", err)
	}
	if s.chunksCounter != nil {
		s.chunksCounter.Add(ctx, int64(b.Len()))
	}
	return b.Len(), nil
}

// rollback removes a partial target and drops the journal entry. If the
// target cannot be removed the entry stays for ResumeRenames.
func (s *Store) rollback(ctx context.Context, e RenameEntry) {
	if err := s.index.DeleteCollection(context.WithoutCancel(ctx), e.To); err != nil {
		s.logger.Error("rename rollback failed",
			zap.String("from", e.From),
			zap.String("to", e.To),
			zap.String("journal_id", e.ID),
			zap.Error(err))
		return
	}
	if err := s.journal.Discard(e.ID); err != nil {
		s.logger.Warn("rename rolled back but journal entry not cleared",
			zap.String("journal_id", e.ID), zap.Error(err))
	}
}

// ResumeRenames repairs renames interrupted by a crash or an index
// failure. Entries still copying are rolled back; entries whose copy
// completed are rolled forward. It returns the number of entries
// repaired and the first error met; failed entries stay pending.
func (s *Store) ResumeRenames(ctx context.Context) (repaired int, err error) {
	ctx, span := s.start(ctx, "ResumeRenames", "")
	defer func() { s.finish(ctx, span, "resume_renames", err) }()

	for _, e := range s.journal.Pending() {
		if cerr := ctx.Err(); cerr != nil {
			return repaired, cerr
		}
		if rerr := s.resume(ctx, e); rerr != nil {
			s.logger.Error("rename repair failed",
				zap.String("journal_id", e.ID),
				zap.String("from", e.From),
				zap.String("to", e.To),
				zap.String("phase", string(e.Phase)),
				zap.Error(rerr))
			if err == nil {
				err = rerr
			}
			continue
		}
		repaired++
	}
	return repaired, err
}

// lockForWrite repairs pending renames touching names and then takes
// their write locks. While a rename stays unrepaired its source and
// target accept no writes, so a later repair cannot discard them.
func (s *Store) lockForWrite(ctx context.Context, names ...string) (func(), error) {
	for {
		e, ok := s.journal.Touching(names...)
		if !ok {
			break
		}
		if err := s.resume(ctx, e); err != nil {
			return nil, fmt.Errorf("%w: %s to %s: %v", ErrRenamePending, e.From, e.To, err)
		}
	}
	unlock := s.locks.lock(names...)
	if e, ok := s.journal.Touching(names...); ok {
		unlock()
		return nil, fmt.Errorf("%w: %s to %s", ErrRenamePending, e.From, e.To)
	}
	return unlock, nil
}

func (s *Store) resume(ctx context.Context, e RenameEntry) error {
	unlock := s.locks.lock(e.From, e.To)
	defer unlock()

	e, ok := s.journal.Get(e.ID)
	if !ok {
		return nil
	}

	switch e.Phase {
	case PhaseCopying:
		if _, err := s.index.Get(ctx, e.From); errors.Is(err, vectorstore.ErrCollectionNotFound) {
			// Source gone before the copy was confirmed; the target is all
			// that is left, so keep it.
			s.logger.Warn("rename source missing during rollback, keeping target",
				zap.String("from", e.From), zap.String("to", e.To))
			return s.journal.Discard(e.ID)
		} else if err != nil {
			return classify("get collection", err)
		}
		if err := s.index.DeleteCollection(ctx, e.To); err != nil {
			return classify("delete partial target", err)
		}
		s.logger.Info("rename rolled back", zap.String("from", e.From), zap.String("to", e.To))
		return s.journal.Discard(e.ID)

	case PhaseCopied:
		if err := s.index.DeleteCollection(ctx, e.From); err != nil {
			return classify("delete source collection", err)
		}
		if err := s.journal.Advance(e.ID, PhaseDone, e.Records); err != nil {
			return err
		}
		s.logger.Info("rename completed", zap.String("from", e.From), zap.String("to", e.To))
		s.notify(ctx, Event{Type: EventCollectionRenamed, Collection: e.From, NewName: e.To, ChunkCount: e.Records})
		return nil

	default:
		return s.journal.Discard(e.ID)
	}
}
