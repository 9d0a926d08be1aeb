package store

import (
	"context"
	"strings"
	"sync"

	"github.com/jacentio/prism/docpath"
)

// ExpandTemplate substitutes every ":id" token in a mirror path template
// with id.
func ExpandTemplate(template, id string) string {
	return strings.ReplaceAll(template, IDToken, id)
}

// Mirror replicates a document to every mirror path, each write issued
// independently in parallel. When data is nil the primary document is read
// and its content (id merged) is the payload; a missing primary fails with
// ErrNotFound before any mirror is touched. When data is non-nil it is
// written as given and the primary is not consulted.
//
// Mirror is not atomic: writes settle individually, and failures are
// aggregated into a *PartialError naming each failed path. Successful
// sibling writes are not rolled back. Use Tx.Mirror for atomicity.
func (s *Store) Mirror(ctx context.Context, primary string, mirrors []string, data Document) error {
	defer s.track("mirror")()
	if err := docpath.ValidateDocument(primary); err != nil {
		return s.fail("mirror", primary, data, err)
	}
	for _, m := range mirrors {
		if err := docpath.ValidateDocument(m); err != nil {
			return s.fail("mirror", m, data, err)
		}
	}

	payload := data
	if payload == nil {
		doc, err := s.conn.Get(ctx, primary)
		if err != nil {
			return s.fail("mirror", primary, nil, err)
		}
		if doc == nil {
			return s.fail("mirror", primary, nil, ErrNotFound)
		}
		payload = withID(doc, docpath.ID(primary))
	}

	return s.fanOut(ctx, "mirror", mirrors, func(ctx context.Context, path string) error {
		return s.conn.Set(ctx, path, payload)
	})
}

// CreateAndMirror creates a document in the collection and writes the
// created document (id merged) to every expanded path template, all within
// one transaction: either the primary and every mirror commit, or nothing
// does. The ":id" token in each template expands to the assigned id.
func (s *Store) CreateAndMirror(ctx context.Context, collection string, data Document, templates []string) (Document, error) {
	defer s.track("createAndMirror")()
	if err := docpath.ValidateCollection(collection); err != nil {
		return nil, s.fail("createAndMirror", collection, data, err)
	}

	var doc Document
	err := s.Transact(ctx, func(tx *Tx) error {
		created, err := tx.Create(collection, data)
		if err != nil {
			return err
		}
		id, _ := created[IDField].(string)
		for _, tmpl := range templates {
			if err := tx.Set(ExpandTemplate(tmpl, id), created); err != nil {
				return err
			}
		}
		doc = created
		return nil
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// MultiUpdate applies the same merge to every path in parallel, letting
// every write settle before reporting. Failed paths are aggregated into a
// *PartialError; successful sibling updates are not rolled back.
func (s *Store) MultiUpdate(ctx context.Context, paths []string, data Document) error {
	defer s.track("multiUpdate")()
	for _, p := range paths {
		if err := docpath.ValidateDocument(p); err != nil {
			return s.fail("multiUpdate", p, data, err)
		}
	}
	return s.fanOut(ctx, "multiUpdate", paths, func(ctx context.Context, path string) error {
		return s.conn.Update(ctx, path, data)
	})
}

// fanOut applies apply to every path in parallel, bounded by MirrorWorkers.
// Every write settles before the result is reported; failures aggregate
// into a *PartialError preserving input order.
func (s *Store) fanOut(ctx context.Context, op string, paths []string, apply func(ctx context.Context, path string) error) error {
	errs := make([]error, len(paths))
	sem := make(chan struct{}, s.config.MirrorWorkers)
	var wg sync.WaitGroup
	for i, p := range paths {
		wg.Add(1)
		go func(i int, p string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			errs[i] = apply(ctx, p)
		}(i, p)
	}
	wg.Wait()

	var failures []PathFailure
	for i, err := range errs {
		if err != nil {
			failures = append(failures, PathFailure{Path: paths[i], Err: err})
		}
	}
	if len(failures) == 0 {
		return nil
	}

	perr := &PartialError{Op: op, Failures: failures}
	s.config.Metrics.GetOrCreateCounter(`prism_operation_errors_total{op="` + op + `"}`).Inc()
	s.config.Logger.Error("datastore operation partially failed",
		"op", op,
		"failed", perr.FailedPaths(),
		"total", len(paths),
		"error", perr)
	return perr
}
