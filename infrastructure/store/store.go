package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/Mehul-Gupta-SMH/PromptProp/internal/domain"
	"github.com/Mehul-Gupta-SMH/PromptProp/internal/ports"
)

var errClosed = ports.ErrStoreClosed

// Key prefixes. Owned entities sit under their owner's id so that a prefix
// scan returns them in insertion order.
const (
	prefixExperiment    = "exp/"
	prefixDatasetRow    = "row/"
	prefixJuryMember    = "jury/"
	prefixPromptVersion = "pv/"
	prefixPromptIndex   = "pvid/"
	prefixResult        = "res/"
	prefixEvaluation    = "eval/"

	sequenceKey       = "meta/seq"
	sequenceBandwidth = 256
)

// Store implements ports.ExperimentStore on BadgerDB.
type Store struct {
	db     *badger.DB
	seq    *badger.Sequence
	gc     *gcRunner
	logger *slog.Logger
	closed atomic.Bool
	now    func() time.Time
}

var _ ports.ExperimentStore = (*Store)(nil)

// Open opens the store described by cfg.
func Open(cfg Config, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := openDB(cfg, logger)
	if err != nil {
		return nil, err
	}

	seq, err := db.GetSequence([]byte(sequenceKey), sequenceBandwidth)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("acquire key sequence: %w", err)
	}

	s := &Store{
		db:     db,
		seq:    seq,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		s.gc = startGC(db, cfg.GCInterval, cfg.GCDiscardRatio, logger)
	}

	logger.Info("experiment store opened", "path", cfg.Path, "in_memory", cfg.InMemory)
	return s, nil
}

// Close releases the key sequence, stops GC and closes the database.
// Calling Close more than once is a no-op.
func (s *Store) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	if s.gc != nil {
		s.gc.stop()
	}
	var errs []error
	if err := s.seq.Release(); err != nil {
		errs = append(errs, fmt.Errorf("release sequence: %w", err))
	}
	if err := s.db.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close badger: %w", err))
	}
	return errors.Join(errs...)
}

// CreateExperiment stores a new experiment, assigning an id and timestamps
// when they are unset.
func (s *Store) CreateExperiment(ctx context.Context, exp *domain.Experiment) error {
	s.stampExperiment(exp)
	err := s.update(ctx, func(txn *badger.Txn) error {
		return putNewExperiment(txn, exp)
	})
	return wrap("experiment", "create", err)
}

// CreateExperimentBundle stores a new experiment together with its rows and
// jury panel in one transaction. Rows and members are bound to exp; nothing
// is written when any part fails.
func (s *Store) CreateExperimentBundle(ctx context.Context, exp *domain.Experiment, rows []domain.DatasetRow, members []domain.JuryMember) error {
	s.stampExperiment(exp)
	for i := range rows {
		rows[i].ExperimentID = exp.ID
	}
	for i := range members {
		members[i].ExperimentID = exp.ID
	}

	err := s.update(ctx, func(txn *badger.Txn) error {
		if err := putNewExperiment(txn, exp); err != nil {
			return err
		}
		checked := map[string]bool{exp.ID: true}
		if err := s.putDatasetRows(txn, checked, rows); err != nil {
			return err
		}
		return s.putJuryMembers(txn, checked, members)
	})
	return wrap("experiment", "create", err)
}

func (s *Store) stampExperiment(exp *domain.Experiment) {
	if exp.ID == "" {
		exp.ID = uuid.NewString()
	}
	now := s.now()
	if exp.CreatedAt.IsZero() {
		exp.CreatedAt = now
	}
	exp.UpdatedAt = now
}

func putNewExperiment(txn *badger.Txn, exp *domain.Experiment) error {
	key := experimentKey(exp.ID)
	exists, err := keyExists(txn, key)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("experiment %s already exists", exp.ID)
	}
	return putJSON(txn, key, exp)
}

// GetExperiment loads one experiment.
func (s *Store) GetExperiment(ctx context.Context, id string) (*domain.Experiment, error) {
	var exp domain.Experiment
	err := s.view(ctx, func(txn *badger.Txn) error {
		return getJSON(txn, experimentKey(id), &exp)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, domain.NewNotFoundError("Experiment", id)
	}
	if err != nil {
		return nil, wrap("experiment", "get", err)
	}
	return &exp, nil
}

// ListExperiments returns every experiment, newest first.
func (s *Store) ListExperiments(ctx context.Context) ([]domain.Experiment, error) {
	var exps []domain.Experiment
	err := s.view(ctx, func(txn *badger.Txn) error {
		var err error
		exps, err = scanJSON[domain.Experiment](txn, prefixExperiment)
		return err
	})
	if err != nil {
		return nil, wrap("experiment", "list", err)
	}

	sort.SliceStable(exps, func(i, j int) bool {
		return exps[i].CreatedAt.After(exps[j].CreatedAt)
	})
	return exps, nil
}

// UpdateExperiment replaces a stored experiment.
func (s *Store) UpdateExperiment(ctx context.Context, exp *domain.Experiment) error {
	exp.UpdatedAt = s.now()
	err := s.update(ctx, func(txn *badger.Txn) error {
		if err := requireKey(txn, experimentKey(exp.ID), "Experiment", exp.ID); err != nil {
			return err
		}
		return putJSON(txn, experimentKey(exp.ID), exp)
	})
	return wrap("experiment", "update", err)
}

// DeleteExperiment removes an experiment and everything it owns in one
// transaction.
func (s *Store) DeleteExperiment(ctx context.Context, id string) error {
	err := s.update(ctx, func(txn *badger.Txn) error {
		if err := requireKey(txn, experimentKey(id), "Experiment", id); err != nil {
			return err
		}

		versions, err := scanJSON[domain.PromptVersion](txn, ownedPrefix(prefixPromptVersion, id))
		if err != nil {
			return err
		}

		var doomed [][]byte
		for _, pv := range versions {
			results, err := scanJSON[domain.IterationResult](txn, ownedPrefix(prefixResult, pv.ID))
			if err != nil {
				return err
			}
			for _, r := range results {
				doomed = append(doomed, keysWithPrefix(txn, ownedPrefix(prefixEvaluation, r.ID))...)
			}
			doomed = append(doomed, keysWithPrefix(txn, ownedPrefix(prefixResult, pv.ID))...)
			doomed = append(doomed, []byte(prefixPromptIndex+pv.ID))
		}
		doomed = append(doomed, keysWithPrefix(txn, ownedPrefix(prefixPromptVersion, id))...)
		doomed = append(doomed, keysWithPrefix(txn, ownedPrefix(prefixJuryMember, id))...)
		doomed = append(doomed, keysWithPrefix(txn, ownedPrefix(prefixDatasetRow, id))...)
		doomed = append(doomed, experimentKey(id))

		for _, key := range doomed {
			if err := txn.Delete(key); err != nil {
				return err
			}
		}
		s.logger.Debug("experiment deleted", "experiment_id", id, "keys", len(doomed))
		return nil
	})
	return wrap("experiment", "delete", err)
}

// AddDatasetRows appends rows to their experiments. Every referenced
// experiment must exist.
func (s *Store) AddDatasetRows(ctx context.Context, rows []domain.DatasetRow) error {
	err := s.update(ctx, func(txn *badger.Txn) error {
		return s.putDatasetRows(txn, make(map[string]bool), rows)
	})
	return wrap("dataset_row", "create", err)
}

func (s *Store) putDatasetRows(txn *badger.Txn, checked map[string]bool, rows []domain.DatasetRow) error {
	now := s.now()
	for i := range rows {
		row := &rows[i]
		if err := s.requireExperiment(txn, checked, row.ExperimentID); err != nil {
			return err
		}
		if row.ID == "" {
			row.ID = uuid.NewString()
		}
		if row.Split == "" {
			row.Split = domain.SplitTrain
		}
		if row.CreatedAt.IsZero() {
			row.CreatedAt = now
		}
		key, err := s.sequencedKey(prefixDatasetRow, row.ExperimentID)
		if err != nil {
			return err
		}
		if err := putJSON(txn, key, row); err != nil {
			return err
		}
	}
	return nil
}

// ListDatasetRows returns an experiment's rows in insertion order, filtered
// by split unless split is empty.
func (s *Store) ListDatasetRows(ctx context.Context, experimentID string, split domain.Split) ([]domain.DatasetRow, error) {
	var rows []domain.DatasetRow
	err := s.view(ctx, func(txn *badger.Txn) error {
		all, err := scanJSON[domain.DatasetRow](txn, ownedPrefix(prefixDatasetRow, experimentID))
		if err != nil {
			return err
		}
		for _, r := range all {
			if split == "" || r.Split == split {
				rows = append(rows, r)
			}
		}
		return nil
	})
	if err != nil {
		return nil, wrap("dataset_row", "list", err)
	}
	return rows, nil
}

// AddJuryMembers appends members to their experiments' panels.
func (s *Store) AddJuryMembers(ctx context.Context, members []domain.JuryMember) error {
	err := s.update(ctx, func(txn *badger.Txn) error {
		return s.putJuryMembers(txn, make(map[string]bool), members)
	})
	return wrap("jury_member", "create", err)
}

func (s *Store) putJuryMembers(txn *badger.Txn, checked map[string]bool, members []domain.JuryMember) error {
	for i := range members {
		m := &members[i]
		if err := s.requireExperiment(txn, checked, m.ExperimentID); err != nil {
			return err
		}
		if m.ID == "" {
			m.ID = uuid.NewString()
		}
		key, err := s.sequencedKey(prefixJuryMember, m.ExperimentID)
		if err != nil {
			return err
		}
		if err := putJSON(txn, key, m); err != nil {
			return err
		}
	}
	return nil
}

// ListJuryMembers returns an experiment's panel in insertion order.
func (s *Store) ListJuryMembers(ctx context.Context, experimentID string) ([]domain.JuryMember, error) {
	var members []domain.JuryMember
	err := s.view(ctx, func(txn *badger.Txn) error {
		var err error
		members, err = scanJSON[domain.JuryMember](txn, ownedPrefix(prefixJuryMember, experimentID))
		return err
	})
	if err != nil {
		return nil, wrap("jury_member", "list", err)
	}
	return members, nil
}

// CreatePromptVersion stores the prompt of a new iteration. Iteration numbers
// are unique per experiment.
func (s *Store) CreatePromptVersion(ctx context.Context, pv *domain.PromptVersion) error {
	if pv.ID == "" {
		pv.ID = uuid.NewString()
	}
	if pv.CreatedAt.IsZero() {
		pv.CreatedAt = s.now()
	}

	err := s.update(ctx, func(txn *badger.Txn) error {
		if err := requireKey(txn, experimentKey(pv.ExperimentID), "Experiment", pv.ExperimentID); err != nil {
			return err
		}
		key := promptVersionKey(pv.ExperimentID, pv.IterationNumber)
		if exists, err := keyExists(txn, key); err != nil || exists {
			if err == nil {
				err = fmt.Errorf("iteration %d already exists for experiment %s", pv.IterationNumber, pv.ExperimentID)
			}
			return err
		}
		if err := txn.Set([]byte(prefixPromptIndex+pv.ID), key); err != nil {
			return err
		}
		return putJSON(txn, key, pv)
	})
	return wrap("prompt_version", "create", err)
}

// UpdatePromptVersion replaces a stored prompt version, located by id.
func (s *Store) UpdatePromptVersion(ctx context.Context, pv *domain.PromptVersion) error {
	err := s.update(ctx, func(txn *badger.Txn) error {
		key, err := promptVersionKeyByID(txn, pv.ID)
		if err != nil {
			return err
		}
		return putJSON(txn, key, pv)
	})
	return wrap("prompt_version", "update", err)
}

// ListPromptVersions returns an experiment's versions by iteration number.
func (s *Store) ListPromptVersions(ctx context.Context, experimentID string) ([]domain.PromptVersion, error) {
	var versions []domain.PromptVersion
	err := s.view(ctx, func(txn *badger.Txn) error {
		var err error
		versions, err = scanJSON[domain.PromptVersion](txn, ownedPrefix(prefixPromptVersion, experimentID))
		return err
	})
	if err != nil {
		return nil, wrap("prompt_version", "list", err)
	}
	return versions, nil
}

// SaveRowResult writes one iteration result and its jury evaluations in a
// single transaction.
func (s *Store) SaveRowResult(ctx context.Context, result *domain.IterationResult, evals []domain.JuryEvaluation) error {
	if result.ID == "" {
		result.ID = uuid.NewString()
	}
	if result.CreatedAt.IsZero() {
		result.CreatedAt = s.now()
	}

	err := s.update(ctx, func(txn *badger.Txn) error {
		if _, err := promptVersionKeyByID(txn, result.PromptVersionID); err != nil {
			return err
		}

		key, err := s.sequencedKey(prefixResult, result.PromptVersionID)
		if err != nil {
			return err
		}
		if err := putJSON(txn, key, result); err != nil {
			return err
		}

		for i := range evals {
			ev := &evals[i]
			if ev.ID == "" {
				ev.ID = uuid.NewString()
			}
			ev.IterationResultID = result.ID
			evKey, err := s.sequencedKey(prefixEvaluation, result.ID)
			if err != nil {
				return err
			}
			if err := putJSON(txn, evKey, ev); err != nil {
				return err
			}
		}
		return nil
	})
	return wrap("iteration_result", "create", err)
}

// ListIterationResults returns the results of one prompt version in
// insertion order.
func (s *Store) ListIterationResults(ctx context.Context, promptVersionID string) ([]domain.IterationResult, error) {
	var results []domain.IterationResult
	err := s.view(ctx, func(txn *badger.Txn) error {
		var err error
		results, err = scanJSON[domain.IterationResult](txn, ownedPrefix(prefixResult, promptVersionID))
		return err
	})
	if err != nil {
		return nil, wrap("iteration_result", "list", err)
	}
	return results, nil
}

// ListJuryEvaluations returns the evaluations of one iteration result.
func (s *Store) ListJuryEvaluations(ctx context.Context, iterationResultID string) ([]domain.JuryEvaluation, error) {
	var evals []domain.JuryEvaluation
	err := s.view(ctx, func(txn *badger.Txn) error {
		var err error
		evals, err = scanJSON[domain.JuryEvaluation](txn, ownedPrefix(prefixEvaluation, iterationResultID))
		return err
	})
	if err != nil {
		return nil, wrap("jury_evaluation", "list", err)
	}
	return evals, nil
}

func (s *Store) requireExperiment(txn *badger.Txn, checked map[string]bool, id string) error {
	if checked[id] {
		return nil
	}
	if err := requireKey(txn, experimentKey(id), "Experiment", id); err != nil {
		return err
	}
	checked[id] = true
	return nil
}

// sequencedKey returns prefix+owner+"/"+n for the next store-wide sequence
// number, zero padded so byte order matches insertion order.
func (s *Store) sequencedKey(prefix, owner string) ([]byte, error) {
	n, err := s.seq.Next()
	if err != nil {
		return nil, fmt.Errorf("next sequence: %w", err)
	}
	return fmt.Appendf(nil, "%s%s/%020d", prefix, owner, n), nil
}

func experimentKey(id string) []byte { return []byte(prefixExperiment + id) }

func promptVersionKey(experimentID string, iteration int) []byte {
	return fmt.Appendf(nil, "%s%s/%06d", prefixPromptVersion, experimentID, iteration)
}

func ownedPrefix(prefix, owner string) string { return prefix + owner + "/" }

func promptVersionKeyByID(txn *badger.Txn, id string) ([]byte, error) {
	item, err := txn.Get([]byte(prefixPromptIndex + id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, domain.NewNotFoundError("PromptVersion", id)
	}
	if err != nil {
		return nil, err
	}
	return item.ValueCopy(nil)
}

func requireKey(txn *badger.Txn, key []byte, entity, id string) error {
	exists, err := keyExists(txn, key)
	if err != nil {
		return err
	}
	if !exists {
		return domain.NewNotFoundError(entity, id)
	}
	return nil
}

func keyExists(txn *badger.Txn, key []byte) (bool, error) {
	_, err := txn.Get(key)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, badger.ErrKeyNotFound):
		return false, nil
	default:
		return false, err
	}
}

func putJSON(txn *badger.Txn, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return txn.Set(key, data)
}

func getJSON(txn *badger.Txn, key []byte, v any) error {
	item, err := txn.Get(key)
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, v)
	})
}

func scanJSON[T any](txn *badger.Txn, prefix string) ([]T, error) {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = []byte(prefix)
	it := txn.NewIterator(opts)
	defer it.Close()

	var out []T
	for it.Rewind(); it.Valid(); it.Next() {
		var v T
		if err := it.Item().Value(func(val []byte) error {
			return json.Unmarshal(val, &v)
		}); err != nil {
			return nil, fmt.Errorf("decode %s: %w", it.Item().Key(), err)
		}
		out = append(out, v)
	}
	return out, nil
}

func keysWithPrefix(txn *badger.Txn, prefix string) [][]byte {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = []byte(prefix)
	opts.PrefetchValues = false
	it := txn.NewIterator(opts)
	defer it.Close()

	var keys [][]byte
	for it.Rewind(); it.Valid(); it.Next() {
		keys = append(keys, it.Item().KeyCopy(nil))
	}
	return keys
}

// wrap tags storage failures with the entity and operation. Not-found errors
// pass through so callers can match them directly.
func wrap(entity, operation string, err error) error {
	if err == nil {
		return nil
	}
	var nf *domain.NotFoundError
	if errors.As(err, &nf) {
		return nf
	}
	return ports.NewStoreError(entity, operation, err)
}
