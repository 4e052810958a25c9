package storage

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"go.etcd.io/bbolt"

	"maxpop/internal/runner"
)

const (
	BucketRuns    = "runs"
	BucketSamples = "samples"
)

var ErrRunNotFound = errors.New("run not found")

// Store keeps run records and their samples in a bbolt file.
// Samples live in one nested bucket per run, keyed by arrival order.
type Store struct {
	db       *bbolt.DB
	filePath string
}

func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, err
		}
	}

	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open history %s: %w", path, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{BucketRuns, BucketSamples} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db, filePath: path}, nil
}

func (s *Store) Path() string {
	return s.filePath
}

func (s *Store) Close() error {
	return s.db.Close()
}

// SaveRun writes rec, replacing any record with the same id.
func (s *Store) SaveRun(rec RunRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(BucketRuns)).Put([]byte(rec.ID), data)
	})
}

// FinishRun stamps the end of a run. A run never saved gets a bare record.
func (s *Store) FinishRun(id string, at time.Time, runErr error) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(BucketRuns))

		rec := RunRecord{ID: id}
		if v := b.Get([]byte(id)); v != nil {
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
		}
		rec.FinishedAt = at
		rec.Outcome = OutcomeFinished
		rec.Err = ""
		if runErr != nil {
			rec.Outcome = OutcomeFailed
			rec.Err = runErr.Error()
		}

		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return b.Put([]byte(id), data)
	})
}

func (s *Store) AppendSample(runID string, sample runner.Sample) error {
	data, err := json.Marshal(sample)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.Bucket([]byte(BucketSamples)).CreateBucketIfNotExists([]byte(runID))
		if err != nil {
			return err
		}
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		return b.Put(seqKey(seq), data)
	})
}

// Runs returns every record, newest first, with Samples filled in.
func (s *Store) Runs() ([]RunRecord, error) {
	var runs []RunRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		samples := tx.Bucket([]byte(BucketSamples))
		return tx.Bucket([]byte(BucketRuns)).ForEach(func(k, v []byte) error {
			var rec RunRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("decode run %s: %w", k, err)
			}
			rec.Samples = countSamples(samples, k)
			runs = append(runs, rec)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(runs, func(i, j int) bool {
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})
	return runs, nil
}

func (s *Store) Get(id string) (RunRecord, error) {
	var rec RunRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket([]byte(BucketRuns)).Get([]byte(id))
		if v == nil {
			return ErrRunNotFound
		}
		if err := json.Unmarshal(v, &rec); err != nil {
			return err
		}
		rec.Samples = countSamples(tx.Bucket([]byte(BucketSamples)), []byte(id))
		return nil
	})
	return rec, err
}

// Samples returns the samples of a run in the order they were recorded.
func (s *Store) Samples(runID string) ([]runner.Sample, error) {
	var out []runner.Sample
	err := s.db.View(func(tx *bbolt.Tx) error {
		if tx.Bucket([]byte(BucketRuns)).Get([]byte(runID)) == nil {
			return ErrRunNotFound
		}
		b := tx.Bucket([]byte(BucketSamples)).Bucket([]byte(runID))
		if b == nil {
			return nil
		}
		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var sample runner.Sample
			if err := json.Unmarshal(v, &sample); err != nil {
				return err
			}
			out = append(out, sample)
		}
		return nil
	})
	return out, err
}

func countSamples(samples *bbolt.Bucket, runID []byte) int {
	b := samples.Bucket(runID)
	if b == nil {
		return 0
	}
	return b.Stats().KeyN
}

func seqKey(seq uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, seq)
	return k
}
