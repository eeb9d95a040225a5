package ledger

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

var (
	// ErrAlreadyInitialized is returned when Initialize is called twice.
	ErrAlreadyInitialized = errors.New("global state already initialized")

	// ErrNotInitialized is returned when an operation requires GlobalState
	// before Initialize has run.
	ErrNotInitialized = errors.New("global state not initialized")

	// ErrNoStakeFound is returned when an operation addresses a (user, asset)
	// pair with no StakeInfo record.
	ErrNoStakeFound = errors.New("no stake found")
)

// Store owns all ledger state: the GlobalState singleton and one StakeInfo
// record per (user, asset) pair. Mutation rights belong exclusively to the
// engine; everything else reads through snapshots.
//
// Serialization discipline: each record carries its own mutex, so two
// operations on the same (user, asset) pair never interleave their
// read-modify-write sequences, while operations on distinct pairs proceed
// concurrently. The shared TotalStaked aggregate is adjusted with atomic
// adds, never read-then-write. The gate RWMutex lets the invariant
// validator take a consistent view across all records.
type Store struct {
	mu      sync.RWMutex
	global  *GlobalState
	records map[RecordKey]*lockedRecord

	totalStaked atomic.Int64

	gate sync.RWMutex
}

type lockedRecord struct {
	mu   sync.Mutex
	info StakeInfo
}

func NewStore() *Store {
	return &Store{
		records: make(map[RecordKey]*lockedRecord),
	}
}

// Initialize creates the GlobalState singleton. Fails if called twice.
func (s *Store) Initialize(authority string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.global != nil {
		return ErrAlreadyInitialized
	}
	s.global = &GlobalState{Authority: authority}
	return nil
}

// Authority returns the configured authority identity.
func (s *Store) Authority() (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.global == nil {
		return "", ErrNotInitialized
	}
	return s.global.Authority, nil
}

// Initialized reports whether the GlobalState singleton exists.
func (s *Store) Initialized() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.global != nil
}

// Global returns a copy of the GlobalState with the current aggregate.
func (s *Store) Global() (GlobalState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.global == nil {
		return GlobalState{}, ErrNotInitialized
	}
	return GlobalState{
		Authority:   s.global.Authority,
		TotalStaked: uint64(s.totalStaked.Load()),
	}, nil
}

// TotalStaked returns the global principal aggregate.
func (s *Store) TotalStaked() uint64 {
	return uint64(s.totalStaked.Load())
}

// AddTotalStaked atomically increases the global aggregate.
func (s *Store) AddTotalStaked(delta uint64) {
	s.totalStaked.Add(int64(delta))
}

// SubTotalStaked atomically decreases the global aggregate. A negative result
// means an engine bug: the per-record principal floor guarantees the subtracted
// delta never exceeds the aggregate.
func (s *Store) SubTotalStaked(delta uint64) {
	if v := s.totalStaked.Add(-int64(delta)); v < 0 {
		panic(fmt.Sprintf("FATAL: global total_staked underflow: %d after -%d", v, delta))
	}
}

// WithRecord runs fn with the record's lock held. If the record is absent it
// is created zeroed when createIfAbsent is set, otherwise ErrNoStakeFound is
// returned. If fn returns an error the record is restored to its prior value,
// and a record this call created is removed again, so a failed operation
// observes no partial update and leaves no empty record behind.
func (s *Store) WithRecord(user, asset string, createIfAbsent bool, fn func(info *StakeInfo) error) error {
	s.gate.RLock()
	defer s.gate.RUnlock()

	key := RecordKey{User: user, Asset: asset}

	for {
		s.mu.Lock()
		rec, ok := s.records[key]
		created := false
		if !ok {
			if !createIfAbsent {
				s.mu.Unlock()
				return ErrNoStakeFound
			}
			rec = &lockedRecord{info: StakeInfo{User: user, Asset: asset}}
			s.records[key] = rec
			created = true
		}
		s.mu.Unlock()

		rec.mu.Lock()

		// A failed creating call may have removed the record between the
		// map lookup and the lock acquisition. Mutating the orphan would
		// lose the update, so start over against the live map.
		if !created {
			s.mu.RLock()
			current := s.records[key]
			s.mu.RUnlock()
			if current != rec {
				rec.mu.Unlock()
				continue
			}
		}

		before := rec.info
		if err := fn(&rec.info); err != nil {
			rec.info = before
			if created {
				s.mu.Lock()
				if s.records[key] == rec {
					delete(s.records, key)
				}
				s.mu.Unlock()
			}
			rec.mu.Unlock()
			return err
		}
		rec.info.Version++
		rec.mu.Unlock()
		return nil
	}
}

// Get returns a copy of the record, if present.
func (s *Store) Get(user, asset string) (StakeInfo, bool) {
	s.mu.RLock()
	rec, ok := s.records[RecordKey{User: user, Asset: asset}]
	s.mu.RUnlock()
	if !ok {
		return StakeInfo{}, false
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.info, true
}

// Snapshot returns copies of all records.
func (s *Store) Snapshot() []StakeInfo {
	s.mu.RLock()
	recs := make([]*lockedRecord, 0, len(s.records))
	for _, rec := range s.records {
		recs = append(recs, rec)
	}
	s.mu.RUnlock()

	infos := make([]StakeInfo, 0, len(recs))
	for _, rec := range recs {
		rec.mu.Lock()
		infos = append(infos, rec.info)
		rec.mu.Unlock()
	}
	return infos
}

// Restore loads ledger state recovered from the projection tables at startup.
// Must be called before any operation runs.
func (s *Store) Restore(authority string, records []StakeInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.global = &GlobalState{Authority: authority}

	var total uint64
	for _, info := range records {
		rec := &lockedRecord{info: info}
		s.records[info.Key()] = rec
		total += info.TotalStaked
	}
	s.totalStaked.Store(int64(total))
}

// quiesce blocks new operations and waits for in-flight ones. Used by the
// invariant validator to get a consistent cross-record view.
func (s *Store) quiesce() func() {
	s.gate.Lock()
	return s.gate.Unlock
}
