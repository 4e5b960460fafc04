// Package archive implements S4, the shadow archive backed by LevelDB. The
// dataset builder is the sole writer of samples; the run command records run
// parameters and summaries; the shadow console reads shadows back to answer
// new observable queries without re-measuring.
package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/matthewyakubiw/qml-main/internal/bus"
	"github.com/matthewyakubiw/qml-main/internal/dataset"
	"github.com/matthewyakubiw/qml-main/internal/pauli"
	"github.com/matthewyakubiw/qml-main/internal/shadow"
	"github.com/matthewyakubiw/qml-main/internal/types"
)

// LevelDB key prefix scheme; "|" separates parts so run IDs stay unambiguous.
//
//	r|<run>              → RunParams JSON      (written on RunStarted)
//	f|<run>              → RunFinished JSON    (written on RunFinished)
//	d|<run>|<index>      → SampleRecord JSON   (labels, energy, features)
//	s|<run>|<index>      → ShadowRecord JSON   (compact snapshot text)
const (
	prefixRun      = "r|"
	prefixFinished = "f|"
	prefixSample   = "d|"
	prefixShadow   = "s|"
)

const writeQueueSize = 1024

// SampleRecord is the persisted form of one dataset sample.
type SampleRecord struct {
	RunID     string    `json:"run_id"`
	Index     int       `json:"index"`
	Features  []float64 `json:"features"`
	Exact     []float64 `json:"exact"`
	Estimated []float64 `json:"estimated"`
	Energy    float64   `json:"energy"`
	Fallback  bool      `json:"fallback"`
	SavedAt   string    `json:"saved_at"`
}

// RunSummary is one entry of ListRuns.
type RunSummary struct {
	Params   types.RunParams    `json:"params"`
	Finished *types.RunFinished `json:"finished,omitempty"`
	Samples  int                `json:"samples"`
}

// ShadowRecord stores each snapshot as two strings of length n: basis letters
// ("XYZZ") and outcome signs ("+-++").
type ShadowRecord struct {
	Bases    []string `json:"bases"`
	Outcomes []string `json:"outcomes"`
}

// pending is one queued write.
type pending struct {
	key   string
	value any
	kind  string
}

// Store is the LevelDB-backed shadow archive.
// SaveSample is async (fire-and-forget channel); loads are synchronous.
type Store struct {
	b        *bus.Bus
	db       *leveldb.DB
	writeCh  chan []pending // one element per sample so its keys land in one batch
	started  <-chan types.Message
	finished <-chan types.Message
}

var _ dataset.Sink = (*Store)(nil)

// New opens (or creates) a LevelDB database at dbPath.
// dbPath should be a directory path (LevelDB creates it if absent).
func New(b *bus.Bus, dbPath string) (*Store, error) {
	db, err := leveldb.OpenFile(dbPath, nil)
	if err != nil {
		return nil, fmt.Errorf("archive: open %s: %w (another qmlsh process may hold the lock)", dbPath, err)
	}
	s := &Store{
		b:       b,
		db:      db,
		writeCh: make(chan []pending, writeQueueSize),
	}
	// Subscribe before Run starts so a RunStarted published right after New is not lost.
	if b != nil {
		s.started = b.Subscribe(types.MsgRunStarted)
		s.finished = b.Subscribe(types.MsgRunFinished)
	}
	return s, nil
}

// SaveSample enqueues the labels and shadow of s for async persistence.
//
// Expectations:
//   - Non-blocking: never blocks the caller goroutine
//   - Copies everything it needs before returning, so the caller may reuse s
//   - Drops the sample with a warning when the queue is at capacity
func (s *Store) SaveSample(runID string, smp *dataset.Sample) {
	rec := SampleRecord{
		RunID:     runID,
		Index:     smp.Index,
		Features:  append([]float64(nil), smp.Features...),
		Exact:     append([]float64(nil), smp.Exact...),
		Estimated: append([]float64(nil), smp.Estimated...),
		Energy:    smp.Energy,
		Fallback:  smp.Fallback,
		SavedAt:   time.Now().UTC().Format(time.RFC3339),
	}
	batch := []pending{
		{key: sampleKey(runID, smp.Index), value: rec, kind: "sample"},
		{key: shadowKey(runID, smp.Index), value: EncodeShadow(smp.Shadow), kind: "shadow"},
	}
	select {
	case s.writeCh <- batch:
	default:
		slog.Warn("[ARCHIVE] write queue full, dropping sample", "run", runID, "index", smp.Index)
	}
}

// SaveRun records the parameters a run was started with.
func (s *Store) SaveRun(p types.RunParams) error {
	return s.put(prefixRun+safeKeyPart(p.RunID), p)
}

// SaveFinished records a run summary.
func (s *Store) SaveFinished(f types.RunFinished) error {
	return s.put(prefixFinished+safeKeyPart(f.RunID), f)
}

// Run drains the async write queue and records RunStarted and RunFinished
// messages from the bus. Drains pending writes and closes the DB when ctx is
// cancelled.
func (s *Store) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			s.drainBus(s.started, s.finished)
			s.drainWriteQueue()
			if err := s.db.Close(); err != nil {
				slog.Warn("[ARCHIVE] DB close error", "error", err)
			}
			return
		case batch := <-s.writeCh:
			s.persist(batch)
		case msg := <-s.started:
			s.handle(msg)
		case msg := <-s.finished:
			s.handle(msg)
		}
	}
}

// Close closes the DB directly. Use it only when Run was never started.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) handle(msg types.Message) {
	var err error
	switch p := msg.Payload.(type) {
	case types.RunParams:
		err = s.SaveRun(p)
	case types.RunFinished:
		err = s.SaveFinished(p)
	default:
		return
	}
	if err != nil {
		slog.Error("[ARCHIVE] persist run record failed", "type", msg.Type, "error", err)
	}
}

func (s *Store) drainBus(chs ...<-chan types.Message) {
	for _, ch := range chs {
		if ch == nil {
			continue
		}
		for drained := false; !drained; {
			select {
			case msg := <-ch:
				s.handle(msg)
			default:
				drained = true
			}
		}
	}
}

// ---------------------------------------------------------------------------
// Internal: write path
// ---------------------------------------------------------------------------

func (s *Store) persist(items []pending) {
	batch := new(leveldb.Batch)
	for _, it := range items {
		data, err := json.Marshal(it.value)
		if err != nil {
			slog.Error("[ARCHIVE] marshal failed", "key", it.key, "error", err)
			return
		}
		batch.Put([]byte(it.key), data)
	}
	if err := s.db.Write(batch, nil); err != nil {
		slog.Error("[ARCHIVE] persist failed", "keys", len(items), "error", err)
		return
	}
	for _, it := range items {
		slog.Debug("[ARCHIVE] persisted", "kind", it.kind, "key", it.key)
	}
}

func (s *Store) drainWriteQueue() {
	for {
		select {
		case batch := <-s.writeCh:
			s.persist(batch)
		default:
			return
		}
	}
}

func (s *Store) put(key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("archive: marshal %s: %w", key, err)
	}
	if err := s.db.Put([]byte(key), data, nil); err != nil {
		return fmt.Errorf("archive: put %s: %w", key, err)
	}
	slog.Info("[ARCHIVE] persisted run record", "key", key)
	return nil
}

// ---------------------------------------------------------------------------
// Read path
// ---------------------------------------------------------------------------

// LoadShadow returns the shadow of sample index in run runID.
//
// Expectations:
//   - Returns leveldb.ErrNotFound (wrapped) when the sample was never archived
//   - The returned shadow passes Validate
func (s *Store) LoadShadow(runID string, index int) (shadow.Shadow, error) {
	data, err := s.db.Get([]byte(shadowKey(runID, index)), nil)
	if err != nil {
		return shadow.Shadow{}, fmt.Errorf("archive: shadow %s/%d: %w", runID, index, err)
	}
	var rec ShadowRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return shadow.Shadow{}, fmt.Errorf("archive: shadow %s/%d: %w", runID, index, err)
	}
	return DecodeShadow(rec.Bases, rec.Outcomes)
}

// LoadSample returns the labels of sample index in run runID.
func (s *Store) LoadSample(runID string, index int) (SampleRecord, error) {
	var rec SampleRecord
	data, err := s.db.Get([]byte(sampleKey(runID, index)), nil)
	if err != nil {
		return rec, fmt.Errorf("archive: sample %s/%d: %w", runID, index, err)
	}
	return rec, json.Unmarshal(data, &rec)
}

// LoadRun returns the parameters of runID.
func (s *Store) LoadRun(runID string) (types.RunParams, error) {
	var p types.RunParams
	data, err := s.db.Get([]byte(prefixRun+safeKeyPart(runID)), nil)
	if err != nil {
		return p, fmt.Errorf("archive: run %s: %w", runID, err)
	}
	return p, json.Unmarshal(data, &p)
}

// ListRuns returns every recorded run with its archived sample count, sorted
// by run ID.
func (s *Store) ListRuns() ([]RunSummary, error) {
	iter := s.db.NewIterator(util.BytesPrefix([]byte(prefixRun)), nil)
	defer iter.Release()
	var out []RunSummary
	for iter.Next() {
		var rs RunSummary
		if err := json.Unmarshal(iter.Value(), &rs.Params); err != nil {
			continue
		}
		id := safeKeyPart(rs.Params.RunID)
		if data, err := s.db.Get([]byte(prefixFinished+id), nil); err == nil {
			var f types.RunFinished
			if json.Unmarshal(data, &f) == nil {
				rs.Finished = &f
			}
		}
		rs.Samples = s.countPrefix(prefixSample + id + "|")
		out = append(out, rs)
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Params.RunID < out[j].Params.RunID })
	return out, nil
}

func (s *Store) countPrefix(prefix string) int {
	iter := s.db.NewIterator(util.BytesPrefix([]byte(prefix)), nil)
	defer iter.Release()
	n := 0
	for iter.Next() {
		n++
	}
	return n
}

// ---------------------------------------------------------------------------
// Shadow text encoding
// ---------------------------------------------------------------------------

// EncodeShadow renders each snapshot as a basis string and a sign string.
func EncodeShadow(sh shadow.Shadow) ShadowRecord {
	rec := ShadowRecord{
		Bases:    make([]string, sh.Size()),
		Outcomes: make([]string, sh.Size()),
	}
	for t := range sh.Outcomes {
		var b, o strings.Builder
		for q := range sh.Outcomes[t] {
			b.WriteString(sh.Bases[t][q].String())
			if sh.Outcomes[t][q] > 0 {
				o.WriteByte('+')
			} else {
				o.WriteByte('-')
			}
		}
		rec.Bases[t] = b.String()
		rec.Outcomes[t] = o.String()
	}
	return rec
}

// DecodeShadow is the inverse of EncodeShadow.
//
// Expectations:
//   - Returns an error on an unknown basis letter or sign character
//   - Returns an error when row counts or widths disagree
func DecodeShadow(bases, outcomes []string) (shadow.Shadow, error) {
	if len(bases) != len(outcomes) {
		return shadow.Shadow{}, fmt.Errorf("archive: %d basis rows but %d outcome rows", len(bases), len(outcomes))
	}
	sh := shadow.Shadow{
		Outcomes: make([][]int8, len(bases)),
		Bases:    make([][]pauli.Basis, len(bases)),
	}
	for t := range bases {
		if len(bases[t]) != len(outcomes[t]) {
			return shadow.Shadow{}, fmt.Errorf("archive: snapshot %d width mismatch", t)
		}
		sh.Outcomes[t] = make([]int8, len(outcomes[t]))
		sh.Bases[t] = make([]pauli.Basis, len(bases[t]))
		for q := 0; q < len(bases[t]); q++ {
			switch bases[t][q] {
			case 'X':
				sh.Bases[t][q] = pauli.X
			case 'Y':
				sh.Bases[t][q] = pauli.Y
			case 'Z':
				sh.Bases[t][q] = pauli.Z
			default:
				return shadow.Shadow{}, fmt.Errorf("archive: snapshot %d: unknown basis %q", t, bases[t][q])
			}
			switch outcomes[t][q] {
			case '+':
				sh.Outcomes[t][q] = 1
			case '-':
				sh.Outcomes[t][q] = -1
			default:
				return shadow.Shadow{}, fmt.Errorf("archive: snapshot %d: unknown sign %q", t, outcomes[t][q])
			}
		}
	}
	return sh, sh.Validate()
}

// ---------------------------------------------------------------------------
// Key helpers
// ---------------------------------------------------------------------------

// sampleKey zero-pads the index so iteration follows sample order.
func sampleKey(runID string, index int) string {
	return fmt.Sprintf("%s%s|%06d", prefixSample, safeKeyPart(runID), index)
}

func shadowKey(runID string, index int) string {
	return fmt.Sprintf("%s%s|%06d", prefixShadow, safeKeyPart(runID), index)
}

// safeKeyPart replaces "|" with "_" so LevelDB keys parse unambiguously.
func safeKeyPart(s string) string {
	return strings.ReplaceAll(s, "|", "_")
}
