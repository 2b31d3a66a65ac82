package booking

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/adiwibowo/stayreserve/internal/model"
)

// memStore is an in-memory Store for engine tests.  A single mutex
// serializes units of work, which gives the same observable ordering
// guarantees as row locks on a real database, and each unit runs
// against a deep copy that is swapped in only on success so a failed
// unit rolls back.
type memStore struct {
	mu        sync.Mutex
	rooms     map[int64]*model.Room
	blackouts map[int64][]time.Time
	rates     map[int64][]model.SeasonalRate
	txns      map[string]*model.Transaction
	outbox    []model.OutboxMessage
	nextID    int64
}

func newMemStore() *memStore {
	return &memStore{
		rooms:     map[int64]*model.Room{},
		blackouts: map[int64][]time.Time{},
		rates:     map[int64][]model.SeasonalRate{},
		txns:      map[string]*model.Transaction{},
		nextID:    1,
	}
}

func (s *memStore) addRoom(r model.Room) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := r
	s.rooms[r.ID] = &cp
}

func (s *memStore) addBlackout(roomID int64, d time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blackouts[roomID] = append(s.blackouts[roomID], d)
}

func (s *memStore) addRate(roomID int64, r model.SeasonalRate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rates[roomID] = append(s.rates[roomID], r)
}

func (s *memStore) roomStock(roomID int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rooms[roomID].Stock
}

func (s *memStore) transaction(uuid string) model.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.txns[uuid]
}

// outboxTopics returns the topics of all recorded outbox rows in
// insertion order.
func (s *memStore) outboxTopics() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	topics := make([]string, 0, len(s.outbox))
	for _, m := range s.outbox {
		topics = append(topics, m.Topic)
	}
	return topics
}

func (s *memStore) outboxPayloads(topic string) [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out [][]byte
	for _, m := range s.outbox {
		if m.Topic == topic {
			out = append(out, m.Payload)
		}
	}
	return out
}

func (s *memStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	shadow := s.snapshot()
	if err := fn(&memTx{state: shadow}); err != nil {
		return err
	}
	s.rooms = shadow.rooms
	s.txns = shadow.txns
	s.outbox = shadow.outbox
	s.nextID = shadow.nextID
	return nil
}

func (s *memStore) TransactionByUUID(ctx context.Context, uuid string) (*model.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.txns[uuid]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTransactionNotFound, uuid)
	}
	cp := *t
	return &cp, nil
}

func (s *memStore) ListTransactions(ctx context.Context, f ListFilter) ([]model.Transaction, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var matched []model.Transaction
	for _, t := range s.txns {
		if f.GuestID > 0 && t.UserID != f.GuestID {
			continue
		}
		if f.HostID > 0 {
			room, ok := s.rooms[t.RoomID]
			if !ok || room.HostID != f.HostID {
				continue
			}
		}
		if f.Status != "" && t.Status != f.Status {
			continue
		}
		matched = append(matched, *t)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID > matched[j].ID })
	total := len(matched)
	lo := (f.Page - 1) * f.Take
	if lo > total {
		lo = total
	}
	hi := lo + f.Take
	if hi > total {
		hi = total
	}
	return matched[lo:hi], total, nil
}

// snapshot deep-copies the mutable state so a failed unit of work
// leaves the store untouched.
func (s *memStore) snapshot() *memState {
	st := &memState{
		rooms:     make(map[int64]*model.Room, len(s.rooms)),
		blackouts: s.blackouts,
		rates:     s.rates,
		txns:      make(map[string]*model.Transaction, len(s.txns)),
		outbox:    append([]model.OutboxMessage(nil), s.outbox...),
		nextID:    s.nextID,
	}
	for id, r := range s.rooms {
		cp := *r
		st.rooms[id] = &cp
	}
	for id, t := range s.txns {
		cp := *t
		st.txns[id] = &cp
	}
	return st
}

type memState struct {
	rooms     map[int64]*model.Room
	blackouts map[int64][]time.Time
	rates     map[int64][]model.SeasonalRate
	txns      map[string]*model.Transaction
	outbox    []model.OutboxMessage
	nextID    int64
}

type memTx struct {
	state *memState
}

func (tx *memTx) Room(ctx context.Context, roomID int64) (*model.Room, error) {
	r, ok := tx.state.rooms[roomID]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrRoomNotFound, roomID)
	}
	cp := *r
	return &cp, nil
}

func (tx *memTx) RoomForUpdate(ctx context.Context, roomID int64) (*model.Room, error) {
	return tx.Room(ctx, roomID)
}

func (tx *memTx) BlackoutDays(ctx context.Context, roomID int64, start, end time.Time) ([]time.Time, error) {
	var out []time.Time
	for _, d := range tx.state.blackouts[roomID] {
		if !d.Before(start) && d.Before(end) {
			out = append(out, d)
		}
	}
	return out, nil
}

func (tx *memTx) ActiveSeasonalRates(ctx context.Context, roomID int64, start, end time.Time) ([]model.SeasonalRate, error) {
	var out []model.SeasonalRate
	for _, r := range tx.state.rates[roomID] {
		if r.Active && r.StartDate.Before(end) && start.Before(r.EndDate) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (tx *memTx) AdjustStock(ctx context.Context, roomID int64, delta int) error {
	r, ok := tx.state.rooms[roomID]
	if !ok {
		return fmt.Errorf("%w: %d", ErrRoomNotFound, roomID)
	}
	r.Stock += delta
	return nil
}

func (tx *memTx) InsertTransaction(ctx context.Context, t *model.Transaction) error {
	t.ID = tx.state.nextID
	tx.state.nextID++
	cp := *t
	tx.state.txns[t.UUID] = &cp
	return nil
}

func (tx *memTx) TransactionForUpdate(ctx context.Context, uuid string) (*model.Transaction, error) {
	t, ok := tx.state.txns[uuid]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTransactionNotFound, uuid)
	}
	cp := *t
	return &cp, nil
}

func (tx *memTx) UpdateTransaction(ctx context.Context, t *model.Transaction) error {
	if _, ok := tx.state.txns[t.UUID]; !ok {
		return fmt.Errorf("%w: %s", ErrTransactionNotFound, t.UUID)
	}
	cp := *t
	tx.state.txns[t.UUID] = &cp
	return nil
}

func (tx *memTx) InsertOutbox(ctx context.Context, topic string, payload []byte) error {
	tx.state.outbox = append(tx.state.outbox, model.OutboxMessage{
		ID:      int64(len(tx.state.outbox) + 1),
		Topic:   topic,
		Payload: append([]byte(nil), payload...),
		Status:  model.OutboxPending,
	})
	return nil
}
