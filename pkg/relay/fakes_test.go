package relay

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/mate71pl/meshtastic-matrix-relay/pkg/models"
)

type chatSend struct {
	room string
	msg  models.ChatMessage
}

type fakeChat struct {
	mu           sync.Mutex
	sends        []chatSend
	displayNames map[string]string
	delays       map[string]time.Duration
	failures     map[string]error
}

func (f *fakeChat) SendRelay(ctx context.Context, roomID string, msg models.ChatMessage) error {
	if d := f.delays[roomID]; d > 0 {
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err := f.failures[roomID]; err != nil {
		return err
	}
	f.mu.Lock()
	f.sends = append(f.sends, chatSend{room: roomID, msg: msg})
	f.mu.Unlock()
	return nil
}

func (f *fakeChat) DisplayName(_ context.Context, userID string) string {
	if name, ok := f.displayNames[userID]; ok {
		return name
	}
	return userID
}

func (f *fakeChat) Sends() []chatSend {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]chatSend(nil), f.sends...)
}

type radioSend struct {
	text    string
	channel int
}

type fakeRadio struct {
	mu    sync.Mutex
	sends []radioSend
	err   error
	block bool
}

func (f *fakeRadio) SendText(_ context.Context, text string, channel int) error {
	if f.block {
		select {}
	}
	if f.err != nil {
		return f.err
	}
	f.mu.Lock()
	f.sends = append(f.sends, radioSend{text: text, channel: channel})
	f.mu.Unlock()
	return nil
}

func (f *fakeRadio) Sends() []radioSend {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]radioSend(nil), f.sends...)
}

type fakeStore struct {
	mu       sync.Mutex
	nodes    map[string]models.NodeInfo
	saveErr  error
	saves    int
	getDelay time.Duration
}

func newFakeStore() *fakeStore {
	return &fakeStore{nodes: make(map[string]models.NodeInfo)}
}

func (s *fakeStore) GetNode(ctx context.Context, nodeID string) (*models.NodeInfo, error) {
	if s.getDelay > 0 {
		select {
		case <-time.After(s.getDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.nodes[nodeID]
	if !ok {
		return nil, nil
	}
	return &n, nil
}

func (s *fakeStore) SaveNodes(nodes []models.NodeInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.saves++
	for _, n := range nodes {
		s.nodes[n.NodeID] = n
	}
	return nil
}

func (s *fakeStore) GetAllNodes() ([]*models.NodeInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.NodeInfo
	for _, n := range s.nodes {
		n := n
		out = append(out, &n)
	}
	return out, nil
}

type fakeSource struct {
	nodes map[string]models.NodeInfo
	err   error
}

func (s *fakeSource) Nodes() (map[string]models.NodeInfo, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.nodes, nil
}

var errBoom = errors.New("boom")

type recordingObserver struct {
	mu      sync.Mutex
	records []Record
}

func (o *recordingObserver) Relayed(rec Record) {
	o.mu.Lock()
	o.records = append(o.records, rec)
	o.mu.Unlock()
}
