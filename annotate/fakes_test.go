package annotate

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/onnwee/tsnip/clip"
)

type fakeStore struct {
	mu      sync.Mutex
	records []clip.StreamRecord
	events  map[string][]clip.Event
	marks   map[string]clip.StreamStatus
	listErr error
	kv      map[string]string
}

func newFakeStore(records ...clip.StreamRecord) *fakeStore {
	return &fakeStore{records: records, events: map[string][]clip.Event{}, marks: map[string]clip.StreamStatus{}, kv: map[string]string{}}
}

func (s *fakeStore) ListUnprocessedStreams(context.Context) ([]clip.StreamRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	var out []clip.StreamRecord
	for _, r := range s.records {
		if !r.Processed {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *fakeStore) ListEventsForGroup(_ context.Context, id string) ([]clip.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]clip.Event(nil), s.events[id]...), nil
}

func (s *fakeStore) MarkStreamProcessed(_ context.Context, id string, status clip.StreamStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.records {
		if s.records[i].RecordID == id && !s.records[i].Processed {
			s.records[i].Processed = true
			s.records[i].Status = status
			s.marks[id] = status
		}
	}
	return nil
}

func (s *fakeStore) SetKV(_ context.Context, k, v string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.kv[k] = v
	return nil
}

func (s *fakeStore) record(id string) clip.StreamRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.records {
		if r.RecordID == id {
			return r
		}
	}
	return clip.StreamRecord{}
}

// claimingStore adds an in-memory claim table.
type claimingStore struct {
	*fakeStore
	held map[string]string
}

func (c *claimingStore) ClaimVideo(_ context.Context, videoID, owner string, _ time.Duration) (bool, error) {
	if o, ok := c.held[videoID]; ok && o != owner {
		return false, nil
	}
	c.held[videoID] = owner
	return true, nil
}

func (c *claimingStore) ReleaseVideo(_ context.Context, videoID, owner string) error {
	if c.held[videoID] == owner {
		delete(c.held, videoID)
	}
	return nil
}

// fakePlatform returns scripted metadata per video; the last entry repeats.
type fakePlatform struct {
	mu        sync.Mutex
	meta      map[string][]clip.VideoMetadata
	metaErr   map[string]error
	postErrs  []error
	metaCalls map[string]int
	posts     map[string][]string
	panicOn   string
}

func newFakePlatform() *fakePlatform {
	return &fakePlatform{
		meta:      map[string][]clip.VideoMetadata{},
		metaErr:   map[string]error{},
		metaCalls: map[string]int{},
		posts:     map[string][]string{},
	}
}

func (p *fakePlatform) GetVideoMetadata(_ context.Context, id string) (clip.VideoMetadata, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if id == p.panicOn {
		panic("boom")
	}
	n := p.metaCalls[id]
	p.metaCalls[id]++
	if err := p.metaErr[id]; err != nil {
		return clip.VideoMetadata{}, err
	}
	seq := p.meta[id]
	if len(seq) == 0 {
		return clip.VideoMetadata{}, errors.New("no metadata")
	}
	if n >= len(seq) {
		n = len(seq) - 1
	}
	return seq[n], nil
}

func (p *fakePlatform) PostComment(_ context.Context, id, text string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.postErrs) > 0 {
		err := p.postErrs[0]
		p.postErrs = p.postErrs[1:]
		if err != nil {
			return err
		}
	}
	p.posts[id] = append(p.posts[id], text)
	return nil
}

func (p *fakePlatform) calls(id string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.metaCalls[id] + len(p.posts[id])
}

func endedVideo(id string, start time.Time) clip.VideoMetadata {
	end := start.Add(2 * time.Hour)
	return clip.VideoMetadata{VideoID: id, Title: "Stream " + id, PrivacyStatus: "public", BroadcastPhase: clip.PhaseNone, LiveStart: &start, LiveEnd: &end}
}

func noSleep(context.Context, time.Duration) error { return nil }
