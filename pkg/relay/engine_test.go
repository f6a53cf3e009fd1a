// Copyright 2024-2026 Aiku AI

package relay

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
)

// fakeStore is an in-memory Store with the same idempotency semantics as the
// sqlite implementation: duplicate destination rows report inserted=false.
type fakeStore struct {
	mu       sync.Mutex
	messages []MessageMapping
	channels map[string]string
	threads  map[string]string
	files    map[string]string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		channels: make(map[string]string),
		threads:  make(map[string]string),
		files:    make(map[string]string),
	}
}

func (s *fakeStore) RecordMessageMapping(_ context.Context, m MessageMapping) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.messages {
		if existing.DestinationMessageID == m.DestinationMessageID {
			return false, nil
		}
	}
	s.messages = append(s.messages, m)
	return true, nil
}

func (s *fakeStore) RecordChannelMapping(_ context.Context, sourceID, destID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.channels[sourceID]; ok {
		return false, nil
	}
	s.channels[sourceID] = destID
	return true, nil
}

func (s *fakeStore) RecordThreadMapping(_ context.Context, sourceID, destID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.threads[sourceID]; ok {
		return false, nil
	}
	s.threads[sourceID] = destID
	return true, nil
}

func (s *fakeStore) RecordFileMapping(_ context.Context, sourceID, destMessageID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.files[sourceID]; ok {
		return false, nil
	}
	s.files[sourceID] = destMessageID
	return true, nil
}

func (s *fakeStore) FindMessageMappings(_ context.Context, sourceMessageID string) ([]MessageMapping, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []MessageMapping
	for _, m := range s.messages {
		if m.SourceMessageID == sourceMessageID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *fakeStore) FindChannelMapping(_ context.Context, sourceChannelID string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	dest, ok := s.channels[sourceChannelID]
	return dest, ok, nil
}

func (s *fakeStore) FindThreadMapping(_ context.Context, sourceThreadID string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	dest, ok := s.threads[sourceThreadID]
	return dest, ok, nil
}

// fakeDispatcher records every destination call in order and can be told to
// fail specific message deletions.
type fakeDispatcher struct {
	mu       sync.Mutex
	channels []DestChannel
	nextID   int

	sent       []sentCard
	edits      []editedCard
	deleted    []string
	failDelete map[string]bool
	pinned     []string
	unpinned   []string
	threads    map[string]string
	renames    []string
	topics     []string
	texts      map[string]string
}

type sentCard struct {
	target Target
	card   *Card
	id     string
}

type editedCard struct {
	messageID string
	card      *Card
}

func newFakeDispatcher(channels ...DestChannel) *fakeDispatcher {
	return &fakeDispatcher{
		channels:   channels,
		failDelete: make(map[string]bool),
		threads:    make(map[string]string),
		texts:      make(map[string]string),
	}
}

func (d *fakeDispatcher) newID(prefix string) string {
	d.nextID++
	return fmt.Sprintf("%s-%d", prefix, d.nextID)
}

func (d *fakeDispatcher) ListTextChannels(context.Context) ([]DestChannel, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]DestChannel(nil), d.channels...), nil
}

func (d *fakeDispatcher) CreateChannel(_ context.Context, name, _ string) (DestChannel, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	ch := DestChannel{ID: d.newID("chan"), Name: name}
	d.channels = append(d.channels, ch)
	return ch, nil
}

func (d *fakeDispatcher) ChannelInfo(_ context.Context, channelID string) (DestChannel, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, ch := range d.channels {
		if ch.ID == channelID {
			return ch, nil
		}
	}
	return DestChannel{}, errors.New("no such channel")
}

func (d *fakeDispatcher) SendCard(_ context.Context, target Target, card *Card) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := d.newID("msg")
	d.sent = append(d.sent, sentCard{target: target, card: card, id: id})
	d.texts[id] = card.Body
	return id, nil
}

func (d *fakeDispatcher) EditCard(_ context.Context, _ Target, messageID string, card *Card) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.edits = append(d.edits, editedCard{messageID: messageID, card: card})
	return nil
}

func (d *fakeDispatcher) DeleteMessage(_ context.Context, _ Target, messageID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failDelete[messageID] {
		return errors.New("message already gone")
	}
	d.deleted = append(d.deleted, messageID)
	return nil
}

func (d *fakeDispatcher) PinMessage(_ context.Context, _ Target, messageID, _ string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pinned = append(d.pinned, messageID)
	return nil
}

func (d *fakeDispatcher) UnpinMessage(_ context.Context, _ Target, messageID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.unpinned = append(d.unpinned, messageID)
	return nil
}

func (d *fakeDispatcher) EnsureThread(_ context.Context, _ string, rootMessageID, title string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if id, ok := d.threads[rootMessageID]; ok {
		return id, nil
	}
	id := d.newID("thread")
	d.threads[rootMessageID] = id
	_ = title
	return id, nil
}

func (d *fakeDispatcher) MessageText(_ context.Context, _ Target, messageID string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.texts[messageID], nil
}

func (d *fakeDispatcher) RenameChannel(_ context.Context, channelID, name, _ string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.renames = append(d.renames, name)
	for i := range d.channels {
		if d.channels[i].ID == channelID {
			d.channels[i].Name = name
		}
	}
	return nil
}

func (d *fakeDispatcher) SetChannelTopic(_ context.Context, channelID, topic, _ string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.topics = append(d.topics, topic)
	for i := range d.channels {
		if d.channels[i].ID == channelID {
			d.channels[i].Topic = topic
		}
	}
	return nil
}

func newTestEngine(store Store, dispatch Dispatcher, opts Options) *Engine {
	return New(store, dispatch, opts, zerolog.Nop())
}

var testChannel = ChannelInfo{ID: "C0GENERAL", Name: "general"}

func TestSendRecordsPrimaryCarrier(t *testing.T) {
	t.Parallel()
	store := newFakeStore()
	dispatch := newFakeDispatcher(DestChannel{ID: "D1", Name: "general"})
	eng := newTestEngine(store, dispatch, Options{})

	ev := &MessageEvent{
		EventMeta: EventMeta{Source: "slack", Timestamp: "1700000000.000100", Channel: testChannel},
		Author:    Author{DisplayName: "ari"},
		Body:      "hello",
		Files: []File{
			{Name: "pic.png", Path: "/tmp/pic.png", StoredAs: "pic.png", Extension: "png", SizeBytes: 1024, SourceID: "F001"},
		},
	}
	if err := eng.Process(context.Background(), ev); err != nil {
		t.Fatalf("Process: %v", err)
	}

	maps, _ := store.FindMessageMappings(context.Background(), Identify("C0GENERAL", "1700000000.000100"))
	if len(maps) != 2 {
		t.Fatalf("expected 2 mapping rows, got %d", len(maps))
	}
	primaries := 0
	for _, m := range maps {
		if m.IsPrimaryTextCarrier {
			primaries++
		}
		if m.DestinationThreadID != MainThread {
			t.Errorf("expected MainThread, got %q", m.DestinationThreadID)
		}
	}
	if primaries != 1 {
		t.Fatalf("expected exactly 1 primary carrier, got %d", primaries)
	}
	if dispatch.sent[0].card.Body != "hello" {
		t.Errorf("primary card sent out of order: first card body %q", dispatch.sent[0].card.Body)
	}
	if got, ok := store.files["F001"]; !ok || got != dispatch.sent[1].id {
		t.Errorf("file mapping F001 = %q, want %q", got, dispatch.sent[1].id)
	}
}

func TestSendCardOrderingAndSizeThreshold(t *testing.T) {
	t.Parallel()
	store := newFakeStore()
	dispatch := newFakeDispatcher(DestChannel{ID: "D1", Name: "general"})
	eng := newTestEngine(store, dispatch, Options{})

	ev := &MessageEvent{
		EventMeta: EventMeta{Source: "slack", Timestamp: "1700000001.000100", Channel: testChannel},
		Body:      "two files",
		Files: []File{
			{Name: "small.png", Path: "/tmp/small.png", StoredAs: "small.png", Extension: "png", SizeBytes: 100, RemoteRef: "https://files.example/small.png"},
			{Name: "huge.mov", Path: "/tmp/huge.mov", StoredAs: "huge.mov", Extension: "mov", SizeBytes: 9 << 20, RemoteRef: "https://files.example/huge.mov"},
		},
	}
	if err := eng.Process(context.Background(), ev); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(dispatch.sent) != 3 {
		t.Fatalf("expected 3 cards, got %d", len(dispatch.sent))
	}

	primary := dispatch.sent[0].card
	if !strings.Contains(primary.Footer, "2 Additional Attachments Below") {
		t.Errorf("primary footer missing attachment marker: %q", primary.Footer)
	}

	small := dispatch.sent[1].card
	if small.AttachPath != "/tmp/small.png" || !small.ImageAsAttachment {
		t.Errorf("small file should be an inline image attachment: %+v", small)
	}

	huge := dispatch.sent[2].card
	if huge.AttachPath != "" {
		t.Errorf("oversized file must not be attached: %+v", huge)
	}
	if !strings.Contains(huge.Body, "File Too Large to Send") || !strings.Contains(huge.Body, "https://files.example/huge.mov") {
		t.Errorf("oversized card missing fallback link: %q", huge.Body)
	}
	if huge.Title != "huge.mov" {
		t.Errorf("oversized card title = %q", huge.Title)
	}
}

func TestSendAppliesDefaults(t *testing.T) {
	t.Parallel()
	store := newFakeStore()
	dispatch := newFakeDispatcher(DestChannel{ID: "D1", Name: "general"})
	eng := newTestEngine(store, dispatch, Options{})

	ev := &MessageEvent{
		EventMeta: EventMeta{Source: "slack", Timestamp: "1700000002.000100", Channel: testChannel},
	}
	if err := eng.Process(context.Background(), ev); err != nil {
		t.Fatalf("Process: %v", err)
	}
	card := dispatch.sent[0].card
	if card.AuthorName != DefaultAuthorName {
		t.Errorf("author = %q, want %q", card.AuthorName, DefaultAuthorName)
	}
	if card.Body != DefaultBody {
		t.Errorf("body = %q, want %q", card.Body, DefaultBody)
	}
	if card.Color != DefaultAccentColor {
		t.Errorf("color = %#x, want %#x", card.Color, DefaultAccentColor)
	}
}

func TestSendCreatesMissingChannel(t *testing.T) {
	t.Parallel()
	store := newFakeStore()
	dispatch := newFakeDispatcher()
	eng := newTestEngine(store, dispatch, Options{})

	ev := &MessageEvent{
		EventMeta: EventMeta{Source: "slack", Timestamp: "1700000003.000100", Channel: testChannel},
		Body:      "first message ever",
	}
	if err := eng.Process(context.Background(), ev); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(dispatch.channels) != 1 || dispatch.channels[0].Name != "general" {
		t.Fatalf("destination channel not created: %+v", dispatch.channels)
	}
	dest, ok, _ := store.FindChannelMapping(context.Background(), "C0GENERAL")
	if !ok || dest != dispatch.channels[0].ID {
		t.Errorf("channel mapping = %q, %v", dest, ok)
	}
}

func TestSendReusesChannelByName(t *testing.T) {
	t.Parallel()
	store := newFakeStore()
	dispatch := newFakeDispatcher(
		DestChannel{ID: "D-first", Name: "general"},
		DestChannel{ID: "D-second", Name: "general"},
	)
	eng := newTestEngine(store, dispatch, Options{})

	ev := &MessageEvent{
		EventMeta: EventMeta{Source: "slack", Timestamp: "1700000004.000100", Channel: testChannel},
		Body:      "hi",
	}
	if err := eng.Process(context.Background(), ev); err != nil {
		t.Fatalf("Process: %v", err)
	}
	// First name match wins; no channel is created.
	if len(dispatch.channels) != 2 {
		t.Fatalf("channel was created despite a name match")
	}
	if dispatch.sent[0].target.ChannelID != "D-first" {
		t.Errorf("sent to %q, want D-first", dispatch.sent[0].target.ChannelID)
	}
}

func TestConcurrentSendsConvergeOnOneChannelMapping(t *testing.T) {
	t.Parallel()
	store := newFakeStore()
	dispatch := newFakeDispatcher()
	eng := newTestEngine(store, dispatch, Options{})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ev := &MessageEvent{
				EventMeta: EventMeta{
					Source:    "slack",
					Timestamp: fmt.Sprintf("1700000005.%06d", i),
					Channel:   testChannel,
				},
				Body: "racer",
			}
			if err := eng.Process(context.Background(), ev); err != nil {
				t.Errorf("Process: %v", err)
			}
		}(i)
	}
	wg.Wait()

	dest, ok, _ := store.FindChannelMapping(context.Background(), "C0GENERAL")
	if !ok {
		t.Fatal("no channel mapping recorded")
	}
	// Every mapping row must cite the converged channel, even for events that
	// lost the creation race.
	store.mu.Lock()
	defer store.mu.Unlock()
	for _, m := range store.messages {
		if m.DestinationChannelID != dest {
			t.Errorf("row %q cites channel %q, converged value is %q", m.DestinationMessageID, m.DestinationChannelID, dest)
		}
	}
}

func TestThreadReplyReusesMirroredRoot(t *testing.T) {
	t.Parallel()
	store := newFakeStore()
	dispatch := newFakeDispatcher(DestChannel{ID: "D1", Name: "general"})
	eng := newTestEngine(store, dispatch, Options{})

	root := &MessageEvent{
		EventMeta: EventMeta{Source: "slack", Timestamp: "1700000010.000100", Channel: testChannel},
		Body:      "thread root",
	}
	if err := eng.Process(context.Background(), root); err != nil {
		t.Fatalf("root: %v", err)
	}
	rootDestID := dispatch.sent[0].id

	reply := &MessageEvent{
		EventMeta: EventMeta{Source: "slack", Timestamp: "1700000011.000100", Channel: testChannel},
		Body:      "a reply",
		Thread:    &ThreadInfo{ID: "1700000010.000100"},
	}
	if err := eng.Process(context.Background(), reply); err != nil {
		t.Fatalf("reply: %v", err)
	}

	threadID, ok := dispatch.threads[rootDestID]
	if !ok {
		t.Fatal("thread was not rooted at the mirrored root message")
	}
	last := dispatch.sent[len(dispatch.sent)-1]
	if last.target.ThreadID != threadID {
		t.Errorf("reply targeted thread %q, want %q", last.target.ThreadID, threadID)
	}
}

func TestThreadReplyWithoutRootSynthesizesPlaceholder(t *testing.T) {
	t.Parallel()
	store := newFakeStore()
	dispatch := newFakeDispatcher(DestChannel{ID: "D1", Name: "general"})
	eng := newTestEngine(store, dispatch, Options{})

	reply := &MessageEvent{
		EventMeta: EventMeta{Source: "slack", Timestamp: "1700000021.000100", Channel: testChannel},
		Body:      "orphan reply",
		Thread:    &ThreadInfo{ID: "1700000020.000100"},
	}
	if err := eng.Process(context.Background(), reply); err != nil {
		t.Fatalf("Process: %v", err)
	}

	if len(dispatch.sent) != 2 {
		t.Fatalf("expected placeholder + reply, got %d cards", len(dispatch.sent))
	}
	placeholder := dispatch.sent[0].card
	if placeholder.Body != "[Thread Not Found: Some Messages May Be Missing]" {
		t.Errorf("placeholder body = %q", placeholder.Body)
	}
	if placeholder.AuthorName != "Unknown Thread Handler" {
		t.Errorf("placeholder author = %q", placeholder.AuthorName)
	}
	if placeholder.Color != 0xDD2020 {
		t.Errorf("placeholder color = %#x", placeholder.Color)
	}

	// The placeholder is mapped under the thread root's identity so later
	// events about the real root find it.
	maps, _ := store.FindMessageMappings(context.Background(), Identify("C0GENERAL", "1700000020.000100"))
	if len(maps) != 1 || !maps[0].IsPrimaryTextCarrier {
		t.Fatalf("placeholder mapping rows: %+v", maps)
	}
}

func TestThreadTitleFromRootText(t *testing.T) {
	t.Parallel()
	for _, tc := range []struct {
		name string
		text string
		want string
	}{
		{"short", "short title", "short title"},
		{"exactly fifty", strings.Repeat("a", 50), strings.Repeat("a", 50)},
		{"truncated", strings.Repeat("b", 80), strings.Repeat("b", 49) + "…"},
		{"multibyte", strings.Repeat("é", 80), strings.Repeat("é", 49) + "…"},
	} {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := truncateTitle(tc.text, 50); got != tc.want {
				t.Errorf("truncateTitle(%q) = %q, want %q", tc.text, got, tc.want)
			}
		})
	}
}

func TestEditTargetsOnlyPrimaryCarrier(t *testing.T) {
	t.Parallel()
	store := newFakeStore()
	dispatch := newFakeDispatcher(DestChannel{ID: "D1", Name: "general"})
	eng := newTestEngine(store, dispatch, Options{})

	send := &MessageEvent{
		EventMeta: EventMeta{Source: "slack", Timestamp: "1700000030.000100", Channel: testChannel},
		Body:      "original",
		Files:     []File{{Name: "a.png", Path: "/tmp/a.png", StoredAs: "a.png", Extension: "png", SizeBytes: 10}},
	}
	if err := eng.Process(context.Background(), send); err != nil {
		t.Fatalf("send: %v", err)
	}
	primaryID := dispatch.sent[0].id

	edit := &EditEvent{
		EventMeta:       EventMeta{Source: "slack", Timestamp: "1700000031.000100", Channel: testChannel},
		TargetTimestamp: "1700000030.000100",
		NewBody:         "revised",
	}
	if err := eng.Process(context.Background(), edit); err != nil {
		t.Fatalf("edit: %v", err)
	}

	if len(dispatch.edits) != 1 {
		t.Fatalf("expected 1 edit, got %d", len(dispatch.edits))
	}
	if dispatch.edits[0].messageID != primaryID {
		t.Errorf("edited %q, want primary %q", dispatch.edits[0].messageID, primaryID)
	}
	if dispatch.edits[0].card.Body != "revised" {
		t.Errorf("edit body = %q", dispatch.edits[0].card.Body)
	}

	// The edit must not add mapping rows.
	maps, _ := store.FindMessageMappings(context.Background(), Identify("C0GENERAL", "1700000030.000100"))
	if len(maps) != 2 {
		t.Errorf("edit changed mapping rows: %d", len(maps))
	}
}

func TestEditOfUnmirroredMessageIsNotAnError(t *testing.T) {
	t.Parallel()
	store := newFakeStore()
	dispatch := newFakeDispatcher(DestChannel{ID: "D1", Name: "general"})
	eng := newTestEngine(store, dispatch, Options{})

	edit := &EditEvent{
		EventMeta:       EventMeta{Source: "slack", Timestamp: "1700000041.000100", Channel: testChannel},
		TargetTimestamp: "1690000000.000100",
		NewBody:         "never seen",
	}
	if err := eng.Process(context.Background(), edit); err != nil {
		t.Fatalf("expected nil error for unmirrored edit target, got %v", err)
	}
	if len(dispatch.edits) != 0 {
		t.Errorf("dispatched %d edits for an unmirrored message", len(dispatch.edits))
	}
}

func TestEditAppendsEmbedsOnlyWhenPriorHadNone(t *testing.T) {
	t.Parallel()
	embed := &MessageEvent{
		EventMeta: EventMeta{Source: "slack", Timestamp: "1700000050.000100", Channel: testChannel},
		Title:     "Example",
		TitleURL:  "https://example.com",
		Body:      "preview",
	}
	for _, tc := range []struct {
		name      string
		prior     bool
		wantSends int
	}{
		{"first embeds appear", false, 2},
		{"embeds existed before", true, 1},
	} {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			store := newFakeStore()
			dispatch := newFakeDispatcher(DestChannel{ID: "D1", Name: "general"})
			eng := newTestEngine(store, dispatch, Options{})

			send := &MessageEvent{
				EventMeta: EventMeta{Source: "slack", Timestamp: "1700000050.000100", Channel: testChannel},
				Body:      "original",
			}
			if err := eng.Process(context.Background(), send); err != nil {
				t.Fatalf("send: %v", err)
			}

			edit := &EditEvent{
				EventMeta:       EventMeta{Source: "slack", Timestamp: "1700000051.000100", Channel: testChannel},
				TargetTimestamp: "1700000050.000100",
				NewBody:         "now with a link",
				Embeds:          []*MessageEvent{embed},
				PriorHadEmbeds:  tc.prior,
			}
			if err := eng.Process(context.Background(), edit); err != nil {
				t.Fatalf("edit: %v", err)
			}
			if len(dispatch.sent) != tc.wantSends {
				t.Errorf("sent %d cards, want %d", len(dispatch.sent), tc.wantSends)
			}
		})
	}
}

func TestDeleteRemovesAllMappedMessages(t *testing.T) {
	t.Parallel()
	store := newFakeStore()
	dispatch := newFakeDispatcher(DestChannel{ID: "D1", Name: "general"})
	eng := newTestEngine(store, dispatch, Options{})

	send := &MessageEvent{
		EventMeta: EventMeta{Source: "slack", Timestamp: "1700000060.000100", Channel: testChannel},
		Body:      "going away",
		Files: []File{
			{Name: "a.png", Path: "/tmp/a.png", StoredAs: "a.png", Extension: "png", SizeBytes: 10},
			{Name: "b.png", Path: "/tmp/b.png", StoredAs: "b.png", Extension: "png", SizeBytes: 10},
		},
	}
	if err := eng.Process(context.Background(), send); err != nil {
		t.Fatalf("send: %v", err)
	}
	// Simulate the second carrier being gone already.
	dispatch.failDelete[dispatch.sent[1].id] = true

	del := &DeleteEvent{
		EventMeta:        EventMeta{Source: "slack", Timestamp: "1700000061.000100", Channel: testChannel},
		DeletedTimestamp: "1700000060.000100",
	}
	if err := eng.Process(context.Background(), del); err != nil {
		t.Fatalf("delete: %v", err)
	}

	// Three rows mapped; one deletion fails; the other two still go through.
	if len(dispatch.deleted) != 2 {
		t.Fatalf("deleted %d messages, want 2 (one simulated failure)", len(dispatch.deleted))
	}
	for _, id := range []string{dispatch.sent[0].id, dispatch.sent[2].id} {
		found := false
		for _, deleted := range dispatch.deleted {
			if deleted == id {
				found = true
			}
		}
		if !found {
			t.Errorf("message %q was not deleted", id)
		}
	}
}

func TestPinTogglesAllMappedMessages(t *testing.T) {
	t.Parallel()
	store := newFakeStore()
	dispatch := newFakeDispatcher(DestChannel{ID: "D1", Name: "general"})
	eng := newTestEngine(store, dispatch, Options{})

	send := &MessageEvent{
		EventMeta: EventMeta{Source: "slack", Timestamp: "1700000070.000100", Channel: testChannel},
		Body:      "important",
		Files:     []File{{Name: "a.png", Path: "/tmp/a.png", StoredAs: "a.png", Extension: "png", SizeBytes: 10}},
	}
	if err := eng.Process(context.Background(), send); err != nil {
		t.Fatalf("send: %v", err)
	}

	pin := &PinEvent{
		EventMeta:       EventMeta{Source: "slack", Timestamp: "1700000071.000100", Channel: testChannel},
		Set:             true,
		Actor:           "ari",
		TargetTimestamp: "1700000070.000100",
	}
	if err := eng.Process(context.Background(), pin); err != nil {
		t.Fatalf("pin: %v", err)
	}
	if len(dispatch.pinned) != 2 {
		t.Errorf("pinned %d messages, want 2", len(dispatch.pinned))
	}

	pin.Set = false
	if err := eng.Process(context.Background(), pin); err != nil {
		t.Fatalf("unpin: %v", err)
	}
	if len(dispatch.unpinned) != 2 {
		t.Errorf("unpinned %d messages, want 2", len(dispatch.unpinned))
	}
}

func TestPinOfUnmirroredMessageIsSilent(t *testing.T) {
	t.Parallel()
	store := newFakeStore()
	dispatch := newFakeDispatcher(DestChannel{ID: "D1", Name: "general"})
	eng := newTestEngine(store, dispatch, Options{})

	pin := &PinEvent{
		EventMeta:       EventMeta{Source: "slack", Timestamp: "1700000081.000100", Channel: testChannel},
		Set:             true,
		TargetTimestamp: "1690000000.000100",
	}
	if err := eng.Process(context.Background(), pin); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if len(dispatch.pinned) != 0 {
		t.Errorf("pinned %d messages for an unmirrored target", len(dispatch.pinned))
	}
}

func TestChannelUpdateWritesOnlyChangedFields(t *testing.T) {
	t.Parallel()
	for _, tc := range []struct {
		name        string
		current     DestChannel
		update      ChannelInfo
		wantRenames int
		wantTopics  int
		wantTopic   string
	}{
		{
			name:        "both changed",
			current:     DestChannel{ID: "D1", Name: "general", Topic: "old"},
			update:      ChannelInfo{ID: "C0GENERAL", Name: "general-2", Topic: "news", Purpose: "the lounge"},
			wantRenames: 1,
			wantTopics:  1,
			wantTopic:   "news | the lounge",
		},
		{
			name:        "nothing changed",
			current:     DestChannel{ID: "D1", Name: "general", Topic: "news | the lounge"},
			update:      ChannelInfo{ID: "C0GENERAL", Name: "general", Topic: "news", Purpose: "the lounge"},
			wantRenames: 0,
			wantTopics:  0,
		},
		{
			name:        "empty purpose gets archive marker",
			current:     DestChannel{ID: "D1", Name: "general", Topic: ""},
			update:      ChannelInfo{ID: "C0GENERAL", Name: "general", Topic: "news"},
			wantRenames: 0,
			wantTopics:  1,
			wantTopic:   "news | Archive Channel",
		},
	} {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			store := newFakeStore()
			store.channels["C0GENERAL"] = tc.current.ID
			dispatch := newFakeDispatcher(tc.current)
			eng := newTestEngine(store, dispatch, Options{})

			ev := &ChannelUpdateEvent{
				EventMeta: EventMeta{Source: "slack", Timestamp: "1700000090.000100", Channel: tc.update},
			}
			if err := eng.Process(context.Background(), ev); err != nil {
				t.Fatalf("Process: %v", err)
			}
			if len(dispatch.renames) != tc.wantRenames {
				t.Errorf("renames = %d, want %d", len(dispatch.renames), tc.wantRenames)
			}
			if len(dispatch.topics) != tc.wantTopics {
				t.Errorf("topic writes = %d, want %d", len(dispatch.topics), tc.wantTopics)
			}
			if tc.wantTopics > 0 && dispatch.topics[0] != tc.wantTopic {
				t.Errorf("topic = %q, want %q", dispatch.topics[0], tc.wantTopic)
			}
		})
	}
}

func TestPinAfterSendPinsPrimary(t *testing.T) {
	t.Parallel()
	store := newFakeStore()
	dispatch := newFakeDispatcher(DestChannel{ID: "D1", Name: "general"})
	eng := newTestEngine(store, dispatch, Options{})

	ev := &MessageEvent{
		EventMeta:    EventMeta{Source: "slack", Timestamp: "1700000100.000100", Channel: testChannel},
		Body:         "renamed the channel: general",
		Italic:       true,
		PinAfterSend: true,
		PinReason:    "Channel Metadata Change",
	}
	if err := eng.Process(context.Background(), ev); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(dispatch.pinned) != 1 || dispatch.pinned[0] != dispatch.sent[0].id {
		t.Errorf("primary was not pinned: %v", dispatch.pinned)
	}
	if dispatch.sent[0].card.Body != "*renamed the channel: general*" {
		t.Errorf("italic body = %q", dispatch.sent[0].card.Body)
	}
}

func TestHandleEventAbsorbsPanics(t *testing.T) {
	t.Parallel()
	eng := newTestEngine(newFakeStore(), panicDispatcher{}, Options{})
	ev := &MessageEvent{
		EventMeta: EventMeta{Source: "slack", Timestamp: "1700000110.000100", Channel: testChannel},
		Body:      "boom",
	}
	// Must not panic.
	eng.HandleEvent(context.Background(), ev)
}

// panicDispatcher blows up on every call, standing in for destination client
// bugs that must never crash the relay loop.
type panicDispatcher struct{}

func (panicDispatcher) ListTextChannels(context.Context) ([]DestChannel, error) {
	panic("dispatcher bug")
}
func (panicDispatcher) CreateChannel(context.Context, string, string) (DestChannel, error) {
	panic("dispatcher bug")
}
func (panicDispatcher) ChannelInfo(context.Context, string) (DestChannel, error) {
	panic("dispatcher bug")
}
func (panicDispatcher) SendCard(context.Context, Target, *Card) (string, error) {
	panic("dispatcher bug")
}
func (panicDispatcher) EditCard(context.Context, Target, string, *Card) error {
	panic("dispatcher bug")
}
func (panicDispatcher) DeleteMessage(context.Context, Target, string) error {
	panic("dispatcher bug")
}
func (panicDispatcher) PinMessage(context.Context, Target, string, string) error {
	panic("dispatcher bug")
}
func (panicDispatcher) UnpinMessage(context.Context, Target, string) error {
	panic("dispatcher bug")
}
func (panicDispatcher) EnsureThread(context.Context, string, string, string) (string, error) {
	panic("dispatcher bug")
}
func (panicDispatcher) MessageText(context.Context, Target, string) (string, error) {
	panic("dispatcher bug")
}
func (panicDispatcher) RenameChannel(context.Context, string, string, string) error {
	panic("dispatcher bug")
}
func (panicDispatcher) SetChannelTopic(context.Context, string, string, string) error {
	panic("dispatcher bug")
}
