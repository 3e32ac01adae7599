package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"testing"

	"gorm.io/gorm"

	"github.com/tbourn/go-newsletter/internal/domain"
	"github.com/tbourn/go-newsletter/internal/repo"
)

// ----- fakes & helpers -----

type fakeSender struct {
	mu   sync.Mutex
	sent []string
	fail func(to string) error
}

func (f *fakeSender) Send(_ context.Context, to domain.SubscriberEmail, _, _, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		if err := f.fail(to.String()); err != nil {
			return err
		}
	}
	f.sent = append(f.sent, to.String())
	return nil
}

type failingQueue struct{ err error }

func (q failingQueue) EnqueueAll(context.Context, *gorm.DB, string, []string) error { return q.err }

func addSubscriber(t *testing.T, db *gorm.DB, email string, confirmed bool) {
	t.Helper()
	status := domain.SubscriberPendingConfirmation
	if confirmed {
		status = domain.SubscriberConfirmed
	}
	if _, err := repo.CreateSubscriber(context.Background(), db, email, "Reader", status); err != nil {
		t.Fatalf("CreateSubscriber(%s): %v", email, err)
	}
}

func newQueuedPublisher(db *gorm.DB) (*IssuePublisher, *repo.DeliveryQueue) {
	q := repo.NewDeliveryQueue(db, 0)
	return &IssuePublisher{
		DB:          db,
		Mode:        PublishQueued,
		Idempotency: &IdempotencyStore{DB: db},
		Queue:       q,
	}, q
}

var sampleIssue = IssueContent{
	Title:       "Weekly digest",
	HTMLContent: "<p>Hello</p>",
	TextContent: "Hello",
}

func countIssues(t *testing.T, db *gorm.DB) int64 {
	t.Helper()
	n, err := repo.CountIssues(context.Background(), db)
	if err != nil {
		t.Fatalf("CountIssues: %v", err)
	}
	return n
}

func pendingTasks(t *testing.T, q *repo.DeliveryQueue) int64 {
	t.Helper()
	n, err := q.Pending(context.Background())
	if err != nil {
		t.Fatalf("Pending: %v", err)
	}
	return n
}

// ----- queued mode -----

func TestSubmit_Queued_EnqueuesAndReplays(t *testing.T) {
	db := newServiceDB(t)
	addSubscriber(t, db, "a@example.com", true)
	addSubscriber(t, db, "b@example.com", true)
	addSubscriber(t, db, "c@example.com", true)
	addSubscriber(t, db, "pending@example.com", false)

	p, q := newQueuedPublisher(db)
	ctx := context.Background()

	first, err := p.Submit(ctx, "U", "abc", sampleIssue)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if first.StatusCode != 200 {
		t.Fatalf("status = %d", first.StatusCode)
	}
	if len(first.Headers) != 1 || first.Headers[0].Name != "Content-Type" ||
		string(first.Headers[0].Value) != "application/json; charset=utf-8" {
		t.Fatalf("unexpected headers %+v", first.Headers)
	}
	var body acceptedBody
	if err := json.Unmarshal(first.Body, &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Status != "accepted" || body.Recipients != 3 || body.IssueID == "" {
		t.Fatalf("unexpected body %+v", body)
	}
	if n := pendingTasks(t, q); n != 3 {
		t.Fatalf("expected 3 delivery tasks, got %d", n)
	}

	second, err := p.Submit(ctx, "U", "abc", sampleIssue)
	if err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	if second.StatusCode != first.StatusCode ||
		!reflect.DeepEqual(second.Headers, first.Headers) ||
		!bytes.Equal(second.Body, first.Body) {
		t.Fatalf("replay differs:\n got %+v\nwant %+v", second, first)
	}
	if n := countIssues(t, db); n != 1 {
		t.Fatalf("expected 1 issue row, got %d", n)
	}
	if n := pendingTasks(t, q); n != 3 {
		t.Fatalf("replay must not enqueue again, got %d tasks", n)
	}
}

func TestSubmit_Queued_ReplayIgnoresNewContent(t *testing.T) {
	db := newServiceDB(t)
	addSubscriber(t, db, "a@example.com", true)
	p, _ := newQueuedPublisher(db)
	ctx := context.Background()

	first, err := p.Submit(ctx, "U", "k1", sampleIssue)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	other := IssueContent{Title: "Different", HTMLContent: "<p>x</p>", TextContent: "x"}
	second, err := p.Submit(ctx, "U", "k1", other)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if !bytes.Equal(first.Body, second.Body) {
		t.Fatalf("same key must replay the first response")
	}
	if n := countIssues(t, db); n != 1 {
		t.Fatalf("expected 1 issue, got %d", n)
	}
}

func TestSubmit_Queued_DistinctUsersDoNotShareKeys(t *testing.T) {
	db := newServiceDB(t)
	addSubscriber(t, db, "a@example.com", true)
	p, q := newQueuedPublisher(db)
	ctx := context.Background()

	if _, err := p.Submit(ctx, "U1", "abc", sampleIssue); err != nil {
		t.Fatalf("U1: %v", err)
	}
	if _, err := p.Submit(ctx, "U2", "abc", sampleIssue); err != nil {
		t.Fatalf("U2: %v", err)
	}
	if n := countIssues(t, db); n != 2 {
		t.Fatalf("expected 2 issues, got %d", n)
	}
	if n := pendingTasks(t, q); n != 2 {
		t.Fatalf("expected 2 tasks, got %d", n)
	}
}

func TestSubmit_Queued_NoConfirmedSubscribers(t *testing.T) {
	db := newServiceDB(t)
	addSubscriber(t, db, "pending@example.com", false)
	p, q := newQueuedPublisher(db)

	resp, err := p.Submit(context.Background(), "U", "abc", sampleIssue)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if !strings.Contains(string(resp.Body), `"recipients":0`) {
		t.Fatalf("unexpected body %s", resp.Body)
	}
	if countIssues(t, db) != 1 || pendingTasks(t, q) != 0 {
		t.Fatalf("expected issue stored with no tasks")
	}
}

func TestSubmit_Queued_SubscribersAddedLaterAreNotIncluded(t *testing.T) {
	db := newServiceDB(t)
	addSubscriber(t, db, "a@example.com", true)
	p, q := newQueuedPublisher(db)
	ctx := context.Background()

	if _, err := p.Submit(ctx, "U", "abc", sampleIssue); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	addSubscriber(t, db, "late@example.com", true)
	if _, err := p.Submit(ctx, "U", "abc", sampleIssue); err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	if n := pendingTasks(t, q); n != 1 {
		t.Fatalf("expected the original snapshot of 1 task, got %d", n)
	}
}

func TestSubmit_Queued_InvalidKey(t *testing.T) {
	db := newServiceDB(t)
	p, _ := newQueuedPublisher(db)
	ctx := context.Background()

	for _, key := range []string{"", strings.Repeat("k", domain.MaxIdempotencyKeyLen)} {
		if _, err := p.Submit(ctx, "U", key, sampleIssue); !errors.Is(err, ErrInvalidIdempotencyKey) {
			t.Fatalf("key %q: expected ErrInvalidIdempotencyKey, got %v", key, err)
		}
	}
	if n := countIssues(t, db); n != 0 {
		t.Fatalf("nothing must be stored, got %d issues", n)
	}
}

func TestSubmit_InvalidIssue(t *testing.T) {
	db := newServiceDB(t)
	p, _ := newQueuedPublisher(db)
	ctx := context.Background()

	cases := []IssueContent{
		{Title: "  ", HTMLContent: "<p>x</p>", TextContent: "x"},
		{Title: "t", HTMLContent: "", TextContent: "x"},
		{Title: "t", HTMLContent: "<p>x</p>", TextContent: " \n"},
	}
	for i, c := range cases {
		if _, err := p.Submit(ctx, "U", fmt.Sprintf("k%d", i), c); !errors.Is(err, ErrInvalidIssue) {
			t.Fatalf("case %d: expected ErrInvalidIssue, got %v", i, err)
		}
	}
}

func TestSubmit_Queued_EnqueueFailureRollsBackEverything(t *testing.T) {
	db := newServiceDB(t)
	addSubscriber(t, db, "a@example.com", true)
	p, q := newQueuedPublisher(db)
	boom := errors.New("queue unavailable")
	p.Queue = failingQueue{err: boom}
	ctx := context.Background()

	if _, err := p.Submit(ctx, "U", "abc", sampleIssue); !errors.Is(err, boom) {
		t.Fatalf("expected enqueue error, got %v", err)
	}
	if n := countIssues(t, db); n != 0 {
		t.Fatalf("issue must be rolled back, got %d", n)
	}
	if _, err := repo.GetIdempotency(ctx, db, "U", "abc"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("idempotency claim must be rolled back, got %v", err)
	}

	// The key is usable again once the queue recovers.
	p.Queue = q
	if _, err := p.Submit(ctx, "U", "abc", sampleIssue); err != nil {
		t.Fatalf("retry after failure: %v", err)
	}
	if countIssues(t, db) != 1 || pendingTasks(t, q) != 1 {
		t.Fatalf("expected 1 issue and 1 task after retry")
	}
}

func TestSubmit_Queued_ConcurrentSameKey(t *testing.T) {
	db := newServiceDB(t)
	addSubscriber(t, db, "a@example.com", true)
	addSubscriber(t, db, "b@example.com", true)
	p, q := newQueuedPublisher(db)

	const n = 8
	var wg sync.WaitGroup
	bodies := make([][]byte, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, err := p.Submit(context.Background(), "U", "same-key", sampleIssue)
			errs[i] = err
			if resp != nil {
				bodies[i] = resp.Body
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("request %d: %v", i, errs[i])
		}
		if !bytes.Equal(bodies[i], bodies[0]) {
			t.Fatalf("request %d got a different response", i)
		}
	}
	if c := countIssues(t, db); c != 1 {
		t.Fatalf("expected 1 issue, got %d", c)
	}
	if c := pendingTasks(t, q); c != 2 {
		t.Fatalf("expected 2 tasks, got %d", c)
	}
}

func TestSubmit_NormalizesTitle(t *testing.T) {
	db := newServiceDB(t)
	p, _ := newQueuedPublisher(db)

	// "e" followed by a combining acute accent composes to "é".
	resp, err := p.Submit(context.Background(), "U", "abc", IssueContent{
		Title:       "  Cafe\u0301 news ",
		HTMLContent: "<p>x</p>",
		TextContent: "x",
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	var body acceptedBody
	_ = json.Unmarshal(resp.Body, &body)
	issue, err := repo.GetIssue(context.Background(), db, body.IssueID)
	if err != nil {
		t.Fatalf("GetIssue: %v", err)
	}
	if issue.Title != "Caf\u00e9 news" {
		t.Fatalf("title = %q", issue.Title)
	}
}

// ----- direct mode -----

func directPublisher(emails []string, s *fakeSender) *IssuePublisher {
	return &IssuePublisher{
		Mode:   PublishDirect,
		Sender: s,
		Subscribers: SubscriberDirectoryFunc(func(context.Context, *gorm.DB) ([]string, error) {
			return emails, nil
		}),
	}
}

func TestSubmit_Direct_SkipsInvalidAddresses(t *testing.T) {
	s := &fakeSender{}
	p := directPublisher([]string{"a@example.com", "not-an-email", "b@example.com"}, s)

	resp, err := p.Submit(context.Background(), "U", "", sampleIssue)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	var body sentBody
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body != (sentBody{Status: "sent", Delivered: 2, Skipped: 1}) {
		t.Fatalf("unexpected body %+v", body)
	}
	if !reflect.DeepEqual(s.sent, []string{"a@example.com", "b@example.com"}) {
		t.Fatalf("sent = %v", s.sent)
	}
}

func TestSubmit_Direct_StopsAtFirstFailure(t *testing.T) {
	boom := errors.New("550 rejected")
	s := &fakeSender{fail: func(to string) error {
		if to == "b@example.com" {
			return boom
		}
		return nil
	}}
	p := directPublisher([]string{"a@example.com", "b@example.com", "c@example.com"}, s)

	_, err := p.Submit(context.Background(), "U", "", sampleIssue)
	if !errors.Is(err, ErrDeliveryFailed) || !errors.Is(err, boom) {
		t.Fatalf("expected wrapped delivery failure, got %v", err)
	}
	if !strings.Contains(err.Error(), "b@example.com") {
		t.Fatalf("error should name the recipient: %v", err)
	}
	if !reflect.DeepEqual(s.sent, []string{"a@example.com"}) {
		t.Fatalf("sent = %v", s.sent)
	}
}

func TestSubmit_Direct_NoSender(t *testing.T) {
	p := &IssuePublisher{Mode: PublishDirect}
	if _, err := p.Submit(context.Background(), "U", "", sampleIssue); !errors.Is(err, ErrDeliveryFailed) {
		t.Fatalf("expected ErrDeliveryFailed, got %v", err)
	}
}

func TestParsePublishMode(t *testing.T) {
	cases := []struct {
		in   string
		want PublishMode
		ok   bool
	}{
		{"", PublishQueued, true},
		{"queued", PublishQueued, true},
		{" Direct ", PublishDirect, true},
		{"batch", "", false},
	}
	for _, c := range cases {
		got, err := ParsePublishMode(c.in)
		if (err == nil) != c.ok || got != c.want {
			t.Errorf("ParsePublishMode(%q) = %q, %v", c.in, got, err)
		}
	}
}
