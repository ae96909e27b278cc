package validator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Stepgraph/internal/domain"
	"github.com/shaiso/Stepgraph/internal/engine"
	"github.com/shaiso/Stepgraph/internal/mq"
	"github.com/shaiso/Stepgraph/internal/repo"
)

// --- fakes ---

type fakeStore struct {
	mu        sync.Mutex
	workflows map[string]*domain.WorkflowRecord
	versions  []domain.WorkflowVersion
	failWith  error
}

func newFakeStore(names ...string) *fakeStore {
	s := &fakeStore{workflows: make(map[string]*domain.WorkflowRecord)}
	for _, name := range names {
		s.workflows[name] = &domain.WorkflowRecord{ID: uuid.New(), Name: name, CreatedAt: time.Now()}
	}
	return s
}

func (s *fakeStore) GetByName(_ context.Context, name string) (*domain.WorkflowRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return nil, s.failWith
	}
	wf, ok := s.workflows[name]
	if !ok {
		return nil, repo.ErrNotFound
	}
	return wf, nil
}

func (s *fakeStore) CreateVersion(_ context.Context, v *domain.WorkflowVersion) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := 1
	for _, existing := range s.versions {
		if existing.WorkflowID == v.WorkflowID && existing.Version >= next {
			next = existing.Version + 1
		}
	}
	v.Version = next
	v.CreatedAt = time.Now()
	s.versions = append(s.versions, *v)
	return nil
}

func (s *fakeStore) GetLatestVersion(_ context.Context, workflowID uuid.UUID) (*domain.WorkflowVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest *domain.WorkflowVersion
	for i := range s.versions {
		if s.versions[i].WorkflowID == workflowID && (latest == nil || s.versions[i].Version > latest.Version) {
			v := s.versions[i]
			latest = &v
		}
	}
	if latest == nil {
		return nil, repo.ErrNotFound
	}
	return latest, nil
}

func (s *fakeStore) ListLatestVersions(_ context.Context) ([]domain.WorkflowVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	latest := make(map[uuid.UUID]domain.WorkflowVersion)
	for _, v := range s.versions {
		if cur, ok := latest[v.WorkflowID]; !ok || v.Version > cur.Version {
			latest[v.WorkflowID] = v
		}
	}
	out := make([]domain.WorkflowVersion, 0, len(latest))
	for _, v := range latest {
		out = append(out, v)
	}
	return out, nil
}

type fakePublisher struct {
	mu        sync.Mutex
	validated []mq.ValidatedPayload
	rejected  []mq.RejectedPayload
	failWith  error
}

func (p *fakePublisher) PublishValidated(_ context.Context, payload mq.ValidatedPayload) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failWith != nil {
		return p.failWith
	}
	p.validated = append(p.validated, payload)
	return nil
}

func (p *fakePublisher) PublishRejected(_ context.Context, payload mq.RejectedPayload) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failWith != nil {
		return p.failWith
	}
	p.rejected = append(p.rejected, payload)
	return nil
}

// --- helpers ---

func readTestdata(t *testing.T, name string) string {
	t.Helper()
	data, err := os.ReadFile("../engine/testdata/" + name)
	if err != nil {
		t.Fatalf("read testdata: %v", err)
	}
	return string(data)
}

func newTestValidator(t *testing.T, store Store, pub Publisher, opts engine.Options) *Validator {
	t.Helper()
	v, err := New(Config{
		Store:     store,
		Publisher: pub,
		Options:   opts,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("new validator: %v", err)
	}
	return v
}

func submitted(payload mq.SubmittedPayload) *mq.Delivery {
	return &mq.Delivery{Message: *mq.NewMessage(mq.MessageTypeSubmitted, payload)}
}

// --- tests ---

func TestCheck(t *testing.T) {
	src := readTestdata(t, "circuits.yaml")

	report := Check([]byte(src), engine.DefaultOptions(), "test")
	if !report.Valid {
		t.Fatalf("expected valid report, got %v", report.Err)
	}
	if report.StepCount != 5 || len(report.Order) != 5 {
		t.Errorf("unexpected report %+v", report)
	}
	if len(report.Levels) != 3 {
		t.Errorf("expected 3 levels, got %v", report.Levels)
	}
	if report.Verdict != domain.VerdictValid {
		t.Errorf("expected verdict VALID, got %s", report.Verdict)
	}

	parse := Check([]byte("- nope"), engine.DefaultOptions(), "test")
	if parse.Valid || parse.ParseError == nil {
		t.Errorf("expected parse error, got %+v", parse)
	}

	invalid := Check([]byte(strings.Replace(src, "passed: [circuit-set]", "passed: [concatenate]", 1)), engine.DefaultOptions(), "test")
	if invalid.Valid || len(invalid.Violations) == 0 {
		t.Errorf("expected violations, got %+v", invalid)
	}
	if !invalid.Verdict.IsTerminal() || invalid.Verdict != domain.VerdictRejected {
		t.Errorf("expected verdict REJECTED, got %s", invalid.Verdict)
	}
}

func TestHandleSubmitted_StoresValidVersion(t *testing.T) {
	store := newFakeStore("ansatz")
	pub := &fakePublisher{}
	v := newTestValidator(t, store, pub, engine.DefaultOptions())

	src := readTestdata(t, "ansatz.yaml")
	for i := 0; i < 2; i++ {
		if err := v.HandleSubmitted(context.Background(), submitted(mq.SubmittedPayload{Workflow: "ansatz", Source: src})); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	if len(store.versions) != 2 || store.versions[1].Version != 2 {
		t.Fatalf("expected 2 stored versions, got %+v", store.versions)
	}
	if got := store.versions[0].Order; len(got) != 2 || got[0] != "get-initial-parameters" {
		t.Errorf("unexpected stored order %v", got)
	}

	if len(pub.validated) != 2 || len(pub.rejected) != 0 {
		t.Fatalf("unexpected events: %d validated, %d rejected", len(pub.validated), len(pub.rejected))
	}
	if pub.validated[1].Version != 2 || pub.validated[1].WorkflowID != store.workflows["ansatz"].ID {
		t.Errorf("unexpected validated payload %+v", pub.validated[1])
	}
}

func TestHandleSubmitted_CheckOnly(t *testing.T) {
	store := newFakeStore()
	pub := &fakePublisher{}
	v := newTestValidator(t, store, pub, engine.DefaultOptions())

	err := v.HandleSubmitted(context.Background(), submitted(mq.SubmittedPayload{Source: readTestdata(t, "ansatz.yaml")}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(store.versions) != 0 {
		t.Error("document without workflow name must not be stored")
	}
	if len(pub.validated) != 1 || pub.validated[0].Workflow != "ansatz-params" {
		t.Errorf("unexpected events %+v", pub.validated)
	}
}

func TestHandleSubmitted_Rejected(t *testing.T) {
	src := strings.Replace(readTestdata(t, "ansatz.yaml"), "    passed: [get-initial-parameters]\n", "", 1)

	tests := []struct {
		name     string
		payload  mq.SubmittedPayload
		rejected bool
		kind     engine.ViolationKind
	}{
		{"strict policy", mq.SubmittedPayload{Workflow: "ansatz", Source: src}, true, engine.KindUnresolvedReference},
		{"implicit policy", mq.SubmittedPayload{Workflow: "ansatz", Source: src, Policy: "implicit"}, false, ""},
		{"unknown policy", mq.SubmittedPayload{Workflow: "ansatz", Source: src, Policy: "loose"}, true, ""},
		{"parse error", mq.SubmittedPayload{Workflow: "ansatz", Source: "steps: ["}, true, ""},
		{"unregistered workflow", mq.SubmittedPayload{Workflow: "ghost", Source: readTestdata(t, "ansatz.yaml")}, true, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFakeStore("ansatz")
			pub := &fakePublisher{}
			v := newTestValidator(t, store, pub, engine.DefaultOptions())

			if err := v.HandleSubmitted(context.Background(), submitted(tt.payload)); err != nil {
				t.Fatalf("rejection must be acked, got error: %v", err)
			}

			if tt.rejected != (len(pub.rejected) == 1) {
				t.Fatalf("expected rejected=%v, got %+v", tt.rejected, pub.rejected)
			}
			if tt.rejected && len(store.versions) != 0 {
				t.Error("rejected document must not be stored")
			}
			if tt.kind != "" {
				found := false
				for _, viol := range pub.rejected[0].Violations {
					if viol.Kind == tt.kind {
						found = true
					}
				}
				if !found {
					t.Errorf("expected %s violation, got %+v", tt.kind, pub.rejected[0].Violations)
				}
			}
		})
	}
}

func TestHandleSubmitted_InfrastructureErrors(t *testing.T) {
	src := readTestdata(t, "ansatz.yaml")

	t.Run("store failure", func(t *testing.T) {
		store := newFakeStore("ansatz")
		store.failWith = errors.New("connection refused")
		v := newTestValidator(t, store, &fakePublisher{}, engine.DefaultOptions())

		err := v.HandleSubmitted(context.Background(), submitted(mq.SubmittedPayload{Workflow: "ansatz", Source: src}))
		if err == nil || mq.IsRejected(err) {
			t.Errorf("expected retryable error, got %v", err)
		}
	})

	t.Run("publish failure", func(t *testing.T) {
		pub := &fakePublisher{failWith: mq.ErrNoChannel}
		v := newTestValidator(t, newFakeStore(), pub, engine.DefaultOptions())

		err := v.HandleSubmitted(context.Background(), submitted(mq.SubmittedPayload{Source: src}))
		if !errors.Is(err, mq.ErrNoChannel) {
			t.Errorf("expected ErrNoChannel, got %v", err)
		}
	})

	t.Run("malformed payload", func(t *testing.T) {
		v := newTestValidator(t, newFakeStore(), &fakePublisher{}, engine.DefaultOptions())

		d := &mq.Delivery{Message: mq.Message{ID: "1", Type: mq.MessageTypeSubmitted, Payload: []int{1, 2}}}
		if err := v.HandleSubmitted(context.Background(), d); !mq.IsRejected(err) {
			t.Errorf("expected rejected error, got %v", err)
		}
	})
}

func TestHandleSubmitted_RedeliveryAfterPublishFailure(t *testing.T) {
	store := newFakeStore("ansatz")
	pub := &fakePublisher{failWith: errors.New("broker hiccup")}
	v := newTestValidator(t, store, pub, engine.DefaultOptions())

	d := submitted(mq.SubmittedPayload{Workflow: "ansatz", Source: readTestdata(t, "ansatz.yaml")})
	if err := v.HandleSubmitted(context.Background(), d); err == nil {
		t.Fatal("expected publish error on first delivery")
	}

	pub.failWith = nil
	d.Redelivered = true
	if err := v.HandleSubmitted(context.Background(), d); err != nil {
		t.Fatalf("unexpected error on redelivery: %v", err)
	}

	if len(store.versions) != 1 {
		t.Fatalf("expected 1 stored version, got %d", len(store.versions))
	}
	if len(pub.validated) != 1 || pub.validated[0].Version != 1 {
		t.Errorf("expected validated event for version 1, got %+v", pub.validated)
	}
}

func TestHandleSubmitted_RedeliveryWithNewSource(t *testing.T) {
	store := newFakeStore("ansatz")
	v := newTestValidator(t, store, &fakePublisher{}, engine.DefaultOptions())

	src := readTestdata(t, "ansatz.yaml")
	if err := v.HandleSubmitted(context.Background(), submitted(mq.SubmittedPayload{Workflow: "ansatz", Source: src})); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	d := submitted(mq.SubmittedPayload{Workflow: "ansatz", Source: src + "\n# changed\n"})
	d.Redelivered = true
	if err := v.HandleSubmitted(context.Background(), d); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(store.versions) != 2 {
		t.Errorf("different source must be stored as a new version, got %d versions", len(store.versions))
	}
}

func TestAudit(t *testing.T) {
	src := readTestdata(t, "ansatz.yaml")
	noPassed := strings.Replace(src, "    passed: [get-initial-parameters]\n", "", 1)

	store := newFakeStore("strict", "loose")
	pub := &fakePublisher{}

	// Версии сохранены под implicit-политикой
	implicit := newTestValidator(t, store, pub, engine.Options{Policy: engine.PolicyImplicit})
	ctx := context.Background()
	if err := implicit.HandleSubmitted(ctx, submitted(mq.SubmittedPayload{Workflow: "strict", Source: src})); err != nil {
		t.Fatal(err)
	}
	if err := implicit.HandleSubmitted(ctx, submitted(mq.SubmittedPayload{Workflow: "loose", Source: noPassed})); err != nil {
		t.Fatal(err)
	}

	// Аудит под strict отклоняет версию без passed
	pub.rejected = nil
	strict := newTestValidator(t, store, pub, engine.DefaultOptions())

	rejected, err := strict.Audit(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rejected != 1 || len(pub.rejected) != 1 {
		t.Fatalf("expected 1 rejected version, got %d (%+v)", rejected, pub.rejected)
	}
	if pub.rejected[0].WorkflowID != store.workflows["loose"].ID || pub.rejected[0].Version != 1 {
		t.Errorf("unexpected rejected payload %+v", pub.rejected[0])
	}
}

func TestNew_InvalidCron(t *testing.T) {
	if _, err := New(Config{AuditCron: "every tuesday"}); err == nil {
		t.Error("expected error for invalid cron")
	}
}

func TestStartStop_AuditOnly(t *testing.T) {
	v, err := New(Config{
		Store:     newFakeStore(),
		AuditCron: "@every 1h",
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := v.Start(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	v.Stop()
}
