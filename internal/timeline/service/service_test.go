package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"dsrengine/internal/timeline/models"
	"dsrengine/internal/timeline/store"
	"dsrengine/pkg/domain"
	audit "dsrengine/pkg/platform/audit"
	"dsrengine/pkg/platform/audit/publisher"
	auditmemory "dsrengine/pkg/platform/audit/store/memory"
	"dsrengine/pkg/requestcontext"
)

// flakyRecorder fails durable writes while failing is set.
type flakyRecorder struct {
	audit.Recorder
	failing bool
}

func (r *flakyRecorder) Record(ctx context.Context, e audit.Entry) (audit.Event, error) {
	if r.failing {
		return audit.Event{}, errors.New("audit store unavailable")
	}
	return r.Recorder.Record(ctx, e)
}

type recordingNotifier struct {
	notified []*models.Escalation
}

func (n *recordingNotifier) NotifyEscalation(_ context.Context, e *models.Escalation) error {
	n.notified = append(n.notified, e)
	return nil
}

type TimelineSuite struct {
	suite.Suite
	store      *store.InMemory
	auditStore *auditmemory.InMemoryStore
	publisher  *publisher.Publisher
	recorder   *flakyRecorder
	notifier   *recordingNotifier
	service    *Service
	created    time.Time
	requestID  domain.RequestID
}

func TestTimelineSuite(t *testing.T) {
	suite.Run(t, new(TimelineSuite))
}

func (s *TimelineSuite) SetupTest() {
	s.store = store.NewInMemory()
	s.auditStore = auditmemory.NewInMemoryStore()
	s.publisher = publisher.NewPublisher(s.auditStore)
	s.recorder = &flakyRecorder{Recorder: s.publisher}
	s.notifier = &recordingNotifier{}
	svc, err := New(s.store, s.recorder, WithNotifier(s.notifier))
	s.Require().NoError(err)
	s.service = svc
	s.created = time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	s.requestID = domain.NewRequestID()
	s.Require().NoError(s.service.Register(s.ctxAt(0), s.requestID, s.created, s.created.Add(30*24*time.Hour)))
}

func (s *TimelineSuite) TearDownTest() {
	s.publisher.Close()
}

func (s *TimelineSuite) ctxAt(offset time.Duration) context.Context {
	return requestcontext.WithTime(context.Background(), s.created.Add(offset))
}

func days(n float64) time.Duration {
	return time.Duration(n * float64(24*time.Hour))
}

func (s *TimelineSuite) warningEvents() []audit.Event {
	events, err := s.auditStore.ListByRequest(context.Background(), s.requestID.String())
	s.Require().NoError(err)
	var out []audit.Event
	for _, e := range events {
		if e.Action == string(audit.EventEscalationRaised) && e.Payload["reason"] == string(models.ReasonDeadlineApproaching) {
			out = append(out, e)
		}
	}
	return out
}

func (s *TimelineSuite) TestNew() {
	s.Run("requires a store", func() {
		_, err := New(nil, s.publisher)
		s.Require().Error(err)
	})
	s.Run("requires a recorder", func() {
		_, err := New(s.store, nil)
		s.Require().Error(err)
	})
}

func (s *TimelineSuite) TestRegister() {
	s.Run("registering twice is a no-op", func() {
		err := s.service.Register(s.ctxAt(0), s.requestID, s.created, s.created.Add(days(45)))
		s.Require().NoError(err)

		t, err := s.service.Get(s.ctxAt(0), s.requestID)
		s.Require().NoError(err)
		s.Equal(s.created.Add(days(30)), t.Deadline, "original deadline is kept")
	})

	s.Run("deadline must be after creation", func() {
		err := s.service.Register(s.ctxAt(0), domain.NewRequestID(), s.created, s.created)
		s.Require().Error(err)
	})
}

// Warnings fire at 10, 5 and 2 days remaining, which for a 30 day deadline is
// T+20, T+25 and T+28, and never twice.
func (s *TimelineSuite) TestWarnIfDue_Thresholds() {
	steps := []struct {
		at   time.Duration
		want []int
	}{
		{days(19.99), nil},
		{days(20), []int{10}},
		{days(21), nil},
		{days(24.9), nil},
		{days(25), []int{5}},
		{days(28), []int{2}},
		{days(29.9), nil},
		{days(30), nil},
	}
	for _, step := range steps {
		fired, err := s.service.WarnIfDue(s.ctxAt(step.at), s.requestID)
		s.Require().NoError(err)
		s.Equal(step.want, fired, "at T+%v", step.at)
	}

	events := s.warningEvents()
	s.Require().Len(events, 3)
	s.Equal(s.created.Add(days(20)), events[0].Timestamp)
	s.Equal(s.created.Add(days(25)), events[1].Timestamp)
	s.Equal(s.created.Add(days(28)), events[2].Timestamp)
	for _, e := range events {
		s.Equal(audit.SeverityWarning, e.Severity)
		s.Equal(audit.CategoryCompliance, e.Category)
	}
	s.EqualValues(10, events[0].Payload["days_remaining"])

	escalations, err := s.service.Escalations(s.ctxAt(days(30)), s.requestID)
	s.Require().NoError(err)
	s.Empty(escalations, "warnings are not operator hand-offs")
	s.Empty(s.notifier.notified)
}

func (s *TimelineSuite) TestWarnIfDue_CatchesUpMissedThresholds() {
	fired, err := s.service.WarnIfDue(s.ctxAt(days(29)), s.requestID)
	s.Require().NoError(err)
	s.Equal([]int{10, 5, 2}, fired)
}

func (s *TimelineSuite) TestWarnIfDue_NotMarkedWhenAuditFails() {
	s.recorder.failing = true
	_, err := s.service.WarnIfDue(s.ctxAt(days(20)), s.requestID)
	s.Require().Error(err)

	s.recorder.failing = false
	fired, err := s.service.WarnIfDue(s.ctxAt(days(20)), s.requestID)
	s.Require().NoError(err)
	s.Equal([]int{10}, fired)
}

func (s *TimelineSuite) TestSweep_OverdueExactlyAtDeadline() {
	result, err := s.service.Sweep(s.ctxAt(days(30) - time.Second))
	s.Require().NoError(err)
	s.Empty(result.Overdue)

	result, err = s.service.Sweep(s.ctxAt(days(30)))
	s.Require().NoError(err)
	s.Equal([]domain.RequestID{s.requestID}, result.Overdue)
}

func (s *TimelineSuite) TestClose() {
	s.Require().NoError(s.service.Close(s.ctxAt(days(3)), s.requestID))

	result, err := s.service.Sweep(s.ctxAt(days(40)))
	s.Require().NoError(err)
	s.Empty(result.Overdue)

	fired, err := s.service.WarnIfDue(s.ctxAt(days(25)), s.requestID)
	s.Require().NoError(err)
	s.Empty(fired)

	s.Require().NoError(s.service.Close(s.ctxAt(0), domain.NewRequestID()), "closing an unknown request is a no-op")
}

func (s *TimelineSuite) TestEscalate() {
	s.Run("recorded durably with the reason's category", func() {
		e, err := s.service.Escalate(s.ctxAt(days(30)), s.requestID, models.ReasonDeadlineExceeded, "deadline passed")
		s.Require().NoError(err)
		s.True(e.Delivered())

		events, err := s.auditStore.Range(context.Background(), e.AuditSeq, e.AuditSeq)
		s.Require().NoError(err)
		s.Require().Len(events, 1)
		s.Equal(string(audit.EventEscalationRaised), events[0].Action)
		s.Equal(audit.CategoryCompliance, events[0].Category)
		s.Equal(audit.SeverityCritical, events[0].Severity)
		s.Len(s.notifier.notified, 1)
	})

	s.Run("signature failures are security escalations", func() {
		e, err := s.service.Escalate(s.ctxAt(0), s.requestID, models.ReasonSignatureInvalid, "")
		s.Require().NoError(err)
		events, err := s.auditStore.Range(context.Background(), e.AuditSeq, e.AuditSeq)
		s.Require().NoError(err)
		s.Equal(audit.CategorySecurity, events[0].Category)
	})
}

func (s *TimelineSuite) TestEscalate_NeverDropped() {
	s.recorder.failing = true
	e, err := s.service.Escalate(s.ctxAt(days(30)), s.requestID, models.ReasonRetriesExhausted, "3 retries")
	s.Require().Error(err)
	s.Require().NotNil(e)
	s.False(e.Delivered())

	s.recorder.failing = false
	result, err := s.service.Sweep(s.ctxAt(days(30)))
	s.Require().NoError(err)
	s.Equal(1, result.Redelivered)

	escalations, err := s.service.Escalations(s.ctxAt(0), s.requestID)
	s.Require().NoError(err)
	s.Require().Len(escalations, 1)
	s.True(escalations[0].Delivered())
}

func (s *TimelineSuite) TestAutoEscalationDisabled() {
	svc, err := New(s.store, s.publisher, WithNotifier(s.notifier), WithAutoEscalation(false))
	s.Require().NoError(err)

	e, err := svc.Escalate(s.ctxAt(0), s.requestID, models.ReasonRetriesExhausted, "")
	s.Require().NoError(err)
	s.True(e.Delivered(), "escalation is still recorded")
	s.Empty(s.notifier.notified)

	n, err := svc.CountEscalations(s.ctxAt(0))
	s.Require().NoError(err)
	s.Equal(1, n)
}

func TestTimeline_DaysRemaining(t *testing.T) {
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tl := &models.Timeline{CreatedAt: created, Deadline: created.Add(days(30))}

	cases := map[time.Duration]int{
		0:            30,
		days(20):     10,
		days(20) + 1: 9,
		days(30):     0,
		days(31):     0,
		days(29.5):   0,
	}
	for offset, want := range cases {
		if got := tl.DaysRemaining(created.Add(offset)); got != want {
			t.Errorf("DaysRemaining(T+%v) = %d, want %d", offset, got, want)
		}
	}
}
