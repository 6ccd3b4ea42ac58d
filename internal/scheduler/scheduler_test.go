package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"taxsync/internal/infrastructure/mq"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"go.uber.org/zap"
)

type batchPayload struct {
	QueueIDs []int64 `json:"queue_ids"`
}

func TestLocalSchedulerRunPending(t *testing.T) {
	s := NewLocalScheduler(1, zap.NewNop())
	var got []int64
	s.Register("process_batch", func(_ context.Context, job Job) error {
		var p batchPayload
		if err := json.Unmarshal(job.Payload, &p); err != nil {
			return err
		}
		got = append(got, p.QueueIDs...)
		return nil
	})

	job, err := NewJob("process_batch", batchPayload{QueueIDs: []int64{1, 2}})
	if err != nil {
		t.Fatalf("NewJob: %v", err)
	}
	id, err := s.ScheduleOnce(context.Background(), job)
	if err != nil || id == "" {
		t.Fatalf("ScheduleOnce id=%q err=%v", id, err)
	}

	if n := s.RunPending(context.Background()); n != 1 {
		t.Fatalf("ran=%d want 1", n)
	}
	if len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Fatalf("payload=%v", got)
	}
}

func TestLocalSchedulerRunWorkers(t *testing.T) {
	s := NewLocalScheduler(2, zap.NewNop())
	done := make(chan string, 3)
	s.Register("noop", func(_ context.Context, job Job) error {
		done <- job.ID
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stopped := make(chan struct{})
	go func() {
		_ = s.Run(ctx)
		close(stopped)
	}()

	for i := 0; i < 3; i++ {
		if _, err := s.ScheduleOnce(ctx, Job{Name: "noop"}); err != nil {
			t.Fatalf("ScheduleOnce: %v", err)
		}
	}
	for i := 0; i < 3; i++ {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatalf("job %d not executed", i)
		}
	}

	cancel()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not return after cancel")
	}
}

func TestLocalSchedulerUnknownJobDoesNotStop(t *testing.T) {
	s := NewLocalScheduler(1, zap.NewNop())
	ran := false
	s.Register("known", func(context.Context, Job) error { ran = true; return nil })

	_, _ = s.ScheduleOnce(context.Background(), Job{Name: "unknown"})
	_, _ = s.ScheduleOnce(context.Background(), Job{Name: "known"})

	if n := s.RunPending(context.Background()); n != 2 {
		t.Fatalf("ran=%d want 2", n)
	}
	if !ran {
		t.Fatalf("known job should still run")
	}
}

func TestKafkaSchedulerScheduleOnce(t *testing.T) {
	producer := mocks.NewSyncProducer(t, mq.NewProducerConfig())
	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		var job Job
		if err := json.Unmarshal(val, &job); err != nil {
			return err
		}
		if job.Name != "process_batch" || job.ID == "" {
			return errors.New("unexpected job envelope")
		}
		return nil
	})

	s := NewKafkaScheduler(mq.NewPublisher(producer), nil, "tax_sync.batch_jobs", zap.NewNop())
	job, _ := NewJob("process_batch", batchPayload{QueueIDs: []int64{7}})
	if _, err := s.ScheduleOnce(context.Background(), job); err != nil {
		t.Fatalf("ScheduleOnce: %v", err)
	}
	if err := producer.Close(); err != nil {
		t.Fatalf("producer close: %v", err)
	}
}

func TestKafkaSchedulerScheduleOnceProducerError(t *testing.T) {
	producer := mocks.NewSyncProducer(t, mq.NewProducerConfig())
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	s := NewKafkaScheduler(mq.NewPublisher(producer), nil, "tax_sync.batch_jobs", zap.NewNop())
	if _, err := s.ScheduleOnce(context.Background(), Job{Name: "process_batch"}); err == nil {
		t.Fatalf("expected producer error")
	}
	_ = producer.Close()
}

func TestKafkaSchedulerHandleMessage(t *testing.T) {
	s := NewKafkaScheduler(nil, nil, "tax_sync.batch_jobs", zap.NewNop())
	var got Job
	s.Register("process_batch", func(_ context.Context, job Job) error {
		got = job
		return nil
	})

	body, _ := json.Marshal(Job{ID: "j1", Name: "process_batch", Payload: json.RawMessage(`{"queue_ids":[3]}`)})
	if err := s.handleMessage(context.Background(), &sarama.ConsumerMessage{Value: body}); err != nil {
		t.Fatalf("handleMessage: %v", err)
	}
	if got.ID != "j1" {
		t.Fatalf("job id=%q want j1", got.ID)
	}

	if err := s.handleMessage(context.Background(), &sarama.ConsumerMessage{Value: []byte("{")}); err == nil {
		t.Fatalf("malformed message should error")
	}
	unknown, _ := json.Marshal(Job{ID: "j2", Name: "other"})
	if err := s.handleMessage(context.Background(), &sarama.ConsumerMessage{Value: unknown}); !errors.Is(err, ErrUnknownJob) {
		t.Fatalf("err=%v want ErrUnknownJob", err)
	}
}

type closeCountingGroup struct {
	sarama.ConsumerGroup
	closed int
}

func (g *closeCountingGroup) Close() error {
	g.closed++
	return nil
}

func TestSchedulerClose(t *testing.T) {
	group := &closeCountingGroup{}
	if err := NewKafkaScheduler(nil, group, "tax_sync.batch_jobs", zap.NewNop()).Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if group.closed != 1 {
		t.Fatalf("consumer group closed %d times want 1", group.closed)
	}

	if err := NewKafkaScheduler(nil, nil, "tax_sync.batch_jobs", zap.NewNop()).Close(); err != nil {
		t.Fatalf("Close without group: %v", err)
	}
	if err := NewLocalScheduler(1, zap.NewNop()).Close(); err != nil {
		t.Fatalf("local Close: %v", err)
	}
}
