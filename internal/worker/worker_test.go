package worker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/vividverse/vividverse-backend/internal/config"
	"github.com/vividverse/vividverse-backend/pkg/models"
)

type fakePipeline struct {
	mu   sync.Mutex
	jobs []*models.GenerationJob
	err  error
}

func (f *fakePipeline) Run(ctx context.Context, job *models.GenerationJob) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs = append(f.jobs, job)
	return f.err
}

type fakeSQSClient struct {
	mu           sync.Mutex
	messages     []types.Message
	deleted      []string
	deleteCtxErr error
	cancel       context.CancelFunc
}

// ReceiveMessage hands out the queued messages on the first call and
// cancels the worker's context on the second, so Run drains and returns.
func (f *fakeSQSClient) ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.messages) > 0 {
		out := &sqs.ReceiveMessageOutput{Messages: f.messages}
		f.messages = nil
		return out, nil
	}

	f.cancel()
	return &sqs.ReceiveMessageOutput{}, nil
}

func (f *fakeSQSClient) DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleteCtxErr = ctx.Err()
	f.deleted = append(f.deleted, aws.ToString(params.ReceiptHandle))
	return &sqs.DeleteMessageOutput{}, nil
}

func testWorkerConfig() *config.Config {
	return &config.Config{
		AWS:    config.AWSConfig{SQSQueueURL: "https://sqs.test/queue"},
		Worker: config.WorkerConfig{MaxConcurrentJobs: 2},
	}
}

func testWorkerLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func jobMessage(body string) types.Message {
	return types.Message{
		MessageId:     aws.String("msg-1"),
		ReceiptHandle: aws.String("rh-1"),
		Body:          aws.String(body),
	}
}

func runWorker(t *testing.T, sqsClient *fakeSQSClient, pipeline *fakePipeline) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sqsClient.cancel = cancel

	w := New(&Config{
		SQSClient: sqsClient,
		Pipeline:  pipeline,
		AppConfig: testWorkerConfig(),
		Logger:    testWorkerLogger(),
	})
	w.Run(ctx)
}

func TestWorker_ProcessesJobAndDeletesMessage(t *testing.T) {
	body := `{"recordId":"rec-1","ownerId":"user-1","topic":"space","variant":"multiScene"}`
	sqsClient := &fakeSQSClient{messages: []types.Message{jobMessage(body)}}
	pipeline := &fakePipeline{}

	runWorker(t, sqsClient, pipeline)

	if len(pipeline.jobs) != 1 {
		t.Fatalf("pipeline ran %d times, want 1", len(pipeline.jobs))
	}
	job := pipeline.jobs[0]
	if job.RecordID != "rec-1" || job.OwnerID != "user-1" || job.Topic != "space" {
		t.Errorf("pipeline received wrong job: %+v", job)
	}
	if job.Variant != models.VariantMultiScene {
		t.Errorf("Variant = %q, want %q", job.Variant, models.VariantMultiScene)
	}
	if len(sqsClient.deleted) != 1 || sqsClient.deleted[0] != "rh-1" {
		t.Errorf("deleted = %v, want [rh-1]", sqsClient.deleted)
	}
}

func TestWorker_UnparsableMessageIsDeleted(t *testing.T) {
	sqsClient := &fakeSQSClient{messages: []types.Message{jobMessage("not json")}}
	pipeline := &fakePipeline{}

	runWorker(t, sqsClient, pipeline)

	if len(pipeline.jobs) != 0 {
		t.Errorf("pipeline ran %d times, want 0", len(pipeline.jobs))
	}
	if len(sqsClient.deleted) != 1 {
		t.Errorf("deleted %d messages, want 1 (poison message must not loop)", len(sqsClient.deleted))
	}
}

func TestWorker_PipelineFailureStillDeletesMessage(t *testing.T) {
	body := `{"recordId":"rec-1","ownerId":"user-1","topic":"space","variant":"multiScene"}`
	sqsClient := &fakeSQSClient{messages: []types.Message{jobMessage(body)}}
	pipeline := &fakePipeline{err: errors.New("scripting blew up")}

	runWorker(t, sqsClient, pipeline)

	if len(sqsClient.deleted) != 1 {
		t.Errorf("deleted %d messages, want 1 (failure is written to the record)", len(sqsClient.deleted))
	}
}

func TestWorker_BusyOwnerLeavesMessageForRedelivery(t *testing.T) {
	body := `{"recordId":"rec-1","ownerId":"user-1","topic":"space","variant":"multiScene"}`
	sqsClient := &fakeSQSClient{messages: []types.Message{jobMessage(body)}}
	pipeline := &fakePipeline{err: models.ErrAttemptInFlight}

	runWorker(t, sqsClient, pipeline)

	if len(sqsClient.deleted) != 0 {
		t.Errorf("deleted %d messages, want 0 (visibility timeout should redeliver)", len(sqsClient.deleted))
	}
}

func TestWorker_ProcessMessage_EmptyBody(t *testing.T) {
	w := New(&Config{
		SQSClient: &fakeSQSClient{},
		Pipeline:  &fakePipeline{},
		AppConfig: testWorkerConfig(),
		Logger:    testWorkerLogger(),
	})

	err := w.processMessage(context.Background(), types.Message{})
	if !errors.Is(err, models.ErrJobParseFailed) {
		t.Errorf("error = %v, want ErrJobParseFailed", err)
	}
}

type blockingPipeline struct {
	started  chan struct{}
	release  chan struct{}
	finished bool
}

func (p *blockingPipeline) Run(ctx context.Context, job *models.GenerationJob) error {
	close(p.started)
	<-p.release
	p.finished = true
	return nil
}

func TestWorker_ShutdownWaitsForInFlightJobs(t *testing.T) {
	body := `{"recordId":"rec-1","ownerId":"user-1","topic":"space","variant":"multiScene"}`
	// Two messages with room for one job: the second blocks the worker in
	// its dispatch select, where cancellation must still drain the first.
	sqsClient := &fakeSQSClient{messages: []types.Message{
		jobMessage(body),
		{
			MessageId:     aws.String("msg-2"),
			ReceiptHandle: aws.String("rh-2"),
			Body:          aws.String(body),
		},
	}}
	pipeline := &blockingPipeline{
		started: make(chan struct{}),
		release: make(chan struct{}),
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sqsClient.cancel = cancel

	w := New(&Config{
		SQSClient: sqsClient,
		Pipeline:  pipeline,
		AppConfig: &config.Config{
			AWS:    config.AWSConfig{SQSQueueURL: "https://sqs.test/queue"},
			Worker: config.WorkerConfig{MaxConcurrentJobs: 1},
		},
		Logger: testWorkerLogger(),
	})

	runDone := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(runDone)
	}()

	<-pipeline.started
	cancel()

	select {
	case <-runDone:
		t.Fatal("Run returned with a job still in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(pipeline.release)
	select {
	case <-runDone:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after the in-flight job finished")
	}

	if !pipeline.finished {
		t.Error("shutdown did not wait for the in-flight job")
	}
	if len(sqsClient.deleted) != 1 || sqsClient.deleted[0] != "rh-1" {
		t.Errorf("deleted = %v, want [rh-1]", sqsClient.deleted)
	}
	if sqsClient.deleteCtxErr != nil {
		t.Errorf("message delete ran under a dead context: %v", sqsClient.deleteCtxErr)
	}
}
