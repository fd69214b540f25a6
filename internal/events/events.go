package events

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/Lol3rrr/cfuzz/internal/types"
	"github.com/Lol3rrr/cfuzz/pkg/mq"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const Exchange = "cfuzz_events"

const (
	RunStarted  = "run.started"
	RunArtifact = "run.artifact"
	RunFinished = "run.finished"
)

// Event is one step in the life of a job, published with its Type as routing key.
type Event struct {
	Type      string    `json:"type"`
	RunID     string    `json:"run_id,omitempty"`
	Project   string    `json:"pname"`
	Job       string    `json:"name"`
	Iteration int       `json:"iteration,omitempty"`
	Artifacts int       `json:"artifacts,omitempty"`
	Artifact  string    `json:"artifact,omitempty"`
	Cancelled bool      `json:"cancelled,omitempty"`
	Error     string    `json:"error,omitempty"`
	Trace     string    `json:"trace,omitempty"`
	Time      time.Time `json:"time"`
}

// sink delivers one encoded event.
type sink func(ctx context.Context, routingKey string, body []byte) error

// Publisher emits run events. Publishing is best effort: failures are logged
// and never reach the job. A nil *Publisher drops everything.
type Publisher struct {
	logger *zap.Logger
	send   sink
}

type Params struct {
	fx.In

	Lc       fx.Lifecycle
	Logger   *zap.Logger
	RabbitMQ mq.RabbitMQ `optional:"true"`
}

func NewPublisher(p Params) *Publisher {
	logger := p.Logger.Named("events")
	if p.RabbitMQ == nil {
		return &Publisher{logger: logger}
	}

	p.Lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := declareExchange(p.RabbitMQ); err != nil {
				logger.Warn("failed to declare events exchange", zap.String("exchange", Exchange), zap.Error(err))
			}
			return nil
		},
	})
	return &Publisher{logger: logger, send: rabbitSink(p.RabbitMQ)}
}

func declareExchange(rabbitMQ mq.RabbitMQ) error {
	channel, err := rabbitMQ.GetChannel()
	if err != nil {
		return err
	}
	defer channel.Close()

	return channel.ExchangeDeclare(
		Exchange,
		amqp.ExchangeTopic,
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,   // arguments
	)
}

func rabbitSink(rabbitMQ mq.RabbitMQ) sink {
	return func(ctx context.Context, routingKey string, body []byte) error {
		ch, err := rabbitMQ.GetChannel()
		if err != nil {
			return err
		}
		defer ch.Close()

		return ch.PublishWithContext(ctx,
			Exchange,   // exchange
			routingKey, // routing key
			false,      // mandatory
			false,      // immediate
			amqp.Publishing{
				ContentType: "application/json",
				Timestamp:   time.Now(),
				Body:        body,
			},
		)
	}
}

func (p *Publisher) Emit(ctx context.Context, ev Event) {
	if p == nil {
		return
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now().UTC()
	}
	logger := p.logger.With(zap.String("event", ev.Type), zap.String("job", ev.Job))
	if p.send == nil {
		logger.Debug("run event", zap.Any("payload", ev))
		return
	}

	var buffer bytes.Buffer
	encoder := json.NewEncoder(&buffer)
	encoder.SetEscapeHTML(false)
	if err := encoder.Encode(ev); err != nil {
		logger.Error("failed to encode run event", zap.Error(err))
		return
	}

	if err := p.send(ctx, ev.Type, buffer.Bytes()); err != nil {
		logger.Warn("failed to publish run event", zap.Error(err))
	}
}

// ArtifactFound publishes artifacts the fuzzer writes while it still runs.
func (p *Publisher) ArtifactFound(req types.RunRequest, path string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p.Emit(ctx, Event{
		Type:     RunArtifact,
		Project:  req.ProjectName,
		Job:      req.Name,
		Artifact: filepath.Base(path),
	})
}

// Started builds the event emitted before an iteration runs.
func Started(runID string, req types.RunRequest, iteration int, trace string) Event {
	return Event{
		Type:      RunStarted,
		RunID:     runID,
		Project:   req.ProjectName,
		Job:       req.Name,
		Iteration: iteration,
		Trace:     trace,
	}
}

func Finished(runID string, req types.RunRequest, iteration, artifacts int, cancelled bool, err error) Event {
	ev := Event{
		Type:      RunFinished,
		RunID:     runID,
		Project:   req.ProjectName,
		Job:       req.Name,
		Iteration: iteration,
		Artifacts: artifacts,
		Cancelled: cancelled,
	}
	if err != nil {
		ev.Error = fmt.Sprint(err)
	}
	return ev
}
