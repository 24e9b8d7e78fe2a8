package collab

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"collabClient/backend/internal/entity"
	"collabClient/backend/internal/metrics"
	"collabClient/backend/internal/ot/delta"

	"github.com/IBM/sarama"
)

var ErrDispatcherClosed = errors.New("kafka dispatcher closed")

// Producer sarama.SyncProducer 的子集，测试里用 sarama/mocks 替换
type Producer interface {
	SendMessage(msg *sarama.ProducerMessage) (partition int32, offset int64, err error)
	Close() error
}

// KafkaDispatcher 本地有界队列 + worker 异步发送 + 有限重试。
// 提交流程只负责入队，Kafka 阻塞时由队列吸收，重试耗尽后丢弃。
type KafkaDispatcher struct {
	producer Producer
	topic    string
	log      *slog.Logger

	queue chan RevisionEvent

	// kafkaSem 限制并发的 SendMessage 数量
	kafkaSem *SemaphoreControl

	workers     int
	maxRetry    int
	baseBackoff time.Duration
	maxBackoff  time.Duration

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

type KafkaDispatcherOptions struct {
	QueueSize   int
	Workers     int
	MaxRetry    int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	Logger      *slog.Logger
}

func NewKafkaDispatcher(producer Producer, topic string, kafkaSem *SemaphoreControl, opt KafkaDispatcherOptions) *KafkaDispatcher {
	if opt.QueueSize <= 0 {
		opt.QueueSize = 1024
	}
	if opt.Workers <= 0 {
		opt.Workers = 1
	}
	if opt.Logger == nil {
		opt.Logger = slog.Default()
	}
	d := &KafkaDispatcher{
		producer:    producer,
		topic:       topic,
		log:         opt.Logger.With("component", "kafka_dispatcher", "topic", topic),
		queue:       make(chan RevisionEvent, opt.QueueSize),
		kafkaSem:    kafkaSem,
		workers:     opt.Workers,
		maxRetry:    opt.MaxRetry,
		baseBackoff: opt.BaseBackoff,
		maxBackoff:  opt.MaxBackoff,
	}
	d.start()
	return d
}

// Enqueue 队列满时等待直到 ctx 结束；事件不要求必达
func (d *KafkaDispatcher) Enqueue(ctx context.Context, evt RevisionEvent) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrDispatcherClosed
	}
	select {
	case d.queue <- evt:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close 停止接收新事件，等 worker 把队列里剩下的发完
func (d *KafkaDispatcher) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	d.wg.Wait()
	if d.producer != nil {
		return d.producer.Close()
	}
	return nil
}

func (d *KafkaDispatcher) start() {
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.workerLoop(i)
	}
}

func (d *KafkaDispatcher) workerLoop(workerID int) {
	defer d.wg.Done()
	for evt := range d.queue {
		d.sendWithRetry(workerID, evt)
	}
}

func (d *KafkaDispatcher) sendWithRetry(workerID int, evt RevisionEvent) {
	for attempt := 0; attempt <= d.maxRetry; attempt++ {
		if d.kafkaSem != nil {
			_ = d.kafkaSem.Acquire(context.Background())
		}
		err := d.sendOnce(evt)
		if d.kafkaSem != nil {
			_ = d.kafkaSem.Release()
		}
		if err == nil {
			return
		}

		if attempt == d.maxRetry {
			metrics.EventsDropped.Inc()
			d.log.Warn("kafka send failed, drop event",
				"doc_id", evt.DocID, "op", evt.OperationID, "rev", evt.Revision, "worker", workerID, "err", err)
			return
		}

		// 退避，每次 x2
		backoff := d.baseBackoff * time.Duration(1<<attempt)
		if d.maxBackoff > 0 && backoff > d.maxBackoff {
			backoff = d.maxBackoff
		}
		time.Sleep(backoff)
	}
}

func (d *KafkaDispatcher) sendOnce(evt RevisionEvent) error {
	if d.producer == nil || d.topic == "" {
		return nil
	}
	b, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	msg := &sarama.ProducerMessage{
		Topic: d.topic,
		Key:   sarama.StringEncoder(evt.DocID),
		Value: sarama.ByteEncoder(b),
	}
	_, _, err = d.producer.SendMessage(msg)
	return err
}

// PublishRevision 把已提交的本地版本转成事件入队
func (d *KafkaDispatcher) PublishRevision(ctx context.Context, author string, rev entity.Revision) error {
	ops, err := delta.FromBytes(rev.DeltaData)
	if err != nil {
		return err
	}
	return d.Enqueue(ctx, NewRevisionEvent(rev, author, ops))
}
