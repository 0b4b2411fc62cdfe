package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

const defaultRequestTimeout = 5 * time.Second

// ErrRequestTimeout возвращается, если ответ не пришёл за отведённое время.
var ErrRequestTimeout = errors.New("rpc request timed out")

// RequestObserver получает длительность и исход каждого исходящего вызова.
type RequestObserver interface {
	ObserveUpstream(pattern, result string, duration time.Duration)
}

type pendingReply struct {
	value []byte
}

// Requester реализует request/reply поверх Kafka: запрос уходит в topic сервиса,
// ответ ждётся в собственном reply topic экземпляра по correlation id.
type Requester struct {
	publisher  Publisher
	replyTopic string
	timeout    time.Duration
	observer   RequestObserver
	logger     *log.Entry

	mu      sync.Mutex
	pending map[string]chan pendingReply
}

// NewRequester создаёт клиента. timeout<=0 означает значение по умолчанию.
func NewRequester(publisher Publisher, replyTopic string, timeout time.Duration, observer RequestObserver, logger *log.Entry) *Requester {
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	if logger == nil {
		logger = log.WithField("component", "kafka-requester")
	}
	return &Requester{
		publisher:  publisher,
		replyTopic: replyTopic,
		timeout:    timeout,
		observer:   observer,
		logger:     logger,
		pending:    make(map[string]chan pendingReply),
	}
}

// ReplyTopic возвращает topic, в котором экземпляр ждёт ответы.
func (r *Requester) ReplyTopic() string {
	return r.replyTopic
}

// Request отправляет payload и декодирует поле data ответа в out (если out != nil).
// Ответ с ошибкой возвращается как *RPCError.
func (r *Requester) Request(ctx context.Context, topic, pattern string, payload any, out any) (err error) {
	started := time.Now()
	defer func() {
		if r.observer != nil {
			r.observer.ObserveUpstream(pattern, requestResult(err), time.Since(started))
		}
	}()

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", pattern, err)
	}

	correlationID := uuid.NewString()
	ch := make(chan pendingReply, 1)
	r.mu.Lock()
	r.pending[correlationID] = ch
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		delete(r.pending, correlationID)
		r.mu.Unlock()
	}()

	headers := map[string]string{
		HeaderPattern:       pattern,
		HeaderCorrelationID: correlationID,
		HeaderReplyTo:       r.replyTopic,
	}
	if err := r.publisher.Publish(topic, correlationID, body, headers); err != nil {
		return fmt.Errorf("send %s request: %w", pattern, err)
	}

	timer := time.NewTimer(r.timeout)
	defer timer.Stop()

	select {
	case reply := <-ch:
		return decodeReply(reply.value, out)
	case <-timer.C:
		return fmt.Errorf("%w: %s after %s", ErrRequestTimeout, pattern, r.timeout)
	case <-ctx.Done():
		return fmt.Errorf("%s request canceled: %w", pattern, ctx.Err())
	}
}

// HandleReply служит MessageHandler для consumer reply topic.
// Ответы без ожидающего запроса (опоздавшие или чужие) игнорируются.
func (r *Requester) HandleReply(_ context.Context, message *sarama.ConsumerMessage) error {
	correlationID := headerValue(message.Headers, HeaderCorrelationID)
	if correlationID == "" {
		correlationID = string(message.Key)
	}

	r.mu.Lock()
	ch, ok := r.pending[correlationID]
	r.mu.Unlock()
	if !ok {
		r.logger.WithField("correlation_id", correlationID).Debug("reply without pending request")
		return nil
	}

	select {
	case ch <- pendingReply{value: append([]byte(nil), message.Value...)}:
	default:
	}
	return nil
}

func decodeReply(value []byte, out any) error {
	var envelope replyEnvelope
	if err := json.Unmarshal(value, &envelope); err != nil {
		return fmt.Errorf("decode reply: %w", err)
	}
	if envelope.Error != nil {
		return envelope.Error
	}
	if out == nil {
		return nil
	}
	if len(envelope.Data) == 0 {
		return errors.New("reply has no data")
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return fmt.Errorf("decode reply data: %w", err)
	}
	return nil
}

func requestResult(err error) string {
	var rpcErr *RPCError
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrRequestTimeout):
		return "timeout"
	case errors.As(err, &rpcErr):
		return "rejected"
	default:
		return "error"
	}
}
