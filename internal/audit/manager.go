package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hibiken/asynq"
)

const (
	taskTypeRecord = "audit:record"
	queueName      = "audit"

	bufferSize     = 256
	enqueueTimeout = 2 * time.Second
)

// Manager はイベントをキューに投入し、ワーカーで Store に保存します。
// Record はリクエストを待たせず、投入はバックグラウンドの dispatcher が行います。
type Manager struct {
	client *asynq.Client
	server *asynq.Server
	mux    *asynq.ServeMux
	store  *Store
	logger *log.Logger

	events  chan Event
	done    chan struct{}
	enqueue func(ctx context.Context, event Event) error

	mu      sync.RWMutex
	started bool
	closed  bool
	dropped atomic.Int64
}

// NewManager は Manager を初期化します。
func NewManager(redisURL string, store *Store, logger *log.Logger) (*Manager, error) {
	if store == nil {
		return nil, errors.New("store is nil")
	}
	if logger == nil {
		logger = log.Default()
	}
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	client := asynq.NewClient(opt)
	server := asynq.NewServer(
		opt,
		asynq.Config{
			Concurrency: 2,
			Queues: map[string]int{
				queueName: 1,
			},
		},
	)

	mux := asynq.NewServeMux()
	manager := &Manager{
		client: client,
		server: server,
		mux:    mux,
		store:  store,
		logger: logger,
		events: make(chan Event, bufferSize),
		done:   make(chan struct{}),
	}
	manager.enqueue = manager.enqueueTask
	mux.HandleFunc(taskTypeRecord, manager.handleRecordTask)
	return manager, nil
}

// StartWorkers は Asynq サーバーと dispatcher をバックグラウンドで起動します。
func (m *Manager) StartWorkers() {
	m.startDispatcher()
	go func() {
		if err := m.server.Run(m.mux); err != nil && !errors.Is(err, asynq.ErrServerClosed) {
			m.logger.Printf("audit worker stopped with error: %v", err)
		}
	}()
}

func (m *Manager) startDispatcher() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started || m.closed {
		return
	}
	m.started = true

	go func() {
		defer close(m.done)
		for event := range m.events {
			ctx, cancel := context.WithTimeout(context.Background(), enqueueTimeout)
			if err := m.enqueue(ctx, event); err != nil {
				m.logger.Printf("failed to enqueue audit event kind=%s login=%s: %v", event.Kind, event.Login, err)
			}
			cancel()
		}
	}()
}

// Shutdown はバッファ済みのイベントを投入し終えてから、サーバーとクライアントを閉じます。
func (m *Manager) Shutdown() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	close(m.events)
	started := m.started
	m.mu.Unlock()

	if started {
		<-m.done
	}
	m.server.Shutdown()
	return m.client.Close()
}

// Dropped はバッファ溢れやシャットダウン後に捨てたイベント数を返します。
func (m *Manager) Dropped() int64 {
	return m.dropped.Load()
}

// Record はイベントをバッファに積みます。バッファが満杯なら捨ててログに残します。
// リクエストのコンテキストは投入に使いません。
func (m *Manager) Record(_ context.Context, event Event) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		m.dropped.Add(1)
		m.logger.Printf("audit manager closed, dropping event kind=%s login=%s", event.Kind, event.Login)
		return
	}
	select {
	case m.events <- event:
	default:
		m.dropped.Add(1)
		m.logger.Printf("audit buffer full, dropping event kind=%s login=%s", event.Kind, event.Login)
	}
}

func (m *Manager) enqueueTask(ctx context.Context, event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode audit event: %w", err)
	}
	task := asynq.NewTask(taskTypeRecord, body, asynq.Queue(queueName))
	_, err = m.client.EnqueueContext(ctx, task, asynq.MaxRetry(3))
	return err
}

func (m *Manager) handleRecordTask(ctx context.Context, task *asynq.Task) error {
	var event Event
	if err := json.Unmarshal(task.Payload(), &event); err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	if event.Kind == "" {
		return fmt.Errorf("missing kind in payload: %w", asynq.SkipRetry)
	}
	return m.store.Append(ctx, &event)
}
