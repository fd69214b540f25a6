package mq

import (
	"context"
	"errors"
	"math/rand"
	"sync"

	"github.com/Lol3rrr/cfuzz/config"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	ConnectionPoolSize = 2
)

var ErrNoConnection = errors.New("no active RabbitMQ connections")

type RabbitMQ interface {
	GetChannel() (*amqp.Channel, error)
}

// Dialer opens one broker connection.
type Dialer func(url string) (Connection, error)

// Connection is the part of *amqp.Connection the pool uses.
type Connection interface {
	Channel() (*amqp.Channel, error)
	NotifyClose(receiver chan *amqp.Error) chan *amqp.Error
	Close() error
}

type connPool struct {
	logger      *zap.Logger
	url         string
	dial        Dialer
	ctx         context.Context
	connections []*pooledConn
	mu          sync.Mutex
	wg          sync.WaitGroup
}

type pooledConn struct {
	conn      Connection
	closeChan chan *amqp.Error
	logger    *zap.Logger

	closed bool
	mu     sync.Mutex
}

type RabbitMQParams struct {
	fx.In

	Config    *config.AppConfig
	Logger    *zap.Logger
	Lifecycle fx.Lifecycle
}

func dialAMQP(url string) (Connection, error) {
	return amqp.Dial(url)
}

// NewRabbitMQ returns nil when no broker is configured.
func NewRabbitMQ(p RabbitMQParams) RabbitMQ {
	if p.Config.RabbitMQURL == "" {
		p.Logger.Info("RABBITMQ_URL not set, run events are not published")
		return nil
	}

	mqCtx, cancel := context.WithCancel(context.Background())
	svc := newPool(mqCtx, p.Config.RabbitMQURL, dialAMQP, p.Logger.Named("mq"))

	p.Lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			svc.logger.Debug("opening connection pool", zap.Int("pool_size", ConnectionPoolSize))
			// the broker may come up later, connections are refilled on demand
			if _, err := svc.acquire(); err != nil {
				svc.logger.Warn("RabbitMQ not reachable yet", zap.Error(err))
			}
			return nil
		},
		OnStop: func(ctx context.Context) error {
			cancel()
			svc.wg.Wait()
			return nil
		},
	})
	return svc
}

func newPool(ctx context.Context, url string, dial Dialer, logger *zap.Logger) *connPool {
	return &connPool{
		logger:      logger,
		url:         url,
		dial:        dial,
		ctx:         ctx,
		connections: make([]*pooledConn, 0, ConnectionPoolSize),
	}
}

func (r *connPool) acquire() (*pooledConn, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.ctx.Err() != nil {
		return nil, r.ctx.Err()
	}

	alive := make([]*pooledConn, 0, ConnectionPoolSize)
	for _, c := range r.connections {
		if !c.isClosed() {
			alive = append(alive, c)
		}
	}
	r.connections = alive

	// dropped connections are replaced on the next acquire
	if needed := ConnectionPoolSize - len(alive); needed > 0 {
		r.logger.Debug("refilling connection pool", zap.Int("needed", needed))
		for range needed {
			pc, err := r.open()
			if err != nil {
				r.logger.Warn("failed to dial broker", zap.Error(err))
				continue
			}
			r.connections = append(r.connections, pc)
		}
	}

	if len(r.connections) == 0 {
		return nil, ErrNoConnection
	}
	return r.connections[rand.Intn(len(r.connections))], nil
}

func (r *connPool) open() (*pooledConn, error) {
	conn, err := r.dial(r.url)
	if err != nil {
		return nil, err
	}

	pc := &pooledConn{
		conn:      conn,
		closeChan: make(chan *amqp.Error, 1),
		logger:    r.logger,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		pc.monitor(r.ctx)
	}()

	return pc, nil
}

func (c *pooledConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// monitor marks the connection closed when the broker drops it and closes
// it when the pool shuts down.
func (c *pooledConn) monitor(ctx context.Context) {
	c.conn.NotifyClose(c.closeChan)

	select {
	case err := <-c.closeChan:
		c.logger.Warn("broker closed connection", zap.Error(err))
	case <-ctx.Done():
	}

	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.conn.Close()
}

func (r *connPool) GetChannel() (*amqp.Channel, error) {
	conn, err := r.acquire()
	if err != nil {
		return nil, err
	}
	return conn.conn.Channel()
}
